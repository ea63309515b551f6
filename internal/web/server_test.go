package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wplacebot/internal/collector"
	"wplacebot/internal/db"
	"wplacebot/internal/models"
	"wplacebot/internal/notifier"
	"wplacebot/internal/snapshot"
	"wplacebot/internal/store"
	"wplacebot/internal/wplace"
)

type fakeFetcher struct {
	err    error
	tokens []string
}

func (f *fakeFetcher) Fetch(_ context.Context, token string, _ models.Mode) (models.ResolvedMetrics, error) {
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return models.ResolvedMetrics{}, f.err
	}
	return models.ResolvedMetrics{Identity: "42", DisplayName: "painter", Current: 10, Max: 30}, nil
}

type fakePanels struct {
	refreshed []string
	stopped   int
	resumed   int
}

func (f *fakePanels) Create(_ context.Context, channelID string, labels []string, intervalSec int) (models.Panel, error) {
	return models.Panel{ID: channelID + ":m1", ChannelID: channelID, MessageID: "m1", Labels: labels, IntervalSeconds: intervalSec}, nil
}
func (f *fakePanels) Remove(id string) error {
	if id != "c:m1" {
		return store.ErrPanelNotFound
	}
	return nil
}
func (f *fakePanels) RunOnce(context.Context, string) error { return nil }
func (f *fakePanels) RefreshForLabel(_ context.Context, label string) int {
	f.refreshed = append(f.refreshed, label)
	return 1
}
func (f *fakePanels) Resume() (int, error) {
	f.resumed++
	return 2, nil
}
func (f *fakePanels) StopAll()         { f.stopped++ }
func (f *fakePanels) Active() []string { return nil }

type fakeSnapshots struct {
	mu       sync.Mutex
	requests []string
	restore  snapshot.RestoreResult
}

func (f *fakeSnapshots) Enabled() bool { return true }
func (f *fakeSnapshots) Save(context.Context, string) (bool, error) {
	return true, nil
}
func (f *fakeSnapshots) Restore(context.Context) snapshot.RestoreResult { return f.restore }
func (f *fakeSnapshots) Request(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, reason)
}
func (f *fakeSnapshots) LastSaved() (time.Time, string) { return time.Time{}, "" }
func (f *fakeSnapshots) Pending() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return "", false
	}
	return f.requests[len(f.requests)-1], true
}

type harness struct {
	srv      *Server
	handler  http.Handler
	fetcher  *fakeFetcher
	panels   *fakePanels
	snaps    *fakeSnapshots
	accounts *store.Accounts
	notify   *store.Notify
	telegram *notifier.Telegram
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	dir := t.TempDir()
	sqlDB, err := db.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.Migrate(sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		fetcher:  &fakeFetcher{},
		panels:   &fakePanels{},
		snaps:    &fakeSnapshots{},
		accounts: store.NewAccounts(dir),
		notify:   store.NewNotify(dir, ""),
		telegram: notifier.NewTelegram("", ""),
	}
	h.srv = NewServer(Deps{
		Accounts:  h.accounts,
		PanelDocs: store.NewPanels(dir),
		Notify:    h.notify,
		Panels:    h.panels,
		Resolver:  collector.NewResolver(h.accounts, h.fetcher, 0, logger),
		Fetcher:   h.fetcher,
		Snapshots: h.snaps,
		Repo:      db.NewRepository(sqlDB),
		Telegram:  h.telegram,
		APIToken:  token,
	}, logger)
	h.handler = h.srv.Routes()
	return h
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	if rec := h.do(t, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want 200", rec.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t, "secret")
	if rec := h.do(t, http.MethodGet, "/api/accounts", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAddAccountVerifiesAndSnapshots(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodPost, "/api/accounts", `{"label":"main","token":"Bearer abc"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	if len(h.fetcher.tokens) != 1 || h.fetcher.tokens[0] != "abc" {
		t.Fatalf("verified tokens = %v, want [abc]", h.fetcher.tokens)
	}
	acct, err := h.accounts.Get("main")
	if err != nil || acct.Mode != models.ModeCookie {
		t.Fatalf("stored account = %+v, %v", acct, err)
	}
	if len(h.snaps.requests) != 1 || h.snaps.requests[0] != "account-add" {
		t.Fatalf("snapshot requests = %v", h.snaps.requests)
	}

	rec = h.do(t, http.MethodPost, "/api/accounts", `{"label":"main","token":"xyz"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", rec.Code)
	}
	if len(h.fetcher.tokens) != 1 {
		t.Fatal("duplicate label must not be verified remotely")
	}
}

func TestAddAccountVerificationFailure(t *testing.T) {
	h := newHarness(t, "")
	h.fetcher.err = &wplace.FetchError{Strategy: "cookie", Status: 401, Body: "unauthorized"}
	rec := h.do(t, http.MethodPost, "/api/accounts", `{"label":"main","token":"abc","mode":"bearer"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"401"`) {
		t.Fatalf("body = %s, want status 401", rec.Body)
	}
	if _, err := h.accounts.Get("main"); err == nil {
		t.Fatal("account stored despite failed verification")
	}
}

func TestUpdateTokenRefreshesPanels(t *testing.T) {
	h := newHarness(t, "")
	if err := h.accounts.Add(models.Account{Label: "my acct", Token: "old", Mode: models.ModeBearer}); err != nil {
		t.Fatalf("add: %v", err)
	}
	rec := h.do(t, http.MethodPut, "/api/accounts/my%20acct/token", `{"token":"new"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	acct, _ := h.accounts.Get("my acct")
	if acct.Token != "new" || acct.Mode != models.ModeBearer {
		t.Fatalf("account = %+v", acct)
	}
	if len(h.panels.refreshed) != 1 || h.panels.refreshed[0] != "my acct" {
		t.Fatalf("refreshed = %v", h.panels.refreshed)
	}
	if rec := h.do(t, http.MethodPut, "/api/accounts/ghost/token", `{"token":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown label status = %d, want 404", rec.Code)
	}
}

func TestRemoveAccount(t *testing.T) {
	h := newHarness(t, "")
	_ = h.accounts.Add(models.Account{Label: "main", Token: "t", Mode: models.ModeCookie})
	if rec := h.do(t, http.MethodDelete, "/api/accounts/main", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/api/accounts/main", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestMetricsHidesErrors(t *testing.T) {
	h := newHarness(t, "")
	_ = h.accounts.Add(models.Account{Label: "main", Token: "t", Mode: models.ModeCookie})
	h.fetcher.err = &wplace.FetchError{Strategy: "cookie", Status: 500}

	var shown []metricsView
	rec := h.do(t, http.MethodGet, "/api/metrics", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &shown); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(shown) != 1 || shown[0].Status != "500" {
		t.Fatalf("metrics = %+v", shown)
	}
	rec = h.do(t, http.MethodGet, "/api/metrics?errors=hide", "")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("hidden metrics body = %s", rec.Body)
	}
}

func TestNotifyRuleLifecycle(t *testing.T) {
	h := newHarness(t, "")
	if rec := h.do(t, http.MethodPost, "/api/notify/rules", `{"label":"main","type":"full"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("rule for unknown account status = %d, want 404", rec.Code)
	}
	_ = h.accounts.Add(models.Account{Label: "main", Token: "t", Mode: models.ModeCookie})
	if rec := h.do(t, http.MethodPost, "/api/notify/rules", `{"label":"main","type":"before_full"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing minutes status = %d, want 400", rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/api/notify/rules", `{"label":"main","type":"threshold","threshold":20}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}
	var rule models.NotifyRule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec := h.do(t, http.MethodPatch, "/api/notify/rules/"+rule.ID, `{"enabled":false}`); rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	rules, _ := h.notify.Rules("main")
	if len(rules) != 1 || rules[0].Enabled {
		t.Fatalf("rules = %+v", rules)
	}
	if rec := h.do(t, http.MethodDelete, "/api/notify/rules/"+rule.ID, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/api/notify/rules/"+rule.ID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
	want := []string{"notify-add", "notify-toggle", "notify-remove"}
	if strings.Join(h.snaps.requests, ",") != strings.Join(want, ",") {
		t.Fatalf("snapshot requests = %v, want %v", h.snaps.requests, want)
	}
}

func TestTelegramSettingsPersist(t *testing.T) {
	h := newHarness(t, "")
	rec := h.do(t, http.MethodPut, "/api/notify/telegram", `{"token":"bot-token","chatId":"99"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !h.telegram.Enabled() {
		t.Fatal("telegram mirror not enabled")
	}
	token, chat, err := h.srv.Repo.LoadTelegramSettings(context.Background())
	if err != nil || token != "bot-token" || chat != "99" {
		t.Fatalf("stored settings = %q %q %v", token, chat, err)
	}
}

func TestStateRestoreResumesPanels(t *testing.T) {
	h := newHarness(t, "")
	h.snaps.restore = snapshot.RestoreResult{Status: snapshot.StatusNotFound}
	if rec := h.do(t, http.MethodPost, "/api/state/restore", ""); rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if h.panels.stopped != 0 {
		t.Fatal("panels must be left alone when nothing was restored")
	}
	h.snaps.restore = snapshot.RestoreResult{Status: snapshot.StatusRestored, Collections: []string{"accounts.json"}}
	if rec := h.do(t, http.MethodPost, "/api/state/restore", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if h.panels.stopped != 1 || h.panels.resumed != 1 {
		t.Fatalf("stopped = %d resumed = %d, want 1 and 1", h.panels.stopped, h.panels.resumed)
	}
}

func TestPanelRoutes(t *testing.T) {
	h := newHarness(t, "")
	if rec := h.do(t, http.MethodPost, "/api/panels", `{"labels":["main"]}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing channel status = %d, want 400", rec.Code)
	}
	rec := h.do(t, http.MethodPost, "/api/panels", `{"channelId":"c","labels":["main"],"intervalSec":120}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/api/panels/c%3Am1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if rec := h.do(t, http.MethodDelete, "/api/panels/zzz", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown panel status = %d, want 404", rec.Code)
	}
}

func TestParseRange(t *testing.T) {
	if d := parseRange("30m"); d != 30*time.Minute {
		t.Fatalf("parseRange(30m) = %v", d)
	}
	if d := parseRange("bad"); d != time.Hour {
		t.Fatalf("parseRange(bad) = %v", d)
	}
}

func TestStateStatusReportsPendingSave(t *testing.T) {
	h := newHarness(t, "")
	var body map[string]any
	rec := h.do(t, http.MethodGet, "/api/state", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["pending"]; ok {
		t.Fatalf("body = %v, want no pending save", body)
	}
	h.snaps.Request("panel-start")
	rec = h.do(t, http.MethodGet, "/api/state", "")
	body = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["pending"] != "panel-start" {
		t.Fatalf("pending = %v, want panel-start", body["pending"])
	}
}
