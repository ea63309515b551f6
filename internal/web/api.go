package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"wplacebot/internal/collector"
	"wplacebot/internal/models"
	"wplacebot/internal/store"
	"wplacebot/internal/wplace"
)

type accountView struct {
	Label string      `json:"label"`
	Mode  models.Mode `json:"mode"`
}

type metricsView struct {
	Label     string                  `json:"label"`
	Mode      models.Mode             `json:"mode"`
	FetchedAt time.Time               `json:"fetchedAt"`
	Metrics   *models.ResolvedMetrics `json:"metrics,omitempty"`
	Status    string                  `json:"status,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.Accounts.List()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountView{Label: a.Label, Mode: a.Mode})
	}
	writeJSON(w, out)
}

// probe checks a credential against the remote API before it is stored.
func (s *Server) probe(r *http.Request, token string, mode models.Mode) (models.ResolvedMetrics, error) {
	return s.Fetcher.Fetch(r.Context(), token, mode)
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string      `json:"label"`
		Token string      `json:"token"`
		Mode  models.Mode `json:"mode"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Mode == "" {
		req.Mode = models.ModeCookie
	}
	acct := models.Account{Label: strings.TrimSpace(req.Label), Token: wplace.CleanToken(req.Token), Mode: req.Mode}
	if acct.Label == "" || acct.Token == "" || !acct.Mode.Valid() {
		writeError(w, http.StatusBadRequest, "label, token and a valid mode are required")
		return
	}
	if _, err := s.Accounts.Get(acct.Label); err == nil {
		s.writeErr(w, store.ErrDuplicateLabel)
		return
	}
	m, err := s.probe(r, acct.Token, acct.Mode)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if err := s.Accounts.Add(acct); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("account-add")
	writeJSONStatus(w, http.StatusCreated, metricsView{Label: acct.Label, Mode: acct.Mode, FetchedAt: s.now(), Metrics: &m})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.Accounts.Remove(param(r, "label")); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("account-remove")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	label := param(r, "label")
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	acct, err := s.Accounts.Get(label)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	token := wplace.CleanToken(req.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	m, err := s.probe(r, token, acct.Mode)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if acct, err = s.Accounts.UpdateToken(label, token); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("token-update")
	refreshed := s.Panels.RefreshForLabel(r.Context(), label)
	writeJSON(w, map[string]any{
		"account":   metricsView{Label: acct.Label, Mode: acct.Mode, FetchedAt: s.now(), Metrics: &m},
		"refreshed": refreshed,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	results, err := s.Resolver.Resolve(r.Context(), splitLabels(r.URL.Query().Get("labels")))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	hideErrors := r.URL.Query().Get("errors") == "hide"
	out := make([]metricsView, 0, len(results))
	for _, res := range results {
		if !res.OK() && hideErrors {
			continue
		}
		out = append(out, viewOf(res))
	}
	writeJSON(w, out)
}

func viewOf(res collector.Result) metricsView {
	v := metricsView{Label: res.Account.Label, Mode: res.Account.Mode, FetchedAt: res.FetchedAt}
	if res.OK() {
		v.Metrics = res.Metrics
		return v
	}
	v.Status, v.Error = wplace.Describe(res.Err)
	return v
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	from := s.now().Add(-parseRange(r.URL.Query().Get("range")))
	samples, err := s.Repo.RecentMetricSamples(r.Context(), param(r, "label"), from, queryInt(r, "limit", 500))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, samples)
}

func (s *Server) handleListPanels(w http.ResponseWriter, r *http.Request) {
	panels, err := s.PanelDocs.List()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	active := map[string]bool{}
	for _, id := range s.Panels.Active() {
		active[id] = true
	}
	type panelView struct {
		models.Panel
		Active bool `json:"active"`
	}
	out := make([]panelView, 0, len(panels))
	for _, p := range panels {
		out = append(out, panelView{Panel: p, Active: active[p.ID]})
	}
	writeJSON(w, out)
}

func (s *Server) handleCreatePanel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID   string   `json:"channelId"`
		Labels      []string `json:"labels"`
		IntervalSec int      `json:"intervalSec"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.ChannelID) == "" {
		writeError(w, http.StatusBadRequest, "channelId is required")
		return
	}
	p, err := s.Panels.Create(r.Context(), strings.TrimSpace(req.ChannelID), req.Labels, req.IntervalSec)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, p)
}

func (s *Server) handleRemovePanel(w http.ResponseWriter, r *http.Request) {
	if err := s.Panels.Remove(param(r, "id")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshPanel(w http.ResponseWriter, r *http.Request) {
	id := param(r, "id")
	if err := s.Panels.RunOnce(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	p, err := s.PanelDocs.Get(id)
	if err != nil {
		// migrated to a new message id during the refresh
		writeJSON(w, map[string]any{"ok": true})
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleNotifyConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Notify.Load()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"channelId": cfg.ChannelID,
		"rules":     cfg.Rules,
		"telegram":  s.Telegram != nil && s.Telegram.Enabled(),
	})
}

func (s *Server) handleNotifyChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channelId"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.Notify.SetChannel(strings.TrimSpace(req.ChannelID)); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("notify-channel")
	writeJSON(w, map[string]string{"channelId": strings.TrimSpace(req.ChannelID)})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Notify.Rules(r.URL.Query().Get("label"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if rules == nil {
		rules = []models.NotifyRule{}
	}
	writeJSON(w, rules)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label     string          `json:"label"`
		Type      models.RuleType `json:"type"`
		Minutes   int             `json:"minutes"`
		Threshold float64         `json:"threshold"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if _, err := s.Accounts.Get(strings.TrimSpace(req.Label)); err != nil {
		s.writeErr(w, err)
		return
	}
	rule, err := s.Notify.AddRule(store.RuleSpec{Label: req.Label, Type: req.Type, Minutes: req.Minutes, Threshold: req.Threshold})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("notify-add")
	writeJSONStatus(w, http.StatusCreated, rule)
}

func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	if err := s.Notify.RemoveRule(param(r, "id")); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("notify-remove")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(w, r, &req); err != nil || req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	if err := s.Notify.SetEnabled(param(r, "id"), *req.Enabled); err != nil {
		s.writeErr(w, err)
		return
	}
	s.Snapshots.Request("notify-toggle")
	writeJSON(w, map[string]bool{"enabled": *req.Enabled})
}

func (s *Server) handleTelegramSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		ChatID string `json:"chatId"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.Token, req.ChatID = strings.TrimSpace(req.Token), strings.TrimSpace(req.ChatID)
	if err := s.Repo.SaveTelegramSettings(r.Context(), req.Token, req.ChatID); err != nil {
		s.writeErr(w, err)
		return
	}
	if s.Telegram != nil {
		s.Telegram.Update(req.Token, req.ChatID)
	}
	writeJSON(w, map[string]bool{"enabled": req.Token != "" && req.ChatID != ""})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	since := s.now().Add(-parseRange(r.URL.Query().Get("range")))
	alerts, err := s.Repo.RecentAlerts(r.Context(), r.URL.Query().Get("label"), since, queryInt(r, "limit", 100))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, alerts)
}

func (s *Server) handleStateStatus(w http.ResponseWriter, r *http.Request) {
	at, reason := s.Snapshots.LastSaved()
	out := map[string]any{"enabled": s.Snapshots.Enabled(), "lastReason": reason}
	if pendingReason, pending := s.Snapshots.Pending(); pending {
		out["pending"] = pendingReason
	}
	if !at.IsZero() {
		out["lastSavedAt"] = at.UTC().Format(time.RFC3339)
	}
	writeJSON(w, out)
}

func (s *Server) handleStateSave(w http.ResponseWriter, r *http.Request) {
	saved, err := s.Snapshots.Save(r.Context(), "manual")
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, map[string]bool{"saved": saved})
}

func (s *Server) handleStateRestore(w http.ResponseWriter, r *http.Request) {
	res := s.Snapshots.Restore(r.Context())
	if !res.Restored() {
		writeJSONStatus(w, http.StatusConflict, res)
		return
	}
	s.Panels.StopAll()
	resumed, err := s.Panels.Resume()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, map[string]any{"restore": res, "panels": resumed})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
