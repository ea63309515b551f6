package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"wplacebot/internal/collector"
	"wplacebot/internal/db"
	"wplacebot/internal/models"
	"wplacebot/internal/notifier"
	"wplacebot/internal/snapshot"
	"wplacebot/internal/store"
	"wplacebot/internal/wplace"
)

type Panels interface {
	Create(ctx context.Context, channelID string, labels []string, intervalSec int) (models.Panel, error)
	Remove(id string) error
	RunOnce(ctx context.Context, id string) error
	RefreshForLabel(ctx context.Context, label string) int
	Resume() (int, error)
	StopAll()
	Active() []string
}

type Resolver interface {
	Resolve(ctx context.Context, labels []string) ([]collector.Result, error)
}

type Snapshots interface {
	Enabled() bool
	Save(ctx context.Context, reason string) (bool, error)
	Restore(ctx context.Context) snapshot.RestoreResult
	Request(reason string)
	LastSaved() (time.Time, string)
	Pending() (string, bool)
}

type Deps struct {
	Accounts  *store.Accounts
	PanelDocs *store.Panels
	Notify    *store.Notify
	Panels    Panels
	Resolver  Resolver
	Fetcher   collector.Fetcher
	Snapshots Snapshots
	Repo      *db.Repository
	Telegram  *notifier.Telegram
	APIToken  string
}

type Server struct {
	Deps
	log     *slog.Logger
	started time.Time
	now     func() time.Time
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	return &Server{Deps: deps, log: logger, started: time.Now(), now: time.Now}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return logMiddleware(next, s.log) })
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleHealthz)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/accounts", s.handleListAccounts)
		r.Post("/accounts", s.handleAddAccount)
		r.Delete("/accounts/{label}", s.handleRemoveAccount)
		r.Put("/accounts/{label}/token", s.handleUpdateToken)

		r.Get("/metrics", s.handleMetrics)
		r.Get("/metrics/{label}/samples", s.handleSamples)

		r.Get("/panels", s.handleListPanels)
		r.Post("/panels", s.handleCreatePanel)
		r.Delete("/panels/{id}", s.handleRemovePanel)
		r.Post("/panels/{id}/refresh", s.handleRefreshPanel)

		r.Get("/notify", s.handleNotifyConfig)
		r.Put("/notify/channel", s.handleNotifyChannel)
		r.Get("/notify/rules", s.handleListRules)
		r.Post("/notify/rules", s.handleAddRule)
		r.Delete("/notify/rules/{id}", s.handleRemoveRule)
		r.Patch("/notify/rules/{id}", s.handleToggleRule)
		r.Put("/notify/telegram", s.handleTelegramSettings)

		r.Get("/alerts", s.handleAlerts)

		r.Get("/state", s.handleStateStatus)
		r.Post("/state/save", s.handleStateSave)
		r.Post("/state/restore", s.handleStateRestore)
	})
	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.APIToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	writeJSON(w, map[string]any{
		"ok":     true,
		"uptime": int64(now.Sub(s.started).Seconds()),
		"now":    now.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.Repo != nil {
		if err := s.Repo.DB().PingContext(r.Context()); err != nil {
			http.Error(w, "db not ready", 503)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}

// writeErr maps domain errors onto HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var fe *wplace.FetchError
	switch {
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrPanelNotFound), errors.Is(err, store.ErrRuleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateLabel):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidAccount), errors.Is(err, store.ErrInvalidPanel), errors.Is(err, store.ErrInvalidRule):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &fe):
		status, detail := wplace.Describe(err)
		writeJSONStatus(w, http.StatusUnprocessableEntity, map[string]string{"error": "probe failed", "status": status, "detail": detail})
	default:
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func parseRange(v string) time.Duration {
	if v == "" {
		return time.Hour
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return time.Hour
	}
	if d <= 0 {
		return time.Hour
	}
	return d
}

func splitLabels(v string) []string {
	var out []string
	for _, l := range strings.Split(v, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
