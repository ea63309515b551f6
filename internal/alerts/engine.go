// Package alerts evaluates per-account notification rules on a fixed tick.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wplacebot/internal/collector"
	"wplacebot/internal/db"
	"wplacebot/internal/models"
	"wplacebot/internal/panel"
	"wplacebot/internal/recovery"
	"wplacebot/internal/schedule"
)

const (
	TaskKey         = "notify"
	DefaultInterval = 60 * time.Second
	sendAttempts    = 3
)

type Resolver interface {
	Fetch(ctx context.Context, labels []string) ([]collector.Result, error)
}

type RuleStore interface {
	Load() (models.NotifyConfig, error)
	MergeStates(states map[string]models.RuleState) error
}

type Messenger interface {
	Send(ctx context.Context, channelID string, post models.Post) (models.Message, error)
}

// Mirror is a secondary destination that receives a copy of every alert.
type Mirror interface {
	Name() string
	Enabled() bool
	Mirror(ctx context.Context, post models.Post) error
}

type SnapshotRequester interface {
	Request(reason string)
}

type Engine struct {
	rules    RuleStore
	resolver Resolver
	msg      Messenger
	mirrors  []Mirror
	repo     *db.Repository
	snap     SnapshotRequester
	loc      *time.Location
	log      *slog.Logger
	now      func() time.Time

	retryDelay func(attempt int) time.Duration
}

func NewEngine(rules RuleStore, resolver Resolver, msg Messenger, repo *db.Repository, snap SnapshotRequester, loc *time.Location, logger *slog.Logger, mirrors ...Mirror) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		rules:    rules,
		resolver: resolver,
		msg:      msg,
		mirrors:  mirrors,
		repo:     repo,
		snap:     snap,
		loc:      loc,
		log:      logger,
		now:      time.Now,
		retryDelay: func(attempt int) time.Duration {
			return time.Duration(attempt) * 300 * time.Millisecond
		},
	}
}

// Start arms the tick on tasks. The first tick runs right away.
func (e *Engine) Start(tasks *schedule.Scheduler, every time.Duration) {
	if every <= 0 {
		every = DefaultInterval
	}
	e.now = tasks.Clock().Now
	tasks.Arm(TaskKey, every, func(ctx context.Context, _ string) {
		e.Tick(ctx)
	})
}

// TickResult summarises one tick.
type TickResult struct {
	Rules     int
	Evaluated int
	Fired     int
	Delivered int
}

// Tick runs one evaluation pass. Every failure is logged and contained.
func (e *Engine) Tick(ctx context.Context) TickResult {
	var out TickResult
	cfg, err := e.rules.Load()
	if err != nil {
		e.log.Error("load notify config", "err", err)
		return out
	}
	var rules []models.NotifyRule
	var labels []string
	seen := map[string]bool{}
	for _, r := range cfg.Rules {
		if !r.Enabled {
			continue
		}
		rules = append(rules, r)
		if !seen[r.Label] {
			seen[r.Label] = true
			labels = append(labels, r.Label)
		}
	}
	out.Rules = len(rules)
	if len(rules) == 0 {
		return out
	}

	// Fetch rather than Resolve: two labels backed by the same remote account
	// each keep their own rules.
	results, err := e.resolver.Fetch(ctx, labels)
	if err != nil {
		e.log.Error("fetch accounts", "err", err)
		return out
	}
	byLabel := make(map[string]collector.Result, len(results))
	samples := make([]models.MetricSample, 0, len(results))
	for _, res := range results {
		if !res.OK() {
			continue
		}
		byLabel[res.Account.Label] = res
		m := res.Metrics
		samples = append(samples, models.MetricSample{
			TS: res.FetchedAt, Label: res.Account.Label, Identity: m.Key(),
			Current: m.Current, Max: m.Max, Droplets: m.Droplets, Level: m.Level, PixelsPainted: m.PixelsPainted,
		})
	}
	if e.repo != nil {
		if err := e.repo.InsertMetricSamples(ctx, samples); err != nil {
			e.log.Warn("record samples", "err", err)
		}
	}

	now := e.now()
	states := make(map[string]models.RuleState, len(rules))
	for _, rule := range rules {
		res, ok := byLabel[rule.Label]
		if !ok {
			continue
		}
		out.Evaluated++
		proj := recovery.Project(res.Metrics.Current, res.Metrics.Max, now)
		d := Transition(rule, Observation{Current: res.Metrics.Current, Max: res.Metrics.Max, ETASeconds: proj.Seconds()})
		next := d.Next
		if d.Fires {
			out.Fired++
			if e.deliver(ctx, cfg.ChannelID, rule, res, proj) {
				out.Delivered++
				firedAt := e.now()
				next.LastFiredAt = &firedAt
			}
		}
		states[rule.ID] = next
	}
	if err := e.rules.MergeStates(states); err != nil {
		e.log.Error("save rule states", "err", err)
	}
	if out.Fired > 0 {
		e.snap.Request("notify-fired")
	}
	return out
}

func (e *Engine) deliver(ctx context.Context, channelID string, rule models.NotifyRule, res collector.Result, proj recovery.Projection) bool {
	summary := e.compose(rule, res, proj)
	post := models.Post{Content: summary}
	now := e.now()

	var alertID int64
	if e.repo != nil {
		id, err := e.repo.CreateAlert(ctx, models.AlertRecord{
			RuleID: rule.ID, Label: rule.Label, RuleType: rule.Type, Summary: summary, FiredAt: now,
			Details: map[string]any{"current": res.Metrics.Current, "max": res.Metrics.Max, "eta_sec": proj.Seconds(), "account": res.Metrics.DisplayName},
		})
		if err != nil {
			e.log.Warn("record alert", "rule", rule.ID, "err", err)
		}
		alertID = id
	}

	for _, m := range e.mirrors {
		if !m.Enabled() {
			continue
		}
		name := m.Name()
		e.withRetry(ctx, alertID, name, func() error { return m.Mirror(ctx, post) })
	}

	if channelID == "" {
		e.log.Warn("notify channel not configured", "rule", rule.ID)
		e.finish(ctx, alertID, "undeliverable", nil)
		return false
	}
	ok := e.withRetry(ctx, alertID, "discord", func() error {
		_, err := e.msg.Send(ctx, channelID, post)
		return err
	})
	if !ok {
		e.finish(ctx, alertID, "failed", nil)
		return false
	}
	sent := e.now()
	e.finish(ctx, alertID, "delivered", &sent)
	e.log.Info("alert sent", "rule", rule.ID, "label", rule.Label, "type", rule.Type)
	return true
}

func (e *Engine) withRetry(ctx context.Context, alertID int64, channel string, send func() error) bool {
	attempts := 0
	var err error
	for attempts < sendAttempts {
		attempts++
		err = send()
		if err == nil {
			now := e.now().UTC()
			e.event(ctx, alertID, channel, "sent", attempts, "", &now)
			return true
		}
		if attempts == sendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			e.event(ctx, alertID, channel, "failed", attempts, ctx.Err().Error(), nil)
			return false
		case <-time.After(e.retryDelay(attempts)):
		}
	}
	e.event(ctx, alertID, channel, "failed", attempts, err.Error(), nil)
	e.log.Warn("notify failed", "channel", channel, "attempts", attempts, "err", err)
	return false
}

func (e *Engine) event(ctx context.Context, alertID int64, channel, status string, attempts int, lastErr string, sent *time.Time) {
	if e.repo == nil || alertID == 0 {
		return
	}
	if err := e.repo.InsertNotificationEvent(ctx, alertID, channel, status, attempts, lastErr, sent); err != nil {
		e.log.Warn("record notification", "err", err)
	}
}

func (e *Engine) finish(ctx context.Context, alertID int64, status string, delivered *time.Time) {
	if e.repo == nil || alertID == 0 {
		return
	}
	if err := e.repo.FinishAlert(ctx, alertID, status, delivered); err != nil {
		e.log.Warn("record alert outcome", "err", err)
	}
}

func (e *Engine) compose(rule models.NotifyRule, res collector.Result, proj recovery.Projection) string {
	m := res.Metrics
	who := fmt.Sprintf("**%s** (%s)", m.DisplayName, rule.Label)
	paint := fmt.Sprintf("%g/%g", m.Current, m.Max)
	switch rule.Type {
	case models.RuleFull:
		return fmt.Sprintf("🎨 %s paint is full: %s", who, paint)
	case models.RuleBeforeFull:
		return fmt.Sprintf("⏳ %s will be full in %s (%s), paint %s",
			who, panel.FormatDuration(proj.ETA), panel.FormatClock(proj.FullAt, e.loc), paint)
	case models.RuleThreshold:
		th := 0.0
		if rule.Threshold != nil {
			th = *rule.Threshold
		}
		return fmt.Sprintf("🔔 %s paint reached %g: %s", who, th, paint)
	default:
		return fmt.Sprintf("%s paint %s", who, paint)
	}
}
