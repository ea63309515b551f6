package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"wplacebot/internal/alerts"
	"wplacebot/internal/collector"
	"wplacebot/internal/config"
	"wplacebot/internal/db"
	"wplacebot/internal/notifier"
	"wplacebot/internal/panel"
	"wplacebot/internal/retention"
	"wplacebot/internal/schedule"
	"wplacebot/internal/snapshot"
	"wplacebot/internal/store"
	"wplacebot/internal/web"
	"wplacebot/internal/wplace"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db      *db.Repository
	discord *notifier.Discord

	accounts *store.Accounts
	panels   *store.Panels
	notify   *store.Notify

	resolver  *collector.Resolver
	snapshots *snapshot.Store
	panelRun  *panel.Scheduler
	alerts    *alerts.Engine
	retention *retention.Service
	telegram  *notifier.Telegram
	web       *web.Server

	baseCtx     context.Context
	cancel      context.CancelFunc
	panelTasks  *schedule.Scheduler
	notifyTasks *schedule.Scheduler
	cron        *cron.Cron
	httpSrv     *http.Server
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	sqldb, err := db.Open(cfg.Data.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	repo := db.NewRepository(sqldb)

	dc, err := notifier.NewDiscord(cfg.Discord.Token)
	if err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("discord: %w", err)
	}

	accounts := store.NewAccounts(cfg.Data.Dir)
	panels := store.NewPanels(cfg.Data.Dir)
	notify := store.NewNotify(cfg.Data.Dir, cfg.Notify.DefaultChannelID)

	var browser wplace.Browser
	if cfg.Wplace.BrowserEnabled {
		cb := wplace.NewChromeBrowser()
		cb.Endpoint = cfg.Wplace.Endpoint
		cb.ExecPath = cfg.Wplace.ChromePath
		cb.Timeout = cfg.Wplace.BrowserTimeout
		browser = cb
	}
	client := wplace.NewClient(wplace.Options{
		Endpoint: cfg.Wplace.Endpoint,
		Timeout:  cfg.Wplace.HTTPTimeout,
	}, browser, logger.With("module", "wplace"))
	resolver := collector.NewResolver(accounts, client, cfg.Resolver.MaxAccounts, logger.With("module", "collector"))
	resolver.SetConcurrency(cfg.Resolver.Concurrency)

	var backend snapshot.Backend
	switch {
	case cfg.State.Backend == config.BackendSQLite:
		backend = snapshot.NewSQLiteBackend(repo, time.Now)
	case cfg.State.ChannelID != "":
		backend = snapshot.NewChannelBackend(dc, cfg.State.ChannelID, cfg.State.HistoryLimit)
	}
	snaps := snapshot.New(backend, []snapshot.Collection{accounts, panels, notify}, schedule.Real, cfg.State.Debounce, logger.With("module", "snapshot"))

	token, chatID, err := repo.LoadTelegramSettings(context.Background())
	if err != nil {
		logger.Warn("load telegram settings failed", "err", err)
	}
	if token == "" {
		token = cfg.Notify.TelegramToken
	}
	if chatID == "" {
		chatID = cfg.Notify.TelegramChatID
	}
	tg := notifier.NewTelegram(token, chatID)

	baseCtx, cancel := context.WithCancel(context.Background())
	panelTasks := schedule.New(baseCtx, schedule.Real)
	notifyTasks := schedule.New(baseCtx, schedule.Real)

	loc := cfg.Location()
	panelRun := panel.NewScheduler(panels, resolver, dc, panelTasks, snaps, panel.NewRenderer(loc, time.Now), logger.With("module", "panel"))
	engine := alerts.NewEngine(notify, resolver, dc, repo, snaps, loc, logger.With("module", "alerts"), tg)

	w := web.NewServer(web.Deps{
		Accounts:  accounts,
		PanelDocs: panels,
		Notify:    notify,
		Panels:    panelRun,
		Resolver:  resolver,
		Fetcher:   client,
		Snapshots: snaps,
		Repo:      repo,
		Telegram:  tg,
		APIToken:  cfg.HTTP.APIToken,
	}, logger.With("module", "web"))

	a := &App{
		cfg:         cfg,
		log:         logger,
		db:          repo,
		discord:     dc,
		accounts:    accounts,
		panels:      panels,
		notify:      notify,
		resolver:    resolver,
		snapshots:   snaps,
		panelRun:    panelRun,
		alerts:      engine,
		retention:   retention.NewService(repo, cfg.Retention.Days, logger.With("module", "retention")),
		telegram:    tg,
		web:         w,
		baseCtx:     baseCtx,
		cancel:      cancel,
		panelTasks:  panelTasks,
		notifyTasks: notifyTasks,
		cron:        cron.New(),
	}
	a.httpSrv = &http.Server{Addr: cfg.HTTP.Addr, Handler: w.Routes(), ReadHeaderTimeout: 10 * time.Second}
	return a, nil
}

// Snapshots exposes the state store for one-shot commands.
func (a *App) Snapshots() *snapshot.Store { return a.snapshots }

// Restore pulls the newest snapshot over local state. A missing or broken
// snapshot leaves local files as they are.
func (a *App) Restore(ctx context.Context) snapshot.RestoreResult {
	res := a.snapshots.Restore(ctx)
	if res.Restored() {
		a.log.Info("state restored", "collections", res.Collections, "saved_reason", res.SavedReason, "saved_at", res.SavedAt)
	} else {
		a.log.Warn("state not restored", "status", res.Status, "reason", res.Reason)
	}
	return res
}

func (a *App) Run(ctx context.Context) error {
	if !a.snapshots.Enabled() {
		a.log.Warn("no state channel configured, snapshots disabled")
	}
	a.Restore(ctx)

	if ch, err := a.notify.ChannelID(); err == nil && ch == "" {
		a.log.Warn("no notify channel configured, alerts will only be mirrored")
	}
	if _, err := a.panelRun.Resume(); err != nil {
		a.log.Error("resume panels failed", "err", err)
	}
	a.alerts.Start(a.notifyTasks, a.cfg.Notify.Interval)

	if _, err := a.retention.Schedule(a.cron, a.cfg.Retention.Schedule); err != nil {
		a.log.Error("retention disabled", "err", err)
	}
	a.cron.Start()

	errc := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.HTTP.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
		a.log.Error("http server failed", "err", runErr)
	}
	return errors.Join(runErr, a.Close())
}

// Close stops every task, writes any pending snapshot and releases the database.
func (a *App) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.httpSrv.Shutdown(shutdownCtx)
	<-a.cron.Stop().Done()
	a.panelTasks.CancelAll()
	a.notifyTasks.CancelAll()
	a.cancel()
	var errs []error
	if err := a.snapshots.Flush(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush snapshot: %w", err))
	}
	if err := a.discord.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.db.DB().Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
