package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"wplacebot/internal/models"
)

func TestRecentAlertsFiltersByLabelAndTime(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)

	for _, a := range []models.AlertRecord{
		{RuleID: "n-1", Label: "main", RuleType: models.RuleFull, Summary: "old", FiredAt: now.Add(-2 * time.Hour)},
		{RuleID: "n-1", Label: "main", RuleType: models.RuleFull, Summary: "full", FiredAt: now.Add(-time.Minute), Details: map[string]any{"current": 30.0}},
		{RuleID: "n-2", Label: "alt", RuleType: models.RuleThreshold, Summary: "other", FiredAt: now},
	} {
		if _, err := repo.CreateAlert(ctx, a); err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}

	alerts, err := repo.RecentAlerts(ctx, "main", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts len = %d, want 1", len(alerts))
	}
	if alerts[0].Summary != "full" || alerts[0].Status != "firing" || alerts[0].Details["current"] != 30.0 {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}

	all, err := repo.RecentAlerts(ctx, "", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(all) != 2 || all[0].Label != "alt" {
		t.Fatalf("all = %+v, want newest first", all)
	}
}

func TestFinishAlertAndNotificationEvent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	id, err := repo.CreateAlert(ctx, models.AlertRecord{RuleID: "n-1", Label: "main", RuleType: models.RuleFull, Summary: "s", FiredAt: now})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertNotificationEvent(ctx, id, "discord", "sent", 2, "", &now); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	if err := repo.FinishAlert(ctx, id, "delivered", &now); err != nil {
		t.Fatalf("finish alert: %v", err)
	}
	alerts, _ := repo.RecentAlerts(ctx, "main", now.Add(-time.Minute), 10)
	if len(alerts) != 1 || alerts[0].Status != "delivered" || alerts[0].DeliveredAt == nil {
		t.Fatalf("alert = %+v", alerts)
	}
	var attempts int
	if err := repo.DB().QueryRowContext(ctx, `SELECT attempts FROM notification_events WHERE alert_id=?`, id).Scan(&attempts); err != nil {
		t.Fatalf("query event: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
}

func TestMetricSamplesAndRetention(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	err := repo.InsertMetricSamples(ctx, []models.MetricSample{
		{TS: now.Add(-48 * time.Hour), Label: "main", Identity: "1", Current: 1, Max: 30},
		{TS: now.Add(-time.Hour), Label: "main", Identity: "1", Current: 10, Max: 30},
		{TS: now, Label: "main", Identity: "1", Current: 12, Max: 30},
		{TS: now, Label: "alt", Identity: "2", Current: 5, Max: 30},
	})
	if err != nil {
		t.Fatalf("insert samples: %v", err)
	}
	samples, err := repo.RecentMetricSamples(ctx, "main", now.Add(-72*time.Hour), 10)
	if err != nil {
		t.Fatalf("recent samples: %v", err)
	}
	if len(samples) != 3 || samples[0].Current != 1 || samples[2].Current != 12 {
		t.Fatalf("samples = %+v, want 3 oldest first", samples)
	}

	if err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour)); err != nil {
		t.Fatalf("delete older: %v", err)
	}
	samples, _ = repo.RecentMetricSamples(ctx, "main", now.Add(-72*time.Hour), 10)
	if len(samples) != 2 {
		t.Fatalf("samples after retention = %d, want 2", len(samples))
	}
}

func TestSnapshotsKeepNewestThroughRetention(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.LatestSnapshot(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("err = %v, want ErrNoSnapshot", err)
	}
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := repo.PutSnapshot(ctx, []byte(`{"v":1}`), old); err != nil {
		t.Fatal(err)
	}
	if err := repo.PutSnapshot(ctx, []byte(`{"v":2}`), old.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteOlderThan(ctx, old.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("delete older: %v", err)
	}
	body, err := repo.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if string(body) != `{"v":2}` {
		t.Fatalf("body = %s", body)
	}
	var n int
	_ = repo.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	if n != 1 {
		t.Fatalf("snapshots = %d, want 1", n)
	}
}

func TestTelegramSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.SaveTelegramSettings(ctx, "tok", "chat"); err != nil {
		t.Fatalf("save: %v", err)
	}
	token, chat, err := repo.LoadTelegramSettings(ctx)
	if err != nil || token != "tok" || chat != "chat" {
		t.Fatalf("load = %q %q %v", token, chat, err)
	}
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	sqldb, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return NewRepository(sqldb)
}
