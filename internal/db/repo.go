package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"wplacebot/internal/models"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) CreateAlert(ctx context.Context, a models.AlertRecord) (int64, error) {
	b, _ := json.Marshal(a.Details)
	if a.Status == "" {
		a.Status = "firing"
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO alerts (rule_id,label,rule_type,status,fired_ts,summary,details_json) VALUES (?,?,?,?,?,?,?)`,
		a.RuleID, a.Label, string(a.RuleType), a.Status, a.FiredAt.UTC(), a.Summary, string(b))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FinishAlert records the delivery outcome of an alert.
func (r *Repository) FinishAlert(ctx context.Context, id int64, status string, delivered *time.Time) error {
	var ts any
	if delivered != nil {
		ts = delivered.UTC()
	}
	_, err := r.db.ExecContext(ctx, `UPDATE alerts SET status=?, delivered_ts_nullable=? WHERE id=?`, status, ts, id)
	return err
}

func (r *Repository) InsertNotificationEvent(ctx context.Context, alertID int64, channel, status string, attempts int, lastErr string, sent *time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_events (alert_id,channel,status,attempts,last_error,sent_ts_nullable) VALUES (?,?,?,?,?,?)`, alertID, channel, status, attempts, lastErr, sent)
	return err
}

// RecentAlerts lists alerts newest first. An empty label matches every account.
func (r *Repository) RecentAlerts(ctx context.Context, label string, since time.Time, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id,rule_id,label,rule_type,status,fired_ts,delivered_ts_nullable,summary,details_json
		FROM alerts
		WHERE fired_ts >= ? AND (? = '' OR label = ?)
		ORDER BY fired_ts DESC, id DESC LIMIT ?`, since.UTC(), label, label, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AlertRecord, 0, limit)
	for rows.Next() {
		var a models.AlertRecord
		var ruleType, details string
		var delivered sql.NullTime
		if err := rows.Scan(&a.ID, &a.RuleID, &a.Label, &ruleType, &a.Status, &a.FiredAt, &delivered, &a.Summary, &details); err != nil {
			return nil, err
		}
		a.RuleType = models.RuleType(ruleType)
		if delivered.Valid {
			t := delivered.Time
			a.DeliveredAt = &t
		}
		if details != "" && details != "null" {
			_ = json.Unmarshal([]byte(details), &a.Details)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) InsertMetricSamples(ctx context.Context, samples []models.MetricSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_samples (ts,label,identity,paint_current,paint_max,droplets,level,pixels_painted) VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range samples {
		if _, err := stmt.ExecContext(ctx, m.TS.UTC(), m.Label, m.Identity, m.Current, m.Max, m.Droplets, m.Level, m.PixelsPainted); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentMetricSamples returns a label's samples since from, oldest first.
func (r *Repository) RecentMetricSamples(ctx context.Context, label string, from time.Time, limit int) ([]models.MetricSample, error) {
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `SELECT ts,label,identity,paint_current,paint_max,droplets,level,pixels_painted FROM metric_samples WHERE label = ? AND ts >= ? ORDER BY ts ASC LIMIT ?`, label, from.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.MetricSample, 0, limit)
	for rows.Next() {
		var m models.MetricSample
		if err := rows.Scan(&m.TS, &m.Label, &m.Identity, &m.Current, &m.Max, &m.Droplets, &m.Level, &m.PixelsPainted); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes history. The newest snapshot always survives so a
// restore stays possible after a long outage.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	queries := []string{
		`DELETE FROM metric_samples WHERE ts < ?`,
		`DELETE FROM alerts WHERE fired_ts < ?`,
		`DELETE FROM snapshots WHERE ts < ? AND id <> (SELECT MAX(id) FROM snapshots)`,
	}
	for _, q := range queries {
		if _, err := r.db.ExecContext(ctx, q, cutoff.UTC()); err != nil {
			return err
		}
	}
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
	return nil
}

func (r *Repository) SaveTelegramSettings(ctx context.Context, token, chatID string) error {
	for k, v := range map[string]string{"telegram_token": token, "telegram_chat_id": chatID} {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO settings(key,value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) LoadTelegramSettings(ctx context.Context) (token, chatID string, err error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key,value FROM settings WHERE key IN ('telegram_token','telegram_chat_id')`)
	if err != nil {
		return "", "", err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return "", "", err
		}
		if k == "telegram_token" {
			token = v
		}
		if k == "telegram_chat_id" {
			chatID = v
		}
	}
	return token, chatID, rows.Err()
}
