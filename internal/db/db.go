package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id TEXT NOT NULL,
			label TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			status TEXT NOT NULL,
			fired_ts DATETIME NOT NULL,
			delivered_ts_nullable DATETIME,
			summary TEXT NOT NULL,
			details_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notification_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id INTEGER NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT,
			sent_ts_nullable DATETIME,
			FOREIGN KEY(alert_id) REFERENCES alerts(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS metric_samples (
			ts DATETIME NOT NULL,
			label TEXT NOT NULL,
			identity TEXT NOT NULL,
			paint_current REAL NOT NULL,
			paint_max REAL NOT NULL,
			droplets INTEGER NOT NULL,
			level INTEGER NOT NULL,
			pixels_painted INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			body TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_fired ON alerts(fired_ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_label_fired ON alerts(label, fired_ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_metric_samples_label_ts ON metric_samples(label, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
