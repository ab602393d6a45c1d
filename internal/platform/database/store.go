package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhooks (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	url        TEXT NOT NULL,
	events     TEXT NOT NULL,
	headers    TEXT,
	secret     TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhooks_tenant ON webhooks(tenant_id);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	webhook_id  TEXT NOT NULL,
	event       TEXT NOT NULL,
	status_code INTEGER,
	error       TEXT,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id);
`

// Open opens the webhook subscription store, creating the file and schema on
// first use. Subscriptions outlive sessions and process restarts, which is
// why they get a real store while session state stays in memory.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
