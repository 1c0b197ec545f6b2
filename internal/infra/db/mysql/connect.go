package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scan_records (
			id VARCHAR(64) PRIMARY KEY,
			label VARCHAR(255) NOT NULL DEFAULT '',
			content_type VARCHAR(16) NOT NULL,
			created_at BIGINT NOT NULL,
			risk_category VARCHAR(16) NOT NULL,
			risk_score INT NOT NULL DEFAULT 0,
			confidence DOUBLE NOT NULL DEFAULT 0,
			evidence_digest VARCHAR(255) NOT NULL DEFAULT '',
			explanation TEXT,
			verification_status VARCHAR(16) NOT NULL DEFAULT 'unverified',
			verification_note VARCHAR(255) NOT NULL DEFAULT '',
			source VARCHAR(64) NOT NULL DEFAULT '',
			artifact_url VARCHAR(512) NOT NULL DEFAULT '',
			INDEX idx_scan_created (created_at),
			INDEX idx_scan_category (risk_category)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_records (
			id VARCHAR(80) PRIMARY KEY,
			type VARCHAR(64) NOT NULL,
			description VARCHAR(512) NOT NULL DEFAULT '',
			severity VARCHAR(16) NOT NULL,
			time BIGINT NOT NULL,
			source VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL DEFAULT 'unread',
			INDEX idx_alert_time (time)
		)`,
		`CREATE TABLE IF NOT EXISTS blocked_domains (
			domain VARCHAR(255) PRIMARY KEY,
			origin_url VARCHAR(512) NOT NULL DEFAULT '',
			added_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_result (
			slot TINYINT PRIMARY KEY,
			scan_id VARCHAR(64) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
