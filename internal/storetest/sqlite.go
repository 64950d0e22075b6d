// Package storetest opens in-memory SQLite databases carrying the storefront
// schema for repository and service tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// Money columns are TEXT so decimal values round-trip without float loss.
var schema = []string{
	`CREATE TABLE users (
		id BIGINT PRIMARY KEY,
		email TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'customer',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_users_email ON users (lower(email))`,
	`CREATE TABLE sessions (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		session_token_hash TEXT NOT NULL,
		user_agent TEXT,
		ip_address TEXT,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME,
		created_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_sessions_token_hash ON sessions (session_token_hash)`,
	`CREATE TABLE products (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'usd',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME
	)`,
	`CREATE TABLE orders (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		total TEXT NOT NULL,
		currency TEXT NOT NULL,
		shipping_address TEXT NOT NULL,
		idempotency_key TEXT,
		payment_intent_id TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_orders_user_idempotency ON orders (user_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE order_items (
		order_id BIGINT NOT NULL,
		line_no INT NOT NULL,
		product_id BIGINT NOT NULL,
		product_name TEXT NOT NULL,
		quantity INT NOT NULL,
		unit_price TEXT NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
	`CREATE TABLE payment_events (
		id BIGINT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		order_id BIGINT,
		outcome TEXT,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		processed_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_events_provider_event ON payment_events (provider, provider_event_id)`,
	`CREATE TABLE notifications (
		id BIGINT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'system',
		order_id BIGINT,
		is_read BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		read_at DATETIME
	)`,
}

// OpenDB returns a fresh database. A single connection is used so a query
// issued outside an open transaction blocks instead of racing it.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

// Node returns a snowflake node for tests.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// SeedUser inserts a user with a placeholder password hash.
func SeedUser(t testing.TB, db *gorm.DB, id snowflake.ID, email, role string) {
	t.Helper()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO users (id, email, display_name, password_hash, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, email, email, "x", role, now, now,
	).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// SeedProduct inserts an active product priced in usd.
func SeedProduct(t testing.TB, db *gorm.DB, id snowflake.ID, name, price string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO products (id, name, price, currency, active, created_at) VALUES (?, ?, ?, 'usd', ?, ?)`,
		id, name, price, true, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

// Count returns the number of rows in table matching where.
func Count(t testing.TB, db *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}
