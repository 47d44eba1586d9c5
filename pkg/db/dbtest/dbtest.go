// Package dbtest opens isolated in-memory sqlite databases carrying the
// payment schema, for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  admin_percentage TEXT NOT NULL DEFAULT '0'
);`,
	`CREATE TABLE IF NOT EXISTS campaigns (
  id TEXT PRIMARY KEY,
  organization_id TEXT
);`,
	`CREATE TABLE IF NOT EXISTS photos (
  id TEXT PRIMARY KEY,
  photographer_id TEXT NOT NULL,
  campaign_id TEXT,
  price TEXT NOT NULL,
  discount_opt_out INTEGER NOT NULL DEFAULT 0
);`,
	`CREATE TABLE IF NOT EXISTS purchases (
  id TEXT PRIMARY KEY,
  item_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  campaign_id TEXT,
  payment_method TEXT NOT NULL,
  amount TEXT NOT NULL,
  discount_amount TEXT NOT NULL DEFAULT '0',
  status TEXT NOT NULL DEFAULT 'pending',
  gateway_reference TEXT,
  reference_kind TEXT,
  batch_tag TEXT,
  batch_size INTEGER NOT NULL DEFAULT 0,
  gateway_payment_id TEXT,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS revenue_shares (
  id TEXT PRIMARY KEY,
  purchase_id TEXT NOT NULL,
  organization_id TEXT,
  sale_amount TEXT NOT NULL,
  platform_percentage TEXT NOT NULL,
  organization_percentage TEXT NOT NULL DEFAULT '0',
  platform_amount TEXT NOT NULL,
  organization_amount TEXT NOT NULL DEFAULT '0',
  photographer_amount TEXT NOT NULL,
  split_inconsistent INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_revenue_shares_purchase ON revenue_shares (purchase_id);`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id);`,
}

// Open returns a database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
