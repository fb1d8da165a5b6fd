// Package schema 创建餐厅数据库的表与索引
package schema

import (
	"context"
	"strings"

	core "restaurant/data/db"
	"restaurant/data/db/serialized"
	"restaurant/logging"
)

type table struct {
	name  string
	ddl   string
	index []string
}

// 表定义；顺序即创建顺序（被引用的表在前）
var tables = []table{
	{
		name: "menu_items",
		ddl: `CREATE TABLE IF NOT EXISTS menu_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT     NOT NULL CHECK (length(name) BETWEEN 1 AND 100),
	price        TEXT     NOT NULL,
	available    INTEGER  NOT NULL DEFAULT 1 CHECK (available IN (0, 1)),
	prep_minutes INTEGER  NOT NULL DEFAULT 0 CHECK (prep_minutes BETWEEN 0 AND 240),
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	deleted_at   DATETIME
)`,
		index: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_menu_items_name ON menu_items (name) WHERE deleted_at IS NULL`,
		},
	},
	{
		name: "dining_tables",
		ddl: `CREATE TABLE IF NOT EXISTS dining_tables (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	code       TEXT     NOT NULL UNIQUE,
	capacity   INTEGER  NOT NULL CHECK (capacity BETWEEN 1 AND 50),
	status     TEXT     NOT NULL DEFAULT 'free' CHECK (status IN ('free', 'occupied', 'reserved')),
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
)`,
		index: []string{
			`CREATE INDEX IF NOT EXISTS ix_dining_tables_status ON dining_tables (status)`,
		},
	},
	{
		name: "orders",
		ddl: `CREATE TABLE IF NOT EXISTS orders (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	table_id   INTEGER  NOT NULL REFERENCES dining_tables (id),
	status     TEXT     NOT NULL CHECK (status IN ('open', 'in_progress', 'served', 'paid', 'cancelled')),
	ordered_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	closed_at  DATETIME
)`,
		index: []string{
			// 每张餐桌最多一个未结束的订单
			`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_active_table ON orders (table_id) WHERE status IN ('open', 'in_progress', 'served')`,
			`CREATE INDEX IF NOT EXISTS ix_orders_status ON orders (status)`,
			`CREATE INDEX IF NOT EXISTS ix_orders_table ON orders (table_id)`,
		},
	},
	{
		name: "order_lines",
		ddl: `CREATE TABLE IF NOT EXISTS order_lines (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id     INTEGER NOT NULL REFERENCES orders (id),
	menu_item_id INTEGER NOT NULL REFERENCES menu_items (id),
	item_name    TEXT    NOT NULL,
	quantity     INTEGER NOT NULL CHECK (quantity BETWEEN 1 AND 100),
	unit_price   TEXT    NOT NULL,
	prep_minutes INTEGER NOT NULL DEFAULT 0,
	UNIQUE (order_id, menu_item_id)
)`,
		index: []string{
			`CREATE INDEX IF NOT EXISTS ix_order_lines_order ON order_lines (order_id)`,
		},
	},
	{
		name: "event_outbox",
		ddl: `CREATE TABLE IF NOT EXISTS event_outbox (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	aggregate_id   INTEGER  NOT NULL,
	aggregate_type TEXT     NOT NULL,
	event_id       TEXT     NOT NULL UNIQUE,
	event_type     TEXT     NOT NULL,
	event_data     TEXT     NOT NULL,
	correlation_id TEXT     NOT NULL DEFAULT '',
	status         TEXT     NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'published', 'failed', 'dead')),
	created_at     DATETIME NOT NULL,
	published_at   DATETIME,
	retry_count    INTEGER  NOT NULL DEFAULT 0,
	last_error     TEXT,
	next_retry_at  DATETIME
)`,
		index: []string{
			`CREATE INDEX IF NOT EXISTS ix_event_outbox_status_retry ON event_outbox (status, next_retry_at)`,
			`CREATE INDEX IF NOT EXISTS ix_event_outbox_aggregate ON event_outbox (aggregate_type, aggregate_id)`,
		},
	},
}

// Tables 返回受管理的表名（按创建顺序）
func Tables() []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.name
	}
	return names
}

// Option 配置 Ensure
type Option func(*options)

type options struct {
	logger logging.Logger
}

// WithLogger 指定日志；未指定时使用全局日志的 schema 组件
func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Ensure 幂等地创建所有表与索引
//
// 所有语句在同一个写事务中执行：要么全部就绪，要么全部回滚。
// 已存在的表与索引不做任何修改。
func Ensure(ctx context.Context, w serialized.ISerializedWriter, opts ...Option) error {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.ComponentLogger("schema")
	}

	err := w.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		for _, t := range tables {
			if _, err := tx.Exec(ctx, t.ddl); err != nil {
				return err
			}
			for _, idx := range t.index {
				if _, err := tx.Exec(ctx, idx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.Error(ctx, "schema initialization failed", logging.Error(err))
		return err
	}

	logger.Info(ctx, "schema ready", logging.String("tables", strings.Join(Tables(), ",")))
	return nil
}
