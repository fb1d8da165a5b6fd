// Package repo 餐厅实体的持久化
//
// 所有访问都经过 serialized.ISerializedWriter：
//   - 输入校验在访问数据库之前完成；
//   - 跨多行的写入（订单、订单行、餐桌状态、outbox 事件）在同一个写事务中提交或回滚；
//   - 多条查询组成的读取在同一个只读事务中执行，看到同一份快照。
package repo

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	core "restaurant/data/db"
	"restaurant/data/db/serialized"
	"restaurant/domain"
	"restaurant/errors"
	"restaurant/eventing/outbox"
	"restaurant/logging"
)

const (
	menuTable  = "menu_items"
	tableTable = "dining_tables"
	orderTable = "orders"
	lineTable  = "order_lines"
)

var (
	menuColumns  = []string{"id", "name", "price", "available", "prep_minutes", "created_at", "updated_at"}
	tableColumns = []string{"id", "code", "capacity", "status", "created_at", "updated_at"}
	orderColumns = []string{"id", "table_id", "status", "ordered_at", "updated_at", "closed_at"}
	lineColumns  = []string{"id", "order_id", "menu_item_id", "item_name", "quantity", "unit_price", "prep_minutes"}
)

// EventAppender 在写事务中追加领域事件（由 outbox 仓储实现）
type EventAppender interface {
	Append(ctx context.Context, tx core.ITransaction, events ...domain.IDomainEvent) error
}

var _ EventAppender = (outbox.IOutboxRepository)(nil)

// Option 仓储选项
type Option func(*base)

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(b *base) { b.log = logger }
}

// WithEvents 设置事件追加器；未设置时订单变更不产生事件
func WithEvents(events EventAppender) Option {
	return func(b *base) { b.events = events }
}

// Repositories 三个实体仓储共享同一个存储
type Repositories struct {
	Menu   *MenuItemRepository
	Tables *TableRepository
	Orders *OrderRepository
}

// New 创建全部仓储
func New(store serialized.ISerializedWriter, opts ...Option) *Repositories {
	b := newBase(store, opts...)
	return &Repositories{
		Menu:   &MenuItemRepository{base: b},
		Tables: &TableRepository{base: b},
		Orders: &OrderRepository{base: b},
	}
}

type base struct {
	store  serialized.ISerializedWriter
	events EventAppender
	now    func() time.Time
	log    logging.Logger
}

func newBase(store serialized.ISerializedWriter, opts ...Option) *base {
	b := &base{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logging.ComponentLogger("data.repo")
	}
	return b
}

// timestamp 当前 UTC 时间（毫秒精度）
func (b *base) timestamp() time.Time {
	return b.now().UTC().Truncate(time.Millisecond)
}

func (b *base) appendEvents(ctx context.Context, tx core.ITransaction, events ...domain.IDomainEvent) error {
	if b.events == nil || len(events) == 0 {
		return nil
	}
	return b.events.Append(ctx, tx, events...)
}

// notFound 将 sql.ErrNoRows 转换为带实体信息的 NotFound
func notFound(err error, entity string, id int64) error {
	if stdErrors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError(entity, id)
	}
	return err
}

// utc 驱动按带时区偏移的格式解析时间，统一转换为 UTC
func utc(ts ...*time.Time) {
	for _, t := range ts {
		if t != nil && !t.IsZero() {
			*t = t.UTC()
		}
	}
}
