package outbox

import (
	"context"
	"fmt"
	"time"

	core "restaurant/data/db"
	"restaurant/data/db/serialized"
	sqlbuilder "restaurant/data/db/sql"
	"restaurant/domain"
	"restaurant/errors"
	"restaurant/messaging"
)

var entryColumns = []string{
	"id", "aggregate_id", "aggregate_type", "event_id", "event_type", "event_data",
	"correlation_id", "status", "created_at", "published_at", "retry_count", "last_error", "next_retry_at",
}

// SQLOutboxRepository 基于 event_outbox 表的仓储
//
// Append 使用调用方的事务；其余操作各自通过串行化写入器执行。
type SQLOutboxRepository struct {
	store serialized.ISerializedWriter
	now   func() time.Time
}

// NewSQLOutboxRepository 创建仓储
func NewSQLOutboxRepository(store serialized.ISerializedWriter) *SQLOutboxRepository {
	return &SQLOutboxRepository{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SQLOutboxRepository) Append(ctx context.Context, tx core.ITransaction, events ...domain.IDomainEvent) error {
	correlationID := messaging.CorrelationID(ctx)
	now := r.now()
	for _, ev := range events {
		entry, err := NewEntry(ev, correlationID, now)
		if err != nil {
			return errors.WrapError(err, errors.ErrCodeInternal, "encode outbox event")
		}
		_, err = sqlbuilder.New(tx).InsertInto(entry.TableName()).
			Columns("aggregate_id", "aggregate_type", "event_id", "event_type", "event_data",
				"correlation_id", "status", "created_at", "retry_count").
			Values(entry.AggregateID, entry.AggregateType, entry.EventID, entry.EventType, entry.EventData,
				entry.CorrelationID, entry.Status, entry.CreatedAt, 0).
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLOutboxRepository) GetPendingEntries(ctx context.Context, limit int) ([]OutboxEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []OutboxEntry
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		return sqlbuilder.New(q).Select(entryColumns...).From("event_outbox").
			Where("status = ?", OutboxStatusPending).
			Or("(status = ? AND next_retry_at <= ?)", OutboxStatusFailed, r.now()).
			OrderBy("id ASC").
			Limit(limit).
			Select(ctx, &entries)
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "outbox.pending")
	}
	return entries, nil
}

func (r *SQLOutboxRepository) MarkAsPublished(ctx context.Context, entryID int64) error {
	return r.update(ctx, "outbox.mark_published", entryID, func(b sqlbuilder.IUpdateBuilder) sqlbuilder.IUpdateBuilder {
		return b.Set("status", OutboxStatusPublished).
			Set("published_at", r.now()).
			Set("last_error", nil).
			Set("next_retry_at", nil)
	})
}

func (r *SQLOutboxRepository) MarkAsFailed(ctx context.Context, entryID int64, errorMsg string, nextRetryAt time.Time) error {
	return r.update(ctx, "outbox.mark_failed", entryID, func(b sqlbuilder.IUpdateBuilder) sqlbuilder.IUpdateBuilder {
		return b.Set("status", OutboxStatusFailed).
			SetExpr("retry_count = retry_count + 1").
			Set("last_error", errorMsg).
			Set("next_retry_at", nextRetryAt.UTC())
	})
}

func (r *SQLOutboxRepository) MarkAsDead(ctx context.Context, entryID int64, errorMsg string) error {
	return r.update(ctx, "outbox.mark_dead", entryID, func(b sqlbuilder.IUpdateBuilder) sqlbuilder.IUpdateBuilder {
		return b.Set("status", OutboxStatusDead).
			SetExpr("retry_count = retry_count + 1").
			Set("last_error", errorMsg).
			Set("next_retry_at", nil)
	})
}

func (r *SQLOutboxRepository) Requeue(ctx context.Context, entryID int64) error {
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		res, err := sqlbuilder.New(tx).Update("event_outbox").
			Set("status", OutboxStatusPending).
			Set("retry_count", 0).
			Set("next_retry_at", nil).
			Where("id = ?", entryID).
			Where("status = ?", OutboxStatusDead).
			Exec(ctx)
		if err != nil {
			return err
		}
		return requireAffected(res, entryID)
	})
	return errors.WrapStorageError(ctx, err, "outbox.requeue")
}

func (r *SQLOutboxRepository) DeletePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	var deleted int64
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		res, err := sqlbuilder.New(tx).DeleteFrom("event_outbox").
			Where("status = ?", OutboxStatusPublished).
			Where("published_at < ?", olderThan.UTC()).
			Exec(ctx)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, errors.WrapStorageError(ctx, err, "outbox.delete_published")
	}
	return deleted, nil
}

func (r *SQLOutboxRepository) Statistics(ctx context.Context) (*Statistics, error) {
	var stats Statistics
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		return q.Get(ctx, &stats, `
			SELECT
				COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0)   AS pending,
				COALESCE(SUM(CASE WHEN status = 'published' THEN 1 ELSE 0 END), 0) AS published,
				COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)    AS failed,
				COALESCE(SUM(CASE WHEN status = 'dead' THEN 1 ELSE 0 END), 0)      AS dead
			FROM event_outbox`)
	})
	if err != nil {
		return nil, errors.WrapStorageError(ctx, err, "outbox.statistics")
	}
	return &stats, nil
}

// Get 按 ID 读取记录
func (r *SQLOutboxRepository) Get(ctx context.Context, entryID int64) (*OutboxEntry, error) {
	var entry OutboxEntry
	err := r.store.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		return sqlbuilder.New(q).Select(entryColumns...).From("event_outbox").
			Where("id = ?", entryID).
			Get(ctx, &entry)
	})
	if err != nil {
		if errors.IsNotFound(errors.Normalize(err)) {
			return nil, errors.NewNotFoundError("outbox entry", entryID)
		}
		return nil, errors.WrapStorageError(ctx, err, "outbox.get")
	}
	return &entry, nil
}

func (r *SQLOutboxRepository) update(ctx context.Context, op string, entryID int64,
	set func(sqlbuilder.IUpdateBuilder) sqlbuilder.IUpdateBuilder) error {
	err := r.store.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		res, err := set(sqlbuilder.New(tx).Update("event_outbox")).
			Where("id = ?", entryID).
			Exec(ctx)
		if err != nil {
			return err
		}
		return requireAffected(res, entryID)
	})
	return errors.WrapStorageError(ctx, err, op)
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffected, entryID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.NewNotFoundError("outbox entry", entryID)
	}
	return nil
}

var _ IOutboxRepository = (*SQLOutboxRepository)(nil)

// String 便于日志输出
func (s Statistics) String() string {
	return fmt.Sprintf("pending=%d published=%d failed=%d dead=%d", s.Pending, s.Published, s.Failed, s.Dead)
}
