package repo

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	core "restaurant/data/db"
	"restaurant/data/db/serialized"
	"restaurant/data/schema"
	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/eventing/outbox"
	"restaurant/logging"
)

type fixture struct {
	store  *serialized.Manager
	repos  *Repositories
	outbox *outbox.SQLOutboxRepository
	// failCommit 置位时下一次写事务在提交前失败
	failCommit atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}

	cfg := serialized.DefaultConfig(filepath.Join(t.TempDir(), "restaurant.db"))
	cfg.Logger = logging.NewNoopLogger()
	cfg.BeforeCommit = func(ctx context.Context, tx core.ITransaction) error {
		if f.failCommit.CompareAndSwap(true, false) {
			return errors.NewError(errors.ErrCodeFatalStorage, "injected failure")
		}
		return nil
	}
	m, err := serialized.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, schema.Ensure(context.Background(), m, schema.WithLogger(logging.NewNoopLogger())))

	f.store = m
	f.outbox = outbox.NewSQLOutboxRepository(m)
	f.repos = New(m, WithEvents(f.outbox), WithLogger(logging.NewNoopLogger()))
	return f
}

func (f *fixture) menuItem(t *testing.T, name, price string, prep int) *restaurant.MenuItem {
	t.Helper()
	item, err := f.repos.Menu.Create(context.Background(), restaurant.MenuItemInput{
		Name:        name,
		Price:       decimal.RequireFromString(price),
		PrepMinutes: prep,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) table(t *testing.T, code string) *restaurant.Table {
	t.Helper()
	tbl, err := f.repos.Tables.Create(context.Background(), restaurant.TableInput{Code: code, Capacity: 4})
	require.NoError(t, err)
	return tbl
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.Read(context.Background(), func(ctx context.Context, q core.IDatabase) error {
		return q.Get(ctx, &n, query, args...)
	}))
	return n
}

// countingStore 记录调用次数，用于验证校验失败时不访问数据库
type countingStore struct {
	calls atomic.Int32
}

func (s *countingStore) Read(ctx context.Context, fn serialized.ReadFunc) error {
	s.calls.Add(1)
	return errors.NewError(errors.ErrCodeFatalStorage, "unexpected read")
}

func (s *countingStore) Write(ctx context.Context, fn serialized.WriteFunc) error {
	s.calls.Add(1)
	return errors.NewError(errors.ErrCodeFatalStorage, "unexpected write")
}

func (s *countingStore) Close() error { return nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

