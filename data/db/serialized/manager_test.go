package serialized

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "restaurant/data/db"
	"restaurant/errors"
	"restaurant/logging"
	"restaurant/patterns/retry"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "serialized.db"))
	cfg.Logger = logging.NewNoopLogger()
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	cfg.Retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 5 * time.Millisecond}
	return cfg
}

func openManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Write(context.Background(), func(ctx context.Context, tx core.ITransaction) error {
		_, err := tx.Exec(context.Background(), `CREATE TABLE IF NOT EXISTS counters (id INTEGER PRIMARY KEY, n INTEGER NOT NULL)`)
		if err != nil {
			return err
		}
		_, err = tx.Exec(context.Background(), `INSERT OR IGNORE INTO counters (id, n) VALUES (1, 0)`)
		return err
	}))
	return m
}

func readCounter(t *testing.T, m *Manager) int {
	t.Helper()
	var n int
	require.NoError(t, m.Read(context.Background(), func(ctx context.Context, q core.IDatabase) error {
		return q.QueryRow(context.Background(), `SELECT n FROM counters WHERE id = 1`).Scan(&n)
	}))
	return n
}

// TestOpen_RejectsMemoryAndBadPath 内存库与不可创建的路径
func TestOpen_RejectsMemoryAndBadPath(t *testing.T) {
	_, err := Open(Config{Path: ":memory:"})
	assert.True(t, errors.IsValidation(err))

	_, err = Open(Config{Path: filepath.Join(t.TempDir(), "missing", "dir", "x.db"), Logger: logging.NewNoopLogger()})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

// TestWrite_Serialized 并发读改写不丢失更新
func TestWrite_Serialized(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
				var n int
				if err := tx.QueryRow(ctx, `SELECT n FROM counters WHERE id = 1`).Scan(&n); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `UPDATE counters SET n = ? WHERE id = 1`, n+1)
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, writers, readCounter(t, m))
}

// TestWrite_FailureRollsBack fn 中途失败不留下部分写入
func TestWrite_FailureRollsBack(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	injected := errors.NewConflictError("injected")
	err := m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		if _, err := tx.Exec(ctx, `UPDATE counters SET n = 100 WHERE id = 1`); err != nil {
			return err
		}
		return injected
	})
	assert.Same(t, injected, err)
	assert.Equal(t, 0, readCounter(t, m))
}

// TestWrite_BeforeCommitInjection 提交前注入存储故障
func TestWrite_BeforeCommitInjection(t *testing.T) {
	cfg := testConfig(t)
	var inject atomic.Bool
	cfg.BeforeCommit = func(ctx context.Context, tx core.ITransaction) error {
		if inject.Load() {
			return stdErrors.New("disk I/O error")
		}
		return nil
	}
	m := openManager(t, cfg)
	ctx := context.Background()

	inject.Store(true)
	err := m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		_, err := tx.Exec(ctx, `UPDATE counters SET n = 7 WHERE id = 1`)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Equal(t, 0, readCounter(t, m))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.operations.WithLabelValues(kindWrite, "fatal")))
}

// TestWrite_PanicRollsBack fn panic 时回滚并继续抛出
func TestWrite_PanicRollsBack(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
			_, _ = tx.Exec(ctx, `UPDATE counters SET n = 9 WHERE id = 1`)
			panic("boom")
		})
	})

	// 槽位已释放，后续写入可以继续
	require.NoError(t, m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		_, err := tx.Exec(ctx, `UPDATE counters SET n = n + 1 WHERE id = 1`)
		return err
	}))
	assert.Equal(t, 1, readCounter(t, m))
}

// TestWrite_CancelBeforeSlot 等待槽位时取消，fn 不会执行
func TestWrite_CancelBeforeSlot(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	called := false
	err := m.Write(waitCtx, func(ctx context.Context, tx core.ITransaction) error {
		called = true
		return nil
	})
	close(release)

	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, errors.ErrCodeTimeout, errors.GetErrorCode(err))
	assert.False(t, errors.IsTransient(err))
}

// TestWrite_CancelAfterSlotStillCommits 取得槽位后取消不影响提交
func TestWrite_CancelAfterSlotStillCommits(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())

	err := m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		cancel()
		_, err := tx.Exec(ctx, `UPDATE counters SET n = 42 WHERE id = 1`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 42, readCounter(t, m))
}

// holdWriteLock 用独立连接持有数据库写锁，返回释放函数
func holdWriteLock(t *testing.T, path string) func() {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	_, err = conn.ExecContext(context.Background(), "BEGIN IMMEDIATE")
	require.NoError(t, err)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
			_ = conn.Close()
			_ = db.Close()
		})
	}
	t.Cleanup(unlock)
	return unlock
}

// TestWrite_BusyExhaustsRetries 锁被外部持有时，重试耗尽返回 TRANSIENT_STORAGE
func TestWrite_BusyExhaustsRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.BusyTimeout = 0
	m := openManager(t, cfg)
	ctx := context.Background()

	holdWriteLock(t, cfg.Path)

	calls := 0
	err := m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		calls++
		_, err := tx.Exec(ctx, `UPDATE counters SET n = n + 1 WHERE id = 1`)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 2.0, testutil.ToFloat64(cfg.Metrics.retries.WithLabelValues(kindWrite)))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.operations.WithLabelValues(kindWrite, "transient")))
	assert.Zero(t, calls, "BEGIN IMMEDIATE fails before fn runs")
}

// TestWrite_BusyThenSucceeds 外部锁释放后重试成功，写入不丢失
func TestWrite_BusyThenSucceeds(t *testing.T) {
	cfg := testConfig(t)
	cfg.BusyTimeout = 0
	cfg.Retry = retry.Config{MaxAttempts: 50, InitialDelay: 2 * time.Millisecond, BackoffFactor: 1.5, MaxDelay: 10 * time.Millisecond}
	m := openManager(t, cfg)
	ctx := context.Background()

	unlock := holdWriteLock(t, cfg.Path)
	time.AfterFunc(30*time.Millisecond, unlock)

	err := m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
		_, err := tx.Exec(ctx, `UPDATE counters SET n = n + 1 WHERE id = 1`)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, readCounter(t, m))
	assert.Greater(t, testutil.ToFloat64(cfg.Metrics.retries.WithLabelValues(kindWrite)), 0.0)
}

// TestRead_ConsistentSnapshot 读事务内看不到并发提交的写入
func TestRead_ConsistentSnapshot(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	var first, second int
	err := m.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		if err := q.QueryRow(ctx, `SELECT n FROM counters WHERE id = 1`).Scan(&first); err != nil {
			return err
		}
		// 读事务进行中，写入仍可提交（WAL）
		if err := m.Write(ctx, func(ctx context.Context, tx core.ITransaction) error {
			_, err := tx.Exec(ctx, `UPDATE counters SET n = n + 5 WHERE id = 1`)
			return err
		}); err != nil {
			return err
		}
		return q.QueryRow(ctx, `SELECT n FROM counters WHERE id = 1`).Scan(&second)
	})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 5, readCounter(t, m))
}

// TestRead_IsReadOnly 读连接拒绝写入
func TestRead_IsReadOnly(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	err := m.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		_, err := q.Exec(ctx, `UPDATE counters SET n = 1 WHERE id = 1`)
		return err
	})
	require.Error(t, err)
	assert.Equal(t, 0, readCounter(t, m))
}

// TestRead_NotFoundPassesThrough sql.ErrNoRows 归一化为 NOT_FOUND
func TestRead_NotFoundPassesThrough(t *testing.T) {
	m := openManager(t, testConfig(t))
	ctx := context.Background()

	err := m.Read(ctx, func(ctx context.Context, q core.IDatabase) error {
		var n int
		return q.Get(ctx, &n, `SELECT n FROM counters WHERE id = 999`)
	})
	assert.True(t, errors.IsNotFound(err))
}

// TestClose_Idempotent 关闭后拒绝新的读写
func TestClose_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	m, err := Open(cfg)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err = m.Write(context.Background(), func(context.Context, core.ITransaction) error { return nil })
	assert.True(t, errors.IsFatal(err))
	err = m.Read(context.Background(), func(context.Context, core.IDatabase) error { return nil })
	assert.True(t, errors.IsFatal(err))
	assert.Error(t, m.Ping(context.Background()))
}

// TestStats 统计信息
func TestStats(t *testing.T) {
	m := openManager(t, testConfig(t))
	s := m.Stats()
	assert.Equal(t, 1, s.Writer.MaxOpenConnections)
	assert.Equal(t, 4, s.Readers.MaxOpenConnections)
	assert.Zero(t, s.WritesWaiting)
	assert.NoError(t, m.Ping(context.Background()))
}
