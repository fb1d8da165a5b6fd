// Package serialized 提供面向单写者嵌入式数据库（SQLite）的连接管理器。
//
// 策略：
//   - 一个写连接（MaxOpenConns=1）+ 一个写槽位，所有写事务串行执行；
//   - 一个只读连接池，每次 Read 在一个事务内执行，看到同一份已提交快照；
//   - 锁竞争（SQLITE_BUSY/LOCKED）按 retry.Config 有界重试，耗尽后返回 TRANSIENT_STORAGE；
//   - 取得写槽位之后，事务在 context.WithoutCancel 上运行，只会提交或回滚。
package serialized

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	core "restaurant/data/db"
	"restaurant/data/db/basic"
	"restaurant/data/db/dialect"
	"restaurant/errors"
	"restaurant/logging"
	"restaurant/patterns/retry"
)

// ISerializedWriter 串行写 / 并发读的数据库访问能力
type ISerializedWriter interface {
	// Read 在只读事务中执行 fn；fn 内的多条查询看到同一快照
	Read(ctx context.Context, fn ReadFunc) error

	// Write 在独占写事务中执行 fn；fn 返回错误则回滚。
	// 锁竞争时 fn 可能被重新执行，fn 不应有数据库之外的副作用。
	Write(ctx context.Context, fn WriteFunc) error

	Close() error
}

// ReadFunc 只读事务回调
type ReadFunc func(ctx context.Context, q core.IDatabase) error

// WriteFunc 写事务回调；ctx 不随调用方取消，事务总是提交或回滚
type WriteFunc func(ctx context.Context, tx core.ITransaction) error

// Config 连接管理器配置
type Config struct {
	Path         string        // 数据库文件路径（不支持 :memory:，读写池需要共享同一文件）
	ReadPoolSize int           // 只读连接数
	BusyTimeout  time.Duration // 驱动层 busy_timeout，超时后返回 SQLITE_BUSY 交给重试策略
	Synchronous  string        // PRAGMA synchronous，默认 NORMAL
	Retry        retry.Config  // 锁竞争重试策略

	// BeforeCommit 在 fn 成功之后、提交之前调用；返回错误将回滚事务（用于故障注入）
	BeforeCommit func(ctx context.Context, tx core.ITransaction) error

	Logger  logging.Logger
	Metrics *Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		ReadPoolSize: 4,
		BusyTimeout:  50 * time.Millisecond,
		Synchronous:  "NORMAL",
		Retry: retry.Config{
			MaxAttempts:   5,
			InitialDelay:  5 * time.Millisecond,
			BackoffFactor: 2.0,
			MaxDelay:      200 * time.Millisecond,
		},
	}
}

// Stats 连接管理器运行状态
type Stats struct {
	Writer        sql.DBStats
	Readers       sql.DBStats
	WritesWaiting int64
}

// Manager ISerializedWriter 的 SQLite 实现
type Manager struct {
	cfg     Config
	writer  *basic.DB
	readers *basic.DB
	logger  logging.Logger
	metrics *Metrics

	slot    chan struct{}
	done    chan struct{}
	waiting atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var _ ISerializedWriter = (*Manager)(nil)

// Open 打开数据库文件并建立写连接与只读连接池
//
// 文件不可创建/不可写/不是数据库时返回 FATAL_STORAGE。
func Open(cfg Config) (*Manager, error) {
	if strings.TrimSpace(cfg.Path) == "" || strings.Contains(cfg.Path, ":memory:") {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "serialized: a database file path is required")
	}
	if cfg.ReadPoolSize <= 0 {
		cfg.ReadPoolSize = 1
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig(cfg.Path).Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ComponentLogger("storage")
	}

	writer, err := basic.New(core.DBConfig{
		DSN:          writerDSN(cfg),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		return nil, openError(err, cfg.Path)
	}

	readers, err := basic.New(core.DBConfig{
		DSN:          readerDSN(cfg),
		MaxOpenConns: cfg.ReadPoolSize,
		MaxIdleConns: cfg.ReadPoolSize,
	})
	if err != nil {
		_ = writer.Close()
		return nil, openError(err, cfg.Path)
	}

	logger.Info(context.Background(), "storage opened",
		logging.String("path", cfg.Path),
		logging.Int("read_pool", cfg.ReadPoolSize),
		logging.Duration("busy_timeout", cfg.BusyTimeout))

	return &Manager{
		cfg:     cfg,
		writer:  writer,
		readers: readers,
		logger:  logger,
		metrics: cfg.Metrics,
		slot:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}, nil
}

func openError(err error, path string) error {
	return errors.WrapError(err, errors.ErrCodeFatalStorage, "cannot open database").
		WithContext("path", path).
		WithContext("class", dialect.Classify(err).String())
}

func pragmaDSN(path string, pragmas []string, extra url.Values) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return path + "?" + q.Encode()
}

func writerDSN(cfg Config) string {
	return pragmaDSN(cfg.Path, []string{
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		"journal_mode(WAL)",
		"foreign_keys(1)",
		"synchronous(" + cfg.Synchronous + ")",
	}, url.Values{
		"_txlock":      {"immediate"},
		"_time_format": {"sqlite"},
	})
}

func readerDSN(cfg Config) string {
	return pragmaDSN(cfg.Path, []string{
		fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()),
		"foreign_keys(1)",
		"query_only(1)",
	}, url.Values{
		"_time_format": {"sqlite"},
	})
}

// Write 在独占写事务中执行 fn
func (m *Manager) Write(ctx context.Context, fn WriteFunc) error {
	if m.closed.Load() {
		return errors.NewError(errors.ErrCodeFatalStorage, "storage is closed")
	}

	cfg := m.retryConfig(kindWrite)
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		if err := m.acquire(ctx); err != nil {
			return err
		}
		defer m.release()
		return m.writeOnce(context.WithoutCancel(ctx), fn)
	}, cfg)
	err = errors.Normalize(err)

	m.record(ctx, kindWrite, err)
	return err
}

// Read 在只读事务中执行 fn
func (m *Manager) Read(ctx context.Context, fn ReadFunc) error {
	if m.closed.Load() {
		return errors.NewError(errors.ErrCodeFatalStorage, "storage is closed")
	}

	cfg := m.retryConfig(kindRead)
	err := retry.Do(ctx, func(ctx context.Context) error {
		return m.readOnce(ctx, fn)
	}, cfg)
	err = errors.Normalize(err)

	m.record(ctx, kindRead, err)
	return err
}

func (m *Manager) retryConfig(kind string) retry.Config {
	cfg := m.cfg.Retry
	cfg.Retryable = errors.IsTransient
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		m.metrics.observeRetry(kind)
		m.logger.Debug(context.Background(), "storage busy, retrying",
			logging.String("kind", kind),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
	}
	return cfg
}

// acquire 获取写槽位；在获取之前取消 ctx 会直接返回，不占用槽位
func (m *Manager) acquire(ctx context.Context) error {
	start := time.Now()
	m.waiting.Add(1)
	defer m.waiting.Add(-1)

	select {
	case m.slot <- struct{}{}:
		m.metrics.observeWait(time.Since(start))
		return nil
	case <-ctx.Done():
		return errors.Normalize(ctx.Err())
	case <-m.done:
		return errors.NewError(errors.ErrCodeFatalStorage, "storage is closed")
	}
}

func (m *Manager) release() {
	<-m.slot
}

func (m *Manager) writeOnce(ctx context.Context, fn WriteFunc) (err error) {
	tx, err := m.writer.BeginTx(ctx, nil)
	if err != nil {
		return dialect.ToAppError(err, "begin write")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return dialect.ToAppError(err, "write")
	}

	if m.cfg.BeforeCommit != nil {
		if err := m.cfg.BeforeCommit(ctx, tx); err != nil {
			_ = tx.Rollback()
			return dialect.ToAppError(err, "before commit")
		}
	}

	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return dialect.ToAppError(err, "commit")
	}
	return nil
}

func (m *Manager) readOnce(ctx context.Context, fn ReadFunc) error {
	tx, err := m.readers.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return dialect.ToAppError(err, "begin read")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, tx); err != nil {
		return dialect.ToAppError(err, "read")
	}
	return nil
}

func (m *Manager) record(ctx context.Context, kind string, err error) {
	switch {
	case err == nil:
		m.metrics.observeOutcome(kind, "ok")
	case errors.IsTransient(err):
		m.metrics.observeOutcome(kind, "transient")
		m.logger.Warn(ctx, "storage busy after retries", logging.String("kind", kind), logging.Error(err))
	case errors.IsFatal(err):
		m.metrics.observeOutcome(kind, "fatal")
		m.logger.Error(ctx, "storage failure", logging.String("kind", kind), logging.Error(err))
	default:
		m.metrics.observeOutcome(kind, strings.ToLower(string(errors.GetErrorCode(err))))
	}
}

// Stats 返回连接池状态（健康检查用）
func (m *Manager) Stats() Stats {
	return Stats{
		Writer:        m.writer.Stats(),
		Readers:       m.readers.Stats(),
		WritesWaiting: m.waiting.Load(),
	}
}

// Ping 检查读写连接是否可用
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return errors.NewError(errors.ErrCodeFatalStorage, "storage is closed")
	}
	if err := m.readers.Ping(ctx); err != nil {
		return dialect.ToAppError(err, "ping")
	}
	return nil
}

// Close 等待进行中的写事务结束后关闭所有连接；可重复调用
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.slot <- struct{}{}
		close(m.done)

		rerr := m.readers.Close()
		werr := m.writer.Close()
		if werr != nil {
			m.closeErr = werr
		} else {
			m.closeErr = rerr
		}
		m.logger.Info(context.Background(), "storage closed", logging.String("path", m.cfg.Path))
	})
	return m.closeErr
}
