// Package dispatcher 将传输无关的请求路由到仓储，并把结果映射为状态码与响应体
//
// 每个请求经历 received → validated → executing → completed/failed。
// 存储暂时不可用时按配置退避重试；校验、不存在与冲突错误从不重试。
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"restaurant/cache"
	"restaurant/data/repo"
	"restaurant/errors"
	httpx "restaurant/http"
	"restaurant/http/basic"
	"restaurant/logging"
	"restaurant/patterns/keylock"
	"restaurant/patterns/retry"
)

// Config 调度器配置
type Config struct {
	// Retry 存储暂时不可用时的重试策略；Retryable 固定为 errors.IsTransient
	Retry retry.Config

	// SerializeByTable 为 true 时同一餐桌的订单写操作按到达顺序串行执行
	SerializeByTable bool

	// IdempotencyTTL / IdempotencySize 幂等响应缓存的存活时间与容量
	IdempotencyTTL  time.Duration
	IdempotencySize int

	Logger       logging.Logger
	Metrics      *Metrics
	CacheMetrics *cache.Metrics
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Retry: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffFactor: 2,
			MaxDelay:      200 * time.Millisecond,
		},
		IdempotencyTTL:  10 * time.Minute,
		IdempotencySize: 10000,
	}
}

// Dispatcher 请求调度器
type Dispatcher struct {
	repos   *repo.Repositories
	cfg     Config
	log     logging.Logger
	metrics *Metrics

	tables *keylock.Locker
	keys   *keylock.Locker
	replay *cache.Cache[string, Response]
}

// New 创建调度器
func New(repos *repo.Repositories, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = def.IdempotencyTTL
	}
	if cfg.IdempotencySize <= 0 {
		cfg.IdempotencySize = def.IdempotencySize
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("app.dispatcher")
	}
	cfg.Retry.Retryable = errors.IsTransient

	return &Dispatcher{
		repos:   repos,
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		tables:  keylock.New(),
		keys:    keylock.New(),
		replay: cache.New[string, Response](cache.Config{
			Name:    "idempotency",
			MaxSize: cfg.IdempotencySize,
			TTL:     cfg.IdempotencyTTL,
			Metrics: cfg.CacheMetrics,
		}),
	}
}

// Dispatch 处理一个请求；失败体现在响应的状态码与错误体上
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	d.trace(ctx, req, phaseReceived)

	h, err := d.prepare(req)
	if err != nil {
		return d.fail(ctx, req, err, start)
	}
	d.trace(ctx, req, phaseValidated)

	if req.IdempotencyKey == "" || !req.Operation.IsWrite() {
		return d.execute(ctx, req, h, start)
	}

	// 同一幂等键的请求串行执行：后到的请求等待前一个完成后直接重放
	key := idempotencyKey(req)
	unlock, err := d.keys.Lock(ctx, key)
	if err != nil {
		return d.fail(ctx, req, err, start)
	}
	defer unlock()

	if cached, ok := d.replay.Get(key); ok {
		cached.Replayed = true
		d.metrics.observe(req, "replayed", time.Since(start))
		d.log.Debug(ctx, "idempotent replay",
			logging.String("request", req.String()),
			logging.String("idempotency_key", req.IdempotencyKey))
		return cached
	}

	resp := d.execute(ctx, req, h, start)
	if resp.StatusCode < http.StatusMultipleChoices {
		d.replay.Set(key, resp)
	}
	return resp
}

func (d *Dispatcher) execute(ctx context.Context, req Request, h handler, start time.Time) Response {
	d.trace(ctx, req, phaseExecuting)
	var (
		status int
		data   any
	)
	retryCfg := d.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		d.metrics.retried(req)
		d.log.Warn(ctx, "transient storage error, retrying",
			logging.String("request", req.String()),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
	}
	// 查找餐桌与加锁也在重试范围内；退避等待期间不持有餐桌锁
	err := retry.DoWithInfo(ctx, func(ctx context.Context, attempt int) error {
		if d.cfg.SerializeByTable && h.table != nil {
			unlock, err := d.lockTable(ctx, h)
			if err != nil {
				return err
			}
			defer unlock()
		}
		var err error
		status, data, err = h.run(ctx)
		return err
	}, retryCfg)
	if err != nil {
		return d.fail(ctx, req, err, start)
	}

	d.trace(ctx, req, phaseCompleted, logging.Int("status", status))
	d.metrics.observe(req, "ok", time.Since(start))
	if status == http.StatusNoContent {
		return Response{StatusCode: status}
	}
	return Response{StatusCode: status, Body: httpx.NewSuccessResponse(data)}
}

// lockTable 取得餐桌锁；订单 ID 需要先读出所属餐桌
func (d *Dispatcher) lockTable(ctx context.Context, h handler) (func(), error) {
	tableID, err := h.table(ctx)
	if err != nil {
		return nil, err
	}
	return d.tables.Lock(ctx, fmt.Sprintf("table:%d", tableID))
}

func (d *Dispatcher) fail(ctx context.Context, req Request, err error, start time.Time) Response {
	status := basic.StatusCode(err)
	code := errors.GetErrorCode(errors.Normalize(err))

	d.trace(ctx, req, phaseFailed, logging.Int("status", status), logging.Error(err))
	if status == http.StatusInternalServerError {
		d.log.Error(ctx, "request failed",
			logging.String("request", req.String()),
			logging.Int64("id", req.PathID),
			logging.String("code", string(code)),
			logging.Error(err))
	}
	d.metrics.observe(req, outcome(code), time.Since(start))
	return Response{StatusCode: status, Body: basic.ErrorPayload(err)}
}

func (d *Dispatcher) trace(ctx context.Context, req Request, p phase, fields ...logging.Field) {
	d.log.Debug(ctx, "dispatch", append([]logging.Field{
		logging.String("phase", string(p)),
		logging.String("operation", string(req.Operation)),
		logging.String("entity", string(req.Entity)),
		logging.Int64("id", req.PathID),
	}, fields...)...)
}

// idempotencyKey 幂等键按操作与目标区分，同一个键用于不同请求时互不影响
func idempotencyKey(req Request) string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", req.IdempotencyKey, req.Operation, req.Entity, req.PathID, req.SubID)
}
