package outbox

import (
	"context"
	"sync"
	"time"

	"restaurant/logging"
	"restaurant/messaging"
)

// Publisher 按批拉取未发布记录并发布到消息总线
//
// 发布失败的记录按指数退避重试，超过 MaxRetries 后标记为 dead。
// 投递语义为至少一次：标记已发布失败时，记录会在下一轮被再次发布。
type Publisher struct {
	repo    IOutboxRepository
	bus     messaging.IMessageBus
	cfg     OutboxConfig
	log     logging.Logger
	metrics *Metrics
	now     func() time.Time

	trigger chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex // 串行化 processOnce
}

// NewPublisher 创建发布器；metrics 可为 nil
func NewPublisher(repo IOutboxRepository, bus messaging.IMessageBus, cfg OutboxConfig, logger logging.Logger, metrics *Metrics) *Publisher {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.ComponentLogger("eventing.outbox.publisher")
	}
	return &Publisher{
		repo:    repo,
		bus:     bus,
		cfg:     cfg,
		log:     logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start 启动后台循环；重复调用无效果
func (p *Publisher) Start(ctx context.Context) error {
	p.startOnce.Do(func() { go p.loop(ctx) })
	return nil
}

// Stop 停止后台循环并等待当前批次结束
func (p *Publisher) Stop() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	// 未启动时直接关闭 doneCh，之后的 Start 不再生效
	p.startOnce.Do(func() { close(p.doneCh) })
	<-p.doneCh
	return nil
}

// Close 实现关闭语义，便于作为资源统一管理
func (p *Publisher) Close() error {
	return p.Stop()
}

// Notify 请求尽快执行一轮发布；不阻塞
func (p *Publisher) Notify() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// PublishPending 立即执行一轮发布
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	return p.processOnce(ctx)
}

func (p *Publisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PublishInterval)
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer func() {
		ticker.Stop()
		cleanup.Stop()
		close(p.doneCh)
	}()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		case <-cleanup.C:
			p.cleanup(ctx)
			continue
		}
		if _, err := p.processOnce(ctx); err != nil {
			p.log.Error(ctx, "outbox publish round failed", logging.Error(err))
		}
	}
}

func (p *Publisher) cleanup(ctx context.Context) {
	deleted, err := p.repo.DeletePublished(ctx, p.now().Add(-p.cfg.RetentionPeriod))
	if err != nil {
		p.log.Warn(ctx, "outbox cleanup failed", logging.Error(err))
		return
	}
	if deleted > 0 {
		p.log.Info(ctx, "outbox cleanup", logging.Int64("deleted", deleted))
	}
}

func (p *Publisher) processOnce(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries, err := p.repo.GetPendingEntries(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		published int
		firstErr  error
	)
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for i := range entries {
		e := &entries[i]
		if err := p.bus.Publish(ctx, e.ToMessage()); err != nil {
			keep(p.fail(ctx, e, err))
			continue
		}
		published++
		p.metrics.observePublished(e.EventType)
		if err := p.repo.MarkAsPublished(ctx, e.ID); err != nil {
			p.log.Error(ctx, "outbox mark published failed", logging.Int64("entry", e.ID), logging.Error(err))
		}
	}
	return published, firstErr
}

// fail 记录一次发布失败；达到上限后标记为 dead
func (p *Publisher) fail(ctx context.Context, e *OutboxEntry, cause error) error {
	fields := []logging.Field{
		logging.Int64("entry", e.ID),
		logging.String("event_type", e.EventType),
		logging.Int("retry_count", e.RetryCount+1),
		logging.Error(cause),
	}

	if e.RetryCount+1 >= p.cfg.MaxRetries {
		p.metrics.observeDead(e.EventType)
		p.log.Error(ctx, "outbox entry exhausted retries", fields...)
		return p.repo.MarkAsDead(ctx, e.ID, cause.Error())
	}

	p.metrics.observeFailed(e.EventType)
	p.log.Warn(ctx, "outbox publish failed", fields...)
	return p.repo.MarkAsFailed(ctx, e.ID, cause.Error(), e.CalculateNextRetryTime(p.cfg.RetryInterval, p.now()))
}
