// Package kitchen 订阅订单事件并输出厨房小票
//
// outbox 保证至少投递一次，订阅者按消息 ID 去重。
package kitchen

import (
	"context"
	"sync/atomic"
	"time"

	"restaurant/cache"
	"restaurant/domain/restaurant"
	"restaurant/errors"
	"restaurant/logging"
	"restaurant/messaging"
)

// Ticket 一张厨房小票
type Ticket struct {
	MessageID     string
	CorrelationID string
	Event         restaurant.OrderEvent
	ReceivedAt    time.Time
}

// Stats 订阅者统计
type Stats struct {
	Tickets    int64 `json:"tickets"`
	Duplicates int64 `json:"duplicates"`
	Rejected   int64 `json:"rejected"`
}

// Option 订阅者选项
type Option func(*Subscriber)

// WithLogger 设置日志
func WithLogger(logger logging.Logger) Option {
	return func(s *Subscriber) { s.log = logger }
}

// WithTicketHook 每张新小票都会回调 fn（测试或额外输出用）
func WithTicketHook(fn func(Ticket)) Option {
	return func(s *Subscriber) { s.hook = fn }
}

// WithDedupWindow 设置去重窗口；size 为记住的消息 ID 数量
func WithDedupWindow(size int, ttl time.Duration, metrics *cache.Metrics) Option {
	return func(s *Subscriber) {
		s.seen = cache.New[string, struct{}](cache.Config{Name: "kitchen_dedup", MaxSize: size, TTL: ttl, Metrics: metrics})
	}
}

// Subscriber 厨房事件订阅者
type Subscriber struct {
	log     logging.Logger
	hook    func(Ticket)
	seen    *cache.Cache[string, struct{}]
	handler messaging.IMessageHandler
	types   []string

	tickets    atomic.Int64
	duplicates atomic.Int64
	rejected   atomic.Int64
}

// NewSubscriber 创建订阅者
func NewSubscriber(opts ...Option) *Subscriber {
	s := &Subscriber{
		log: logging.ComponentLogger("app.kitchen"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.seen == nil {
		s.seen = cache.New[string, struct{}](cache.Config{Name: "kitchen_dedup", MaxSize: 10000, TTL: time.Hour})
	}
	s.handler = messaging.NewHandler("kitchen", s.Handle)
	return s
}

// Subscribe 在总线上订阅全部订单事件类型
func (s *Subscriber) Subscribe(bus messaging.IMessageBus) error {
	for _, t := range restaurant.OrderEventTypes() {
		if err := bus.Subscribe(t, s.handler); err != nil {
			_ = s.Unsubscribe(bus)
			return err
		}
		s.types = append(s.types, t)
	}
	return nil
}

// Unsubscribe 取消已完成的订阅
func (s *Subscriber) Unsubscribe(bus messaging.IMessageBus) error {
	var firstErr error
	for _, t := range s.types {
		if err := bus.Unsubscribe(t, s.handler); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.types = nil
	return firstErr
}

// Handle 处理一条订单事件；无法解码的消息记录后丢弃，不再重投
func (s *Subscriber) Handle(ctx context.Context, message messaging.IMessage) error {
	ctx = messaging.ContextFromMessage(ctx, message)

	if _, dup := s.seen.Get(message.GetID()); dup {
		s.duplicates.Add(1)
		s.log.Debug(ctx, "duplicate kitchen event", logging.String("message_id", message.GetID()))
		return nil
	}

	var ev restaurant.OrderEvent
	if err := messaging.DecodePayload(message, &ev); err != nil {
		s.rejected.Add(1)
		s.log.Warn(ctx, "undecodable kitchen event",
			logging.String("message_id", message.GetID()),
			logging.String("message_type", message.GetType()),
			logging.Error(errors.WrapError(err, errors.ErrCodeInvalidInput, "decode order event")))
		return nil
	}
	if ev.Type == "" {
		ev.Type = message.GetType()
	}
	s.seen.Set(message.GetID(), struct{}{})
	s.tickets.Add(1)

	ticket := Ticket{
		MessageID:     message.GetID(),
		CorrelationID: messaging.CorrelationID(ctx),
		Event:         ev,
		ReceivedAt:    time.Now().UTC(),
	}
	s.log.Info(ctx, "kitchen ticket",
		logging.String("event", ev.Type),
		logging.Int64("order_id", ev.OrderID),
		logging.Int64("table_id", ev.TableID),
		logging.String("status", string(ev.Status)),
		logging.Int("lines", len(ev.Lines)),
		logging.Int("prep_minutes", prepMinutes(ev.Lines)),
		logging.String("correlation_id", ticket.CorrelationID))

	if s.hook != nil {
		s.hook(ticket)
	}
	return nil
}

// Stats 返回统计
func (s *Subscriber) Stats() Stats {
	return Stats{
		Tickets:    s.tickets.Load(),
		Duplicates: s.duplicates.Load(),
		Rejected:   s.rejected.Load(),
	}
}

func prepMinutes(lines []restaurant.TicketLine) int {
	total := 0
	for _, l := range lines {
		total += l.PrepMinutes * l.Quantity
	}
	return total
}
