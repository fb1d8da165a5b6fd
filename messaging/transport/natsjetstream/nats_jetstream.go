// Package natsjetstream 基于 NATS JetStream 的厨房事件传输
package natsjetstream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"restaurant/logging"
	"restaurant/messaging"
)

// Config configures the JetStream transport.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int
	Logger        logging.Logger
	Conn          *nats.Conn

	// MaxAge 事件在流中的保留时长
	MaxAge time.Duration
	// DedupWindow 按 Nats-Msg-Id 去重的时间窗口，覆盖 outbox 的重投间隔
	DedupWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "RESTAURANT"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "kitchen."
	}
	if c.DurablePrefix == "" {
		c.DurablePrefix = "kitchen-"
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 1024
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 10 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = logging.ComponentLogger("transport.nats")
	}
}

// Transport implements messaging.Transport on top of NATS JetStream.
//
// 每种消息类型对应一个主题和一个持久化队列消费者；处理器返回错误时 Nak，消息会重投。
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       nats.JetStreamContext
	ownsConn bool

	handlers *messaging.HandlerRegistry
	subs     map[string]*nats.Subscription

	mu      sync.RWMutex
	running bool
}

// NewTransport builds a JetStream transport.
func NewTransport(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: messaging.NewHandlerRegistry(),
		subs:     make(map[string]*nats.Subscription),
	}
}

func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js := t.js
	running := t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return errors.New("nats transport not running")
	}

	data, err := messaging.Encode(message)
	if err != nil {
		return err
	}
	// Nats-Msg-Id 让 JetStream 在去重窗口内丢弃重复发布
	_, err = js.Publish(t.subjectName(message.GetType()), data,
		nats.Context(ctx), nats.MsgId(message.GetID()))
	if err != nil {
		return fmt.Errorf("jetstream publish %s: %w", message.GetType(), err)
	}
	return nil
}

func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	if _, err := t.handlers.Add(messageType, handler); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return t.subscribeLocked(messageType)
	}
	return nil
}

func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	empty, err := t.handlers.Remove(messageType, handler)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[messageType]; ok {
		_ = sub.Drain()
		delete(t.subs, messageType)
	}
	return nil
}

func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("nats transport already running")
	}
	if err := t.ensureConnection(); err != nil {
		return err
	}
	if err := t.ensureStream(); err != nil {
		return err
	}
	for _, mt := range t.handlers.Types() {
		if err := t.subscribeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	t.logger.Info(ctx, "nats transport started",
		logging.String("stream", t.cfg.Stream),
		logging.String("subjects", t.cfg.SubjectPrefix+">"))
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	for mt, sub := range t.subs {
		_ = sub.Drain()
		delete(t.subs, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn = nil
	t.js = nil
	return nil
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return messaging.RegistryStats(t.running, t.handlers)
}

func (t *Transport) ensureConnection() error {
	if t.conn != nil && t.js != nil {
		return nil
	}
	if t.cfg.Conn != nil {
		t.conn = t.cfg.Conn
	} else {
		if t.cfg.URL == "" {
			t.cfg.URL = nats.DefaultURL
		}
		conn, err := nats.Connect(t.cfg.URL, nats.Name("restaurant"))
		if err != nil {
			return fmt.Errorf("connect nats %s: %w", t.cfg.URL, err)
		}
		t.conn = conn
		t.ownsConn = true
	}
	js, err := t.conn.JetStream()
	if err != nil {
		return err
	}
	t.js = js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(err.Error(), "stream not found") {
		return err
	}
	_, err = t.js.AddStream(t.streamConfig())
	return err
}

// streamConfig 使用 interest 保留策略：通配符消费者与按类型的消费者会重叠，
// workqueue 流不允许这种重叠
func (t *Transport) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:       t.cfg.Stream,
		Subjects:   []string{t.cfg.SubjectPrefix + ">"},
		Retention:  nats.InterestPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     t.cfg.MaxAge,
		Duplicates: t.cfg.DedupWindow,
	}
}

func (t *Transport) subscribeLocked(messageType string) error {
	if _, exists := t.subs[messageType]; exists {
		return nil
	}
	subject := t.subjectName(messageType)
	durable := t.durableName(messageType)
	sub, err := t.js.QueueSubscribe(subject, durable, t.handleMessage(messageType),
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.subs[messageType] = sub
	return nil
}

func (t *Transport) handleMessage(messageType string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ctx := context.Background()
		switch err := t.process(ctx, msg.Data, messageType); {
		case errors.Is(err, errUndecodable):
			// 无法解码的消息重投也无意义
			t.logger.Warn(ctx, "drop undecodable nats message", logging.Error(err))
			_ = msg.Term()
		case err != nil:
			_ = msg.Nak()
		default:
			if ackErr := msg.Ack(); ackErr != nil {
				t.logger.Warn(ctx, "nats ack failed", logging.Error(ackErr))
			}
		}
	}
}

var errUndecodable = errors.New("undecodable message")

// process 解码并分发；返回第一个处理器错误
func (t *Transport) process(ctx context.Context, data []byte, messageType string) error {
	decoded, err := messaging.Decode(data, messageType)
	if err != nil {
		return fmt.Errorf("%w: %v", errUndecodable, err)
	}
	var firstErr error
	// 通配符有自己的消费者，这里只投给该主题对应类型的处理器
	for _, h := range t.handlers.Exact(messageType) {
		if err := h.Handle(ctx, decoded); err != nil {
			t.logger.Warn(ctx, "message handler failed",
				logging.String("handler", h.Type()),
				logging.String("message_id", decoded.GetID()),
				logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Transport) subjectName(messageType string) string {
	if messageType == messaging.Wildcard {
		return t.cfg.SubjectPrefix + ">"
	}
	return t.cfg.SubjectPrefix + messageType
}

// durableName 持久化消费者名不能包含 '.' 与 '*'
func (t *Transport) durableName(messageType string) string {
	name := strings.NewReplacer(".", "_", "*", "all", ">", "all").Replace(messageType)
	return t.cfg.DurablePrefix + name
}
