// Package redisstreams 基于 Redis Streams 消费组的厨房事件传输
package redisstreams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"restaurant/logging"
	"restaurant/messaging"
)

// client captures the subset of go-redis commands we rely on (for easier testing).
type client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	Close() error
}

// Config describes how the Redis Streams transport should connect/behave.
type Config struct {
	Client       redis.UniversalClient
	Addr         string
	Username     string
	Password     string
	DB           int
	StreamPrefix string
	GroupName    string
	ConsumerName string
	BlockTimeout time.Duration
	ReadCount    int64
	// MaxLen 为每个 stream 设置近似长度上限，0 表示不裁剪
	MaxLen int64
	Logger logging.Logger

	// 并发与背压配置
	MaxPublishConcurrency int
	MinReadBackoff        time.Duration
	MaxReadBackoff        time.Duration
}

func (c *Config) applyDefaults() {
	if c.StreamPrefix == "" {
		c.StreamPrefix = "kitchen:"
	}
	if c.GroupName == "" {
		c.GroupName = "kitchen"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "consumer-" + uuid.NewString()
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ReadCount <= 0 {
		c.ReadCount = 10
	}
	if c.MinReadBackoff <= 0 {
		c.MinReadBackoff = 100 * time.Millisecond
	}
	if c.MaxReadBackoff <= 0 {
		c.MaxReadBackoff = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.ComponentLogger("transport.redisstreams")
	}
}

// Transport is a messaging.Transport backed by Redis Streams consumer groups.
//
// 每种消息类型一个 stream；处理成功才 XACK，失败的条目留在 pending 列表中。
type Transport struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger

	handlers *messaging.HandlerRegistry
	readers  map[string]bool

	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pubSem chan struct{}
}

// NewTransport constructs a Redis Streams transport.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Client != nil {
		return newWithClient(cfg, cfg.Client, false), nil
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis address not configured")
	}
	rc := redis.NewClient(&redis.Options{Addr: cfg.Addr, Username: cfg.Username, Password: cfg.Password, DB: cfg.DB})
	return newWithClient(cfg, rc, true), nil
}

func newWithClient(cfg Config, cl client, own bool) *Transport {
	cfg.applyDefaults()
	t := &Transport{
		cfg:       cfg,
		client:    cl,
		ownClient: own,
		logger:    cfg.Logger,
		handlers:  messaging.NewHandlerRegistry(),
		readers:   make(map[string]bool),
	}
	if cfg.MaxPublishConcurrency > 0 {
		t.pubSem = make(chan struct{}, cfg.MaxPublishConcurrency)
	}
	return t
}

// Publish writes a single message into the stream of its type.
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	if t.pubSem != nil {
		select {
		case t.pubSem <- struct{}{}:
			defer func() { <-t.pubSem }()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	values, err := encodeMessage(message)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{Stream: t.streamName(message.GetType()), Values: values}
	if t.cfg.MaxLen > 0 {
		args.MaxLen = t.cfg.MaxLen
		args.Approx = true
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// PublishAll writes messages sequentially. Redis Streams does not support multi append.
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler; streams are per concrete type, the wildcard is not supported.
func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	if messageType == messaging.Wildcard {
		return errors.New("redis streams transport requires concrete message types")
	}
	if _, err := t.handlers.Add(messageType, handler); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.startReaderLocked(messageType)
	}
	return nil
}

// Unsubscribe removes the handler for a message type.
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	_, err := t.handlers.Remove(messageType, handler)
	return err
}

// Start begins background consumers per message type.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("redis streams transport already running")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	for _, mt := range t.handlers.Types() {
		t.startReaderLocked(mt)
	}
	t.running = true
	return nil
}

// Close stops consumers and closes the redis client when owned.
func (t *Transport) Close() error {
	t.mu.Lock()
	running := t.running
	t.running = false
	cancel := t.cancel
	t.mu.Unlock()

	if running && cancel != nil {
		cancel()
		t.wg.Wait()
	}
	if t.ownClient {
		return t.client.Close()
	}
	return nil
}

// Stats returns basic handler/stream information.
func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return messaging.RegistryStats(t.running, t.handlers)
}

func (t *Transport) startReaderLocked(messageType string) {
	if t.readers[messageType] {
		return
	}
	t.readers[messageType] = true
	t.wg.Add(1)
	go t.readLoop(t.ctx, messageType)
}

func (t *Transport) readLoop(ctx context.Context, messageType string) {
	defer t.wg.Done()
	stream := t.streamName(messageType)
	if err := t.ensureGroup(ctx, stream); err != nil {
		t.logger.Warn(ctx, "ensure group failed", logging.String("stream", stream), logging.Error(err))
	}
	args := &redis.XReadGroupArgs{
		Group:    t.cfg.GroupName,
		Consumer: t.cfg.ConsumerName,
		Streams:  []string{stream, ">"},
		Count:    t.cfg.ReadCount,
		Block:    t.cfg.BlockTimeout,
	}
	backoff := t.cfg.MinReadBackoff
	for ctx.Err() == nil {
		res, err := t.client.XReadGroup(ctx, args).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn(ctx, "xreadgroup failed", logging.Duration("backoff", backoff), logging.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, t.cfg.MaxReadBackoff)
			continue
		}
		backoff = t.cfg.MinReadBackoff
		for _, streamRes := range res {
			for _, entry := range streamRes.Messages {
				t.handleEntry(ctx, streamRes.Stream, messageType, entry)
			}
		}
	}
}

func (t *Transport) handleEntry(ctx context.Context, stream, messageType string, entry redis.XMessage) {
	msg, err := decodeMessage(entry, messageType)
	if err != nil {
		// 无法解码的条目直接确认，避免反复投递
		t.logger.Warn(ctx, "decode redis stream entry failed", logging.String("entry", entry.ID), logging.Error(err))
		_ = t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err()
		return
	}

	failed := false
	for _, h := range t.handlers.Exact(messageType) {
		if err := h.Handle(ctx, msg); err != nil {
			failed = true
			t.logger.Warn(ctx, "message handler failed",
				logging.String("handler", h.Type()),
				logging.String("message_id", msg.GetID()),
				logging.Error(err))
		}
	}
	if failed {
		return
	}
	if err := t.client.XAck(ctx, stream, t.cfg.GroupName, entry.ID).Err(); err != nil {
		t.logger.Warn(ctx, "xack failed", logging.Error(err))
	}
}

func (t *Transport) ensureGroup(ctx context.Context, stream string) error {
	err := t.client.XGroupCreateMkStream(ctx, stream, t.cfg.GroupName, "0").Err()
	if err == nil || strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP") {
		return nil
	}
	return err
}

func (t *Transport) streamName(messageType string) string {
	return t.cfg.StreamPrefix + messageType
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func encodeMessage(msg messaging.IMessage) (map[string]any, error) {
	data, err := messaging.Encode(msg)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":     msg.GetType(),
		"envelope": string(data),
	}, nil
}

func decodeMessage(entry redis.XMessage, fallbackType string) (*messaging.Message, error) {
	raw, _ := entry.Values["envelope"].(string)
	if raw == "" {
		return nil, fmt.Errorf("entry %s has no envelope", entry.ID)
	}
	msg, err := messaging.Decode([]byte(raw), fallbackType)
	if err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = entry.ID
	}
	return msg, nil
}
