// Package service 装配餐厅后台服务：存储、仓储、调度器、HTTP 接口、发件箱与厨房订阅者
package service

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"restaurant/app/api"
	"restaurant/app/dispatcher"
	"restaurant/app/kitchen"
	"restaurant/cache"
	"restaurant/codegen/snowflake"
	"restaurant/config"
	"restaurant/data/db/serialized"
	"restaurant/data/repo"
	"restaurant/data/schema"
	"restaurant/errors"
	"restaurant/eventing/outbox"
	"restaurant/http/basic"
	"restaurant/logging"
	"restaurant/messaging"
	"restaurant/messaging/middleware"
	"restaurant/messaging/transport/inline"
	"restaurant/messaging/transport/memory"
	"restaurant/messaging/transport/natsjetstream"
	"restaurant/messaging/transport/rabbitmq"
	"restaurant/messaging/transport/redisstreams"
	"restaurant/server"
)

// Option 服务选项
type Option func(*Service)

// WithConfig 使用给定配置，跳过环境变量加载
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithLogger 覆盖配置生成的日志
func WithLogger(logger logging.Logger) Option {
	return func(s *Service) { s.log = logger }
}

// WithTicketHook 厨房每收到一张新小票回调 fn
func WithTicketHook(fn func(kitchen.Ticket)) Option {
	return func(s *Service) { s.ticketHook = fn }
}

// Service 餐厅后台服务，实现 server.IServer
type Service struct {
	cfg        *config.Config
	log        logging.Logger
	ticketHook func(kitchen.Ticket)

	registry   *prometheus.Registry
	store      *serialized.Manager
	transport  messaging.Transport
	bus        *messaging.MessageBus
	publisher  *outbox.Publisher
	kitchen    *kitchen.Subscriber
	dispatcher *dispatcher.Dispatcher

	mu   sync.Mutex
	http *basic.HTTPService

	// 关闭顺序：HTTP → 发布器 → 传输 → 存储
	closeTransport func() error
	closePublisher func() error
	ran            bool
}

var _ server.IServer = (*Service)(nil)

// New 创建服务
func New(opts ...Option) *Service {
	s := &Service{}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Name() string { return "restaurant" }

// LoadConfig 未注入配置时从环境变量加载
func (s *Service) LoadConfig() error {
	if s.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s.cfg = cfg
	} else if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.log == nil {
		s.log = s.cfg.Logger()
	}
	logging.SetLogger(s.log)
	s.log.Info(context.Background(), "configuration loaded", logging.String("config", s.cfg.String()))
	return nil
}

// SetupDependencies 打开存储并装配全部组件；存储不可用时返回 FATAL_STORAGE
func (s *Service) SetupDependencies(ctx context.Context) error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sc := s.cfg.StorageConfig()
	sc.Logger = s.component("data.serialized")
	sc.Metrics = serialized.NewMetrics(s.registry)
	store, err := serialized.Open(sc)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeFatalStorage, "failed to open storage")
	}
	s.store = store
	if err := schema.Ensure(ctx, store, schema.WithLogger(s.component("data.schema"))); err != nil {
		return err
	}

	transport, err := s.newTransport()
	if err != nil {
		return err
	}
	s.transport = transport
	s.bus = messaging.NewMessageBus(transport)
	s.bus.Use(middleware.NewCorrelationMiddleware())
	s.bus.Use(middleware.NewLoggingMiddleware(s.component("messaging.bus")))

	cacheMetrics := cache.NewMetrics(s.registry)
	box := outbox.NewSQLOutboxRepository(store)
	repos := repo.New(store, repo.WithEvents(box), repo.WithLogger(s.component("data.repo")))

	dc := s.cfg.DispatcherConfig()
	dc.Logger = s.component("app.dispatcher")
	dc.Metrics = dispatcher.NewMetrics(s.registry)
	dc.CacheMetrics = cacheMetrics
	s.dispatcher = dispatcher.New(repos, dc)

	s.publisher = outbox.NewPublisher(box, s.bus, s.cfg.OutboxConfig(),
		s.component("eventing.outbox"), outbox.NewMetrics(s.registry))

	kopts := []kitchen.Option{
		kitchen.WithLogger(s.component("app.kitchen")),
		kitchen.WithDedupWindow(10000, time.Hour, cacheMetrics),
	}
	if s.ticketHook != nil {
		kopts = append(kopts, kitchen.WithTicketHook(s.ticketHook))
	}
	s.kitchen = kitchen.NewSubscriber(kopts...)

	gen, err := snowflake.NewGenerator(s.cfg.NodeID)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeValidation, "invalid node id")
	}
	web := basic.NewHTTPServer(s.cfg.WebConfig())
	web.Use(
		basic.RequestID(gen),
		basic.AccessLog(s.component("http.access")),
		basic.Recovery(s.component("http.recovery")),
	)
	router := api.NewRouter(s.dispatcher, &api.RouteConfig{
		BasePath: "/api/v1",
		Health:   store.Ping,
		Gatherer: s.registry,
	})
	if err := router.Register(web); err != nil {
		return err
	}
	s.mu.Lock()
	s.http = basic.NewHTTPService(web, s.cfg.HTTPAddr, s.cfg.HTTP.ShutdownTimeout)
	s.mu.Unlock()
	return nil
}

func (s *Service) newTransport() (messaging.Transport, error) {
	ev := s.cfg.Events
	switch ev.Transport {
	case config.TransportNATS:
		return natsjetstream.NewTransport(natsjetstream.Config{
			URL:    ev.NATSURL,
			Stream: ev.NATSStream,
			Logger: s.component("transport.nats"),
		}), nil
	case config.TransportRedis:
		t, err := redisstreams.NewTransport(redisstreams.Config{
			Addr:     ev.RedisAddr,
			Password: ev.RedisPassword,
			DB:       ev.RedisDB,
			Logger:   s.component("transport.redis"),
		})
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeValidation, "invalid redis transport configuration")
		}
		return t, nil
	case config.TransportRabbit:
		return rabbitmq.NewTransport(rabbitmq.Config{
			URL:      ev.AMQPURL,
			Exchange: ev.AMQPExchange,
			Logger:   s.component("transport.rabbitmq"),
		}), nil
	case config.TransportInline:
		return inline.NewTransport().WithLogger(s.component("transport.inline")), nil
	default:
		return memory.NewMemoryTransport(ev.MemoryQueueSize, ev.MemoryWorkers).
			WithLogger(s.component("transport.memory")), nil
	}
}

// StartBackgroundTasks 订阅厨房事件，启动传输与发件箱发布器
func (s *Service) StartBackgroundTasks(ctx context.Context) error {
	if err := s.kitchen.Subscribe(s.bus); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "failed to subscribe kitchen")
	}
	if err := s.transport.Start(ctx); err != nil {
		return errors.WrapError(err, errors.ErrCodeQueue, "failed to start event transport")
	}
	s.closeTransport = onceCloser(s.transport.Close)

	if err := s.publisher.Start(ctx); err != nil {
		return err
	}
	s.closePublisher = onceCloser(s.publisher.Close)
	return nil
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消
func (s *Service) Run(ctx context.Context) error {
	s.ran = true
	m := basic.NewManager().
		WithLogger(s.component("server.manager")).
		WithShutdownTimeout(s.cfg.HTTP.ShutdownTimeout).
		WithServers(
			basic.NewServer("transport", nil, s.closeTransport),
			basic.NewServer("outbox", nil, s.closePublisher),
			s.http,
		)
	return m.Run(ctx)
}

// Shutdown 释放 Run 未接管的资源并关闭存储
func (s *Service) Shutdown(ctx context.Context) error {
	if !s.ran {
		if s.closePublisher != nil {
			_ = s.closePublisher()
		}
		if s.closeTransport != nil {
			_ = s.closeTransport()
		}
	}
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}

// Addr HTTP 实际监听地址；Run 之前为 nil
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	return s.http.Addr()
}

// Kitchen 厨房订阅者（统计用）
func (s *Service) Kitchen() *kitchen.Subscriber { return s.kitchen }

func (s *Service) component(name string) logging.Logger {
	return s.log.WithFields(logging.Component(name))
}

func onceCloser(fn func() error) func() error {
	var (
		once sync.Once
		err  error
	)
	return func() error {
		once.Do(func() { err = fn() })
		return err
	}
}
