package basic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant/logging"
)

// Server 由 Manager 管理的组件；Start 完成启动后立即返回，后台运行直到 Close
type Server interface {
	Start(ctx context.Context) error
	Close() error
	Name() string
}

// Manager 按注册顺序启动 Server，ctx 结束后按相反顺序关闭
//
// 注册顺序即依赖顺序：先注册的被后注册的依赖，因此最后关闭。
type Manager struct {
	logger          logging.Logger
	servers         []Server
	shutdownTimeout time.Duration
}

func NewManager() *Manager {
	return &Manager{
		logger:          logging.ComponentLogger("server.manager"),
		shutdownTimeout: 10 * time.Second,
	}
}

func (m *Manager) WithLogger(l logging.Logger) *Manager {
	if l != nil {
		m.logger = l
	}
	return m
}

func (m *Manager) WithServers(servers ...Server) *Manager {
	m.servers = append(m.servers, servers...)
	return m
}

// WithShutdownTimeout 关闭阶段的总时限；非正数忽略
func (m *Manager) WithShutdownTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.shutdownTimeout = d
	}
	return m
}

// Run 启动全部 Server 并阻塞到 ctx 结束
//
// 某个 Server 启动失败时，已启动的按相反顺序关闭，返回启动错误。
func (m *Manager) Run(ctx context.Context) error {
	started := 0
	var startErr error
	for _, s := range m.servers {
		t0 := time.Now()
		if err := s.Start(ctx); err != nil {
			m.logger.Error(ctx, "server start failed", logging.String("name", s.Name()), logging.Error(err))
			startErr = fmt.Errorf("start %s: %w", s.Name(), err)
			break
		}
		started++
		m.logger.Info(ctx, "server started",
			logging.String("name", s.Name()),
			logging.Duration("elapsed", time.Since(t0)))
	}

	if startErr == nil {
		<-ctx.Done()
		m.logger.Info(context.Background(), "shutting down", logging.Int("servers", started))
	}

	closeErr := m.closeAll(m.servers[:started])
	return errors.Join(startErr, closeErr)
}

func (m *Manager) closeAll(servers []Server) error {
	deadline := time.NewTimer(m.shutdownTimeout)
	defer deadline.Stop()

	var errs []error
	for i := len(servers) - 1; i >= 0; i-- {
		s := servers[i]
		done := make(chan error, 1)
		go func() { done <- s.Close() }()

		select {
		case err := <-done:
			if err != nil {
				m.logger.Warn(context.Background(), "server close failed", logging.String("name", s.Name()), logging.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
				continue
			}
			m.logger.Info(context.Background(), "server closed", logging.String("name", s.Name()))
		case <-deadline.C:
			errs = append(errs, fmt.Errorf("close %s: shutdown timeout %s exceeded", s.Name(), m.shutdownTimeout))
			m.logger.Error(context.Background(), "shutdown timeout", logging.String("name", s.Name()))
			return errors.Join(errs...)
		}
	}
	return errors.Join(errs...)
}
