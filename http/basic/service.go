package basic

import (
	"context"
	"net"
	"sync"
	"time"

	"restaurant/logging"
)

type funcServer struct {
	name  string
	start func(ctx context.Context) error
	close func() error
}

// NewServer 用一对函数构造 Server；start 或 close 可以为 nil
func NewServer(name string, start func(ctx context.Context) error, close func() error) Server {
	return &funcServer{name: name, start: start, close: close}
}

func (s *funcServer) Name() string { return s.name }

func (s *funcServer) Start(ctx context.Context) error {
	if s.start == nil {
		return nil
	}
	return s.start(ctx)
}

func (s *funcServer) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// HTTPService 将 HttpServer 适配为 Manager 管理的 Server
type HTTPService struct {
	server  *HttpServer
	addr    string
	timeout time.Duration
	logger  logging.Logger

	mu    sync.Mutex
	bound net.Addr
}

// NewHTTPService 创建 HTTP 服务；timeout 为关闭时等待进行中请求的上限
func NewHTTPService(server *HttpServer, addr string, timeout time.Duration) *HTTPService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPService{
		server:  server,
		addr:    addr,
		timeout: timeout,
		logger:  logging.ComponentLogger("http.server"),
	}
}

func (s *HTTPService) Name() string { return "http" }

// Start 监听端口后在后台提供服务
func (s *HTTPService) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()

	s.logger.Info(ctx, "http listening", logging.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error(context.Background(), "http serve failed", logging.Error(err))
		}
	}()
	return nil
}

// Addr 返回实际监听地址（启动前为 nil）
func (s *HTTPService) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

func (s *HTTPService) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.server.Stop(ctx)
}
