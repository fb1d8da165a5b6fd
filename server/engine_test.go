package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant/logging"
)

// scriptedServer 记录调用顺序，按 fail 注入各阶段错误
type scriptedServer struct {
	mu    sync.Mutex
	steps []string
	fail  map[string]error

	// block 为真时 Run 阻塞到 ctx 取消
	block   bool
	running chan struct{}
	bgDone  chan struct{}
}

func newScripted() *scriptedServer {
	return &scriptedServer{fail: map[string]error{}, running: make(chan struct{}), bgDone: make(chan struct{})}
}

func (s *scriptedServer) step(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, name)
	return s.fail[name]
}

func (s *scriptedServer) Steps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func (s *scriptedServer) Name() string      { return "scripted" }
func (s *scriptedServer) LoadConfig() error { return s.step("config") }

func (s *scriptedServer) SetupDependencies(context.Context) error { return s.step("setup") }

func (s *scriptedServer) StartBackgroundTasks(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		close(s.bgDone)
	}()
	return s.step("background")
}

func (s *scriptedServer) Run(ctx context.Context) error {
	err := s.step("run")
	close(s.running)
	if s.block {
		<-ctx.Done()
	}
	return err
}

func (s *scriptedServer) Shutdown(context.Context) error { return s.step("shutdown") }

func quietEngine(srv IServer, opts ...Option) *Engine {
	return NewEngine(srv, append([]Option{WithLogger(logging.NewNoopLogger()), WithShutdownTimeout(100 * time.Millisecond)}, opts...)...)
}

func TestEngine_FullLifecycle(t *testing.T) {
	srv := newScripted()
	var hooks []string
	record := func(name string) Hook {
		return func(context.Context) error { hooks = append(hooks, name); return nil }
	}
	e := quietEngine(srv,
		WithBeforeStart(record("before_start")),
		WithAfterStart(record("after_start")),
		WithHook(PhaseBeforeStop, record("before_stop")),
		WithAfterStop(record("after_stop")),
	)

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateStopped, e.State())
	assert.Equal(t, []string{"config", "setup", "background", "run", "shutdown"}, srv.Steps())
	assert.Equal(t, []string{"before_start", "after_start", "before_stop", "after_stop"}, hooks)

	// 后台任务的 ctx 已被取消
	select {
	case <-srv.bgDone:
	case <-time.After(time.Second):
		t.Fatalf("后台任务未随引擎退出而取消")
	}
}

func TestEngine_Failures(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name   string
		failAt string
		hook   Hook
		prefix string
		steps  []string
	}{
		{"config", "config", nil, "failed to load config", []string{"config"}},
		{"setup releases resources", "setup", nil, "failed to setup dependencies", []string{"config", "setup", "shutdown"}},
		{"background", "background", nil, "failed to start background tasks", []string{"config", "setup", "background", "shutdown"}},
		{"run", "run", nil, "server execution error", []string{"config", "setup", "background", "run", "shutdown"}},
		{"before start hook", "", func(context.Context) error { return boom }, "before_start hook failed", []string{"config", "setup", "shutdown"}},
		{"shutdown", "shutdown", nil, "shutdown", []string{"config", "setup", "background", "run", "shutdown"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newScripted()
			if tc.failAt != "" {
				srv.fail[tc.failAt] = boom
			}
			var opts []Option
			if tc.hook != nil {
				opts = append(opts, WithBeforeStart(tc.hook))
			}
			e := quietEngine(srv, opts...)

			err := e.Start(context.Background())
			require.ErrorIs(t, err, boom)
			assert.Contains(t, err.Error(), tc.prefix)
			assert.Equal(t, StateError, e.State())
			assert.Equal(t, tc.steps, srv.Steps())
		})
	}
}

func TestEngine_AfterStartHookFailureIsIgnored(t *testing.T) {
	srv := newScripted()
	e := quietEngine(srv, WithAfterStart(func(context.Context) error { return errors.New("warm-up failed") }))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, StateStopped, e.State())
}

// 父 ctx 取消等同于收到退出信号
func TestEngine_ParentCancelStops(t *testing.T) {
	srv := newScripted()
	srv.block = true
	e := quietEngine(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	select {
	case <-srv.running:
	case <-time.After(time.Second):
		t.Fatalf("服务未进入运行")
	}
	assert.Equal(t, StateRunning, e.State())
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("取消后引擎未退出")
	}
	steps := srv.Steps()
	assert.Equal(t, "shutdown", steps[len(steps)-1])
	assert.Equal(t, StateStopped, e.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.Equal(t, "after_stop", PhaseAfterStop.String())
}
