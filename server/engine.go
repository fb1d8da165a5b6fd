// Package server 定义进程级生命周期：加载配置、装配依赖、启动后台任务、运行主服务、优雅关闭
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync/atomic"
	"syscall"

	"restaurant/logging"
)

// IServer 应用实现的生命周期钩子，由 Engine 按固定顺序调用
type IServer interface {
	Name() string

	// LoadConfig 解析环境变量与命令行参数
	LoadConfig() error

	// SetupDependencies 打开存储、构建传输与处理器；ctx 带启动超时
	SetupDependencies(ctx context.Context) error

	// StartBackgroundTasks 启动订阅者等非阻塞任务；ctx 在关闭时取消
	StartBackgroundTasks(ctx context.Context) error

	// Run 阻塞到 ctx 取消或出错
	Run(ctx context.Context) error

	// Shutdown 释放资源；ctx 带关闭超时
	Shutdown(ctx context.Context) error
}

// Engine 驱动 IServer 走完 LoadConfig -> Setup -> Background -> Run -> Shutdown
//
// SetupDependencies 之后的任何失败都会调用 Shutdown 释放已打开的资源。
type Engine struct {
	server IServer
	opts   *Options
	log    logging.Logger
	state  atomic.Int32
}

func NewEngine(srv IServer, opts ...Option) *Engine {
	o := DefaultOptions()
	if name := srv.Name(); name != "" {
		o.Name = name
	}
	for _, apply := range opts {
		apply(o)
	}
	log := o.Logger
	if log == nil {
		log = logging.ComponentLogger("server.engine")
	}
	return &Engine{
		server: srv,
		opts:   o,
		log:    log.WithFields(logging.String("app", o.Name)),
	}
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) enter(s State) { e.state.Store(int32(s)) }

// fail 进入 StateError；release 为真时先执行关闭流程
func (e *Engine) fail(release bool, format string, err error) error {
	if release {
		_ = e.shutdown()
	}
	e.enter(StateError)
	return fmt.Errorf(format+": %w", err)
}

// Start 执行完整生命周期；parent 取消或收到 SIGINT/SIGTERM 时进入关闭流程
func (e *Engine) Start(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stopSignals := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	e.log.Info(ctx, "starting application", logging.String("version", e.opts.Version))
	e.enter(StateInitializing)
	if err := e.server.LoadConfig(); err != nil {
		return e.fail(false, "failed to load config", err)
	}

	setupCtx, setupCancel := context.WithTimeout(ctx, e.opts.StartupTimeout)
	err := e.server.SetupDependencies(setupCtx)
	setupCancel()
	if err != nil {
		return e.fail(true, "failed to setup dependencies", err)
	}
	e.enter(StatePrepared)

	for _, hook := range e.opts.hooks[PhaseBeforeStart] {
		if err := hook(ctx); err != nil {
			return e.fail(true, "before_start hook failed", err)
		}
	}
	if err := e.server.StartBackgroundTasks(ctx); err != nil {
		cancel()
		return e.fail(true, "failed to start background tasks", err)
	}

	e.enter(StateRunning)
	done := make(chan error, 1)
	go func() { done <- e.server.Run(ctx) }()
	e.log.Info(ctx, "server is running")
	e.runHooks(ctx, PhaseAfterStart)

	var runErr error
	select {
	case runErr = <-done:
	case <-sigCtx.Done():
		e.log.Info(ctx, "stop requested", logging.String("cause", context.Cause(sigCtx).Error()))
		cancel()
		runErr = <-done
	}
	cancel()
	if runErr != nil {
		e.log.Error(ctx, "server stopped with error", logging.Error(runErr))
	}

	e.enter(StateStopping)
	if err := e.shutdown(); err != nil {
		e.enter(StateError)
		return err
	}
	if runErr != nil {
		e.enter(StateError)
		return fmt.Errorf("server execution error: %w", runErr)
	}
	e.enter(StateStopped)
	e.log.Info(context.Background(), "shutdown complete")
	return nil
}

func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
	defer cancel()

	e.runHooks(ctx, PhaseBeforeStop)
	if err := e.server.Shutdown(ctx); err != nil {
		e.log.Error(ctx, "shutdown error", logging.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}
	e.runHooks(ctx, PhaseAfterStop)
	return nil
}

// runHooks 执行不影响流程的回调，失败只记录
func (e *Engine) runHooks(ctx context.Context, phase Phase) {
	for _, hook := range e.opts.hooks[phase] {
		if err := hook(ctx); err != nil {
			e.log.Warn(ctx, "lifecycle hook failed", logging.String("phase", phase.String()), logging.Error(err))
		}
	}
}
