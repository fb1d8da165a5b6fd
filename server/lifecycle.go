package server

import (
	"context"
	"time"

	"restaurant/logging"
)

// State 引擎状态
type State int32

const (
	StatePending State = iota
	StateInitializing
	// StatePrepared 依赖已装配，后台任务尚未启动
	StatePrepared
	StateRunning
	StateStopping
	StateStopped
	// StateError 任一阶段失败后的终态
	StateError
)

var stateNames = [...]string{"Pending", "Initializing", "Prepared", "Running", "Stopping", "Stopped", "Error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Hook 生命周期回调
type Hook func(ctx context.Context) error

// Phase 回调挂载点
type Phase int

const (
	// PhaseBeforeStart 依赖就绪之后、后台任务之前；失败中止启动
	PhaseBeforeStart Phase = iota
	// PhaseAfterStart 主服务启动之后；失败只记录
	PhaseAfterStart
	// PhaseBeforeStop IServer.Shutdown 之前；失败只记录
	PhaseBeforeStop
	// PhaseAfterStop IServer.Shutdown 成功之后；失败只记录
	PhaseAfterStop
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeStart:
		return "before_start"
	case PhaseAfterStart:
		return "after_start"
	case PhaseBeforeStop:
		return "before_stop"
	case PhaseAfterStop:
		return "after_stop"
	}
	return "unknown"
}

// Options 引擎配置
type Options struct {
	Name            string
	Version         string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	Logger          logging.Logger

	hooks map[Phase][]Hook
}

type Option func(*Options)

func DefaultOptions() *Options {
	return &Options{
		Name:            "restaurant",
		Version:         "dev",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		hooks:           make(map[Phase][]Hook),
	}
}

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func WithVersion(version string) Option {
	return func(o *Options) { o.Version = version }
}

// WithStartupTimeout 限制 SetupDependencies 的耗时
func WithStartupTimeout(d time.Duration) Option {
	return func(o *Options) { o.StartupTimeout = d }
}

// WithShutdownTimeout 限制关闭阶段（含回调）的总耗时
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) { o.ShutdownTimeout = d }
}

func WithLogger(logger logging.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithHook 在 phase 挂载回调，同一阶段按登记顺序执行
func WithHook(phase Phase, fn Hook) Option {
	return func(o *Options) { o.hooks[phase] = append(o.hooks[phase], fn) }
}

func WithBeforeStart(fn Hook) Option { return WithHook(PhaseBeforeStart, fn) }
func WithAfterStart(fn Hook) Option  { return WithHook(PhaseAfterStart, fn) }
func WithAfterStop(fn Hook) Option   { return WithHook(PhaseAfterStop, fn) }
