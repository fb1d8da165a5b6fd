// Package logging 结构化日志接口；默认实现基于 logrus
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{DebugLevel: "debug", InfoLevel: "info", WarnLevel: "warn", ErrorLevel: "error"}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel 不区分大小写；空串视为 info，"warning" 视为 warn
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return InfoLevel, nil
	case "warning":
		return WarnLevel, nil
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// Logger 各组件依赖的日志接口；ctx 可为 nil
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// WithFields 返回附带字段的新 Logger，原 Logger 不变
	WithFields(fields ...Field) Logger
}

type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field                 { return Field{Key: key, Value: value} }
func Int(key string, value int) Field                { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field            { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field              { return Field{Key: key, Value: value} }
func Any(key string, value any) Field                { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Error 固定使用 "error" 作为键
func Error(err error) Field { return Field{Key: "error", Value: err} }

// Component 组件名字段
func Component(name string) Field { return Field{Key: "component", Value: name} }

// ComponentLogger 从全局 Logger 派生带组件名的 Logger
func ComponentLogger(name string) Logger {
	return GetLogger().WithFields(Component(name))
}

// NoopLogger 丢弃所有日志
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Debug(context.Context, string, ...Field) {}
func (l *NoopLogger) Info(context.Context, string, ...Field)  {}
func (l *NoopLogger) Warn(context.Context, string, ...Field)  {}
func (l *NoopLogger) Error(context.Context, string, ...Field) {}
func (l *NoopLogger) WithFields(...Field) Logger              { return l }

type loggerHolder struct{ Logger }

var global atomic.Value

func init() {
	global.Store(loggerHolder{NewLogrusLogger(LogrusOptions{Level: InfoLevel, Output: os.Stderr})})
}

// SetLogger 替换全局 Logger；nil 视为 NoopLogger
func SetLogger(logger Logger) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	global.Store(loggerHolder{logger})
}

func GetLogger() Logger {
	return global.Load().(loggerHolder).Logger
}
