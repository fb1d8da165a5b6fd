package logging

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LogrusLogger 基于 logrus 的 Logger 实现
type LogrusLogger struct {
	entry *logrus.Entry
}

// LogrusOptions logrus 输出配置
type LogrusOptions struct {
	Level  Level
	JSON   bool
	Output io.Writer
}

// NewLogrusLogger 创建 logrus Logger
func NewLogrusLogger(opts LogrusOptions) *LogrusLogger {
	base := logrus.New()
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	}
	if opts.JSON {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	base.SetLevel(toLogrusLevel(opts.Level))
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func toLogrusFields(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			if v != nil {
				out[f.Key] = v.Error()
				continue
			}
		case time.Duration:
			out[f.Key] = v.String()
			continue
		}
		out[f.Key] = f.Value
	}
	return out
}

func (l *LogrusLogger) with(ctx context.Context, fields []Field) *logrus.Entry {
	e := l.entry
	if ctx != nil {
		e = e.WithContext(ctx)
	}
	if len(fields) == 0 {
		return e
	}
	return e.WithFields(toLogrusFields(fields))
}

func (l *LogrusLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Debug(msg)
}

func (l *LogrusLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Info(msg)
}

func (l *LogrusLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Warn(msg)
}

func (l *LogrusLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.with(ctx, fields).Error(msg)
}

func (l *LogrusLogger) WithFields(fields ...Field) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(toLogrusFields(fields))}
}
