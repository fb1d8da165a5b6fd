package retry

import (
	"context"
	"time"
)

// Operation 可重试的操作函数类型
type Operation func(ctx context.Context) error

// OperationWithInfo 接收当前尝试次数（从 1 开始）的操作
type OperationWithInfo func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 退避倍数（指数退避）
	MaxDelay      time.Duration // 最大延迟

	// Retryable 判断错误是否值得重试；为 nil 时所有错误都重试
	Retryable func(err error) bool

	// OnRetry 在每次退避等待之前调用，attempt 为刚失败的尝试次数
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig 返回默认配置
//
// 默认值：
//   - MaxAttempts: 2（1次初始 + 1次重试）
//   - InitialDelay: 2ms
//   - BackoffFactor: 2.0（指数退避）
//   - MaxDelay: 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  2 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      1 * time.Second,
	}
}

// Backoff 返回第 attempt 次失败后的等待时长
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(c.InitialDelay) * pow(c.BackoffFactor, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func (c Config) shouldRetry(err error) bool {
	return c.Retryable == nil || c.Retryable(err)
}

// Do 执行带重试的操作
//
// 返回：
//   - nil（如果任意一次尝试成功）
//   - 不可重试的错误（Retryable 返回 false 时立即返回）
//   - 最后一次执行的错误（如果所有尝试都失败）
//   - ctx.Err()（等待期间上下文被取消）
//
// 使用示例：
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return someOperation()
//	}, retry.DefaultConfig())
func Do(ctx context.Context, op Operation, cfg Config) error {
	return DoWithInfo(ctx, func(ctx context.Context, _ int) error {
		return op(ctx)
	}, cfg)
}

// DoWithInfo 执行带重试的操作，每次尝试都会传入当前尝试次数
func DoWithInfo(ctx context.Context, op OperationWithInfo, cfg Config) error {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// 检查上下文是否已取消
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.shouldRetry(err) || attempt == maxAttempts {
			return err
		}

		delay := cfg.Backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}

	return lastErr
}

// pow 简单的幂运算实现（整数指数）
func pow(base, exp float64) float64 {
	if exp == 0 {
		return 1
	}
	result := base
	for i := 1; i < int(exp); i++ {
		result *= base
	}
	return result
}
