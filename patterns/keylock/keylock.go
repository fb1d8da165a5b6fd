// Package keylock 提供按键串行化的进程内锁
//
// 同一个键上的调用者按到达顺序依次获得锁（FIFO），不同键之间互不影响。
// 键在没有持有者和等待者时即被回收，锁表大小只与活跃键数量相关。
package keylock

import (
	"context"
	"sync"
)

// Locker 按键加锁
type Locker struct {
	mu     sync.Mutex
	queues map[string][]chan struct{} // 队首为当前持有者
}

// New 创建 Locker
func New() *Locker {
	return &Locker{queues: make(map[string][]chan struct{})}
}

// Lock 获取 key 的锁，返回释放函数
//
// 在等待期间 ctx 取消时放弃排队并返回 ctx.Err()；已获得锁后 ctx 不再起作用。
// 释放函数可以重复调用，只有第一次生效。
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	ch := make(chan struct{})

	l.mu.Lock()
	q := append(l.queues[key], ch)
	l.queues[key] = q
	if len(q) == 1 {
		close(ch)
	}
	l.mu.Unlock()

	select {
	case <-ch:
		return l.unlocker(key), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-ch:
		// 取消与获得锁同时发生：交还给下一个等待者
		l.mu.Unlock()
		l.release(key)
	default:
		l.removeLocked(key, ch)
		l.mu.Unlock()
	}
	return nil, ctx.Err()
}

// Do 在 key 的锁内执行 fn
func (l *Locker) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Len 返回当前有持有者或等待者的键数量
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

// Waiting 返回 key 上的等待者数量（不含持有者）
func (l *Locker) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.queues[key]); n > 1 {
		return n - 1
	}
	return 0
}

func (l *Locker) unlocker(key string) func() {
	var once sync.Once
	return func() { once.Do(func() { l.release(key) }) }
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[key]
	if len(q) == 0 {
		return
	}
	q = q[1:]
	if len(q) == 0 {
		delete(l.queues, key)
		return
	}
	l.queues[key] = q
	close(q[0])
}

func (l *Locker) removeLocked(key string, ch chan struct{}) {
	q := l.queues[key]
	for i, c := range q {
		if c == ch {
			q = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(l.queues, key)
		return
	}
	l.queues[key] = q
}
