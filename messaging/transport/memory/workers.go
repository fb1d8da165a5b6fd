package memory

import (
	"context"
	"fmt"
	"time"

	"restaurant/messaging"
)

// Start 启动 Worker 池
//
// ctx 取消时 Worker 停止消费；正常关闭应调用 Close 以 drain 队列。
func (t *MemoryTransport) Start(ctx context.Context) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.running {
		return fmt.Errorf("memory transport is already running")
	}
	t.running = true

	for i := 0; i < t.workerCount; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
	return nil
}

// Close 关闭传输层，等待队列中的消息处理完毕
func (t *MemoryTransport) Close() error {
	_, err := t.CloseWithContext(context.Background())
	return err
}

// CloseWithTimeout 在限定时间内关闭
func (t *MemoryTransport) CloseWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := t.CloseWithContext(ctx)
	return err
}

// CloseWithContext 关闭队列并等待 Worker 退出
//
// 返回 Worker 退出后仍留在队列中的消息（没有 Worker 或 Worker 被 ctx 提前终止时）。
// ctx 先于 Worker 结束时返回 ctx 错误。
func (t *MemoryTransport) CloseWithContext(ctx context.Context) ([]messaging.IMessage, error) {
	t.mutex.Lock()
	if !t.running {
		t.mutex.Unlock()
		return nil, fmt.Errorf("memory transport is not running")
	}
	t.running = false
	close(t.queue)
	t.mutex.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("close memory transport: %w", ctx.Err())
	}

	var pending []messaging.IMessage
	for message := range t.queue {
		pending = append(pending, message)
	}
	return pending, nil
}

func (t *MemoryTransport) worker(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case message, ok := <-t.queue:
			if !ok {
				return
			}
			t.dispatch(ctx, message)
		case <-ctx.Done():
			return
		}
	}
}
