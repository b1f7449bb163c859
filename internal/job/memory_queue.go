package job

import (
	"context"
	"sync"

	xerrors "ExoLab-Agents/internal/errors"
)

// MemoryQueue 使用带缓冲的 channel 作为进程内队列。
type MemoryQueue struct {
	ch     chan string
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建内存队列，size<=0 时缓冲 64 个任务。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- jobID:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费任务，处理失败的任务异步放回队列。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return serve[string](ctx, workerCount, q.ch, func(ctx context.Context, jobID string) {
		if err := handler(ctx, jobID); err != nil && ctx.Err() == nil {
			go q.requeue(ctx, jobID)
		}
	})
}

func (q *MemoryQueue) requeue(ctx context.Context, jobID string) {
	_ = q.Publish(ctx, jobID)
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
