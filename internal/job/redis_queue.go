package job

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

// RedisQueueConfig 描述 Redis list 队列参数。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列：LPUSH 入队，BRPOP 出队。
// 连接由调用方持有，Close 不会关闭它。
type RedisQueue struct {
	client goredis.Cmdable
	queue  string
	wait   time.Duration
}

// NewRedisQueue 基于已建立的 Redis 连接创建队列。
func NewRedisQueue(client goredis.Cmdable, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 Redis 连接")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "exolab:jobs"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, queue: queue, wait: wait}, nil
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.queue, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 由单个 BRPOP 拉取协程向 workerCount 个 worker 分发任务。
// 处理失败或因退出未能交付的任务会被重新放回队列。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ids := make(chan string)
	pollErr := make(chan error, 1)
	go func() {
		err := q.poll(ctx, ids)
		if ctx.Err() != nil {
			err = nil
		}
		pollErr <- err
		cancel()
	}()

	err := serve[string](ctx, workerCount, ids, func(ctx context.Context, jobID string) {
		if handler(ctx, jobID) != nil {
			q.requeue(ctx, jobID)
		}
	})
	if perr := <-pollErr; perr != nil {
		return perr
	}
	return err
}

func (q *RedisQueue) poll(ctx context.Context, out chan<- string) error {
	for ctx.Err() == nil {
		values, err := q.client.BRPop(ctx, q.wait, q.queue).Result()
		switch {
		case stdErrors.Is(err, goredis.Nil):
			continue
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
		case len(values) != 2:
			continue
		}
		select {
		case out <- values[1]:
		case <-ctx.Done():
			q.requeue(ctx, values[1])
			return ctx.Err()
		}
	}
	return ctx.Err()
}

func (q *RedisQueue) requeue(ctx context.Context, jobID string) {
	if err := q.client.RPush(context.WithoutCancel(ctx), q.queue, jobID).Err(); err != nil {
		logger.Named("job").Error("任务重新入队失败",
			slog.String("job_id", jobID),
			slog.Any("error", err))
	}
}

// Close 对共享连接无需操作。
func (q *RedisQueue) Close() error {
	return nil
}
