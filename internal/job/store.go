package job

import (
	"context"
	"encoding/json"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
)

// DefaultClaimLease 是 running 任务在没有任何状态更新时被视为失联的时长。
const DefaultClaimLease = 30 * time.Minute

const leaseExpiredMessage = "任务执行租约已过期且重试次数耗尽"

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将 pending、可重试的 failed 或租约已过期的 running 任务置为 running 并增加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result json.RawMessage) error
	// MarkFailed 记录失败，retryable 为 false 时任务不会再被领取。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, retryable bool) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

type storeOptions struct {
	lease time.Duration
}

// StoreOption 定义存储的可选配置。
type StoreOption func(*storeOptions)

// WithClaimLease 设置 running 任务的租约，<=0 表示永不回收。
func WithClaimLease(lease time.Duration) StoreOption {
	return func(o *storeOptions) {
		o.lease = lease
	}
}

func buildStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{lease: DefaultClaimLease}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// staleBefore 返回租约判定的时间界限，updated_at 不晚于它的 running 任务可被回收。
// 未启用租约时返回 -1，任何记录都不会命中。
func (o storeOptions) staleBefore(now time.Time) int64 {
	if o.lease <= 0 {
		return -1
	}
	return now.Add(-o.lease).Unix()
}
