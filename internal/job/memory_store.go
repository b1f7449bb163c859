package job

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，适用于单实例部署与测试。
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
	opts storeOptions
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now, opts: buildStoreOptions(opts)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrJobConflict
	}
	now := m.now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// Get 返回任务副本。
func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

// Claim 将任务状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	now := m.now()
	switch job.Status {
	case StatusSucceeded:
		return cloneJob(job), ErrJobCompleted
	case StatusRunning:
		if job.UpdatedAt > m.opts.staleBefore(now) {
			return cloneJob(job), ErrJobConflict
		}
		if job.Attempts >= job.MaxRetries {
			job.Status, job.LastError, job.ErrorCode = StatusFailed, leaseExpiredMessage, string(CodeJobProcessing)
			job.Retryable = false
			job.UpdatedAt = now.Unix()
			return cloneJob(job), ErrJobExhausted
		}
	case StatusFailed:
		if !job.Retryable {
			return cloneJob(job), ErrJobExhausted
		}
	}
	if job.Attempts >= job.MaxRetries {
		return cloneJob(job), ErrJobExhausted
	}
	job.Status = StatusRunning
	job.Attempts++
	job.LastError = ""
	job.ErrorCode = ""
	job.Retryable = false
	job.UpdatedAt = now.Unix()
	return cloneJob(job), nil
}

// MarkSucceeded 记录成功结果。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusSucceeded
	job.Result = cloneRaw(result)
	job.LastError = ""
	job.ErrorCode = ""
	job.Retryable = false
	job.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记任务失败。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, retryable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = StatusFailed
	job.LastError = lastError
	job.ErrorCode = string(code)
	job.Retryable = retryable
	job.UpdatedAt = m.now().Unix()
	return nil
}

// List 返回符合条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	m.mu.RLock()
	results := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		if opts.matches(job) {
			results = append(results, cloneJob(job))
		}
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	if opts.Offset >= len(results) {
		return []*Job{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{}
	for _, job := range m.jobs {
		if !opts.matches(job) {
			continue
		}
		stats.Total++
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusSucceeded:
			stats.Succeeded++
		case StatusFailed:
			stats.Failed++
		}
		if job.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = job.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || job.UpdatedAt < stats.OldestUpdatedAt {
			stats.OldestUpdatedAt = job.UpdatedAt
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
