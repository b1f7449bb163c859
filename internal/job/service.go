package job

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/observability/metrics"
	"ExoLab-Agents/pkg/logger"

	"github.com/google/uuid"
)

// SubmitRequest 描述一次任务提交。ID 非空时按 ID 幂等。
type SubmitRequest struct {
	ID      string          `json:"id,omitempty"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Service 负责任务的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	kinds      map[string]struct{}
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithAllowedKinds 限制可提交的任务类型。
func WithAllowedKinds(kinds ...string) ServiceOption {
	return func(s *Service) {
		for _, kind := range kinds {
			s.kinds[kind] = struct{}{}
		}
	}
}

// NewService 构造任务服务，maxRetries<=0 时使用 3。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries, kinds: map[string]struct{}{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Kinds 返回允许提交的任务类型，按字母排序。
func (s *Service) Kinds() []string {
	kinds := make([]string, 0, len(s.kinds))
	for kind := range s.kinds {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Submit 创建任务并推送到队列。已存在的 ID 直接返回现有记录。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		return nil, xerrors.New(CodeJobValidation, "任务类型不能为空")
	}
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[kind]; !ok {
			return nil, xerrors.New(CodeJobUnknownKind, fmt.Sprintf("不支持的任务类型 %q，可选: %s", kind, strings.Join(s.Kinds(), ", ")))
		}
	}
	payload := req.Payload
	if len(strings.TrimSpace(string(payload))) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, xerrors.New(CodeJobValidation, "payload 不是合法的 JSON")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		existing, err := s.store.Get(ctx, jobID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:         jobID,
		Kind:       kind,
		Payload:    cloneRaw(payload),
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), false)
		return nil, wrapped
	}
	metrics.ObserveJob(kind, string(StatusPending))
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", jobID),
		slog.String("kind", kind),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// WaitUntilCompleted 轮询任务直到成功、最终失败或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == StatusSucceeded || (job.Status == StatusFailed && !willRetry(job)) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// willRetry 判断失败任务是否还会被重新执行，以处理器落库时的判定为准。
func willRetry(job *Job) bool {
	return job.Retryable && job.Attempts < job.MaxRetries
}

// Close 释放存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return stdErrors.Join(errs...)
}
