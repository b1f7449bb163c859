package job

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/observability/alerting"
	"ExoLab-Agents/internal/observability/metrics"
	"ExoLab-Agents/internal/observability/tracing"
	"ExoLab-Agents/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor 执行某一类任务，返回值会被编码为 JSON 写入任务结果。
type Executor interface {
	Execute(ctx context.Context, payload json.RawMessage) (any, error)
}

// ExecutorFunc 将函数适配为 Executor。
type ExecutorFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Execute 实现 Executor。
func (f ExecutorFunc) Execute(ctx context.Context, payload json.RawMessage) (any, error) {
	return f(ctx, payload)
}

// Processor 负责从队列消费任务并交给对应的 Executor 执行。
type Processor struct {
	executors   map[string]Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithExecutor 注册某一类任务的执行器。
func WithExecutor(kind string, executor Executor) ProcessorOption {
	return func(p *Processor) {
		if executor != nil {
			p.executors[kind] = executor
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executors:   make(map[string]Executor),
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Kinds 返回已注册执行器的任务类型。
func (p *Processor) Kinds() []string {
	kinds := make([]string, 0, len(p.executors))
	for kind := range p.executors {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	logger.Named("job").Info("任务处理器启动", slog.Int("workers", p.workerCount), slog.Any("kinds", p.Kinds()))
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logDebug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}
	metrics.ObserveJob(job.Kind, string(StatusRunning))

	executor, ok := p.executors[job.Kind]
	if !ok {
		return p.handleFailure(ctx, job, xerrors.New(CodeJobUnknownKind, fmt.Sprintf("没有处理 %q 任务的执行器", job.Kind)))
	}

	result, execErr := p.execute(ctx, job, executor)
	if execErr != nil {
		return p.handleFailure(ctx, job, execErr)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return p.handleFailure(ctx, job, xerrors.Wrap(CodeJobProcessing, err, "编码任务结果失败", xerrors.WithRetryable(false)))
	}
	// 执行结果已经产生，状态写入不随 ctx 取消而放弃。
	stateCtx := context.WithoutCancel(ctx)
	if err := p.store.MarkSucceeded(stateCtx, job.ID, raw); err != nil {
		logger.L().Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		if storeErr := p.store.MarkFailed(stateCtx, job.ID, CodeJobProcessing, err.Error(), true); storeErr != nil {
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", job.ID))
		}
		return nil
	}
	metrics.ObserveJob(job.Kind, string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

func (p *Processor) execute(ctx context.Context, job *Job, executor Executor) (any, error) {
	ctx, span := tracing.Tracer().Start(ctx, "job.execute", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	start := time.Now()
	result, err := executor.Execute(ctx, job.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	p.logDebug("任务执行结束", slog.String("job_id", job.ID), slog.Duration("elapsed", time.Since(start)))
	return result, err
}

// handleFailure 记录失败并决定是否重投。处理器退出导致的中断按可重试处理，
// 由队列自身的重新投递恢复，此时返回 ctx 的错误。
func (p *Processor) handleFailure(ctx context.Context, job *Job, execErr error) error {
	interrupted := ctx.Err() != nil
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := interrupted || xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	stateCtx := context.WithoutCancel(ctx)
	if err := p.store.MarkFailed(stateCtx, job.ID, code, execErr.Error(), !terminal); err != nil {
		logger.L().Error("标记任务失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	metrics.ObserveJob(job.Kind, string(StatusFailed))
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if !retryable {
		stage = "non_retryable"
	} else if terminal {
		stage = "terminal"
	}
	if terminal || xerrors.ShouldAlert(execErr) {
		p.emitAlert(stateCtx, job, code, execErr, stage)
	}

	if interrupted {
		return ctx.Err()
	}
	if !terminal {
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:       code,
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		JobID:      job.ID,
		JobKind:    job.Kind,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   map[string]string{"stage": stage, "summary": attrs.Message},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}
