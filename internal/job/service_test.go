package job

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return stdErrors.New("broker down") }
func (failingProducer) Close() error                          { return nil }

func TestSubmitIsIdempotentByID(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 0, WithAllowedKinds(KindVideo, KindDiagram))
	ctx := context.Background()

	first, err := service.Submit(ctx, SubmitRequest{ID: "fixed", Kind: KindVideo, Payload: json.RawMessage(`{"prompt":"a"}`)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.MaxRetries != 3 || first.Status != StatusPending {
		t.Fatalf("unexpected job: %+v", first)
	}
	second, err := service.Submit(ctx, SubmitRequest{ID: "fixed", Kind: KindVideo, Payload: json.RawMessage(`{"prompt":"b"}`)})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if string(second.Payload) != `{"prompt":"a"}` {
		t.Fatalf("expected existing job, got %+v", second)
	}
	if len(queue.ch) != 1 {
		t.Fatalf("expected a single publish, got %d", len(queue.ch))
	}
}

func TestSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3, WithAllowedKinds(KindVideo))
	ctx := context.Background()

	if _, err := service.Submit(ctx, SubmitRequest{}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := service.Submit(ctx, SubmitRequest{Kind: "podcast"}); xerrors.CodeOf(err) != CodeJobUnknownKind {
		t.Fatalf("expected unknown kind, got %v", err)
	}
	if _, err := service.Submit(ctx, SubmitRequest{Kind: KindVideo, Payload: json.RawMessage(`{oops`)}); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	job, err := service.Submit(ctx, SubmitRequest{Kind: KindVideo})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if string(job.Payload) != "{}" || job.ID == "" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestSubmitPublishFailureMarksJobFailed(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(context.Background(), SubmitRequest{ID: "p1", Kind: KindVideo})
	if xerrors.CodeOf(err) != CodeJobPublish {
		t.Fatalf("expected publish failure, got %v", err)
	}
	job, getErr := store.Get(context.Background(), "p1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if job.Status != StatusFailed || job.ErrorCode != string(CodeJobPublish) {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestWaitUntilCompletedHonoursContext(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewMemoryQueue(4), 3)
	job, err := service.Submit(context.Background(), SubmitRequest{Kind: KindVideo})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond); !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := service.Get(context.Background(), "missing"); !stdErrors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWaitUntilCompletedReturnsOverriddenTerminalFailure(t *testing.T) {
	rejected := ExecutorFunc(func(context.Context, json.RawMessage) (any, error) {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 400", xerrors.WithRetryable(false))
	})
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	processor := NewProcessor(store, queue, queue, WithExecutor(KindDiagram, rejected))
	service := NewService(store, queue, 3)
	stop := startProcessor(t, processor)
	defer stop()

	job, err := service.Submit(context.Background(), SubmitRequest{Kind: KindDiagram})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	done, err := service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait on terminal failure: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took %s", elapsed)
	}
	if done.Status != StatusFailed || done.Attempts != 1 || done.Retryable {
		t.Fatalf("unexpected job: %+v", done)
	}
	if _, err := store.Claim(context.Background(), job.ID); !stdErrors.Is(err, ErrJobExhausted) {
		t.Fatalf("terminal job should not be claimable, got %v", err)
	}
}

func TestWaitUntilCompletedReadsStoredRetryFlag(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewMemoryQueue(4), 3)
	job, err := service.Submit(context.Background(), SubmitRequest{Kind: KindVideo})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.Claim(context.Background(), job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// 错误码默认可重试，但落库时已判定为最终失败。
	if err := store.MarkFailed(context.Background(), job.ID, xerrors.CodeUpstreamFailure, "bad request", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := service.WaitUntilCompleted(ctx, job.ID, 5*time.Millisecond); err != nil {
		t.Fatalf("expected immediate return, got %v", err)
	}

	if err := store.MarkFailed(context.Background(), job.ID, xerrors.CodeInvalidArgument, "retry later", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	short, cancelShort := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancelShort()
	if _, err := service.WaitUntilCompleted(short, job.ID, 5*time.Millisecond); !stdErrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("retryable failure should keep waiting, got %v", err)
	}
}
