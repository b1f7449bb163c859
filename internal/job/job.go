package job

import (
	"encoding/json"
	"net/http"

	xerrors "ExoLab-Agents/internal/errors"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job 描述一次排队执行的异步生成任务。
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	// Retryable 仅对 failed 有意义：失败后是否还会被重新执行。
	Retryable bool            `json:"retryable"`
	Result     json.RawMessage `json:"result,omitempty"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

const (
	CodeJobNotFound    xerrors.Code = "JOB_NOT_FOUND"
	CodeJobConflict    xerrors.Code = "JOB_CONFLICT"
	CodeJobCompleted   xerrors.Code = "JOB_COMPLETED"
	CodeJobExhausted   xerrors.Code = "JOB_RETRIES_EXHAUSTED"
	CodeJobValidation  xerrors.Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish     xerrors.Code = "JOB_PUBLISH_FAILED"
	CodeJobProcessing  xerrors.Code = "JOB_PROCESSING_FAILED"
	CodeJobUnknownKind xerrors.Code = "JOB_UNKNOWN_KIND"
)

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "job not found")
	// ErrJobConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "job conflict")
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "job already completed")
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "job retries exhausted")
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:  "job not found",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusNotFound,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:  "job conflict",
		Severity: xerrors.SeverityWarning,
		Status:   http.StatusConflict,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:  "job already completed",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusConflict,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:  "job retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
		Status:   http.StatusConflict,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:  "job validation failed",
		Severity: xerrors.SeverityInfo,
		Status:   http.StatusBadRequest,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:   "failed to publish job",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
		Status:    http.StatusServiceUnavailable,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:   "job execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeJobUnknownKind, xerrors.Attributes{
		Message:  "unknown job kind",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
		Status:   http.StatusBadRequest,
	})
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneJob(j *Job) *Job {
	clone := *j
	clone.Payload = cloneRaw(j.Payload)
	clone.Result = cloneRaw(j.Result)
	return &clone
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// Stats 聚合了任务状态的统计信息。
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
