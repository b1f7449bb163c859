package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
)

// Code 是跨模块共享的错误码，HTTP 层与任务重试都据此决策。
type Code string

// Severity 决定告警级别。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码注册时声明的默认行为，可被单个错误覆盖。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	// Status 是错误返回给 HTTP 调用方时使用的状态码，0 表示 500。
	Status int
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeExecutorFailure       Code = "EXECUTOR_FAILURE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo, Status: http.StatusBadRequest},
		CodeUnauthenticated:       {Message: "unauthenticated", Severity: SeverityInfo, Status: http.StatusUnauthorized},
		CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo, Status: http.StatusNotFound},
		CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning, Status: http.StatusConflict},
		CodeRateLimited:           {Message: "rate limited", Severity: SeverityWarning, Retryable: true, Status: http.StatusTooManyRequests},
		CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true, Status: http.StatusServiceUnavailable},
		CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeExecutorFailure:       {Message: "executor failure", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeUpstreamFailure:       {Message: "upstream service failure", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true, Status: http.StatusGatewayTimeout},
	}
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。覆盖项为空时沿用错误码注册的默认属性。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	override struct {
		retryable, alert *bool
		severity         *Severity
		status           int
	}
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.override.retryable = &retryable }
}

// WithAlert 指定错误是否需要告警。
func WithAlert(alert bool) Option {
	return func(e *Error) { e.override.alert = &alert }
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.override.severity = &sev }
}

// WithStatus 覆盖返回给 HTTP 调用方的状态码。
func WithStatus(status int) Option {
	return func(e *Error) { e.override.status = status }
}

// New 创建错误，message 为空时使用注册的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "[" + string(e.code) + "] " + e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码匹配，便于 errors.Is(err, ErrJobNotFound) 这类判断。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息，不包含底层原因。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// Attributes 返回合并覆盖项之后的实际属性。
func (e *Error) Attributes() Attributes {
	if e == nil {
		return Attributes{Severity: SeverityInfo}
	}
	attr := AttributesOf(e.code)
	attr.Message = e.message
	if e.override.retryable != nil {
		attr.Retryable = *e.override.retryable
	}
	if e.override.alert != nil {
		attr.Alert = *e.override.alert
	}
	if e.override.severity != nil {
		attr.Severity = *e.override.severity
	}
	if e.override.status > 0 {
		attr.Status = e.override.status
	}
	return attr
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool { return e.Attributes().Retryable }

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool { return e.Attributes().Alert }

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity { return e.Attributes().Severity }

// From 从错误链中取出统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// attributesOf 返回任意 error 的实际属性，非统一错误按 CodeUnknown 处理但不告警、不重试。
func attributesOf(err error) Attributes {
	if e, ok := From(err); ok {
		return e.Attributes()
	}
	return Attributes{Severity: AttributesOf(CodeUnknown).Severity}
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool { return attributesOf(err).Retryable }

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool { return attributesOf(err).Alert }

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity { return attributesOf(err).Severity }

// HTTPStatus 将错误映射为 HTTP 状态码，未注册状态的错误统一返回 500。
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if status := attributesOf(err).Status; status > 0 {
		return status
	}
	return http.StatusInternalServerError
}
