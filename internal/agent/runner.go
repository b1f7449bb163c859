package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
	"ExoLab-Agents/internal/observability/metrics"
	"ExoLab-Agents/internal/observability/tracing"
	"ExoLab-Agents/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// defaultMaxSteps 是工具循环的默认最大轮数。
const defaultMaxSteps = 6

// Runner 负责执行智能体并统一处理超时、限流、指标与追踪。
type Runner struct {
	client   llm.Client
	timeout  time.Duration
	maxSteps int
}

// Option 定义可选的 Runner 配置。
type Option func(*Runner)

// WithTimeout 设置单次运行的超时时间，<=0 表示不限制。
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout < 0 {
			timeout = 0
		}
		r.timeout = timeout
	}
}

// WithMaxSteps 设置工具循环的最大轮数。
func WithMaxSteps(steps int) Option {
	return func(r *Runner) {
		if steps > 0 {
			r.maxSteps = steps
		}
	}
}

// NewRunner 创建 Runner。
func NewRunner(client llm.Client, opts ...Option) *Runner {
	r := &Runner{client: client, maxSteps: defaultMaxSteps}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run 执行智能体并返回文本输出。
func (r *Runner) Run(ctx context.Context, a Agent, input string) (string, error) {
	var content string
	err := r.observe(ctx, a, func(ctx context.Context) error {
		resp, err := r.generate(ctx, a, a.initialMessages(input))
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	})
	return content, err
}

// Converse 以完整的对话消息调用模型，Instructions 非空时作为首条系统消息。
func (r *Runner) Converse(ctx context.Context, a Agent, messages []llm.Message) (string, error) {
	if a.Instructions != "" {
		messages = append([]llm.Message{{Role: llm.RoleSystem, Content: a.Instructions}}, messages...)
	}
	var content string
	err := r.observe(ctx, a, func(ctx context.Context) error {
		resp, err := r.generate(ctx, a, messages)
		if err != nil {
			return err
		}
		content = resp.Content
		return nil
	})
	return content, err
}

// RunStructured 执行智能体并将 JSON 输出解码为 T。未设置 Output 时按 T 推导 Schema。
func RunStructured[T any](ctx context.Context, r *Runner, a Agent, input string) (T, error) {
	var out T
	if a.Output == nil {
		a = WithOutput[T](a, schemaName(a.Name))
	}
	content, err := r.Run(ctx, a, input)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(stripFence(content)), &out); err != nil {
		return out, xerrors.Wrap(CodeInvalidOutput, err, fmt.Sprintf("%s 输出不是合法的 JSON", a.Name))
	}
	return out, nil
}

// RunWithTools 执行带工具的推理循环，直到模型给出最终文本或超过轮数上限。
func (r *Runner) RunWithTools(ctx context.Context, a Agent, input string) (string, error) {
	var answer string
	err := r.observe(ctx, a, func(ctx context.Context) error {
		messages := a.initialMessages(input)
		for step := 0; step < r.maxSteps; step++ {
			resp, err := r.generate(ctx, a, messages)
			if err != nil {
				return err
			}
			if len(resp.ToolCalls) == 0 {
				answer = resp.Content
				return nil
			}
			messages = append(messages, llm.Message{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				messages = append(messages, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: call.ID,
					Content:    r.callTool(ctx, a, call),
				})
			}
		}
		return xerrors.New(CodeToolLoopExceeded, fmt.Sprintf("%s 在 %d 轮内未给出最终回答", a.Name, r.maxSteps))
	})
	return answer, err
}

func (r *Runner) callTool(ctx context.Context, a Agent, call llm.ToolCall) string {
	tool, ok := a.tool(call.Name)
	if !ok || tool.Call == nil {
		return fmt.Sprintf("error: unknown tool %q", call.Name)
	}
	args := json.RawMessage(call.Arguments)
	if len(strings.TrimSpace(call.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := tool.Call(ctx, args)
	if err != nil {
		logger.Named("agent").Warn("工具调用失败",
			slog.String("agent", a.Name),
			slog.String("tool", call.Name),
			slog.Any("error", err))
		return "error: " + err.Error()
	}
	return result
}

func (r *Runner) generate(ctx context.Context, a Agent, messages []llm.Message) (*llm.Response, error) {
	resp, err := r.client.Generate(ctx, a.request(messages))
	if err != nil {
		return nil, err
	}
	metrics.ObserveTokens(a.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// observe 包裹一次运行：限流、超时、span、指标以及错误归一。
func (r *Runner) observe(ctx context.Context, a Agent, fn func(context.Context) error) error {
	if r == nil || r.client == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}

	ctx, span := tracing.Tracer().Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.name", a.Name),
		attribute.String("agent.model", a.Model),
	))
	defer span.End()

	start := time.Now()
	err := r.execute(ctx, a, fn)
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ObserveAgentRun(a.Name, a.Model, outcome, time.Since(start))
	return err
}

func (r *Runner) execute(ctx context.Context, a Agent, fn func(context.Context) error) error {
	if a.Limiter != nil {
		if err := a.Limiter.Wait(ctx); err != nil {
			return xerrors.Wrap(xerrors.CodeRateLimited, err, fmt.Sprintf("%s 请求过于频繁", a.Name))
		}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("%s 推理超时", a.Name))
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeExecutorFailure, err, fmt.Sprintf("%s 推理失败", a.Name))
}

// stripFence 去掉模型偶尔包裹在 JSON 外层的 Markdown 代码块。
func stripFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[idx+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}

func schemaName(agentName string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(agentName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "output"
	}
	return name
}
