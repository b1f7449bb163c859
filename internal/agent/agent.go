package agent

import (
	"context"
	"encoding/json"
	"net/http"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"

	"golang.org/x/time/rate"
)

// CodeInvalidOutput 表示模型输出无法解析为约定的结构。
const CodeInvalidOutput xerrors.Code = "AGENT_INVALID_OUTPUT"

// CodeToolLoopExceeded 表示工具调用轮数超过上限仍未得到最终回答。
const CodeToolLoopExceeded xerrors.Code = "AGENT_TOOL_LOOP_EXCEEDED"

func init() {
	xerrors.Register(CodeInvalidOutput, xerrors.Attributes{
		Message:   "agent returned malformed output",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Status:    http.StatusInternalServerError,
	})
	xerrors.Register(CodeToolLoopExceeded, xerrors.Attributes{
		Message:  "agent exceeded tool step limit",
		Severity: xerrors.SeverityWarning,
		Status:   http.StatusInternalServerError,
	})
}

// Output 描述智能体的结构化输出约束。
type Output struct {
	Name   string
	Schema map[string]any
}

// ToolFunc 执行一次工具调用，arguments 为模型给出的 JSON 参数。
type ToolFunc func(ctx context.Context, arguments json.RawMessage) (string, error)

// Tool 是智能体可调用的函数。
type Tool struct {
	Name        string
	Description string
	// Parameters 是参数的 JSON Schema。
	Parameters map[string]any
	Call       ToolFunc
}

// Agent 是一次模型调用的静态定义：名称、模型、提示词与输出约束。
type Agent struct {
	Name  string
	Model string
	// Temperature 为空时使用模型默认值。
	Temperature  *float64
	Instructions string
	Output       *Output
	WebSearch    bool
	Tools        []Tool
	// Limiter 非空时每次运行前需要取得令牌。
	Limiter *rate.Limiter
}

// WithOutput 返回带有结构化输出约束的副本，Schema 由 T 推导。
func WithOutput[T any](a Agent, name string) Agent {
	a.Output = &Output{Name: name, Schema: MustSchemaFor[T]()}
	return a
}

func (a Agent) request(messages []llm.Message) llm.Request {
	req := llm.Request{
		Model:       a.Model,
		Temperature: a.Temperature,
		Messages:    messages,
		WebSearch:   a.WebSearch,
	}
	if a.Output != nil {
		req.Format = &llm.ResponseFormat{Name: a.Output.Name, Schema: a.Output.Schema}
	}
	for _, tool := range a.Tools {
		req.Tools = append(req.Tools, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return req
}

func (a Agent) initialMessages(input string) []llm.Message {
	messages := make([]llm.Message, 0, 2)
	if a.Instructions != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: a.Instructions})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: input})
}

func (a Agent) tool(name string) (Tool, bool) {
	for _, tool := range a.Tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}
