package llm

import "context"

// Role 标识消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是对话中的一条消息。
type Message struct {
	Role    Role
	Content string
	// ToolCalls 仅在助手请求调用工具时出现。
	ToolCalls []ToolCall
	// ToolCallID 仅用于 RoleTool，指向被回答的工具调用。
	ToolCallID string
}

// ToolCall 描述模型发起的一次函数调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition 描述可供模型调用的函数，Parameters 为 JSON Schema。
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ResponseFormat 要求模型输出符合 Schema 的 JSON 对象。
type ResponseFormat struct {
	Name   string
	Schema map[string]any
}

// Request 描述一次模型调用。
type Request struct {
	Model string
	// Temperature 为空时不下发，推理模型不接受该参数。
	Temperature *float64
	Messages    []Message
	Tools       []ToolDefinition
	Format      *ResponseFormat
	// WebSearch 启用服务端联网搜索工具。
	WebSearch bool
}

// Usage 统计本次调用消耗的 token。
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Response 是模型的一次输出。
type Response struct {
	Model     string
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Embedder 将文本转换为向量。
type Embedder interface {
	Embed(ctx context.Context, model, input string) ([]float64, error)
}

// ImageRequest 描述一次图像生成。
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	N      int
}

// ImageGenerator 根据提示词生成图像并返回其 URL。
type ImageGenerator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (string, error)
}

// Temperature 返回指向 v 的指针，便于构造 Request。
func Temperature(v float64) *float64 {
	return &v
}
