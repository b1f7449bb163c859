package openai

import (
	"context"
	"strings"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

type chatMessage struct {
	Role       string         `json:"role"`
	Content    *string        `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    *float64      `json:"temperature,omitempty"`
	Tools          []chatTool    `json:"tools,omitempty"`
	ResponseFormat any           `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) generateWithChat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    toChatMessages(req.Messages),
		Temperature: req.Temperature,
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if req.Format != nil {
		body.ResponseFormat = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   req.Format.Name,
				"schema": req.Format.Schema,
			},
		}
	}

	var decoded chatResponse
	if err := c.post(ctx, "/chat/completions", body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应中没有有效的 choices")
	}

	msg := decoded.Choices[0].Message
	resp := &llm.Response{
		Model: decoded.Model,
		Usage: llm.Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
		},
	}
	if msg.Content != nil {
		resp.Content = strings.TrimSpace(*msg.Content)
	}
	for _, call := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	if resp.Content == "" && len(resp.ToolCalls) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 响应内容为空")
	}
	return resp, nil
}

func toChatMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		cm := chatMessage{Role: string(m.Role), Content: &content, ToolCallID: m.ToolCallID}
		if len(m.ToolCalls) > 0 {
			if content == "" {
				cm.Content = nil
			}
			for _, call := range m.ToolCalls {
				tc := chatToolCall{ID: call.ID, Type: "function"}
				tc.Function.Name = call.Name
				tc.Function.Arguments = call.Arguments
				cm.ToolCalls = append(cm.ToolCalls, tc)
			}
		}
		out = append(out, cm)
	}
	return out
}
