package openai

import (
	"context"
	"strings"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model       string           `json:"model"`
	Input       []responsesInput `json:"input"`
	Temperature *float64         `json:"temperature,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Text        map[string]any   `json:"text,omitempty"`
}

type responsesResponse struct {
	Model  string `json:"model"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// generateWithResponses 使用 Responses 接口并挂载 web_search_preview 工具。
func (c *Client) generateWithResponses(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := responsesRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Tools:       []map[string]any{{"type": "web_search_preview"}},
	}
	for _, m := range req.Messages {
		if m.Role == llm.RoleTool {
			continue
		}
		body.Input = append(body.Input, responsesInput{Role: string(m.Role), Content: m.Content})
	}
	if req.Format != nil {
		body.Text = map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   req.Format.Name,
				"schema": req.Format.Schema,
			},
		}
	}

	var decoded responsesResponse
	if err := c.post(ctx, "/responses", body, &decoded); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, item := range decoded.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI Responses 响应内容为空")
	}
	return &llm.Response{
		Model:   decoded.Model,
		Content: content,
		Usage: llm.Usage{
			PromptTokens:     decoded.Usage.InputTokens,
			CompletionTokens: decoded.Usage.OutputTokens,
		},
	}, nil
}
