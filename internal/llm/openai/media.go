package openai

import (
	"context"
	"strings"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

// Embed 调用 Embeddings 接口，返回第一条输入的向量。
func (c *Client) Embed(ctx context.Context, model, input string) ([]float64, error) {
	if strings.TrimSpace(input) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "待向量化文本不能为空")
	}
	body := map[string]any{"model": model, "input": input}

	var decoded struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Data) == 0 || len(decoded.Data[0].Embedding) == 0 {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 未返回向量")
	}
	return decoded.Data[0].Embedding, nil
}

// GenerateImage 调用图像生成接口并返回第一张图片的 URL。
func (c *Client) GenerateImage(ctx context.Context, req llm.ImageRequest) (string, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}
	body := map[string]any{
		"model":  req.Model,
		"prompt": req.Prompt,
		"n":      n,
	}
	if req.Size != "" {
		body["size"] = req.Size
	}

	var decoded struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/images/generations", body, &decoded); err != nil {
		return "", err
	}
	if len(decoded.Data) == 0 || decoded.Data[0].URL == "" {
		return "", xerrors.New(xerrors.CodeUpstreamFailure, "OpenAI 未返回图片地址")
	}
	return decoded.Data[0].URL, nil
}
