package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
)

// Config 描述了调用 OpenAI 接口所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// HTTPClient 允许替换底层传输，例如挂载 otelhttp。
	HTTPClient *http.Client
}

// Client 通过 HTTP 调用 OpenAI 的对话、Responses、Embeddings 与图像接口。
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Generate 调用模型。启用联网搜索时走 Responses 接口，否则走 Chat Completions。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定模型")
	}
	if req.WebSearch {
		return c.generateWithResponses(ctx, req)
	}
	return c.generateWithChat(ctx, req)
}

// post 发送 JSON 请求并将响应解码到 out。
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 OpenAI 响应失败")
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	message := fmt.Sprintf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return xerrors.New(xerrors.CodeRateLimited, message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeUpstreamFailure, message)
	default:
		// 4xx 通常是请求本身的问题，重试没有意义。
		return xerrors.New(xerrors.CodeUpstreamFailure, message, xerrors.WithRetryable(false))
	}
}
