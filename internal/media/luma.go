package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"
)

// CodeGenerationFailed 表示 Luma 报告生成失败。
const CodeGenerationFailed xerrors.Code = "VIDEO_GENERATION_FAILED"

func init() {
	xerrors.Register(CodeGenerationFailed, xerrors.Attributes{
		Message:  "video generation failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
		Status:   http.StatusInternalServerError,
	})
}

const defaultLumaBaseURL = "https://api.lumalabs.ai/dream-machine/v1"

// Generation 状态
const (
	StateQueued    = "queued"
	StateDreaming  = "dreaming"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// VideoRequest 是视频生成参数。
type VideoRequest struct {
	Prompt     string `json:"prompt"`
	Model      string `json:"model"`
	Resolution string `json:"resolution"`
	Duration   string `json:"duration"`
	Loop       bool   `json:"loop"`
}

// WithDefaults 为未填写的字段补上 ray-2、720p、5s。
func (r VideoRequest) WithDefaults() VideoRequest {
	if r.Model == "" {
		r.Model = "ray-2"
	}
	if r.Resolution == "" {
		r.Resolution = "720p"
	}
	if r.Duration == "" {
		r.Duration = "5s"
	}
	return r
}

// Generation 是 Luma 返回的生成记录。
type Generation struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

// LumaConfig 描述 Luma 客户端。
type LumaConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// LumaClient 调用 Luma Dream Machine 接口。
type LumaClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewLumaClient 创建客户端。
func NewLumaClient(cfg LumaConfig) *LumaClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultLumaBaseURL
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &LumaClient{apiKey: cfg.APIKey, baseURL: baseURL, pollInterval: interval, httpClient: client}
}

// Create 提交一次生成。
func (c *LumaClient) Create(ctx context.Context, req VideoRequest) (*Generation, error) {
	var gen Generation
	if err := c.do(ctx, http.MethodPost, "/generations", req, &gen); err != nil {
		return nil, err
	}
	return &gen, nil
}

// Get 查询生成状态。
func (c *LumaClient) Get(ctx context.Context, id string) (*Generation, error) {
	var gen Generation
	if err := c.do(ctx, http.MethodGet, "/generations/"+url.PathEscape(id), nil, &gen); err != nil {
		return nil, err
	}
	return &gen, nil
}

// Generate 提交生成并轮询直到完成，返回视频地址。
func (c *LumaClient) Generate(ctx context.Context, req VideoRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "prompt 不能为空")
	}
	if strings.TrimSpace(c.apiKey) == "" {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置 Luma API Key")
	}
	gen, err := c.Create(ctx, req.WithDefaults())
	if err != nil {
		return "", err
	}
	log := logger.Named("media").With(slog.String("generation_id", gen.ID))
	log.Info("视频生成已提交")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待视频生成超时")
		case <-ticker.C:
		}
		gen, err = c.Get(ctx, gen.ID)
		if err != nil {
			return "", err
		}
		switch gen.State {
		case StateCompleted:
			log.Info("视频生成完成")
			return gen.Assets.Video, nil
		case StateFailed:
			return "", xerrors.New(CodeGenerationFailed, "Generation failed: "+gen.FailureReason)
		}
	}
}

func (c *LumaClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化 Luma 请求失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构建 Luma 请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, ctxErr, "请求 Luma 超时")
		}
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "请求 Luma 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		message := fmt.Sprintf("Luma 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return xerrors.New(xerrors.CodeRateLimited, message)
		case resp.StatusCode >= http.StatusInternalServerError:
			return xerrors.New(xerrors.CodeUpstreamFailure, message)
		default:
			return xerrors.New(xerrors.CodeUpstreamFailure, message, xerrors.WithRetryable(false))
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析 Luma 响应失败")
	}
	return nil
}
