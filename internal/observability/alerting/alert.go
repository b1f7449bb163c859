package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	JobID      string
	JobKind    string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 将告警写入审计日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 记录告警。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("job_id", event.JobID),
		slog.String("job_kind", event.JobKind),
		slog.Int("attempts", event.Attempts),
		slog.Int("max_retries", event.MaxRetries),
		slog.String("message", event.Message),
	}
	for _, k := range sortedKeys(event.Metadata) {
		attrs = append(attrs, slog.String("meta_"+k, event.Metadata[k]))
	}
	if event.Severity == xerrors.SeverityCritical {
		l.Error("alert", attrs...)
	} else {
		l.Warn("alert", attrs...)
	}
	return nil
}

// WebhookNotifier 以 Slack incoming webhook 兼容的 {"text": ...} 格式推送告警。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 发送 webhook 消息。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("job_id", event.JobID))
		return nil
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	payload, err := json.Marshal(map[string]string{"text": formatText(event)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警 webhook 返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func formatText(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*[%s]* %s - %s\n任务: %s (%s) 重试 %d/%d\n时间: %s",
		event.Severity, event.Code, event.Message,
		event.JobID, event.JobKind, event.Attempts, event.MaxRetries,
		event.OccurredAt.Format(time.RFC3339))
	for _, k := range sortedKeys(event.Metadata) {
		fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
