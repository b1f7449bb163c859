package chat

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "ExoLab-Agents/internal/errors"
)

// Summary 是某个会话的摘要记忆：滚动摘要与尚未折叠的最近对话行。
type Summary struct {
	Text   string   `json:"summary"`
	Buffer []string `json:"buffer"`
}

// Render 返回摘要与缓冲行拼接后的文本。
func (s *Summary) Render() string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.Buffer)+1)
	if s.Text != "" {
		parts = append(parts, s.Text)
	}
	parts = append(parts, s.Buffer...)
	return strings.Join(parts, "\n")
}

// SummaryStore 保存每个会话的摘要记忆。
type SummaryStore interface {
	// Load 返回摘要及其是否存在。
	Load(ctx context.Context, sessionID string) (*Summary, bool, error)
	Save(ctx context.Context, sessionID string, summary *Summary) error
}

// MemorySummaryStore 是进程内的摘要存储。
type MemorySummaryStore struct {
	mu    sync.RWMutex
	items map[string]Summary
}

// NewMemorySummaryStore 创建内存摘要存储。
func NewMemorySummaryStore() *MemorySummaryStore {
	return &MemorySummaryStore{items: make(map[string]Summary)}
}

// Load 实现 SummaryStore。
func (s *MemorySummaryStore) Load(_ context.Context, sessionID string) (*Summary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[sessionID]
	if !ok {
		return nil, false, nil
	}
	item.Buffer = append([]string{}, item.Buffer...)
	return &item, true, nil
}

// Save 实现 SummaryStore。
func (s *MemorySummaryStore) Save(_ context.Context, sessionID string, summary *Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := *summary
	item.Buffer = append([]string{}, summary.Buffer...)
	s.items[sessionID] = item
	return nil
}

// RedisSummaryStore 以 JSON 字符串保存摘要，可选过期时间。
type RedisSummaryStore struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisSummaryStore 创建 Redis 摘要存储，ttl<=0 表示永不过期。
func NewRedisSummaryStore(client goredis.Cmdable, prefix string, ttl time.Duration) *RedisSummaryStore {
	if prefix == "" {
		prefix = "exolab:chat:summary:"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisSummaryStore{client: client, prefix: prefix, ttl: ttl}
}

// Load 实现 SummaryStore。
func (s *RedisSummaryStore) Load(ctx context.Context, sessionID string) (*Summary, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+sessionID).Bytes()
	if stdErrors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话摘要失败")
	}
	var summary Summary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话摘要失败")
	}
	return &summary, true, nil
}

// Save 实现 SummaryStore。
func (s *RedisSummaryStore) Save(ctx context.Context, sessionID string, summary *Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话摘要失败")
	}
	if err := s.client.Set(ctx, s.prefix+sessionID, payload, s.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话摘要失败")
	}
	return nil
}
