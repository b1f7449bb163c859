package chat

import (
	"context"
	"encoding/json"
	"sync"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/storage/database"
)

// HistoryStore 定义会话历史的持久化接口。
type HistoryStore interface {
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	Append(ctx context.Context, sessionID string, messages ...Message) error
}

// MemoryHistory 是进程内的会话历史。
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]Message
}

// NewMemoryHistory 创建内存历史。
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string][]Message)}
}

// Messages 返回会话消息的副本。
func (h *MemoryHistory) Messages(_ context.Context, sessionID string) ([]Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Message{}, h.sessions[sessionID]...), nil
}

// Append 追加消息。
func (h *MemoryHistory) Append(_ context.Context, sessionID string, messages ...Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[sessionID] = append(h.sessions[sessionID], messages...)
	return nil
}

// SQLHistory 将历史写入 chat_history 表。
type SQLHistory struct {
	db *database.DB
}

// NewSQLHistory 创建 SQL 历史，表结构由迁移脚本维护。
func NewSQLHistory(db *database.DB) *SQLHistory {
	return &SQLHistory{db: db}
}

// Messages 按写入顺序返回会话消息。
func (h *SQLHistory) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := h.db.QueryContext(ctx,
		h.db.Rebind(`SELECT message FROM chat_history WHERE session_id = ? ORDER BY id ASC`), sessionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话历史失败")
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话历史失败")
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话消息失败")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话历史失败")
	}
	return messages, nil
}

// Append 在一个事务内追加消息。
func (h *SQLHistory) Append(ctx context.Context, sessionID string, messages ...Message) error {
	if len(messages) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	insert := h.db.Rebind(`INSERT INTO chat_history (session_id, message) VALUES (?, ?)`)
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话消息失败")
		}
		if _, err := tx.ExecContext(ctx, insert, sessionID, string(payload)); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话历史失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交会话历史失败")
	}
	return nil
}
