package chat

import (
	"encoding/json"
	"fmt"

	"ExoLab-Agents/internal/llm"
)

// MessageType 是历史消息的类型，取值与 LangChain 序列化格式一致。
type MessageType string

const (
	TypeSystem MessageType = "system"
	TypeHuman  MessageType = "human"
	TypeAI     MessageType = "ai"
)

// Message 是会话历史中的一条消息。
type Message struct {
	Type    MessageType
	Content string
}

// SystemMessage 创建系统消息。
func SystemMessage(content string) Message { return Message{Type: TypeSystem, Content: content} }

// HumanMessage 创建用户消息。
func HumanMessage(content string) Message { return Message{Type: TypeHuman, Content: content} }

// AIMessage 创建模型回复。
func AIMessage(content string) Message { return Message{Type: TypeAI, Content: content} }

// Role 返回对外展示的角色：system、user、agent。
func (m Message) Role() string {
	switch m.Type {
	case TypeSystem:
		return "system"
	case TypeHuman:
		return "user"
	case TypeAI:
		return "agent"
	default:
		return "unknown"
	}
}

// Prefix 返回扁平化上下文时的行前缀。
func (m Message) Prefix() string {
	switch m.Type {
	case TypeSystem:
		return "System"
	case TypeHuman:
		return "Human"
	case TypeAI:
		return "AI"
	default:
		return string(m.Type)
	}
}

func (m Message) toLLM() llm.Message {
	role := llm.RoleUser
	switch m.Type {
	case TypeSystem:
		role = llm.RoleSystem
	case TypeAI:
		role = llm.RoleAssistant
	}
	return llm.Message{Role: role, Content: m.Content}
}

type storedMessage struct {
	Type MessageType `json:"type"`
	Data struct {
		Content string      `json:"content"`
		Type    MessageType `json:"type"`
	} `json:"data"`
}

// MarshalJSON 输出 {"type": ..., "data": {"content": ..., "type": ...}}。
func (m Message) MarshalJSON() ([]byte, error) {
	var stored storedMessage
	stored.Type = m.Type
	stored.Data.Content = m.Content
	stored.Data.Type = m.Type
	return json.Marshal(stored)
}

// UnmarshalJSON 解析 MarshalJSON 的输出。
func (m *Message) UnmarshalJSON(data []byte) error {
	var stored storedMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	switch stored.Type {
	case TypeSystem, TypeHuman, TypeAI:
	default:
		return fmt.Errorf("未知的消息类型: %q", stored.Type)
	}
	m.Type = stored.Type
	m.Content = stored.Data.Content
	return nil
}
