// Package chat 实现持久化会话：历史存储、摘要缓冲记忆、两种回复流程，
// 以及基于 subtopics 表的向量检索与工具智能体。
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/embedding"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
	"ExoLab-Agents/pkg/logger"
)

// WelcomeMessage 是新会话的首条系统消息。
const WelcomeMessage = "Welcome to the chat!"

// DefaultRecentMessages 是附带摘要时保留的最近消息数。
const DefaultRecentMessages = 5

// DefaultTopN 是子主题检索的默认条数。
const DefaultTopN = 3

// ChatAgent 直接以消息列表回复 /chat 会话。
var ChatAgent = agent.Agent{
	Name:  "Chat",
	Model: "gpt-4o",
}

// AssistantAgent 以扁平化文本上下文回复 /newchat 会话。
var AssistantAgent = agent.Agent{
	Name:        "Chat Assistant",
	Model:       "gpt-4o",
	Temperature: llm.Temperature(0.7),
	Instructions: "You are a helpful assistant. Given the conversation context provided, " +
		"produce a clear and helpful reply to the latest user message.",
}

// SubtopicsAgentInstructions 是子主题检索智能体的提示词。
const SubtopicsAgentInstructions = `Answer the following questions as best you can.
Use SubtopicsQueryTool to look up subtopics related to the question before answering, and base your answer on the rows it returns.`

// Reply 是一次对话的结果。
type Reply struct {
	SessionID string   `json:"session_id"`
	Reply     string   `json:"reply"`
	History   []string `json:"history"`
}

// HistoryEntry 是对外展示的一条历史消息。
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Service 负责会话与子主题检索。
type Service struct {
	history   HistoryStore
	memory    *SummaryMemory
	runner    *agent.Runner
	vectors   *embedding.Service
	subtopics SubtopicIndex
	recent    int
	sessions  sessionLocks
}

// Option 定义可选配置。
type Option func(*Service)

// WithRecentMessages 设置附带摘要时保留的最近消息数。
func WithRecentMessages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recent = n
		}
	}
}

// WithSubtopicSearch 启用子主题检索。
func WithSubtopicSearch(vectors *embedding.Service, index SubtopicIndex) Option {
	return func(s *Service) {
		s.vectors = vectors
		s.subtopics = index
	}
}

// NewService 创建会话服务。
func NewService(runner *agent.Runner, history HistoryStore, memory *SummaryMemory, opts ...Option) *Service {
	s := &Service{
		history: history,
		memory:  memory,
		runner:  runner,
		recent:  DefaultRecentMessages,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// replyFunc 根据会话上下文生成回复。
type replyFunc func(ctx context.Context, conversation []Message, message string) (string, error)

// Create 新建 /chat 会话并回复首条消息。
func (s *Service) Create(ctx context.Context, message string) (*Reply, error) {
	return s.start(ctx, message, s.replyWithMessages)
}

// Send 在已有 /chat 会话中发送消息。
func (s *Service) Send(ctx context.Context, sessionID, message string) (*Reply, error) {
	return s.continueSession(ctx, sessionID, message, s.replyWithMessages)
}

// CreateNewChat 新建 /newchat 会话并回复首条消息。
func (s *Service) CreateNewChat(ctx context.Context, message string) (*Reply, error) {
	return s.start(ctx, message, s.replyWithAssistant)
}

// SendNewChat 在已有 /newchat 会话中发送消息。
func (s *Service) SendNewChat(ctx context.Context, sessionID, message string) (*Reply, error) {
	return s.continueSession(ctx, sessionID, message, s.replyWithAssistant)
}

// History 返回会话的全部消息。
func (s *Service) History(ctx context.Context, sessionID string) ([]HistoryEntry, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	messages, err := s.history.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, HistoryEntry{Role: m.Role(), Content: m.Content})
	}
	return entries, nil
}

func (s *Service) start(ctx context.Context, message string, reply replyFunc) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空")
	}
	sessionID := uuid.NewString()
	unlock := s.lock(sessionID)
	defer unlock()

	if err := s.memory.Ensure(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := s.history.Append(ctx, sessionID, SystemMessage(WelcomeMessage)); err != nil {
		return nil, err
	}
	logger.Audit().Info("会话已创建", slog.String("session_id", sessionID))
	return s.exchange(ctx, sessionID, message, reply)
}

func (s *Service) continueSession(ctx context.Context, sessionID, message string, reply replyFunc) (*Reply, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(message) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空")
	}
	unlock := s.lock(sessionID)
	defer unlock()

	if err := s.memory.Ensure(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.exchange(ctx, sessionID, message, reply)
}

// exchange 记录用户消息、生成回复并更新历史与摘要记忆。调用方持有会话锁。
func (s *Service) exchange(ctx context.Context, sessionID, message string, reply replyFunc) (*Reply, error) {
	if err := s.history.Append(ctx, sessionID, HumanMessage(message)); err != nil {
		return nil, err
	}
	conversation, err := s.conversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	answer, err := reply(ctx, conversation, message)
	if err != nil {
		return nil, err
	}
	if err := s.history.Append(ctx, sessionID, AIMessage(answer)); err != nil {
		return nil, err
	}
	if err := s.memory.SaveContext(ctx, sessionID, message, answer); err != nil {
		return nil, err
	}

	messages, err := s.history.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]string, 0, len(messages))
	for _, m := range messages {
		history = append(history, m.Content)
	}
	return &Reply{SessionID: sessionID, Reply: answer, History: history}, nil
}

// conversation 返回回复所用的上下文：有摘要时为摘要系统消息加最近几条消息，否则为完整历史。
func (s *Service) conversation(ctx context.Context, sessionID string) ([]Message, error) {
	messages, err := s.history.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	summary, ok, err := s.memory.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return messages, nil
	}
	if len(messages) > s.recent {
		messages = messages[len(messages)-s.recent:]
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, SystemMessage("Conversation Summary: "+summary.Render()))
	return append(out, messages...), nil
}

func (s *Service) replyWithMessages(ctx context.Context, conversation []Message, _ string) (string, error) {
	messages := make([]llm.Message, 0, len(conversation))
	for _, m := range conversation {
		messages = append(messages, m.toLLM())
	}
	return s.runner.Converse(ctx, ChatAgent, messages)
}

// replyWithAssistant 以扁平文本调用助手，末尾再附一行 "User: <message>"。
func (s *Service) replyWithAssistant(ctx context.Context, conversation []Message, message string) (string, error) {
	return s.runner.Run(ctx, AssistantAgent, FlattenConversation(conversation)+"\nUser: "+message)
}

// FlattenConversation 将上下文转为 "System: ..." / "Human: ..." / "AI: ..." 文本行。
func FlattenConversation(conversation []Message) string {
	lines := make([]string, 0, len(conversation))
	for _, m := range conversation {
		lines = append(lines, m.Prefix()+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// QuerySubtopics 检索与查询最相似的子主题。
func (s *Service) QuerySubtopics(ctx context.Context, query string, topN int) ([]Subtopic, error) {
	if s.subtopics == nil || s.vectors == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置子主题检索")
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	vector, err := s.vectors.Vectorize(ctx, query)
	if err != nil {
		return nil, err
	}
	return s.subtopics.Search(ctx, vector, topN)
}

// QuerySubtopicsAgent 让带 SubtopicsQueryTool 的智能体回答问题。
func (s *Service) QuerySubtopicsAgent(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "query 不能为空")
	}
	return s.runner.RunWithTools(ctx, s.subtopicsAgent(), query)
}

func (s *Service) subtopicsAgent() agent.Agent {
	return agent.Agent{
		Name:         "Subtopics Assistant",
		Model:        "gpt-4o",
		Instructions: SubtopicsAgentInstructions,
		Tools: []agent.Tool{{
			Name: "SubtopicsQueryTool",
			Description: "Useful for querying the subtopics table to find similar subtopics based on a natural language query. " +
				"Input should be a query string, and it returns the query results as a string.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required":             []string{"query"},
				"additionalProperties": false,
			},
			Call: func(ctx context.Context, arguments json.RawMessage) (string, error) {
				var in struct {
					Query string `json:"query"`
				}
				if err := json.Unmarshal(arguments, &in); err != nil {
					return "", err
				}
				rows, err := s.QuerySubtopics(ctx, in.Query, DefaultTopN)
				if err != nil {
					return "", err
				}
				out, err := json.Marshal(rows)
				return string(out), err
			},
		}},
	}
}

func (s *Service) lock(sessionID string) func() {
	return s.sessions.lock(sessionID)
}

// sessionLocks 为每个会话提供独立的互斥锁，同一会话的交互串行，不同会话互不阻塞。
// 没有持有者的锁会被移除。
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sync.Mutex
	refs int
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sessionLock)
	}
	entry, ok := l.locks[id]
	if !ok {
		entry = &sessionLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		if entry.refs--; entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func validateSessionID(sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "session_id 必须是 UUID")
	}
	return nil
}
