package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/llm"
)

// DefaultMaxTokenLimit 是缓冲区的默认 token 上限。
const DefaultMaxTokenLimit = 2000

// SummarizerAgent 将被挤出缓冲区的对话行折叠进滚动摘要。
var SummarizerAgent = agent.Agent{
	Name:        "Conversation Summarizer",
	Model:       "gpt-4o",
	Temperature: llm.Temperature(0),
}

const summaryPrompt = `Progressively summarize the lines of conversation provided, adding onto the previous summary returning a new summary.

EXAMPLE
Current summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good.

New lines of conversation:
Human: Why do you think artificial intelligence is a force for good?
AI: Because artificial intelligence will help humans reach their full potential.

New summary:
The human asks what the AI thinks of artificial intelligence. The AI thinks artificial intelligence is a force for good because it will help humans reach their full potential.
END OF EXAMPLE

Current summary:
%s

New lines of conversation:
%s

New summary:`

// SummaryMemory 实现摘要缓冲记忆：保留最近的对话行，超出 token 上限时把最早的行交给模型总结。
type SummaryMemory struct {
	store     SummaryStore
	runner    *agent.Runner
	maxTokens int
}

// NewSummaryMemory 创建摘要记忆，maxTokens<=0 时使用 DefaultMaxTokenLimit。
func NewSummaryMemory(store SummaryStore, runner *agent.Runner, maxTokens int) *SummaryMemory {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokenLimit
	}
	return &SummaryMemory{store: store, runner: runner, maxTokens: maxTokens}
}

// Load 返回会话的摘要记忆及其是否存在。
func (m *SummaryMemory) Load(ctx context.Context, sessionID string) (*Summary, bool, error) {
	return m.store.Load(ctx, sessionID)
}

// Ensure 在会话尚无摘要记忆时创建一份空记忆。
func (m *SummaryMemory) Ensure(ctx context.Context, sessionID string) error {
	_, ok, err := m.store.Load(ctx, sessionID)
	if err != nil || ok {
		return err
	}
	return m.store.Save(ctx, sessionID, &Summary{Buffer: []string{}})
}

// SaveContext 记录一轮对话，必要时折叠最早的缓冲行。
func (m *SummaryMemory) SaveContext(ctx context.Context, sessionID, input, output string) error {
	summary, ok, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		summary = &Summary{}
	}
	summary.Buffer = append(summary.Buffer, "Human: "+input, "AI: "+output)

	var pruned []string
	for len(summary.Buffer) > 0 && estimateTokens(summary.Buffer) > m.maxTokens {
		pruned = append(pruned, summary.Buffer[0])
		summary.Buffer = summary.Buffer[1:]
	}
	if len(pruned) > 0 {
		text, err := m.runner.Run(ctx, SummarizerAgent,
			fmt.Sprintf(summaryPrompt, summary.Text, strings.Join(pruned, "\n")))
		if err != nil {
			return err
		}
		summary.Text = strings.TrimSpace(text)
	}
	return m.store.Save(ctx, sessionID, summary)
}

// estimateTokens 按每 4 个字符约 1 个 token 估算。
func estimateTokens(lines []string) int {
	total := 0
	for _, line := range lines {
		total += (utf8.RuneCountInString(line) + 3) / 4
	}
	return total
}
