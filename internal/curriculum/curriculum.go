package curriculum

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ExoLab-Agents/internal/agent"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"
)

type topicsOutput struct {
	Topics []string `json:"topics"`
}

// TopicSubtopics 是一个主题及其子主题。
type TopicSubtopics struct {
	Topic     string   `json:"topic"`
	Subtopics []string `json:"subtopics"`
}

// Explanation 是某个子主题的讲解。
type Explanation struct {
	Topic       string `json:"topic"`
	Subtopic    string `json:"subtopic"`
	Explanation string `json:"explanation"`
}

// BookTOC 是书籍目录。
type BookTOC struct {
	Book            string   `json:"book"`
	TableOfContents []string `json:"table_of_contents"`
}

// CourseContent 汇总课程安排中的主题、简介与读物。
type CourseContent struct {
	Topics           []string `json:"topics"`
	Description      string   `json:"description"`
	ReadingMaterials []string `json:"reading_materials"`
}

// Service 负责课程内容相关的智能体调用。
type Service struct {
	runner      *agent.Runner
	concurrency int
}

// Option 定义可选配置。
type Option func(*Service)

// WithConcurrency 限制并行调用模型的数量。
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService 创建课程服务。
func NewService(runner *agent.Runner, opts ...Option) *Service {
	s := &Service{runner: runner}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ExtractTopics 从课程安排文本中抽取讲座主题。
func (s *Service) ExtractTopics(ctx context.Context, content string) ([]string, error) {
	if strings.TrimSpace(content) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "content 不能为空")
	}
	out, err := agent.RunStructured[topicsOutput](ctx, s.runner, TopicsAgent, content)
	if err != nil {
		return nil, err
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	return out.Topics, nil
}

// ExtractSubtopics 并行为每个主题抽取子主题，输出顺序与输入一致。
func (s *Service) ExtractSubtopics(ctx context.Context, topics []string) ([]TopicSubtopics, error) {
	results, err := agent.Map(ctx, s.concurrency, topics, func(ctx context.Context, topic string) (TopicSubtopics, error) {
		out, err := agent.RunStructured[TopicSubtopics](ctx, s.runner, SubtopicsAgent, topic)
		if err != nil {
			return TopicSubtopics{}, err
		}
		if out.Subtopics == nil {
			out.Subtopics = []string{}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	logger.Named("curriculum").Debug("子主题抽取完成", slog.Int("topics", len(topics)))
	return results, nil
}

type explanationInput struct {
	topic    string
	subtopic string
	others   []string
}

// GenerateExplanations 为每个 (主题, 子主题) 生成讲解，顺序为输入的嵌套顺序。
func (s *Service) GenerateExplanations(ctx context.Context, items []TopicSubtopics) ([]Explanation, error) {
	var inputs []explanationInput
	for _, item := range items {
		for i, sub := range item.Subtopics {
			others := make([]string, 0, len(item.Subtopics)-1)
			others = append(others, item.Subtopics[:i]...)
			others = append(others, item.Subtopics[i+1:]...)
			inputs = append(inputs, explanationInput{topic: item.Topic, subtopic: sub, others: others})
		}
	}
	return agent.Map(ctx, s.concurrency, inputs, func(ctx context.Context, in explanationInput) (Explanation, error) {
		out, err := agent.RunStructured[Explanation](ctx, s.runner, ExplanationsAgent, ExplanationPrompt(in.topic, in.subtopic, in.others))
		if err != nil {
			return Explanation{}, err
		}
		out.Topic = in.topic
		out.Subtopic = in.subtopic
		return out, nil
	})
}

// ExplanationPrompt 构造讲解请求的输入文本。
func ExplanationPrompt(topic, subtopic string, others []string) string {
	return fmt.Sprintf("Topic: %s\nSubtopic: %s\nOther Subtopics: %s", topic, subtopic, strings.Join(others, ", "))
}

// FindTableOfContents 联网搜索书籍目录。
func (s *Service) FindTableOfContents(ctx context.Context, title string) (BookTOC, error) {
	if strings.TrimSpace(title) == "" {
		return BookTOC{}, xerrors.New(xerrors.CodeInvalidArgument, "title 不能为空")
	}
	out, err := agent.RunStructured[BookTOC](ctx, s.runner, BookTOCAgent, title)
	if err != nil {
		return BookTOC{}, err
	}
	if out.TableOfContents == nil {
		out.TableOfContents = []string{}
	}
	return out, nil
}

// ExtractCourse 抽取课程主题、简介与参考读物。
func (s *Service) ExtractCourse(ctx context.Context, content string) (CourseContent, error) {
	if strings.TrimSpace(content) == "" {
		return CourseContent{}, xerrors.New(xerrors.CodeInvalidArgument, "content 不能为空")
	}
	out, err := agent.RunStructured[CourseContent](ctx, s.runner, CourseAgent, content)
	if err != nil {
		return CourseContent{}, err
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	if out.ReadingMaterials == nil {
		out.ReadingMaterials = []string{}
	}
	return out, nil
}
