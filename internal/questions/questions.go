// Package questions 按难度与题型为每个子主题生成练习题。
package questions

import (
	"context"
	"fmt"
	"strings"

	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/curriculum"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

// 题目难度
const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// 题目类型
const (
	TypeMultipleChoice = "Multiple Choice"
	TypeOpenAnswer     = "Open Answer"
)

// Difficulties 与 Types 决定每个子主题生成题目的顺序。
var (
	Difficulties = []string{DifficultyEasy, DifficultyMedium, DifficultyHard}
	Types        = []string{TypeMultipleChoice, TypeOpenAnswer}
)

// Question 是生成的一道题目。
type Question struct {
	Topic        string   `json:"topic"`
	Subtopic     string   `json:"subtopic"`
	Difficulty   string   `json:"difficulty"`
	QuestionType string   `json:"question_type"`
	Question     string   `json:"question"`
	Answers      []string `json:"answers"`
	// CorrectAnswer 对开放题为空字符串。
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation"`
}

// Request 是题目生成的输入。
type Request struct {
	Data         []curriculum.TopicSubtopics `json:"data"`
	Explanations []curriculum.Explanation    `json:"explanations"`
}

// GeneratorAgent 生成单道题目。
var GeneratorAgent = agent.WithOutput[Question](agent.Agent{
	Name:        "Question Generator",
	Model:       "gpt-4o",
	Temperature: llm.Temperature(0.7),
	Instructions: `Write a detailed question on the given subtopic in Markdown format.

The question should be designed for the provided difficulty level (Easy, Medium, or Hard) and question type (Multiple Choice or Open Answer).

If question_type is "Multiple Choice":
- Provide a list of possible answers (e.g., "A. ...", "B. ...", etc.) in a JSON array as "answers".
- Identify the correct answer in "correct_answer" (matching one of the provided options).
- Include an explanation in "explanation".

If question_type is "Open Answer":
- The "answers" array must be empty (i.e., []).
- The "correct_answer" field must be an empty string.
- Still provide an "explanation" field.

Focus solely on the given subtopic and use the provided explanation as context. Do not mention other subtopics.

Output the result as valid JSON with the following keys:
"topic", "subtopic", "difficulty", "question_type", "question", "answers", "correct_answer", "explanation".`,
}, "question")

// Service 负责题目生成。
type Service struct {
	runner      *agent.Runner
	concurrency int
}

// NewService 创建题目服务，concurrency<=0 表示不限制并发。
func NewService(runner *agent.Runner, concurrency int) *Service {
	return &Service{runner: runner, concurrency: concurrency}
}

type slot struct {
	topic       string
	subtopic    string
	others      []string
	explanation string
	difficulty  string
	kind        string
}

// Generate 为每个子主题生成 难度×题型 道题目，顺序为 子主题→难度→题型。
func (s *Service) Generate(ctx context.Context, req Request) ([]Question, error) {
	explanations := make(map[[2]string]string, len(req.Explanations))
	for _, e := range req.Explanations {
		explanations[[2]string{e.Topic, e.Subtopic}] = e.Explanation
	}

	var slots []slot
	for _, item := range req.Data {
		for i, sub := range item.Subtopics {
			others := make([]string, 0, len(item.Subtopics)-1)
			others = append(others, item.Subtopics[:i]...)
			others = append(others, item.Subtopics[i+1:]...)
			for _, difficulty := range Difficulties {
				for _, kind := range Types {
					slots = append(slots, slot{
						topic:       item.Topic,
						subtopic:    sub,
						others:      others,
						explanation: explanations[[2]string{item.Topic, sub}],
						difficulty:  difficulty,
						kind:        kind,
					})
				}
			}
		}
	}

	return agent.Map(ctx, s.concurrency, slots, s.generateOne)
}

func (s *Service) generateOne(ctx context.Context, in slot) (Question, error) {
	q, err := agent.RunStructured[Question](ctx, s.runner, GeneratorAgent, Prompt(in.topic, in.subtopic, in.explanation, in.others, in.difficulty, in.kind))
	if err != nil {
		return Question{}, err
	}
	q.Topic, q.Subtopic, q.Difficulty, q.QuestionType = in.topic, in.subtopic, in.difficulty, in.kind
	return normalize(q)
}

// normalize 校正题型约束：开放题没有选项与标准答案，选择题必须有选项。
func normalize(q Question) (Question, error) {
	switch q.QuestionType {
	case TypeOpenAnswer:
		q.Answers = []string{}
		q.CorrectAnswer = ""
	case TypeMultipleChoice:
		if len(q.Answers) == 0 {
			return Question{}, xerrors.New(agent.CodeInvalidOutput,
				fmt.Sprintf("选择题缺少选项: %s / %s", q.Subtopic, q.Difficulty))
		}
	}
	return q, nil
}

// Prompt 构造单道题目的输入文本。
func Prompt(topic, subtopic, explanation string, others []string, difficulty, kind string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	fmt.Fprintf(&b, "Subtopic: %s\n", subtopic)
	fmt.Fprintf(&b, "Explanation: %s\n", explanation)
	fmt.Fprintf(&b, "Other Subtopics: %s\n", strings.Join(others, ", "))
	fmt.Fprintf(&b, "Difficulty: %s\n", difficulty)
	fmt.Fprintf(&b, "Question Type: %s", kind)
	return b.String()
}
