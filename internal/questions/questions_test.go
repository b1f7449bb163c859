package questions

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/curriculum"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

type promptLLM struct {
	mu      sync.Mutex
	prompts []string
	answers []string
}

func (p *promptLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	prompt := req.Messages[len(req.Messages)-1].Content
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	raw, _ := json.Marshal(Question{
		Question:      "Q for " + prompt,
		Answers:       p.answers,
		CorrectAnswer: "A",
		Explanation:   "because",
	})
	return &llm.Response{Content: string(raw)}, nil
}

func cellsRequest() Request {
	return Request{
		Data: []curriculum.TopicSubtopics{{
			Topic:     "Cell theory",
			Subtopics: []string{"History", "Tenets"},
		}},
		Explanations: []curriculum.Explanation{{
			Topic: "Cell theory", Subtopic: "History", Explanation: "Hooke observed cork.",
		}},
	}
}

func TestGenerateProducesSixPerSubtopicInOrder(t *testing.T) {
	client := &promptLLM{answers: []string{"A", "B"}}
	svc := NewService(agent.NewRunner(client), 3)

	out, err := svc.Generate(context.Background(), cellsRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 12 {
		t.Fatalf("expected 12 questions, got %d", len(out))
	}
	wantOrder := []struct{ sub, diff, kind string }{
		{"History", DifficultyEasy, TypeMultipleChoice},
		{"History", DifficultyEasy, TypeOpenAnswer},
		{"History", DifficultyMedium, TypeMultipleChoice},
		{"History", DifficultyMedium, TypeOpenAnswer},
		{"History", DifficultyHard, TypeMultipleChoice},
		{"History", DifficultyHard, TypeOpenAnswer},
		{"Tenets", DifficultyEasy, TypeMultipleChoice},
	}
	for i, w := range wantOrder {
		q := out[i]
		if q.Subtopic != w.sub || q.Difficulty != w.diff || q.QuestionType != w.kind {
			t.Fatalf("unexpected question %d: %+v", i, q)
		}
	}
	open := out[1]
	if len(open.Answers) != 0 || open.Answers == nil || open.CorrectAnswer != "" {
		t.Fatalf("open answer not normalized: %+v", open)
	}
	if !strings.Contains(out[0].Question, "Explanation: Hooke observed cork.") {
		t.Fatalf("explanation missing from prompt: %q", out[0].Question)
	}
	if !strings.Contains(out[6].Question, "Explanation: \n") {
		t.Fatalf("missing explanation should be empty: %q", out[6].Question)
	}
}

func TestGenerateRejectsChoiceWithoutAnswers(t *testing.T) {
	svc := NewService(agent.NewRunner(&promptLLM{}), 1)

	_, err := svc.Generate(context.Background(), cellsRequest())
	if xerrors.CodeOf(err) != agent.CodeInvalidOutput {
		t.Fatalf("expected invalid output, got %v", err)
	}
}

func TestPrompt(t *testing.T) {
	got := Prompt("T", "S", "E", []string{"O1", "O2"}, DifficultyHard, TypeOpenAnswer)
	want := "Topic: T\nSubtopic: S\nExplanation: E\nOther Subtopics: O1, O2\nDifficulty: Hard\nQuestion Type: Open Answer"
	if got != want {
		t.Fatalf("unexpected prompt:\n%s", got)
	}
}
