package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"ExoLab-Agents/internal/agent"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

type funcLLM struct {
	mu    sync.Mutex
	calls []llm.Request
	fn    func(req llm.Request) (*llm.Response, error)
}

func (f *funcLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func jsonResponse(t *testing.T, v any) *llm.Response {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &llm.Response{Content: string(raw)}
}

func lastInput(req llm.Request) string {
	return req.Messages[len(req.Messages)-1].Content
}

func TestExtractTopics(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		return jsonResponse(t, map[string]any{"topics": []string{"Cell Biology", "Genetics"}}), nil
	}}
	svc := NewService(agent.NewRunner(client))

	topics, err := svc.ExtractTopics(context.Background(), "Week 1: Cell Biology\nWeek 2: Midterm\nWeek 3: Genetics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(topics) != 2 || topics[0] != "Cell Biology" {
		t.Fatalf("unexpected topics: %v", topics)
	}
	req := client.calls[0]
	if req.Model != "gpt-4o-mini" || *req.Temperature != 0.1 || req.Format == nil {
		t.Fatalf("unexpected request: %+v", req)
	}

	if _, err := svc.ExtractTopics(context.Background(), "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestExtractSubtopicsKeepsOrder(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		topic := lastInput(req)
		return jsonResponse(t, TopicSubtopics{Topic: topic, Subtopics: []string{topic + " A", topic + " B"}}), nil
	}}
	svc := NewService(agent.NewRunner(client), WithConcurrency(2))

	topics := []string{"Optics", "Mechanics", "Waves", "Heat"}
	out, err := svc.ExtractSubtopics(context.Background(), topics)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, topic := range topics {
		if out[i].Topic != topic || out[i].Subtopics[0] != topic+" A" {
			t.Fatalf("unexpected item %d: %+v", i, out[i])
		}
	}
}

func TestExtractSubtopicsFailsOnFirstError(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		if lastInput(req) == "Bad" {
			return nil, errors.New("model unavailable")
		}
		return jsonResponse(t, TopicSubtopics{Topic: "ok"}), nil
	}}
	svc := NewService(agent.NewRunner(client))

	if _, err := svc.ExtractSubtopics(context.Background(), []string{"Good", "Bad"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGenerateExplanationsPrompt(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		return jsonResponse(t, Explanation{Topic: "wrong", Subtopic: "wrong", Explanation: "## " + lastInput(req)}), nil
	}}
	svc := NewService(agent.NewRunner(client))

	out, err := svc.GenerateExplanations(context.Background(), []TopicSubtopics{
		{Topic: "Optics", Subtopics: []string{"Lenses", "Mirrors", "Prisms"}},
		{Topic: "Heat", Subtopics: []string{"Conduction"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 explanations, got %d", len(out))
	}
	if out[1].Topic != "Optics" || out[1].Subtopic != "Mirrors" {
		t.Fatalf("unexpected ordering: %+v", out[1])
	}
	if !strings.Contains(out[1].Explanation, "Other Subtopics: Lenses, Prisms") {
		t.Fatalf("prompt missing other subtopics: %q", out[1].Explanation)
	}
	if out[3].Subtopic != "Conduction" || !strings.HasSuffix(out[3].Explanation, "Other Subtopics: ") {
		t.Fatalf("unexpected last explanation: %+v", out[3])
	}
}

func TestExplanationPrompt(t *testing.T) {
	got := ExplanationPrompt("Optics", "Lenses", []string{"Mirrors", "Prisms"})
	want := "Topic: Optics\nSubtopic: Lenses\nOther Subtopics: Mirrors, Prisms"
	if got != want {
		t.Fatalf("unexpected prompt: %q", got)
	}
}

func TestFindTableOfContentsUsesWebSearch(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		return jsonResponse(t, BookTOC{Book: lastInput(req), TableOfContents: []string{"Chapter 1: Introduction"}}), nil
	}}
	svc := NewService(agent.NewRunner(client))

	toc, err := svc.FindTableOfContents(context.Background(), "How Life Works")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if toc.Book != "How Life Works" || len(toc.TableOfContents) != 1 {
		t.Fatalf("unexpected toc: %+v", toc)
	}
	if !client.calls[0].WebSearch || client.calls[0].Model != "gpt-4o" {
		t.Fatalf("expected web search on gpt-4o: %+v", client.calls[0])
	}
}

func TestExtractCourseNormalizesNilLists(t *testing.T) {
	client := &funcLLM{fn: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: `{"topics":["Cells"],"description":"Intro biology"}`}, nil
	}}
	svc := NewService(agent.NewRunner(client))

	course, err := svc.ExtractCourse(context.Background(), "schedule")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if course.Description != "Intro biology" || course.ReadingMaterials == nil || len(course.ReadingMaterials) != 0 {
		t.Fatalf("unexpected course: %+v", course)
	}
}
