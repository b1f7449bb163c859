package job

import (
	"context"
	"encoding/json"
	"testing"

	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/diagrams"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/media"
	"ExoLab-Agents/internal/questions"
)

type fakeVideo struct{ got media.VideoRequest }

func (f *fakeVideo) Generate(_ context.Context, req media.VideoRequest) (string, error) {
	f.got = req
	return "https://cdn/" + req.Prompt + ".mp4", nil
}

type fakeDiagram struct{}

func (fakeDiagram) Generate(_ context.Context, prompt string) (diagrams.Diagram, error) {
	return diagrams.Diagram{DocumentContent: prompt, DiagramWidth: 1, DiagramHeight: 2}, nil
}

type fakeQuestions struct{}

func (fakeQuestions) Generate(_ context.Context, req questions.Request) ([]questions.Question, error) {
	return []questions.Question{{Topic: req.Data[0].Topic}}, nil
}

type fakeExplanations struct{}

func (fakeExplanations) GenerateExplanations(_ context.Context, items []curriculum.TopicSubtopics) ([]curriculum.Explanation, error) {
	return []curriculum.Explanation{{Topic: items[0].Topic, Subtopic: items[0].Subtopics[0]}}, nil
}

func encode(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func TestExecutors(t *testing.T) {
	ctx := context.Background()
	video := &fakeVideo{}

	out, err := VideoExecutor(video).Execute(ctx, json.RawMessage(`{"prompt":"cell"}`))
	if err != nil {
		t.Fatalf("video: %v", err)
	}
	if got := encode(t, out); got != `{"video_url":"https://cdn/cell.mp4"}` {
		t.Fatalf("unexpected video result: %s", got)
	}
	if video.got.Model != "ray-2" || video.got.Resolution != "720p" || video.got.Duration != "5s" {
		t.Fatalf("defaults not applied: %+v", video.got)
	}

	out, err = DiagramExecutor(fakeDiagram{}).Execute(ctx, json.RawMessage(`{"prompt":"feynman"}`))
	if err != nil {
		t.Fatalf("diagram: %v", err)
	}
	if got := encode(t, out); got != `{"document_content":"feynman","diagram_width":1,"diagram_height":2}` {
		t.Fatalf("unexpected diagram result: %s", got)
	}

	out, err = QuestionsExecutor(fakeQuestions{}).Execute(ctx, json.RawMessage(`{"data":[{"topic":"Optics","subtopics":["Lenses"]}],"explanations":[]}`))
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if qs := out.([]questions.Question); len(qs) != 1 || qs[0].Topic != "Optics" {
		t.Fatalf("unexpected questions: %+v", qs)
	}

	out, err = ExplanationsExecutor(fakeExplanations{}).Execute(ctx, json.RawMessage(`{"data":[{"topic":"Optics","subtopics":["Lenses"]}]}`))
	if err != nil {
		t.Fatalf("explanations: %v", err)
	}
	if ex := out.([]curriculum.Explanation); ex[0].Subtopic != "Lenses" {
		t.Fatalf("unexpected explanations: %+v", ex)
	}

	if _, err := DiagramExecutor(fakeDiagram{}).Execute(ctx, json.RawMessage(`[1,2]`)); xerrors.CodeOf(err) != CodeJobValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
