package job

import (
	"context"
	"encoding/json"

	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/diagrams"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/media"
	"ExoLab-Agents/internal/questions"
)

// 内置的任务类型。
const (
	KindVideo        = "video"
	KindDiagram      = "diagram"
	KindQuestions    = "questions"
	KindExplanations = "explanations"
)

// VideoGenerator 生成视频并返回地址。
type VideoGenerator interface {
	Generate(ctx context.Context, req media.VideoRequest) (string, error)
}

// DiagramGenerator 生成 axodraw2 图表文档。
type DiagramGenerator interface {
	Generate(ctx context.Context, prompt string) (diagrams.Diagram, error)
}

// QuestionGenerator 生成练习题。
type QuestionGenerator interface {
	Generate(ctx context.Context, req questions.Request) ([]questions.Question, error)
}

// ExplanationGenerator 生成子主题讲解。
type ExplanationGenerator interface {
	GenerateExplanations(ctx context.Context, items []curriculum.TopicSubtopics) ([]curriculum.Explanation, error)
}

// VideoExecutor 执行 video 任务，结果为 {"video_url": ...}。
func VideoExecutor(gen VideoGenerator) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req media.VideoRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		url, err := gen.Generate(ctx, req.WithDefaults())
		if err != nil {
			return nil, err
		}
		return map[string]string{"video_url": url}, nil
	})
}

// DiagramExecutor 执行 diagram 任务，payload 为 {"prompt": ...}。
func DiagramExecutor(gen DiagramGenerator) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return gen.Generate(ctx, req.Prompt)
	})
}

// QuestionsExecutor 执行 questions 任务，payload 与同步接口一致。
func QuestionsExecutor(gen QuestionGenerator) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req questions.Request
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return gen.Generate(ctx, req)
	})
}

// ExplanationsExecutor 执行 explanations 任务，payload 为 {"data": [...]}。
func ExplanationsExecutor(gen ExplanationGenerator) Executor {
	return ExecutorFunc(func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Data []curriculum.TopicSubtopics `json:"data"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return gen.GenerateExplanations(ctx, req.Data)
	})
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return xerrors.Wrap(CodeJobValidation, err, "任务 payload 格式错误")
	}
	return nil
}
