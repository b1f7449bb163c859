package diagrams

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ExoLab-Agents/internal/agent"
	xerrors "ExoLab-Agents/internal/errors"

	"golang.org/x/time/rate"
)

// CodeMissingSize 表示模型输出中缺少尺寸注释。
const CodeMissingSize xerrors.Code = "DIAGRAM_SIZE_MISSING"

func init() {
	xerrors.Register(CodeMissingSize, xerrors.Attributes{
		Message:   "diagram size comment not found",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Status:    500,
	})
}

//go:embed instructions.txt
var instructions string

// GeneratorAgent 输出完整的 axodraw2 LaTeX 文档（纯文本）。
var GeneratorAgent = agent.Agent{
	Name:         "Axodraw Diagram Generator",
	Model:        "o3-mini",
	Instructions: instructions,
}

var sizePattern = regexp.MustCompile(`%%\s*Diagram Size:\s*([\d.]+)\s*x\s*([\d.]+)`)

// Diagram 是生成的 LaTeX 文档及其声明的尺寸（单位 pt）。
type Diagram struct {
	DocumentContent string  `json:"document_content"`
	DiagramWidth    float64 `json:"diagram_width"`
	DiagramHeight   float64 `json:"diagram_height"`
}

// Parse 从文档末尾的 "%% Diagram Size: W x H" 注释中读取尺寸。
func Parse(document string) (Diagram, error) {
	m := sizePattern.FindStringSubmatch(document)
	if m == nil {
		return Diagram{}, xerrors.New(CodeMissingSize, "Diagram size comment not found in the output.")
	}
	width, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Diagram{}, xerrors.Wrap(CodeMissingSize, err, "无法解析图表宽度")
	}
	height, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Diagram{}, xerrors.Wrap(CodeMissingSize, err, "无法解析图表高度")
	}
	return Diagram{DocumentContent: document, DiagramWidth: width, DiagramHeight: height}, nil
}

// Service 负责生成与渲染图表。所有请求共用一个限流器。
type Service struct {
	runner   *agent.Runner
	agent    agent.Agent
	renderer *Renderer
}

// NewService 创建图表服务，requestsPerMinute<=0 时不限流。renderer 可为 nil。
func NewService(runner *agent.Runner, requestsPerMinute int, renderer *Renderer) *Service {
	a := GeneratorAgent
	if requestsPerMinute > 0 {
		a.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), requestsPerMinute)
	}
	return &Service{runner: runner, agent: a, renderer: renderer}
}

// Generate 调用模型生成图表文档。
func (s *Service) Generate(ctx context.Context, prompt string) (Diagram, error) {
	if strings.TrimSpace(prompt) == "" {
		return Diagram{}, xerrors.New(xerrors.CodeInvalidArgument, "prompt 不能为空")
	}
	out, err := s.runner.Run(ctx, s.agent, fmt.Sprintf("Prompt: %s", prompt))
	if err != nil {
		return Diagram{}, err
	}
	return Parse(out)
}

// GeneratePNG 生成图表文档并渲染为裁剪后的 PNG。
func (s *Service) GeneratePNG(ctx context.Context, prompt string) ([]byte, error) {
	if s.renderer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置图表渲染工具链")
	}
	d, err := s.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return s.renderer.Render(ctx, d)
}
