package diagrams

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"
)

// CodeRenderFailed 表示 LaTeX 到 PNG 的工具链执行失败。
const CodeRenderFailed xerrors.Code = "DIAGRAM_RENDER_FAILED"

func init() {
	xerrors.Register(CodeRenderFailed, xerrors.Attributes{
		Message:  "diagram rendering failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
		Status:   500,
	})
}

const (
	baseName = "mydiagram"
	texFile  = baseName + ".tex"
	pdfFile  = baseName + ".pdf"
	fullPNG  = "full_temp.png"
	pngFile  = baseName + ".png"
)

var pageSizePattern = regexp.MustCompile(`Page size:\s+([\d.]+)\s+x\s+([\d.]+)\s+pts`)

// CommandRunner 在指定目录执行外部命令并返回标准输出。
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner 使用 os/exec 执行命令。
type ExecRunner struct{}

// Run 实现 CommandRunner。
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = tail(stdout.String(), 512)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, detail)
	}
	return stdout.Bytes(), nil
}

// Tools 是渲染使用的可执行文件路径。
type Tools struct {
	PDFLatex    string
	Axohelp     string
	PDFInfo     string
	Ghostscript string
	Convert     string
}

// RendererConfig 描述渲染参数。
type RendererConfig struct {
	Tools         Tools
	Density       int
	PaddingPoints float64
	WorkDir       string
	Runner        CommandRunner
}

// Renderer 将 LaTeX 文档编译为 PDF 并裁剪为 PNG。
type Renderer struct {
	tools   Tools
	density int
	padding float64
	workDir string
	runner  CommandRunner
}

// NewRenderer 创建渲染器，未填写的参数使用 300 DPI 与 200pt 边距。
func NewRenderer(cfg RendererConfig) *Renderer {
	r := &Renderer{
		tools:   cfg.Tools,
		density: cfg.Density,
		padding: cfg.PaddingPoints,
		workDir: cfg.WorkDir,
		runner:  cfg.Runner,
	}
	if r.density <= 0 {
		r.density = 300
	}
	if r.padding <= 0 {
		r.padding = 200
	}
	if r.runner == nil {
		r.runner = ExecRunner{}
	}
	r.tools.PDFLatex = orDefault(r.tools.PDFLatex, "pdflatex")
	r.tools.Axohelp = orDefault(r.tools.Axohelp, "axohelp")
	r.tools.PDFInfo = orDefault(r.tools.PDFInfo, "pdfinfo")
	r.tools.Ghostscript = orDefault(r.tools.Ghostscript, "gs")
	r.tools.Convert = orDefault(r.tools.Convert, "convert")
	return r
}

// Render 在私有临时目录中完成编译、裁剪并返回 PNG 内容，临时目录总会被清理。
func (r *Renderer) Render(ctx context.Context, d Diagram) ([]byte, error) {
	dir, err := os.MkdirTemp(r.workDir, "diagram-")
	if err != nil {
		return nil, xerrors.Wrap(CodeRenderFailed, err, "创建临时目录失败")
	}
	defer os.RemoveAll(dir)

	log := logger.Named("diagrams")
	if err := os.WriteFile(filepath.Join(dir, texFile), []byte(d.DocumentContent), 0o600); err != nil {
		return nil, xerrors.Wrap(CodeRenderFailed, err, "写入 LaTeX 文件失败")
	}

	steps := [][]string{
		{r.tools.PDFLatex, "-interaction=nonstopmode", texFile},
		{r.tools.Axohelp, baseName},
		{r.tools.PDFLatex, "-interaction=nonstopmode", texFile},
	}
	for _, step := range steps {
		if _, err := r.runner.Run(ctx, dir, step[0], step[1:]...); err != nil {
			return nil, xerrors.Wrap(CodeRenderFailed, err, "编译 LaTeX 失败")
		}
	}

	info, err := r.runner.Run(ctx, dir, r.tools.PDFInfo, pdfFile)
	if err != nil {
		return nil, xerrors.Wrap(CodeRenderFailed, err, "读取 PDF 信息失败")
	}
	pageWidth, _, err := ParsePageSize(string(info))
	if err != nil {
		return nil, err
	}

	geometry := CropGeometry(d.DiagramWidth+r.padding, d.DiagramHeight+r.padding, pageWidth, r.density)
	log.Debug("裁剪图表", slog.String("geometry", geometry), slog.Float64("page_width", pageWidth))

	if _, err := r.runner.Run(ctx, dir, r.tools.Ghostscript,
		"-q", "-dNOPAUSE", "-dBATCH", "-sDEVICE=pngalpha",
		fmt.Sprintf("-r%d", r.density),
		"-sOutputFile="+fullPNG,
		pdfFile,
	); err != nil {
		return nil, xerrors.Wrap(CodeRenderFailed, err, "PDF 转 PNG 失败")
	}
	if _, err := r.runner.Run(ctx, dir, r.tools.Convert, fullPNG, "-crop", geometry, "+repage", pngFile); err != nil {
		return nil, xerrors.Wrap(CodeRenderFailed, err, "裁剪 PNG 失败")
	}

	png, err := os.ReadFile(filepath.Join(dir, pngFile))
	if err != nil {
		return nil, xerrors.Wrap(CodeRenderFailed, err, "读取 PNG 失败")
	}
	return png, nil
}

// ParsePageSize 解析 pdfinfo 输出中的页面尺寸（pt）。
func ParsePageSize(output string) (float64, float64, error) {
	m := pageSizePattern.FindStringSubmatch(output)
	if m == nil {
		return 0, 0, xerrors.New(CodeRenderFailed, "Could not parse page size from pdfinfo output.")
	}
	w, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, xerrors.Wrap(CodeRenderFailed, err, "页面宽度无效")
	}
	h, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, 0, xerrors.Wrap(CodeRenderFailed, err, "页面高度无效")
	}
	return w, h, nil
}

// CropGeometry 计算 ImageMagick 裁剪参数 WxH+L+T，图表水平居中且贴顶。
func CropGeometry(width, height, pageWidth float64, density int) string {
	factor := float64(density) / 72.0
	cropW := int(math.Round(width * factor))
	cropH := int(math.Round(height * factor))
	pageW := int(math.Round(pageWidth * factor))
	left := int(math.Round(float64(pageW-cropW) / 2))
	return fmt.Sprintf("%dx%d+%d+%d", cropW, cropH, left, 0)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
