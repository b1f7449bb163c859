package diagrams

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ExoLab-Agents/internal/agent"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

const sampleDocument = `\documentclass{article}
\usepackage{axodraw2}
\begin{document}
\begin{picture}(300,200)
\Photon(0,0)(100,0){3}{6}
\end{picture}
\end{document}
%% Diagram Size: 300 x 200.5`

type staticLLM struct {
	content string
	calls   []llm.Request
}

func (s *staticLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.calls = append(s.calls, req)
	return &llm.Response{Content: s.content}, nil
}

type fakeCommands struct {
	mu        sync.Mutex
	calls     [][]string
	dirs      []string
	failOn    string
	pageSize  string
	pngOutput []byte
}

func (f *fakeCommands) Run(_ context.Context, dir, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()

	if name == f.failOn {
		return nil, errors.New("exit status 1")
	}
	switch name {
	case "pdfinfo":
		return []byte(f.pageSize), nil
	case "convert":
		return nil, os.WriteFile(filepath.Join(dir, args[len(args)-1]), f.pngOutput, 0o600)
	}
	return nil, nil
}

func TestParse(t *testing.T) {
	d, err := Parse(sampleDocument)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.DiagramWidth != 300 || d.DiagramHeight != 200.5 || d.DocumentContent != sampleDocument {
		t.Fatalf("unexpected diagram: %+v", d)
	}

	if _, err := Parse(`\begin{document}\end{document}`); xerrors.CodeOf(err) != CodeMissingSize {
		t.Fatalf("expected missing size, got %v", err)
	}
}

func TestGenerateUsesPromptPrefix(t *testing.T) {
	client := &staticLLM{content: sampleDocument}
	svc := NewService(agent.NewRunner(client), 60, nil)

	d, err := svc.Generate(context.Background(), "electron-positron annihilation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.DiagramHeight != 200.5 {
		t.Fatalf("unexpected diagram: %+v", d)
	}
	req := client.calls[0]
	if req.Model != "o3-mini" || req.Temperature != nil || req.Format != nil {
		t.Fatalf("unexpected request: %+v", req)
	}
	if last := req.Messages[len(req.Messages)-1].Content; last != "Prompt: electron-positron annihilation" {
		t.Fatalf("unexpected input: %q", last)
	}
	if !strings.Contains(req.Messages[0].Content, "axodraw2") {
		t.Fatalf("instructions not embedded")
	}
}

func TestGenerateRateLimited(t *testing.T) {
	svc := NewService(agent.NewRunner(&staticLLM{content: sampleDocument}), 1, nil)

	if _, err := svc.Generate(context.Background(), "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Generate(ctx, "second"); xerrors.CodeOf(err) != xerrors.CodeRateLimited {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestCropGeometry(t *testing.T) {
	got := CropGeometry(300, 250, 612, 300)
	if got != "1250x1042+650+0" {
		t.Fatalf("unexpected geometry: %s", got)
	}
}

func TestParsePageSize(t *testing.T) {
	w, h, err := ParsePageSize("Pages:          1\nPage size:      612 x 792 pts (letter)\n")
	if err != nil || w != 612 || h != 792 {
		t.Fatalf("unexpected page size: %v %v %v", w, h, err)
	}
	if _, _, err := ParsePageSize("garbage"); xerrors.CodeOf(err) != CodeRenderFailed {
		t.Fatalf("expected render failure, got %v", err)
	}
}

func TestRenderPipeline(t *testing.T) {
	cmds := &fakeCommands{pageSize: "Page size: 612 x 792 pts", pngOutput: []byte("\x89PNG")}
	r := NewRenderer(RendererConfig{WorkDir: t.TempDir(), Runner: cmds})

	png, err := r.Render(context.Background(), Diagram{DocumentContent: sampleDocument, DiagramWidth: 100, DiagramHeight: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(png) != "\x89PNG" {
		t.Fatalf("unexpected png: %q", png)
	}

	var names []string
	for _, c := range cmds.calls {
		names = append(names, c[0])
	}
	if strings.Join(names, ",") != "pdflatex,axohelp,pdflatex,pdfinfo,gs,convert" {
		t.Fatalf("unexpected pipeline: %v", names)
	}
	convert := cmds.calls[5]
	if convert[3] != "1250x1042+650+0" || convert[4] != "+repage" {
		t.Fatalf("unexpected convert args: %v", convert)
	}
	if cmds.calls[4][5] != "-r300" {
		t.Fatalf("unexpected gs args: %v", cmds.calls[4])
	}
	if _, err := os.Stat(cmds.dirs[0]); !os.IsNotExist(err) {
		t.Fatalf("temporary directory not removed: %v", err)
	}
}

func TestRenderFailureCleansUp(t *testing.T) {
	cmds := &fakeCommands{failOn: "axohelp"}
	r := NewRenderer(RendererConfig{WorkDir: t.TempDir(), Runner: cmds})

	_, err := r.Render(context.Background(), Diagram{DocumentContent: sampleDocument})
	if xerrors.CodeOf(err) != CodeRenderFailed {
		t.Fatalf("expected render failure, got %v", err)
	}
	if _, statErr := os.Stat(cmds.dirs[0]); !os.IsNotExist(statErr) {
		t.Fatalf("temporary directory not removed")
	}
}

func TestGeneratePNGWithoutRenderer(t *testing.T) {
	svc := NewService(agent.NewRunner(&staticLLM{content: sampleDocument}), 0, nil)
	if _, err := svc.GeneratePNG(context.Background(), "x"); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
