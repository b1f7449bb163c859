package media

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ExoLab-Agents/internal/agent"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/llm"
)

type fakeImages struct {
	req llm.ImageRequest
}

func (f *fakeImages) GenerateImage(_ context.Context, req llm.ImageRequest) (string, error) {
	f.req = req
	return "https://img.example/1.png", nil
}

type fakeLLM struct {
	req llm.Request
}

func (f *fakeLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.req = req
	return &llm.Response{Content: `{"image_url":"https://found.example/cell.jpg"}`}, nil
}

func TestImageGeneratePrompt(t *testing.T) {
	images := &fakeImages{}
	svc := NewImageService(images, nil, "")
	svc.detect = func(context.Context) HostInfo {
		return HostInfo{System: "Linux", Release: "6.1", Processor: "x86_64"}
	}

	url, err := svc.Generate(context.Background(), "A quantum computer")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://img.example/1.png" {
		t.Fatalf("unexpected url: %s", url)
	}
	want := "A quantum computer. System: Linux, Release: 6.1, Processor: x86_64. Render as a realistic 3D image suitable for scientific visualization."
	if images.req.Prompt != want || images.req.Model != ImageModel || images.req.Size != "1024x1024" || images.req.N != 1 {
		t.Fatalf("unexpected request: %+v", images.req)
	}
	if _, err := svc.Generate(context.Background(), ""); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestImageHostDetectionOutlivesFirstRequest(t *testing.T) {
	svc := NewImageService(&fakeImages{}, nil, "")
	var calls int32
	svc.detect = func(ctx context.Context) HostInfo {
		atomic.AddInt32(&calls, 1)
		if ctx.Err() != nil {
			return HostInfo{System: "Linux"}
		}
		return HostInfo{System: "Linux", Release: "6.1", Processor: "x86_64"}
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Generate(cancelled, "A cell"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Generate(context.Background(), "A cell"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("host detected %d times", calls)
	}
	if svc.host.Release != "6.1" || svc.host.Processor != "x86_64" {
		t.Fatalf("host info truncated by cancelled request: %+v", svc.host)
	}
}

func TestImageSearch(t *testing.T) {
	client := &fakeLLM{}
	svc := NewImageService(nil, agent.NewRunner(client), "")

	url, err := svc.Search(context.Background(), "mitochondria")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if url != "https://found.example/cell.jpg" || !client.req.WebSearch {
		t.Fatalf("unexpected search result %q req %+v", url, client.req)
	}
}

func TestDetectHostFillsFields(t *testing.T) {
	info := DetectHost(context.Background())
	if info.System == "" || info.Processor == "" {
		t.Fatalf("host info incomplete: %+v", info)
	}
}

func TestLumaGeneratePollsUntilCompleted(t *testing.T) {
	var polls int32
	var created VideoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/generations":
			_ = json.NewDecoder(r.Body).Decode(&created)
			_, _ = w.Write([]byte(`{"id":"gen-1","state":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/generations/gen-1":
			if atomic.AddInt32(&polls, 1) < 2 {
				_, _ = w.Write([]byte(`{"id":"gen-1","state":"dreaming"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"gen-1","state":"completed","assets":{"video":"https://cdn.example/v.mp4"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewLumaClient(LumaConfig{APIKey: "key", BaseURL: srv.URL, PollInterval: 5 * time.Millisecond, HTTPClient: srv.Client()})
	url, err := client.Generate(context.Background(), VideoRequest{Prompt: "flying cars"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://cdn.example/v.mp4" {
		t.Fatalf("unexpected url: %s", url)
	}
	if created.Model != "ray-2" || created.Resolution != "720p" || created.Duration != "5s" || created.Loop {
		t.Fatalf("defaults not applied: %+v", created)
	}
}

func TestLumaGenerateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"id":"g","state":"queued"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"g","state":"failed","failure_reason":"content moderation"}`))
	}))
	defer srv.Close()

	client := NewLumaClient(LumaConfig{APIKey: "key", BaseURL: srv.URL, PollInterval: time.Millisecond})
	_, err := client.Generate(context.Background(), VideoRequest{Prompt: "x"})
	if xerrors.CodeOf(err) != CodeGenerationFailed || !strings.Contains(err.Error(), "Generation failed: content moderation") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLumaGenerateHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"g","state":"dreaming"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	client := NewLumaClient(LumaConfig{APIKey: "key", BaseURL: srv.URL, PollInterval: 5 * time.Millisecond})
	if _, err := client.Generate(ctx, VideoRequest{Prompt: "x"}); xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}
