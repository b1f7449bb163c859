package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/diagrams"
	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/job"
)

type fakeCurriculum struct {
	Curriculum
	topics []string
	err    error
}

func (f *fakeCurriculum) ExtractTopics(_ context.Context, content string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.topics, nil
}

func (f *fakeCurriculum) ExtractSubtopics(_ context.Context, topics []string) ([]curriculum.TopicSubtopics, error) {
	out := make([]curriculum.TopicSubtopics, 0, len(topics))
	for _, topic := range topics {
		out = append(out, curriculum.TopicSubtopics{Topic: topic, Subtopics: []string{topic + " 1"}})
	}
	return out, nil
}

type fakeDiagrams struct {
	png []byte
}

func (f *fakeDiagrams) Generate(_ context.Context, prompt string) (diagrams.Diagram, error) {
	return diagrams.Diagram{DocumentContent: prompt, DiagramWidth: 300, DiagramHeight: 200}, nil
}

func (f *fakeDiagrams) GeneratePNG(_ context.Context, _ string) ([]byte, error) {
	return f.png, nil
}

func doRequest(t *testing.T, h http.Handler, method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestExtractTopics(t *testing.T) {
	server := NewServer(Config{}, Services{Curriculum: &fakeCurriculum{topics: []string{"Cells", "Genetics"}}})

	rec := doRequest(t, server.Handler(), http.MethodPost, "/topics/extract", map[string]string{"content": "week 1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[topicsResponse](t, rec)
	if len(got.Topics) != 2 || got.Topics[1] != "Genetics" {
		t.Fatalf("unexpected topics: %+v", got)
	}
}

func TestExtractSubtopicsWrapsData(t *testing.T) {
	server := NewServer(Config{}, Services{Curriculum: &fakeCurriculum{}})

	rec := doRequest(t, server.Handler(), http.MethodPost, "/subtopics/extract", map[string]any{"topics": []string{"Optics"}}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	got := decodeBody[subtopicsResponse](t, rec)
	if len(got.Data) != 1 || got.Data[0].Subtopics[0] != "Optics 1" {
		t.Fatalf("unexpected data: %+v", got)
	}
}

func TestErrorsMapToDetailBody(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid", xerrors.New(xerrors.CodeInvalidArgument, "content 不能为空"), http.StatusBadRequest},
		{"timeout", xerrors.New(xerrors.CodeTimeout, "推理超时"), http.StatusGatewayTimeout},
		{"plain", context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := NewServer(Config{}, Services{Curriculum: &fakeCurriculum{err: tc.err}})
			rec := doRequest(t, server.Handler(), http.MethodPost, "/topics/extract", map[string]string{"content": "x"}, nil)
			if rec.Code != tc.status {
				t.Fatalf("unexpected status: got %d want %d", rec.Code, tc.status)
			}
			body := decodeBody[errorBody](t, rec)
			if body.Detail == "" {
				t.Fatalf("missing detail: %s", rec.Body.String())
			}
		})
	}
}

func TestMalformedBodyReturnsBadRequest(t *testing.T) {
	server := NewServer(Config{}, Services{Curriculum: &fakeCurriculum{}})
	req := httptest.NewRequest(http.MethodPost, "/topics/extract", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestMissingServiceIsUnavailable(t *testing.T) {
	server := NewServer(Config{}, Services{})
	rec := doRequest(t, server.Handler(), http.MethodPost, "/vectorize", map[string]string{"text": "x"}, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	server := NewServer(Config{AuthTokens: []string{"secret"}}, Services{Curriculum: &fakeCurriculum{topics: []string{"A"}}})
	h := server.Handler()

	rec := doRequest(t, h, http.MethodPost, "/topics/extract", map[string]string{"content": "x"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate header")
	}

	rec = doRequest(t, h, http.MethodPost, "/topics/extract", map[string]string{"content": "x"}, map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/topics/extract", map[string]string{"content": "x"}, map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	for _, path := range []string{"/healthz", "/openapi.json", "/docs", "/redoc"} {
		rec = doRequest(t, h, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s should stay public, got %d", path, rec.Code)
		}
	}
}

func TestOpenAPIDocument(t *testing.T) {
	server := NewServer(Config{}, Services{})
	rec := doRequest(t, server.Handler(), http.MethodGet, "/openapi.json", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	doc := decodeBody[struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
			Logo    struct {
				URL string `json:"url"`
			} `json:"x-logo"`
		} `json:"info"`
		Paths map[string]map[string]any `json:"paths"`
		Tags  []struct {
			Name string `json:"name"`
		} `json:"tags"`
	}](t, rec)
	if doc.Info.Title != "ExoLab Agents" || doc.Info.Version != "0.0.0" || doc.Info.Logo.URL != logoURL {
		t.Fatalf("unexpected info: %+v", doc.Info)
	}
	if _, ok := doc.Paths["/diagram/generate/png"]["post"]; !ok {
		t.Fatalf("missing diagram png path")
	}
	if _, ok := doc.Paths["/jobs/{id}"]["get"]; !ok {
		t.Fatalf("missing job detail path")
	}
	if len(doc.Tags) != 9 {
		t.Fatalf("unexpected tags: %+v", doc.Tags)
	}
}

func TestDiagramPNGHeaders(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := NewServer(Config{}, Services{Diagrams: &fakeDiagrams{png: png}})

	rec := doRequest(t, server.Handler(), http.MethodPost, "/diagram/generate/png", map[string]string{"prompt": "electron"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type: %s", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Content-Disposition") != `attachment; filename="diagram.png"` {
		t.Fatalf("unexpected disposition: %s", rec.Header().Get("Content-Disposition"))
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Fatalf("unexpected body")
	}

	rec = doRequest(t, server.Handler(), http.MethodPost, "/diagram/generate", map[string]string{"prompt": "electron"}, nil)
	got := decodeBody[map[string]any](t, rec)
	if got["document_content"] != "electron" || got["diagram_width"] != float64(300) {
		t.Fatalf("unexpected diagram: %+v", got)
	}
}

func TestJobRoutes(t *testing.T) {
	store := job.NewMemoryStore()
	queue := job.NewMemoryQueue(8)
	svc := job.NewService(store, queue, 3, job.WithAllowedKinds(job.KindDiagram))
	server := NewServer(Config{}, Services{Jobs: svc})
	h := server.Handler()

	rec := doRequest(t, h, http.MethodPost, "/jobs", map[string]any{
		"id": "job-1", "kind": job.KindDiagram, "payload": map[string]string{"prompt": "x"},
	}, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected submit status: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Location") != "/jobs/job-1" {
		t.Fatalf("unexpected location: %s", rec.Header().Get("Location"))
	}

	rec = doRequest(t, h, http.MethodPost, "/jobs", map[string]any{"kind": "unknown"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown kind, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs/job-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected detail status: %d", rec.Code)
	}
	detail := decodeBody[job.Job](t, rec)
	if detail.Status != job.StatusPending || detail.Kind != job.KindDiagram {
		t.Fatalf("unexpected job: %+v", detail)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs/job-1?wait=10ms", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("wait should return current state, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs?status=pending&limit=5", nil, nil)
	list := decodeBody[jobListResponse](t, rec)
	if list.Total != 1 || list.Jobs[0].ID != "job-1" {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs?status=bogus", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs?updated_since=yesterday", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad updated_since, got %d", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/jobs?updated_since=2000-01-01T00:00:00Z", nil, nil)
	if list := decodeBody[jobListResponse](t, rec); list.Total != 1 {
		t.Fatalf("expected job updated after 2000, got %+v", list)
	}

	rec = doRequest(t, h, http.MethodGet, "/jobs/stats", nil, nil)
	stats := decodeBody[job.Stats](t, rec)
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestParseWait(t *testing.T) {
	cases := map[string]string{"": "0s", "5": "5s", "250ms": "250ms", "10m": "1m0s"}
	for in, want := range cases {
		got, err := parseWait(in)
		if err != nil || got.String() != want {
			t.Fatalf("parseWait(%q) = %v, %v; want %s", in, got, err, want)
		}
	}
	if _, err := parseWait("soon"); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}
