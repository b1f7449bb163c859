package api

import (
	"log/slog"
	"net/http"
	"sync"

	"ExoLab-Agents/internal/chat"
	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/diagrams"
	"ExoLab-Agents/internal/job"
	"ExoLab-Agents/internal/media"
	"ExoLab-Agents/internal/questions"
	"ExoLab-Agents/pkg/logger"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3gen"
)

// 文档分组
const (
	tagTopics    = "Topic Generation"
	tagVectors   = "Vectorization"
	tagQuestions = "Questions"
	tagChat      = "Chat"
	tagImages    = "Images"
	tagVideos    = "Videos"
	tagDiagrams  = "Diagrams"
	tagNewChat   = "NewChat"
	tagJobs      = "Jobs"
)

type operation struct {
	method   string
	path     string
	tag      string
	summary  string
	id       string
	request  any
	response any
	status   int
	params   openapi3.Parameters
	content  openapi3.Content
}

// logoURL 是文档页展示的 x-logo。
const logoURL = "https://fastapi.tiangolo.com/img/logo-margin/logo-teal.png"

var (
	openAPIOnce sync.Once
	openAPIJSON []byte
)

// OpenAPIDocument 构造服务的 OpenAPI 文档。
func OpenAPIDocument() *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "ExoLab Agents",
			Version:     "0.0.0",
			Description: "Microservice, designed to guide the ai agents used inside the **ExoLab Product**",
			Extensions: map[string]any{
				"x-logo": map[string]any{"url": logoURL},
			},
		},
		Paths: openapi3.NewPaths(),
	}
	for _, name := range []string{tagTopics, tagVectors, tagQuestions, tagChat, tagImages, tagVideos, tagDiagrams, tagNewChat, tagJobs} {
		doc.Tags = append(doc.Tags, &openapi3.Tag{Name: name})
	}

	sessionParam := openapi3.NewQueryParameter("session_id").WithRequired(true).WithSchema(openapi3.NewUUIDSchema())
	jobIDParam := openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())
	waitParam := openapi3.NewQueryParameter("wait").WithDescription("最长等待时间，例如 30s").WithSchema(openapi3.NewStringSchema())
	listParams := openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("status").WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("kind").WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("limit").WithSchema(openapi3.NewIntegerSchema())},
		{Value: openapi3.NewQueryParameter("offset").WithSchema(openapi3.NewIntegerSchema())},
		{Value: openapi3.NewQueryParameter("q").WithSchema(openapi3.NewStringSchema())},
		{Value: openapi3.NewQueryParameter("updated_since").WithSchema(openapi3.NewDateTimeSchema())},
		{Value: openapi3.NewQueryParameter("updated_until").WithSchema(openapi3.NewDateTimeSchema())},
	}
	png := openapi3.NewContentWithSchema(openapi3.NewStringSchema().WithFormat("binary"), []string{"image/png"})

	ops := []operation{
		{method: http.MethodPost, path: "/topics/extract", tag: tagTopics, summary: "Extract Topics", id: "extractTopics", request: contentRequest{}, response: topicsResponse{}},
		{method: http.MethodPost, path: "/subtopics/extract", tag: tagTopics, summary: "Extract Subtopics", id: "extractSubtopics", request: topicsRequest{}, response: subtopicsResponse{}},
		{method: http.MethodPost, path: "/explanations/generate", tag: tagTopics, summary: "Generate Explanations", id: "generateExplanations", request: subtopicsRequest{}, response: explanationsResponse{}},
		{method: http.MethodPost, path: "/books/toc", tag: tagTopics, summary: "Find Table Of Contents", id: "findTableOfContents", request: bookRequest{}, response: curriculum.BookTOC{}},
		{method: http.MethodPost, path: "/courses/extract", tag: tagTopics, summary: "Extract Course Content", id: "extractCourse", request: contentRequest{}, response: curriculum.CourseContent{}},
		{method: http.MethodPost, path: "/questions/generate", tag: tagQuestions, summary: "Generate Questions", id: "generateQuestions", request: questions.Request{}, response: questionsResponse{}},
		{method: http.MethodPost, path: "/vectorize", tag: tagVectors, summary: "Vectorize Text", id: "vectorize", request: vectorizeRequest{}, response: vectorizeResponse{}},
		{method: http.MethodPost, path: "/biolinks/extract", tag: tagVectors, summary: "Extract Biolinks", id: "extractBiolinks", request: biolinksExtractRequest{}, response: messageResponse{}},
		{method: http.MethodPost, path: "/biolinks/search", tag: tagVectors, summary: "Search Biolinks", id: "searchBiolinks", request: biolinksSearchRequest{}, response: biolinksSearchResponse{}},
		{method: http.MethodPost, path: "/images/generate", tag: tagImages, summary: "Generate Image", id: "generateImage", request: promptRequest{}, response: imageResponse{}},
		{method: http.MethodPost, path: "/images/search", tag: tagImages, summary: "Search Image", id: "searchImage", request: promptRequest{}, response: imageResponse{}},
		{method: http.MethodPost, path: "/videos/generate", tag: tagVideos, summary: "Generate Video", id: "generateVideo", request: media.VideoRequest{}, response: videoResponse{}},
		{method: http.MethodPost, path: "/diagram/generate", tag: tagDiagrams, summary: "Generate Diagram", id: "generateDiagram", request: promptRequest{}, response: diagrams.Diagram{}},
		{method: http.MethodPost, path: "/diagram/generate/png", tag: tagDiagrams, summary: "Generate Diagram PNG", id: "generateDiagramPNG", request: promptRequest{}, content: png},
		{method: http.MethodPost, path: "/chat/create", tag: tagChat, summary: "Create Chat", id: "createChat", request: chatCreateRequest{}, response: chat.Reply{}},
		{method: http.MethodPost, path: "/chat/message", tag: tagChat, summary: "Send Message", id: "sendMessage", request: chatMessageRequest{}, response: chat.Reply{}},
		{method: http.MethodGet, path: "/chat/messages", tag: tagChat, summary: "Get Messages", id: "getMessages", response: chatHistoryResponse{}, params: openapi3.Parameters{{Value: sessionParam}}},
		{method: http.MethodPost, path: "/chat/query_subtopics", tag: tagChat, summary: "Query Subtopics", id: "querySubtopics", request: subtopicsQueryRequest{}, response: subtopicsQueryResponse{}},
		{method: http.MethodPost, path: "/chat/query_subtopics_agent", tag: tagChat, summary: "Query Subtopics Agent", id: "querySubtopicsAgent", request: subtopicsQueryRequest{}, response: agentQueryResponse{}},
		{method: http.MethodPost, path: "/newchat/create", tag: tagNewChat, summary: "Create New Chat", id: "createNewChat", request: chatCreateRequest{}, response: chat.Reply{}},
		{method: http.MethodPost, path: "/newchat/message", tag: tagNewChat, summary: "Send New Chat Message", id: "sendNewChatMessage", request: chatMessageRequest{}, response: chat.Reply{}},
		{method: http.MethodPost, path: "/jobs", tag: tagJobs, summary: "Submit Job", id: "submitJob", request: job.SubmitRequest{}, response: job.Job{}, status: http.StatusAccepted},
		{method: http.MethodGet, path: "/jobs", tag: tagJobs, summary: "List Jobs", id: "listJobs", response: jobListResponse{}, params: listParams},
		{method: http.MethodGet, path: "/jobs/stats", tag: tagJobs, summary: "Job Stats", id: "jobStats", response: job.Stats{}, params: listParams},
		{method: http.MethodGet, path: "/jobs/{id}", tag: tagJobs, summary: "Get Job", id: "getJob", response: job.Job{}, params: openapi3.Parameters{{Value: jobIDParam}, {Value: waitParam}}},
	}
	errorSchema := schemaFor(errorBody{})
	for _, op := range ops {
		addOperation(doc.Paths, op, errorSchema)
	}
	return doc
}

func addOperation(paths *openapi3.Paths, op operation, errorSchema *openapi3.SchemaRef) {
	status := op.status
	if status == 0 {
		status = http.StatusOK
	}
	ok := openapi3.NewResponse().WithDescription("Successful Response")
	if op.content != nil {
		ok = ok.WithContent(op.content)
	} else {
		ok = ok.WithJSONSchemaRef(schemaFor(op.response))
	}
	failure := openapi3.NewResponse().WithDescription("Error").WithJSONSchemaRef(errorSchema)

	operation := &openapi3.Operation{
		Tags:        []string{op.tag},
		Summary:     op.summary,
		OperationID: op.id,
		Parameters:  op.params,
		Responses: openapi3.NewResponses(
			openapi3.WithStatus(status, &openapi3.ResponseRef{Value: ok}),
			openapi3.WithName("default", failure),
		),
	}
	if op.request != nil {
		operation.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(schemaFor(op.request)),
		}
	}

	item := paths.Value(op.path)
	if item == nil {
		item = &openapi3.PathItem{}
		paths.Set(op.path, item)
	}
	item.SetOperation(op.method, operation)
}

// schemaFor 由 Go 类型推导 JSON Schema，推导失败时退化为任意对象。
func schemaFor(v any) *openapi3.SchemaRef {
	ref, err := openapi3gen.NewSchemaRefForValue(v, nil)
	if err != nil {
		logger.Named("api").Warn("生成 OpenAPI Schema 失败", slog.Any("error", err))
		return openapi3.NewObjectSchema().NewRef()
	}
	return ref
}

func openAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		openAPIOnce.Do(func() {
			raw, err := OpenAPIDocument().MarshalJSON()
			if err != nil {
				logger.Named("api").Error("序列化 OpenAPI 文档失败", slog.Any("error", err))
				return
			}
			openAPIJSON = raw
		})
		if openAPIJSON == nil {
			http.Error(w, "openapi unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(openAPIJSON); err != nil {
			logger.Named("api").Error("写入 OpenAPI 文档失败", slog.Any("error", err))
		}
	}
}

const swaggerPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>ExoLab Agents</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
  window.onload = () => {
    SwaggerUIBundle({
      url: 'openapi.json',
      dom_id: '#swagger-ui'
    });
  };
  </script>
</body>
</html>`

const redocPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8" />
  <title>ExoLab Agents</title>
</head>
<body>
  <redoc spec-url="openapi.json"></redoc>
  <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>`

func swaggerHandler() http.HandlerFunc {
	return htmlPage(swaggerPage)
}

func redocHandler() http.HandlerFunc {
	return htmlPage(redocPage)
}

func htmlPage(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(page)); err != nil {
			logger.Named("api").Error("写入文档页面失败", slog.Any("error", err))
		}
	}
}
