package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"ExoLab-Agents/internal/biolinks"
	"ExoLab-Agents/internal/chat"
	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/diagrams"
	"ExoLab-Agents/internal/job"
	"ExoLab-Agents/internal/media"
	"ExoLab-Agents/internal/observability/metrics"
	"ExoLab-Agents/internal/questions"
	"ExoLab-Agents/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Curriculum 抽取课程主题、子主题、讲解与书目。
type Curriculum interface {
	ExtractTopics(ctx context.Context, content string) ([]string, error)
	ExtractSubtopics(ctx context.Context, topics []string) ([]curriculum.TopicSubtopics, error)
	GenerateExplanations(ctx context.Context, items []curriculum.TopicSubtopics) ([]curriculum.Explanation, error)
	FindTableOfContents(ctx context.Context, title string) (curriculum.BookTOC, error)
	ExtractCourse(ctx context.Context, content string) (curriculum.CourseContent, error)
}

// Questions 生成练习题。
type Questions interface {
	Generate(ctx context.Context, req questions.Request) ([]questions.Question, error)
}

// Vectorizer 生成文本向量。
type Vectorizer interface {
	Vectorize(ctx context.Context, text string) ([]float64, error)
}

// Biolinks 导入并检索解剖学链接。
type Biolinks interface {
	Extract(ctx context.Context, filePath string) (int, error)
	Search(ctx context.Context, queryText string, topN int) ([]biolinks.Result, error)
}

// Images 生成或搜索图片。
type Images interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Search(ctx context.Context, prompt string) (string, error)
}

// Videos 生成视频。
type Videos interface {
	Generate(ctx context.Context, req media.VideoRequest) (string, error)
}

// Diagrams 生成 axodraw2 图表。
type Diagrams interface {
	Generate(ctx context.Context, prompt string) (diagrams.Diagram, error)
	GeneratePNG(ctx context.Context, prompt string) ([]byte, error)
}

// Chat 提供带持久化历史的对话。
type Chat interface {
	Create(ctx context.Context, message string) (*chat.Reply, error)
	Send(ctx context.Context, sessionID, message string) (*chat.Reply, error)
	CreateNewChat(ctx context.Context, message string) (*chat.Reply, error)
	SendNewChat(ctx context.Context, sessionID, message string) (*chat.Reply, error)
	History(ctx context.Context, sessionID string) ([]chat.HistoryEntry, error)
	QuerySubtopics(ctx context.Context, query string, topN int) ([]chat.Subtopic, error)
	QuerySubtopicsAgent(ctx context.Context, query string) (string, error)
}

// Jobs 管理异步任务。
type Jobs interface {
	Submit(ctx context.Context, req job.SubmitRequest) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, opts ...job.ListOption) ([]*job.Job, error)
	Stats(ctx context.Context, opts ...job.ListOption) (job.Stats, error)
	WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*job.Job, error)
}

// Services 汇总接口依赖，未配置的服务对应路由返回 503。
type Services struct {
	Curriculum Curriculum
	Questions  Questions
	Vectorizer Vectorizer
	Biolinks   Biolinks
	Images     Images
	Videos     Videos
	Diagrams   Diagrams
	Chat       Chat
	Jobs       Jobs
}

// Config 控制 HTTP 服务行为。
type Config struct {
	Address         string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	// AuthTokens 非空时业务路由要求 Bearer 鉴权。
	AuthTokens []string
	// MetricsPath 为空时不在 API 路由上暴露指标。
	MetricsPath string
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg      Config
	services Services
	handler  http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(cfg Config, services Services) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{cfg: cfg, services: services}
	s.handler = otelhttp.NewHandler(s.routes(), "exolab-agents",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
	return s
}

// Handler 返回完整的 HTTP 处理链。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}))
	}
	r.Use(accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, metrics.Handler())
	}
	r.Get("/openapi.json", openAPIHandler())
	r.Get("/docs", swaggerHandler())
	r.Get("/redoc", redocHandler())

	r.Group(func(g chi.Router) {
		g.Use(bearerAuth(s.cfg.AuthTokens))

		g.Post("/topics/extract", s.handleExtractTopics)
		g.Post("/subtopics/extract", s.handleExtractSubtopics)
		g.Post("/explanations/generate", s.handleGenerateExplanations)
		g.Post("/books/toc", s.handleBookTOC)
		g.Post("/courses/extract", s.handleExtractCourse)
		g.Post("/questions/generate", s.handleGenerateQuestions)

		g.Post("/vectorize", s.handleVectorize)
		g.Post("/biolinks/extract", s.handleBiolinksExtract)
		g.Post("/biolinks/search", s.handleBiolinksSearch)

		g.Post("/images/generate", s.handleGenerateImage)
		g.Post("/images/search", s.handleSearchImage)
		g.Post("/videos/generate", s.handleGenerateVideo)
		g.Post("/diagram/generate", s.handleGenerateDiagram)
		g.Post("/diagram/generate/png", s.handleGenerateDiagramPNG)

		g.Post("/chat/create", s.handleChatCreate)
		g.Post("/chat/message", s.handleChatMessage)
		g.Get("/chat/messages", s.handleChatHistory)
		g.Post("/chat/query_subtopics", s.handleQuerySubtopics)
		g.Post("/chat/query_subtopics_agent", s.handleQuerySubtopicsAgent)
		g.Post("/newchat/create", s.handleNewChatCreate)
		g.Post("/newchat/message", s.handleNewChatMessage)

		g.Post("/jobs", s.handleSubmitJob)
		g.Get("/jobs", s.handleListJobs)
		g.Get("/jobs/stats", s.handleJobStats)
		g.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("api").Info("HTTP 服务启动", slog.String("addr", s.cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Named("api").Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
