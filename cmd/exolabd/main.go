package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/api"
	"ExoLab-Agents/internal/biolinks"
	"ExoLab-Agents/internal/chat"
	"ExoLab-Agents/internal/config"
	"ExoLab-Agents/internal/curriculum"
	"ExoLab-Agents/internal/diagrams"
	"ExoLab-Agents/internal/embedding"
	"ExoLab-Agents/internal/job"
	"ExoLab-Agents/internal/llm/openai"
	"ExoLab-Agents/internal/media"
	"ExoLab-Agents/internal/observability/alerting"
	"ExoLab-Agents/internal/observability/metrics"
	"ExoLab-Agents/internal/observability/tracing"
	"ExoLab-Agents/internal/questions"
	"ExoLab-Agents/internal/storage/database"
	redisstore "ExoLab-Agents/internal/storage/redis"
	"ExoLab-Agents/pkg/logger"

	"github.com/alecthomas/kong"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

// CLI 是 exolabd 的命令行参数，非零值覆盖配置文件。
var CLI struct {
	Config  string `short:"c" help:"配置文件路径 (JSON 或 YAML)" env:"EXOLAB_CONFIG"`
	Host    string `help:"监听地址"`
	Port    int    `help:"监听端口"`
	Workers int    `help:"后台任务与并行推理的 worker 数量"`
}

// main 是 ExoLab Agents 服务的入口。
func main() {
	kong.Parse(&CLI,
		kong.Name("exolabd"),
		kong.Description("ExoLab Agents 微服务"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("exolabd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg); err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	appLog := logger.Named("exolabd")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			appLog.Warn("关闭链路追踪失败", slog.Any("error", err))
		}
	}()

	var redisClient *goredis.Client
	if cfg.JobQueue.Driver == "redis" || cfg.Chat.SummaryStore == "redis" {
		redisClient, err = redisstore.NewClient(ctx, redisstore.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	history, jobStore, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStorage()

	queue, err := openQueue(cfg, redisClient)
	if err != nil {
		return err
	}

	services, executors, closeServices, err := buildServices(ctx, cfg, history, redisClient)
	if err != nil {
		return err
	}
	defer closeServices()

	alerts := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		alerts = append(alerts, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	processorOpts := []job.ProcessorOption{
		job.WithWorkerCount(cfg.Server.Workers),
		job.WithAlertDispatcher(alerting.NewFanout(alerts...)),
		job.WithProcessorLogger(logger.Named("job")),
	}
	for kind, executor := range executors {
		processorOpts = append(processorOpts, job.WithExecutor(kind, executor))
	}
	processor := job.NewProcessor(jobStore, queue, queue, processorOpts...)

	jobService := job.NewService(jobStore, queue, cfg.Jobs.MaxRetries, job.WithAllowedKinds(processor.Kinds()...))
	defer func() {
		if err := jobService.Close(); err != nil {
			appLog.Warn("关闭任务服务失败", slog.Any("error", err))
		}
	}()
	services.Jobs = jobService

	var tokens []string
	if cfg.Auth.Enabled {
		tokens = cfg.Auth.Tokens
	}
	serverCfg := api.Config{
		Address:         cfg.Server.Address(),
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSecs) * time.Second,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AuthTokens:      tokens,
	}
	if !cfg.Metrics.Disabled && cfg.Metrics.Address == "" {
		serverCfg.MetricsPath = cfg.Metrics.Path
	}
	server := api.NewServer(serverCfg, services)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})
	if !cfg.Metrics.Disabled && cfg.Metrics.Address != "" {
		g.Go(func() error {
			return metrics.StartServer(gctx, cfg.Metrics.Address)
		})
	}

	appLog.Info("ExoLab Agents 已启动",
		slog.String("addr", cfg.Server.Address()),
		slog.Int("workers", cfg.Server.Workers),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.JobQueue.Driver),
		slog.Any("job_kinds", processor.Kinds()),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyFlags 让命令行参数覆盖配置文件，并对覆盖后的结果重新校验。
func applyFlags(cfg *config.Config) error {
	if CLI.Host != "" {
		cfg.Server.Host = CLI.Host
	}
	if CLI.Port > 0 {
		cfg.Server.Port = CLI.Port
	}
	if CLI.Workers > 0 {
		cfg.Server.Workers = CLI.Workers
	}
	return cfg.Validate()
}

func openStorage(ctx context.Context, cfg *config.Config) (chat.HistoryStore, job.Store, func(), error) {
	lease := job.WithClaimLease(time.Duration(cfg.Jobs.LeaseSeconds) * time.Second)
	if cfg.Storage.Driver == "memory" {
		return chat.NewMemoryHistory(), job.NewMemoryStore(lease), func() {}, nil
	}
	dialect, err := database.ParseDialect(cfg.Storage.Driver)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := database.Open(ctx, database.Config{
		Dialect:         dialect,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Storage.ConnMaxIdleTimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Named("exolabd").Warn("关闭数据库失败", slog.Any("error", err))
		}
	}
	return chat.NewSQLHistory(db), job.NewSQLStore(db, lease), closeDB, nil
}

func openQueue(cfg *config.Config, redisClient *goredis.Client) (job.Queue, error) {
	switch cfg.JobQueue.Driver {
	case "memory":
		return job.NewMemoryQueue(cfg.JobQueue.Buffer), nil
	case "redis":
		return job.NewRedisQueue(redisClient, job.RedisQueueConfig{
			Queue:     cfg.JobQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.JobQueue.Redis.BlockWaitSecs) * time.Second,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.JobQueue.RabbitMQ.URL,
			Queue:      cfg.JobQueue.RabbitMQ.Queue,
			Prefetch:   cfg.JobQueue.RabbitMQ.Prefetch,
			Durable:    cfg.JobQueue.RabbitMQ.Durable,
			AutoDelete: cfg.JobQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.JobQueue.Driver)
	}
}

// buildServices 组装依赖大模型的业务服务。未配置 OpenAI Key 时这些路由返回 503。
func buildServices(ctx context.Context, cfg *config.Config, history chat.HistoryStore, redisClient *goredis.Client) (api.Services, map[string]job.Executor, func(), error) {
	appLog := logger.Named("exolabd")
	noop := func() {}
	executors := map[string]job.Executor{}

	var services api.Services
	if cfg.Luma.APIKey != "" {
		luma := media.NewLumaClient(media.LumaConfig{
			APIKey:       cfg.Luma.APIKey,
			BaseURL:      cfg.Luma.BaseURL,
			PollInterval: time.Duration(cfg.Luma.PollIntervalSec) * time.Second,
			HTTPClient:   instrumentedClient(time.Duration(cfg.Luma.TimeoutSeconds) * time.Second),
		})
		services.Videos = luma
		executors[job.KindVideo] = job.VideoExecutor(luma)
	} else {
		appLog.Warn("未配置 Luma API Key，视频生成不可用")
	}

	client, err := openai.NewClient(openai.Config{
		APIKey:     cfg.OpenAI.APIKey,
		BaseURL:    cfg.OpenAI.BaseURL,
		HTTPClient: instrumentedClient(time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second),
	})
	if err != nil {
		appLog.Warn("OpenAI 客户端不可用，智能体路由将返回 503", slog.Any("error", err))
		return services, executors, noop, nil
	}

	runner := agent.NewRunner(client, agent.WithTimeout(time.Duration(cfg.OpenAI.TimeoutSeconds)*time.Second))
	workers := cfg.Server.Workers
	vectors := embedding.NewService(client)

	curriculumSvc := curriculum.NewService(runner, curriculum.WithConcurrency(workers))
	questionsSvc := questions.NewService(runner, workers)
	diagramSvc := diagrams.NewService(runner, cfg.Diagrams.RequestsPerMinute, diagrams.NewRenderer(diagrams.RendererConfig{
		Tools: diagrams.Tools{
			PDFLatex:    cfg.Diagrams.PDFLatex,
			Axohelp:     cfg.Diagrams.Axohelp,
			PDFInfo:     cfg.Diagrams.PDFInfo,
			Ghostscript: cfg.Diagrams.Ghostscript,
			Convert:     cfg.Diagrams.Convert,
		},
		Density:       cfg.Diagrams.Density,
		PaddingPoints: float64(cfg.Diagrams.PaddingPoints),
		WorkDir:       cfg.Diagrams.WorkDir,
	}))

	var summaries chat.SummaryStore = chat.NewMemorySummaryStore()
	if cfg.Chat.SummaryStore == "redis" {
		summaries = chat.NewRedisSummaryStore(redisClient, "", time.Duration(cfg.Chat.SummaryTTLSecs)*time.Second)
	}
	memory := chat.NewSummaryMemory(summaries, runner, cfg.Chat.MaxTokenLimit)

	var (
		biolinkRepo biolinks.Repository = biolinks.NewMemoryRepository()
		subtopics   chat.SubtopicIndex  = chat.NewMemorySubtopicIndex()
		closeVector                     = noop
	)
	if cfg.Vector.Driver == "postgres" {
		vdb, err := database.Open(ctx, database.Config{Dialect: database.DialectPostgres, DSN: cfg.Vector.DSN})
		if err != nil {
			return api.Services{}, nil, noop, err
		}
		if err := vdb.MigrateDir(ctx, "vector"); err != nil {
			_ = vdb.Close()
			return api.Services{}, nil, noop, err
		}
		biolinkRepo = biolinks.NewPostgresRepository(vdb.DB)
		subtopics = chat.NewPostgresSubtopicIndex(vdb.DB)
		closeVector = func() { _ = vdb.Close() }
	}

	services.Curriculum = curriculumSvc
	services.Questions = questionsSvc
	services.Vectorizer = vectors
	services.Biolinks = biolinks.NewService(vectors, biolinkRepo, workers)
	services.Images = media.NewImageService(client, runner, cfg.OpenAI.ImageSize)
	services.Diagrams = diagramSvc
	services.Chat = chat.NewService(runner, history, memory,
		chat.WithRecentMessages(cfg.Chat.RecentMessages),
		chat.WithSubtopicSearch(vectors, subtopics),
	)

	executors[job.KindDiagram] = job.DiagramExecutor(diagramSvc)
	executors[job.KindQuestions] = job.QuestionsExecutor(questionsSvc)
	executors[job.KindExplanations] = job.ExplanationsExecutor(curriculumSvc)
	return services, executors, closeVector, nil
}

func instrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
