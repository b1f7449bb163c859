package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 描述了 ExoLab Agents 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Vector   VectorConfig   `json:"vector" yaml:"vector"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	JobQueue JobQueueConfig `json:"job_queue" yaml:"job_queue"`
	Jobs     JobsConfig     `json:"jobs" yaml:"jobs"`
	Chat     ChatConfig     `json:"chat" yaml:"chat"`
	OpenAI   OpenAIConfig   `json:"openai" yaml:"openai"`
	Luma     LumaConfig     `json:"luma" yaml:"luma"`
	Diagrams DiagramsConfig `json:"diagrams" yaml:"diagrams"`
	Auth     AuthConfig     `json:"auth" yaml:"auth"`
	CORS     CORSConfig     `json:"cors" yaml:"cors"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `json:"tracing" yaml:"tracing"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与并发。
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// Workers 决定后台任务处理协程数量，同时作为单个请求内并行调用模型的上限。
	Workers             int `json:"workers" yaml:"workers"`
	ShutdownTimeoutSecs int `json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// Address 返回 host:port 形式的监听地址。
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level" yaml:"level"`
	Format      string      `json:"format" yaml:"format"`
	OutputPaths []string    `json:"output_paths" yaml:"output_paths"`
	Audit       AuditConfig `json:"audit" yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// StorageConfig 描述聊天记录与任务状态所在的关系型数据库。
type StorageConfig struct {
	// Driver 取值 memory、sqlite、mysql、postgres。
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds" yaml:"conn_max_idle_time_seconds"`
}

// VectorConfig 描述 pgvector 检索所使用的数据库。
type VectorConfig struct {
	// Driver 取值 memory 或 postgres。
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// RedisConfig 是任务队列与会话摘要共享的 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// JobQueueConfig 选择异步任务的消息队列实现。
type JobQueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisQueue     `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueue 描述 Redis list 队列参数。
type RedisQueue struct {
	Queue         string `json:"queue" yaml:"queue"`
	BlockWaitSecs int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// JobsConfig 控制异步任务的重试与执行租约。
type JobsConfig struct {
	MaxRetries   int `json:"max_retries" yaml:"max_retries"`
	// LeaseSeconds 之后仍为 running 的任务可被重新领取，负数表示不回收。
	LeaseSeconds int `json:"lease_seconds" yaml:"lease_seconds"`
}

// ChatConfig 控制会话摘要记忆。
type ChatConfig struct {
	// SummaryStore 取值 memory 或 redis。
	SummaryStore   string `json:"summary_store" yaml:"summary_store"`
	MaxTokenLimit  int    `json:"max_token_limit" yaml:"max_token_limit"`
	RecentMessages int    `json:"recent_messages" yaml:"recent_messages"`
	SummaryTTLSecs int    `json:"summary_ttl_seconds" yaml:"summary_ttl_seconds"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的访问方式。
type OpenAIConfig struct {
	APIKey         string `json:"api_key" yaml:"api_key"`
	BaseURL        string `json:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	ImageSize      string `json:"image_size" yaml:"image_size"`
}

// LumaConfig 描述 Luma Dream Machine 视频生成接口。
type LumaConfig struct {
	APIKey          string `json:"api_key" yaml:"api_key"`
	BaseURL         string `json:"base_url" yaml:"base_url"`
	PollIntervalSec int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	TimeoutSeconds  int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// DiagramsConfig 描述 axodraw2 图表的生成与渲染工具链。
type DiagramsConfig struct {
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute"`
	PDFLatex          string `json:"pdflatex" yaml:"pdflatex"`
	Axohelp           string `json:"axohelp" yaml:"axohelp"`
	PDFInfo           string `json:"pdfinfo" yaml:"pdfinfo"`
	Ghostscript       string `json:"ghostscript" yaml:"ghostscript"`
	Convert           string `json:"convert" yaml:"convert"`
	Density           int    `json:"density" yaml:"density"`
	PaddingPoints     int    `json:"padding_points" yaml:"padding_points"`
	WorkDir           string `json:"work_dir" yaml:"work_dir"`
}

// AuthConfig 描述静态 Bearer Token 鉴权。
type AuthConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Tokens  []string `json:"tokens" yaml:"tokens"`
}

// CORSConfig 描述跨域访问策略。
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// MetricsConfig 控制 Prometheus 指标暴露。
type MetricsConfig struct {
	Disabled bool   `json:"disabled" yaml:"disabled"`
	Path     string `json:"path" yaml:"path"`
	// Address 非空时在独立端口暴露指标，否则挂在 API 路由上。
	Address  string `json:"address" yaml:"address"`
}

// TracingConfig 控制 OpenTelemetry 链路追踪。
type TracingConfig struct {
	// Exporter 取值 none、stdout、otlp。
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// AlertingConfig 控制任务失败告警。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
}

// Load 解析指定路径的 JSON 或 YAML 配置文件，路径为空时仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := decode(path, content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	default:
		return json.Unmarshal(content, cfg)
	}
}

// loadDotEnv 读取 .env 文件，已存在的环境变量不会被覆盖。
func loadDotEnv(dirs ...string) error {
	seen := make(map[string]struct{}, len(dirs)+1)
	for _, dir := range append(dirs, ".") {
		file := filepath.Join(dir, ".env")
		if _, ok := seen[file]; ok {
			continue
		}
		seen[file] = struct{}{}
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("加载 %s 失败: %w", file, err)
		}
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv 使用环境变量覆盖配置，环境变量名与历史部署保持一致。
func (c *Config) applyEnv(lookup lookupFunc) {
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.OpenAI.APIKey = v
	}
	if v, ok := lookup("OPENAI_BASE_URL"); ok && v != "" {
		c.OpenAI.BaseURL = v
	}
	for _, key := range []string{"LUMA_API_KEY", "luma_key"} {
		if v, ok := lookup(key); ok && v != "" {
			c.Luma.APIKey = v
			break
		}
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Redis.Address = v
	}
	if v, ok := lookup("EXOLAB_STORAGE_DSN"); ok && v != "" {
		c.Storage.DSN = v
	}
	if c.Vector.DSN == "" {
		if dsn, ok := postgresDSNFromEnv(lookup); ok {
			c.Vector.DSN = dsn
		}
	}
}

// postgresDSNFromEnv 根据 DB_NAME、DB_USER 等变量拼接 Postgres 连接串。
func postgresDSNFromEnv(lookup lookupFunc) (string, bool) {
	get := func(key, fallback string) (string, bool) {
		if v, ok := lookup(key); ok && v != "" {
			return v, true
		}
		return fallback, false
	}
	name, n := get("DB_NAME", "langchain")
	user, u := get("DB_USER", "langchain")
	password, p := get("DB_PASSWORD", "langchain")
	host, h := get("DB_HOST", "localhost")
	port, o := get("DB_PORT", "6024")
	if !(n || u || p || h || o) {
		return "", false
	}
	dsn := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + name,
	}
	return dsn.String(), true
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 4
	}
	if c.Server.ShutdownTimeoutSecs <= 0 {
		c.Server.ShutdownTimeoutSecs = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = "logs/audit.log"
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" {
		if c.Storage.DSN == "" {
			c.Storage.DSN = "data/exolab.db"
		}
		if c.Storage.DSN != ":memory:" && !strings.HasPrefix(c.Storage.DSN, "file:") {
			c.Storage.DSN = resolve(baseDir, c.Storage.DSN)
		}
	}

	if c.Vector.Driver == "" {
		if c.Vector.DSN != "" {
			c.Vector.Driver = "postgres"
		} else {
			c.Vector.Driver = "memory"
		}
	}

	if c.Redis.Address == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}

	if c.JobQueue.Driver == "" {
		c.JobQueue.Driver = "memory"
	}
	if c.JobQueue.Buffer <= 0 {
		c.JobQueue.Buffer = 1024
	}
	if c.JobQueue.Redis.Queue == "" {
		c.JobQueue.Redis.Queue = "exolab:jobs"
	}
	if c.JobQueue.Redis.BlockWaitSecs <= 0 {
		c.JobQueue.Redis.BlockWaitSecs = 5
	}
	if c.JobQueue.RabbitMQ.Queue == "" {
		c.JobQueue.RabbitMQ.Queue = "exolab.jobs"
	}
	if c.JobQueue.RabbitMQ.Prefetch <= 0 {
		c.JobQueue.RabbitMQ.Prefetch = c.Server.Workers
	}
	if c.Jobs.MaxRetries <= 0 {
		c.Jobs.MaxRetries = 3
	}
	if c.Jobs.LeaseSeconds == 0 {
		c.Jobs.LeaseSeconds = 1800
	}

	if c.Chat.SummaryStore == "" {
		c.Chat.SummaryStore = "memory"
	}
	if c.Chat.MaxTokenLimit <= 0 {
		c.Chat.MaxTokenLimit = 2000
	}
	if c.Chat.RecentMessages <= 0 {
		c.Chat.RecentMessages = 5
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		c.OpenAI.TimeoutSeconds = 120
	}
	if c.OpenAI.ImageSize == "" {
		c.OpenAI.ImageSize = "1024x1024"
	}

	if c.Luma.BaseURL == "" {
		c.Luma.BaseURL = "https://api.lumalabs.ai/dream-machine/v1"
	}
	if c.Luma.PollIntervalSec <= 0 {
		c.Luma.PollIntervalSec = 3
	}
	if c.Luma.TimeoutSeconds <= 0 {
		c.Luma.TimeoutSeconds = 600
	}

	d := &c.Diagrams
	if d.RequestsPerMinute <= 0 {
		d.RequestsPerMinute = 60
	}
	d.PDFLatex = orDefault(d.PDFLatex, "pdflatex")
	d.Axohelp = orDefault(d.Axohelp, "axohelp")
	d.PDFInfo = orDefault(d.PDFInfo, "pdfinfo")
	d.Ghostscript = orDefault(d.Ghostscript, "gs")
	d.Convert = orDefault(d.Convert, "convert")
	if d.Density <= 0 {
		d.Density = 300
	}
	if d.PaddingPoints <= 0 {
		d.PaddingPoints = 200
	}
	if d.WorkDir != "" {
		d.WorkDir = resolve(baseDir, d.WorkDir)
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "exolab-agents"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "mysql", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.driver=%s 时必须配置 storage.dsn", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Driver)
	}
	switch c.Vector.Driver {
	case "memory":
	case "postgres":
		if c.Vector.DSN == "" {
			return errors.New("vector.driver=postgres 时必须配置 vector.dsn")
		}
	default:
		return fmt.Errorf("不支持的向量库驱动: %s", c.Vector.Driver)
	}
	switch c.JobQueue.Driver {
	case "memory", "redis":
	case "rabbitmq":
		if c.JobQueue.RabbitMQ.URL == "" {
			return errors.New("job_queue.driver=rabbitmq 时必须配置 job_queue.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的任务队列驱动: %s", c.JobQueue.Driver)
	}
	switch c.Chat.SummaryStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("不支持的摘要存储: %s", c.Chat.SummaryStore)
	}
	switch c.Tracing.Exporter {
	case "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return errors.New("tracing.exporter=otlp 时必须配置 tracing.endpoint")
		}
	default:
		return fmt.Errorf("不支持的 tracing exporter: %s", c.Tracing.Exporter)
	}
	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		return errors.New("auth.enabled=true 时至少需要一个 token")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("非法端口: %d", c.Server.Port)
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
