package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述应用日志的级别、格式与输出位置。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制审计日志，文件按大小滚动。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// sink 汇总一组输出以及需要在替换或退出时关闭的句柄。
type sink struct {
	writers []io.Writer
	closers []io.Closer
}

func (s *sink) add(w io.Writer, c io.Closer) {
	s.writers = append(s.writers, w)
	if c != nil {
		s.closers = append(s.closers, c)
	}
}

func (s *sink) writer() io.Writer {
	switch len(s.writers) {
	case 0:
		return os.Stdout
	case 1:
		return s.writers[0]
	}
	return io.MultiWriter(s.writers...)
}

func (s *sink) close() error {
	var err error
	for _, c := range s.closers {
		err = errors.Join(err, c.Close())
	}
	s.closers = nil
	return err
}

type state struct {
	app   *slog.Logger
	audit *slog.Logger
	sinks []*sink
}

var (
	mu      sync.RWMutex
	current state
)

// Init 初始化全局日志。重复调用会替换旧的 logger 并关闭其文件输出。
func Init(cfg Config) error {
	app := &sink{}
	for _, path := range cfg.OutputPaths {
		w, c, err := open(path)
		if err != nil {
			_ = app.close()
			return err
		}
		app.add(w, c)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: true}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(app.writer(), opts)
	} else {
		handler = slog.NewJSONHandler(app.writer(), opts)
	}
	next := state{app: slog.New(handler), sinks: []*sink{app}}
	next.audit = next.app

	if cfg.Audit.Enabled {
		audit, err := rotating(cfg.Audit)
		if err != nil {
			_ = app.close()
			return err
		}
		next.audit = slog.New(slog.NewJSONHandler(audit.writer(), &slog.HandlerOptions{Level: slog.LevelInfo}))
		next.sinks = append(next.sinks, audit)
	}

	mu.Lock()
	prev := current
	current = next
	mu.Unlock()

	slog.SetDefault(next.app)
	return closeSinks(prev.sinks)
}

func rotating(cfg AuditConfig) (*sink, error) {
	if cfg.Path == "" {
		return nil, errors.New("启用审计日志时必须指定 path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    positive(cfg.MaxSizeMB, 100),
		MaxBackups: positive(cfg.MaxBackups, 7),
		MaxAge:     positive(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
	}
	s := &sink{}
	s.add(w, w)
	return s, nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// open 解析一个输出目标：stdout、stderr 或追加写入的文件路径。
func open(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("打开日志文件 %s 失败: %w", path, err)
	}
	return f, f, nil
}

func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func closeSinks(sinks []*sink) error {
	var err error
	for _, s := range sinks {
		err = errors.Join(err, s.close())
	}
	return err
}

// L 返回应用日志。
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if current.app == nil {
		return slog.Default()
	}
	return current.app
}

// Audit 返回审计日志，未启用时与 L 相同。
func Audit() *slog.Logger {
	mu.RLock()
	audit := current.audit
	mu.RUnlock()
	if audit == nil {
		return L()
	}
	return audit
}

// Sync 关闭所有文件输出，进程退出前调用。
func Sync() error {
	mu.Lock()
	sinks := current.sinks
	current.sinks = nil
	mu.Unlock()
	return closeSinks(sinks)
}

// Named 返回带 component 字段的子 logger。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}
