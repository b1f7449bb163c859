package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName 是业务代码创建 span 时使用的 tracer 名称。
const TracerName = "ExoLab-Agents"

// Config 描述链路追踪导出方式。
type Config struct {
	// Exporter 取值 none、stdout、otlp。
	Exporter    string
	Endpoint    string
	ServiceName string
	SampleRatio float64
	// Writer 仅用于 stdout 导出器，默认 os.Stdout。
	Writer io.Writer
}

// ShutdownFunc 刷新并关闭导出器。
type ShutdownFunc func(context.Context) error

// Setup 初始化全局 TracerProvider 与传播器。Exporter 为 none 时只设置传播器。
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	var exporter sdktrace.SpanExporter
	switch strings.ToLower(cfg.Exporter) {
	case "", "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		writer := cfg.Writer
		if writer == nil {
			writer = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(writer))
		if err != nil {
			return nil, fmt.Errorf("创建 stdout trace exporter 失败: %w", err)
		}
		exporter = exp
	case "otlp":
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("创建 OTLP trace exporter 失败: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("不支持的 trace exporter: %s", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "exolab-agents"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 trace resource 失败: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer 返回业务 tracer。
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
