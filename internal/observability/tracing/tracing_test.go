package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSetupStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Config{Exporter: "stdout", ServiceName: "test-svc", Writer: &buf})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "unit-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "unit-span") || !strings.Contains(buf.String(), "test-svc") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestSetupNoneAndUnknown(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("setup none: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown none: %v", err)
	}
	if _, err := Setup(context.Background(), Config{Exporter: "zipkin"}); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}
