package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exolab"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed, labeled by route, method and status code.",
	}, []string{"handler", "method", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency distribution.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"handler", "method"})

	agentRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_runs_total",
		Help:      "Agent runs labeled by agent name, model and outcome.",
	}, []string{"agent", "model", "outcome"})

	agentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "agent_run_duration_seconds",
		Help:      "Latency of a single agent run including tool steps.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"agent"})

	modelTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_tokens_total",
		Help:      "Tokens consumed per model and kind (prompt|completion).",
	}, []string{"model", "kind"})

	jobTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_transitions_total",
		Help:      "Background job state transitions labeled by kind and status.",
	}, []string{"kind", "status"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		agentRuns,
		agentDuration,
		modelTokens,
		jobTransitions,
	)
}

// Registry 返回进程内的 Prometheus 注册表。
func Registry() *prometheus.Registry {
	return registry
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveAgentRun records the outcome of one agent run.
func ObserveAgentRun(agent, model, outcome string, duration time.Duration) {
	agentRuns.WithLabelValues(agent, model, outcome).Inc()
	agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// ObserveTokens records token usage reported by the model provider.
func ObserveTokens(model string, prompt, completion int) {
	if prompt > 0 {
		modelTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		modelTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

// ObserveJob records a background job transition.
func ObserveJob(kind, status string) {
	jobTransitions.WithLabelValues(kind, status).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer 在独立端口上暴露指标，直到上下文取消。
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
