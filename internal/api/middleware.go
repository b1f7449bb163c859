package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/observability/metrics"
	"ExoLab-Agents/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// statusWriter 捕获响应状态码。
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// accessLog 为每个请求写一条审计日志并记录请求指标。
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, sw.status, elapsed)
		logger.Audit().Info("api_request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", sw.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

// bearerAuth 校验 Authorization: Bearer <token>，tokens 为空时直接放行。
func bearerAuth(tokens []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(tokens) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := parseBearer(r.Header.Get("Authorization"))
			if !ok || !matchToken(tokens, token) {
				logger.Audit().Warn("access_denied",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Bool("token_present", ok),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="exolab"`)
				writeError(w, r, xerrors.New(xerrors.CodeUnauthenticated, "缺少或无效的访问令牌"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func matchToken(tokens []string, candidate string) bool {
	matched := 0
	for _, token := range tokens {
		matched |= subtle.ConstantTimeCompare([]byte(token), []byte(candidate))
	}
	return matched == 1
}
