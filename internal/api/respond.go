package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"
)

// maxBodyBytes 限制请求体大小。
const maxBodyBytes = 8 << 20

type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Named("api").Error("写入响应失败", slog.Any("error", err))
	}
}

// writeError 将统一错误映射为 HTTP 状态码与 {"detail": ...} 响应体。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.HTTPStatus(err)
	body := errorBody{Detail: err.Error()}
	if e, ok := xerrors.From(err); ok {
		body.Detail = e.Message()
		body.Code = string(e.Code())
	}
	if status >= http.StatusInternalServerError {
		logger.Named("api").Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	writeJSON(w, status, body)
}

// decodeJSON 解析请求体，格式错误返回 400。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		msg := "请求体解析失败"
		if err == io.EOF {
			msg = "请求体不能为空"
		}
		writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, msg))
		return false
	}
	return true
}

func unavailable(w http.ResponseWriter, r *http.Request, name string) {
	writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, name+" 未启用"))
}
