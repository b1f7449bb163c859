package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/job"

	"github.com/go-chi/chi/v5"
)

// maxJobWait 限制 GET /jobs/{id}?wait= 的最长等待时间。
const maxJobWait = time.Minute

type jobListResponse struct {
	Jobs  []*job.Job `json:"jobs"`
	Total int        `json:"total"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.services.Jobs == nil {
		unavailable(w, r, "任务服务")
		return
	}
	var req job.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	record, err := s.services.Jobs.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+record.ID)
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.services.Jobs == nil {
		unavailable(w, r, "任务服务")
		return
	}
	id := chi.URLParam(r, "id")
	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wait <= 0 {
		record, err := s.services.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	record, err := s.services.Jobs.WaitUntilCompleted(ctx, id, 0)
	if errors.Is(err, context.DeadlineExceeded) {
		// 等待超时时返回当前状态，由调用方继续轮询。
		record, err = s.services.Jobs.Get(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.services.Jobs == nil {
		unavailable(w, r, "任务服务")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jobs, err := s.services.Jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobListResponse{Jobs: jobs, Total: len(jobs)})
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.services.Jobs == nil {
		unavailable(w, r, "任务服务")
		return
	}
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stats, err := s.services.Jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptionsFromQuery(r *http.Request) ([]job.ListOption, error) {
	q := r.URL.Query()
	var opts []job.ListOption

	if raw := q.Get("status"); raw != "" {
		var statuses []job.Status
		for _, part := range strings.Split(raw, ",") {
			status := job.Status(strings.TrimSpace(part))
			if !job.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的任务状态 %q", part))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, job.WithStatuses(statuses...))
	}
	if raw := q.Get("kind"); raw != "" {
		opts = append(opts, job.WithKinds(strings.Split(raw, ",")...))
	}
	for _, name := range []string{"limit", "offset"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 必须为非负整数", name))
		}
		if name == "limit" {
			opts = append(opts, job.WithLimit(n))
		} else {
			opts = append(opts, job.WithOffset(n))
		}
	}
	if raw := q.Get("order"); raw == "asc" {
		opts = append(opts, job.WithSortOrder(job.SortByUpdatedAsc))
	}
	if raw := strings.TrimSpace(q.Get("q")); raw != "" {
		opts = append(opts, job.WithQuery(raw))
	}
	for name, with := range map[string]func(time.Time) job.ListOption{
		"updated_since": job.WithUpdatedSince,
		"updated_until": job.WithUpdatedUntil,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s 必须为 RFC3339 时间", name))
		}
		opts = append(opts, with(ts))
	}
	return opts, nil
}

// parseWait 解析 wait 参数，支持 "30s" 形式或秒数。
func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "wait 参数格式错误")
		}
		d = time.Duration(secs) * time.Second
	}
	if d > maxJobWait {
		d = maxJobWait
	}
	return d, nil
}
