package job

import (
	"slices"
	"strings"
	"time"
)

// SortOrder 决定列表的排序方式。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的在前，是默认顺序。
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

// 列表分页的默认值与上限。
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ListOptions 是存储层统一使用的过滤条件，时间字段为 Unix 秒，0 表示不限。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	Kinds      []string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
	// Query 对 id、kind、payload 与 last_error 做不区分大小写的包含匹配。
	Query string
}

func (opts *ListOptions) applyDefaults() {
	opts.Limit = min(max(opts.Limit, 0), MaxListLimit)
	if opts.Limit == 0 {
		opts.Limit = DefaultListLimit
	}
	opts.Offset = max(opts.Offset, 0)
	opts.Statuses = dedupe(opts.Statuses, func(s Status) (Status, bool) { return s, IsValidStatus(s) })
	opts.Kinds = dedupe(opts.Kinds, func(k string) (string, bool) {
		k = strings.TrimSpace(k)
		return k, k != ""
	})
	if opts.Order != SortByUpdatedAsc {
		opts.Order = SortByUpdatedDesc
	}
	opts.Query = strings.TrimSpace(opts.Query)
}

// dedupe 按 keep 清洗并去重，结果为空时返回 nil 表示不过滤。
func dedupe[T comparable](in []T, keep func(T) (T, bool)) []T {
	var out []T
	for _, v := range in {
		v, ok := keep(v)
		if ok && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) { opts.Limit = limit }
}

func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) { opts.Offset = offset }
}

// WithStatuses 按状态过滤，非法状态被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) { opts.Statuses = slices.Clone(statuses) }
}

func WithKinds(kinds ...string) ListOption {
	return func(opts *ListOptions) { opts.Kinds = slices.Clone(kinds) }
}

// WithUpdatedSince 只保留更新时间不早于 ts 的任务，零值取消该条件。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留更新时间不晚于 ts 的任务，零值取消该条件。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) { opts.UpdatedLTE = unixOrZero(ts) }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) { opts.Order = order }
}

func WithQuery(query string) ListOption {
	return func(opts *ListOptions) { opts.Query = query }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	var options ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts ListOptions) matches(j *Job) bool {
	switch {
	case len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, j.Status):
		return false
	case len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, j.Kind):
		return false
	case opts.UpdatedGTE > 0 && j.UpdatedAt < opts.UpdatedGTE:
		return false
	case opts.UpdatedLTE > 0 && j.UpdatedAt > opts.UpdatedLTE:
		return false
	case opts.Query == "":
		return true
	}
	q := strings.ToLower(opts.Query)
	return slices.ContainsFunc([]string{j.ID, j.Kind, string(j.Payload), j.LastError}, func(field string) bool {
		return strings.Contains(strings.ToLower(field), q)
	})
}
