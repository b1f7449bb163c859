package agent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map 以最多 limit 个并发执行 fn，结果顺序与 items 一致。
// 任一调用失败会取消其余调用并返回第一个错误。limit<=0 表示不限制。
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			out, err := fn(ctx, item)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
