package job

import (
	"context"
	"sync"
)

// serve 启动 workerCount 个协程从 in 读取消息并交给 fn，ctx 结束后等待所有协程退出。
// in 被关闭时协程提前退出，但 serve 仍然阻塞到 ctx 结束。
func serve[T any](ctx context.Context, workerCount int, in <-chan T, fn func(context.Context, T)) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-in:
					if !ok {
						return
					}
					fn(ctx, msg)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}
