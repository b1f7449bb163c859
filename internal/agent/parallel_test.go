package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapPreservesOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	out, err := Map(context.Background(), 2, items, func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, n := range items {
		if out[i] != n*10 {
			t.Fatalf("order broken at %d: %v", i, out)
		}
	}
}

func TestMapRespectsLimitAndFailsFast(t *testing.T) {
	var running, peak int32
	boom := errors.New("boom")
	_, err := Map(context.Background(), 2, []int{1, 2, 3, 4, 5, 6}, func(ctx context.Context, n int) (int, error) {
		cur := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		if n == 2 {
			return 0, boom
		}
		return n, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if peak > 2 {
		t.Fatalf("concurrency limit exceeded: %d", peak)
	}
}

func TestMapEmpty(t *testing.T) {
	out, err := Map(context.Background(), 4, []string(nil), func(context.Context, string) (string, error) {
		t.Fatalf("fn must not be called")
		return "", nil
	})
	if err != nil || len(out) != 0 {
		t.Fatalf("unexpected result: %v %v", out, err)
	}
}
