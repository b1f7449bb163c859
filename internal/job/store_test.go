package job

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"testing"
	"time"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/internal/storage/database"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Dialect: database.DialectSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLStore(db)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t),
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			job := &Job{ID: "j1", Kind: KindDiagram, Payload: json.RawMessage(`{"prompt":"x"}`), Status: StatusPending, MaxRetries: 2}
			if err := store.Create(ctx, job); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := store.Create(ctx, &Job{ID: "j1", Kind: KindDiagram, Status: StatusPending}); !stdErrors.Is(err, ErrJobConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}

			claimed, err := store.Claim(ctx, "j1")
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if claimed.Status != StatusRunning || claimed.Attempts != 1 {
				t.Fatalf("unexpected claimed job: %+v", claimed)
			}
			if _, err := store.Claim(ctx, "j1"); !stdErrors.Is(err, ErrJobConflict) {
				t.Fatalf("expected conflict for running job, got %v", err)
			}

			if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom", true); err != nil {
				t.Fatalf("mark failed: %v", err)
			}
			failed, _ := store.Get(ctx, "j1")
			if failed.Status != StatusFailed || failed.LastError != "boom" || failed.ErrorCode != string(CodeJobProcessing) {
				t.Fatalf("unexpected failed job: %+v", failed)
			}

			if _, err := store.Claim(ctx, "j1"); err != nil {
				t.Fatalf("second claim: %v", err)
			}
			if err := store.MarkSucceeded(ctx, "j1", json.RawMessage(`{"ok":true}`)); err != nil {
				t.Fatalf("mark succeeded: %v", err)
			}
			done, err := store.Get(ctx, "j1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if done.Status != StatusSucceeded || string(done.Result) != `{"ok":true}` || done.LastError != "" {
				t.Fatalf("unexpected done job: %+v", done)
			}
			if string(done.Payload) != `{"prompt":"x"}` {
				t.Fatalf("payload not preserved: %s", done.Payload)
			}
			if _, err := store.Claim(ctx, "j1"); !stdErrors.Is(err, ErrJobCompleted) {
				t.Fatalf("expected completed, got %v", err)
			}
		})
	}
}

func TestStoreClaimExhausted(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, &Job{ID: "j2", Kind: KindVideo, Status: StatusPending, MaxRetries: 1}); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := store.Claim(ctx, "j2"); err != nil {
				t.Fatalf("claim: %v", err)
			}
			if err := store.MarkFailed(ctx, "j2", CodeJobProcessing, "boom", true); err != nil {
				t.Fatalf("mark failed: %v", err)
			}
			if _, err := store.Claim(ctx, "j2"); !stdErrors.Is(err, ErrJobExhausted) {
				t.Fatalf("expected exhausted, got %v", err)
			}
			if _, err := store.Claim(ctx, "missing"); !stdErrors.Is(err, ErrJobNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestStoreClaimRespectsRetryFlag(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Create(ctx, &Job{ID: "j3", Kind: KindVideo, Status: StatusPending, MaxRetries: 3}); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := store.Claim(ctx, "j3"); err != nil {
				t.Fatalf("claim: %v", err)
			}
			if err := store.MarkFailed(ctx, "j3", xerrors.CodeUpstreamFailure, "400", false); err != nil {
				t.Fatalf("mark failed: %v", err)
			}
			failed, _ := store.Get(ctx, "j3")
			if failed.Retryable {
				t.Fatalf("retry flag not stored: %+v", failed)
			}
			if _, err := store.Claim(ctx, "j3"); !stdErrors.Is(err, ErrJobExhausted) {
				t.Fatalf("expected exhausted for terminal failure, got %v", err)
			}
		})
	}
}

func TestStoreReclaimsStaleRunningJobs(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)
			setClock(store, base)
			for id, retries := range map[string]int{"stale": 3, "last": 1} {
				if err := store.Create(ctx, &Job{ID: id, Kind: KindVideo, Status: StatusPending, MaxRetries: retries}); err != nil {
					t.Fatalf("create %s: %v", id, err)
				}
				if _, err := store.Claim(ctx, id); err != nil {
					t.Fatalf("claim %s: %v", id, err)
				}
			}

			setClock(store, base.Add(DefaultClaimLease-time.Minute))
			if _, err := store.Claim(ctx, "stale"); !stdErrors.Is(err, ErrJobConflict) {
				t.Fatalf("expected conflict within lease, got %v", err)
			}

			setClock(store, base.Add(DefaultClaimLease+time.Minute))
			reclaimed, err := store.Claim(ctx, "stale")
			if err != nil {
				t.Fatalf("reclaim: %v", err)
			}
			if reclaimed.Status != StatusRunning || reclaimed.Attempts != 2 {
				t.Fatalf("unexpected reclaimed job: %+v", reclaimed)
			}

			if _, err := store.Claim(ctx, "last"); !stdErrors.Is(err, ErrJobExhausted) {
				t.Fatalf("expected exhausted for stale last attempt, got %v", err)
			}
			last, _ := store.Get(ctx, "last")
			if last.Status != StatusFailed || last.Retryable || last.ErrorCode != string(CodeJobProcessing) {
				t.Fatalf("stale last attempt should be closed out: %+v", last)
			}
		})
	}
}

func TestStoreListAndStats(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)
			setClock(store, base)
			for i, tc := range []struct {
				id, kind string
			}{
				{"a", KindVideo}, {"b", KindDiagram}, {"c", KindQuestions},
			} {
				setClock(store, base.Add(time.Duration(i)*time.Minute))
				if err := store.Create(ctx, &Job{ID: tc.id, Kind: tc.kind, Payload: json.RawMessage(`{"prompt":"cells ` + tc.id + `"}`), Status: StatusPending, MaxRetries: 3}); err != nil {
					t.Fatalf("create %s: %v", tc.id, err)
				}
			}
			setClock(store, base.Add(10*time.Minute))
			if err := store.MarkFailed(ctx, "a", CodeJobProcessing, "upstream timeout", true); err != nil {
				t.Fatalf("mark failed: %v", err)
			}

			all, err := store.List(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 3 || all[0].ID != "a" || all[1].ID != "c" {
				t.Fatalf("unexpected order: %v", ids(all))
			}

			asc, _ := store.List(ctx, ListOptions{Order: SortByUpdatedAsc, Limit: 2})
			if len(asc) != 2 || asc[0].ID != "b" {
				t.Fatalf("unexpected ascending list: %v", ids(asc))
			}

			paged, _ := store.List(ctx, ListOptions{Limit: 1, Offset: 1})
			if len(paged) != 1 || paged[0].ID != "c" {
				t.Fatalf("unexpected page: %v", ids(paged))
			}

			pending, _ := store.List(ctx, ListOptions{Statuses: []Status{StatusPending}})
			if len(pending) != 2 {
				t.Fatalf("unexpected pending list: %v", ids(pending))
			}

			byQuery, _ := store.List(ctx, ListOptions{Query: "TIMEOUT"})
			if len(byQuery) != 1 || byQuery[0].ID != "a" {
				t.Fatalf("unexpected query result: %v", ids(byQuery))
			}

			byKind, _ := store.List(ctx, ListOptions{Kinds: []string{KindDiagram}})
			if len(byKind) != 1 || byKind[0].ID != "b" {
				t.Fatalf("unexpected kind result: %v", ids(byKind))
			}

			stats, err := store.Stats(ctx, ListOptions{})
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Total != 3 || stats.Pending != 2 || stats.Failed != 1 {
				t.Fatalf("unexpected stats: %+v", stats)
			}
			if stats.OldestUpdatedAt != base.Add(time.Minute).Unix() || stats.NewestUpdatedAt != base.Add(10*time.Minute).Unix() {
				t.Fatalf("unexpected stats range: %+v", stats)
			}

			empty, err := store.Stats(ctx, ListOptions{Statuses: []Status{StatusRunning}})
			if err != nil || empty.Total != 0 || empty.OldestUpdatedAt != 0 {
				t.Fatalf("unexpected empty stats: %+v %v", empty, err)
			}
		})
	}
}

func setClock(store Store, ts time.Time) {
	now := func() time.Time { return ts }
	switch s := store.(type) {
	case *MemoryStore:
		s.mu.Lock()
		s.now = now
		s.mu.Unlock()
	case *SQLStore:
		s.now = now
	}
}

func ids(jobs []*Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}

func TestListOptionsDefaults(t *testing.T) {
	opts := buildListOptions([]ListOption{
		WithLimit(500),
		WithOffset(-3),
		WithStatuses("bogus", StatusFailed, StatusFailed),
		WithKinds(" video ", "", "video"),
		WithQuery("  cells "),
	})
	if opts.Limit != MaxListLimit || opts.Offset != 0 {
		t.Fatalf("unexpected paging: %+v", opts)
	}
	if len(opts.Statuses) != 1 || opts.Statuses[0] != StatusFailed {
		t.Fatalf("unexpected statuses: %v", opts.Statuses)
	}
	if len(opts.Kinds) != 1 || opts.Kinds[0] != "video" {
		t.Fatalf("unexpected kinds: %v", opts.Kinds)
	}
	if opts.Query != "cells" {
		t.Fatalf("unexpected query: %q", opts.Query)
	}
	if def := buildListOptions(nil); def.Limit != DefaultListLimit {
		t.Fatalf("unexpected default limit: %d", def.Limit)
	}
}
