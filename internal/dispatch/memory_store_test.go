package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"agent-platform/internal/engine"
)

func seedJobs(t *testing.T, store *MemoryStore, jobs ...*Job) {
	t.Helper()
	for _, job := range jobs {
		if err := store.Create(context.Background(), job); err != nil {
			t.Fatalf("create job %s: %v", job.ID, err)
		}
	}
}

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedJobs(t, store, &Job{ID: "j1", AgentID: "a", Kind: KindChat, Status: StatusPending, MaxRetries: 2})

	if err := store.Create(ctx, &Job{ID: "j1", Status: StatusPending}); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "j1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom", false, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	retry, err := store.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if retry.Status != StatusPending || retry.LastError != "boom" {
		t.Fatalf("expected job back in pending, got %+v", retry)
	}

	if _, err := store.Claim(ctx, "j1"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkFailed(ctx, "j1", CodeJobProcessing, "boom again", false, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Claim(ctx, "j1"); !errors.Is(err, ErrJobExhausted) {
		t.Fatalf("expected exhausted after max retries, got %v", err)
	}
	if _, err := store.Claim(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreCompletedAndCancelled(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedJobs(t, store,
		&Job{ID: "done", Status: StatusPending, MaxRetries: 3},
		&Job{ID: "stop", Status: StatusPending, MaxRetries: 3},
	)

	if _, err := store.Claim(ctx, "done"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	result := engine.TaskResult{TaskID: "done", Status: engine.StatusCompleted, OutputData: map[string]any{"response": "ok"}}
	if err := store.MarkCompleted(ctx, "done", result); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if _, err := store.Claim(ctx, "done"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}
	if _, err := store.MarkCancelled(ctx, "done"); !errors.Is(err, ErrJobCompleted) {
		t.Fatalf("expected completed jobs to reject cancel, got %v", err)
	}

	previous, err := store.MarkCancelled(ctx, "stop")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if previous.Status != StatusPending {
		t.Fatalf("expected previous status pending, got %s", previous.Status)
	}
	if err := store.MarkCompleted(ctx, "stop", result); !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("expected cancelled job to stay cancelled, got %v", err)
	}

	stored, _ := store.Get(ctx, "done")
	stored.Result.OutputData["response"] = "mutated"
	again, _ := store.Get(ctx, "done")
	if again.Result.OutputData["response"] != "ok" {
		t.Fatalf("expected stored result to be isolated from callers")
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	seedJobs(t, store,
		&Job{ID: "t1", AgentID: "a", Kind: KindChat, Status: StatusPending, MaxRetries: 3},
		&Job{ID: "t2", AgentID: "a", Kind: KindTool, Status: StatusPending, MaxRetries: 3},
		&Job{ID: "t3", AgentID: "b", Kind: KindChat, Status: StatusPending, MaxRetries: 3},
	)
	if err := store.MarkFailed(ctx, "t2", CodeJobProcessing, "boom", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "t3", engine.TaskResult{TaskID: "t3", Status: engine.StatusCompleted}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	store.mu.Lock()
	store.jobs["t1"].UpdatedAt = base.Unix()
	store.jobs["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" || all[2].ID != "t1" {
		t.Fatalf("expected newest job first, got %+v", all)
	}

	asc, _ := store.List(ctx, BuildListOptions(WithSortOrder(SortByUpdatedAsc)))
	if asc[0].ID != "t1" {
		t.Fatalf("expected oldest job first, got %s", asc[0].ID)
	}

	failed, _ := store.List(ctx, BuildListOptions(WithStatuses(StatusFailed, "bogus")))
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	agentA, _ := store.List(ctx, BuildListOptions(WithAgent("a"), WithKind(KindChat)))
	if len(agentA) != 1 || agentA[0].ID != "t1" {
		t.Fatalf("unexpected agent/kind list: %+v", agentA)
	}

	recent, _ := store.List(ctx, BuildListOptions(WithUpdatedSince(base.Add(15*time.Second))))
	if len(recent) != 2 {
		t.Fatalf("expected 2 jobs to match since filter, got %d", len(recent))
	}

	page, _ := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	if len(page) != 1 || page[0].ID != "t2" {
		t.Fatalf("unexpected page: %+v", page)
	}
	beyond, _ := store.List(ctx, BuildListOptions(WithOffset(10)))
	if len(beyond) != 0 {
		t.Fatalf("expected empty page, got %d", len(beyond))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Minute)

	seedJobs(t, store,
		&Job{ID: "a", Status: StatusPending, MaxRetries: 3},
		&Job{ID: "b", Status: StatusPending, MaxRetries: 3},
		&Job{ID: "c", Status: StatusPending, MaxRetries: 3},
		&Job{ID: "d", Status: StatusPending, MaxRetries: 3},
	)
	if err := store.MarkFailed(ctx, "b", CodeJobProcessing, "boom", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "c", engine.TaskResult{Status: engine.StatusCompleted}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if _, err := store.MarkCancelled(ctx, "d"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	store.mu.Lock()
	store.jobs["a"].UpdatedAt = base.Unix()
	store.jobs["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.jobs["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.jobs["d"].UpdatedAt = base.Add(time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Failed != 1 || stats.Completed != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() || stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected timestamps: %+v", stats)
	}

	failedOnly, _ := store.Stats(ctx, BuildListOptions(WithStatuses(StatusFailed)))
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}
