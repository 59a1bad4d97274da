package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashleyhindle/fuel/internal/storeerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fuel.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func TestTaskCreateDefaults(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()

	task, err := repo.Create(ctx, TaskInput{Title: strPtr("write docs")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(task.ID, "f-") || len(task.ID) != 8 {
		t.Fatalf("unexpected id shape: %q", task.ID)
	}
	if task.Priority != 2 || task.Size != "m" || task.Complexity != "simple" || task.Status != "open" {
		t.Fatalf("unexpected defaults: %+v", task)
	}
	if task.UpdatedAt.Before(task.CreatedAt) {
		t.Fatal("updated_at must be >= created_at")
	}
}

func TestTaskCreateRejectsInvalidEnum(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	_, err := repo.Create(context.Background(), TaskInput{Title: strPtr("x"), Priority: intPtr(9)})
	var verr *storeerr.Validation
	if err == nil || !asValidation(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func asValidation(err error, target **storeerr.Validation) bool {
	v, ok := err.(*storeerr.Validation)
	if ok {
		*target = v
	}
	return ok
}

func TestFindByPrefix(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()
	task, err := repo.Create(ctx, TaskInput{Title: strPtr("x")})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repo.Find(ctx, task.ID[2:]) // without "f-" prefix
	if err != nil {
		t.Fatalf("find by bare suffix: %v", err)
	}
	if got.ID != task.ID {
		t.Fatalf("expected %s, got %s", task.ID, got.ID)
	}

	got2, err := repo.Find(ctx, task.ID[:4])
	if err != nil {
		t.Fatalf("find by prefix: %v", err)
	}
	if got2.ID != task.ID {
		t.Fatalf("expected %s, got %s", task.ID, got2.ID)
	}
}

func TestFindAmbiguous(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()
	if _, err := repo.Create(ctx, TaskInput{Title: strPtr("a")}); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Create(ctx, TaskInput{Title: strPtr("b")}); err != nil {
		t.Fatal(err)
	}

	// Prefix "f-" alone matches both.
	_, err := repo.Find(ctx, "f-")
	var amb *storeerr.Ambiguous
	if err == nil {
		t.Fatal("expected ambiguous error")
	}
	if a, ok := err.(*storeerr.Ambiguous); ok {
		amb = a
	}
	if amb == nil || len(amb.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %+v", amb)
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()
	task, err := repo.Create(ctx, TaskInput{Title: strPtr("a")})
	if err != nil {
		t.Fatal(err)
	}
	err = repo.AddDependency(ctx, task.ID, task.ID)
	if _, ok := err.(*storeerr.Validation); !ok {
		t.Fatalf("expected ValidationError for self-dependency, got %v", err)
	}
}

func TestCycleRejected(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()
	a, _ := repo.Create(ctx, TaskInput{Title: strPtr("a")})
	b, _ := repo.Create(ctx, TaskInput{Title: strPtr("b")})
	c, _ := repo.Create(ctx, TaskInput{Title: strPtr("c")})

	// a depends on b, b depends on c: a -> b -> c
	if err := repo.AddDependency(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := repo.AddDependency(ctx, b.ID, c.ID); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	// c -> a would close the cycle.
	err := repo.AddDependency(ctx, c.ID, a.ID)
	if _, ok := err.(*storeerr.CycleDetected); !ok {
		t.Fatalf("expected CycleDetected, got %v", err)
	}
}

func TestReadyOrdering(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()

	low, _ := repo.Create(ctx, TaskInput{Title: strPtr("low"), Priority: intPtr(2)})
	high, _ := repo.Create(ctx, TaskInput{Title: strPtr("high"), Priority: intPtr(0)})

	ready, err := repo.Ready(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 2 || ready[0].ID != high.ID || ready[1].ID != low.ID {
		t.Fatalf("expected [high, low], got %v", idsOf(ready))
	}
}

func idsOf(ts []*Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestBlockedUntilDependencyDone(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()

	blocker, _ := repo.Create(ctx, TaskInput{Title: strPtr("blocker")})
	dependent, _ := repo.Create(ctx, TaskInput{Title: strPtr("dependent")})
	if err := repo.AddDependency(ctx, dependent.ID, blocker.ID); err != nil {
		t.Fatal(err)
	}

	ready, _ := repo.Ready(ctx)
	if len(ready) != 1 || ready[0].ID != blocker.ID {
		t.Fatalf("expected only blocker ready, got %v", idsOf(ready))
	}

	if err := repo.Done(ctx, blocker.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	ready, _ = repo.Ready(ctx)
	if len(ready) != 1 || ready[0].ID != dependent.ID {
		t.Fatalf("expected dependent ready after blocker closed, got %v", idsOf(ready))
	}
}

func TestNeedsHumanExcludedFromReady(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()
	task, _ := repo.Create(ctx, TaskInput{Title: strPtr("x")})
	if err := repo.AddLabel(ctx, task.ID, "needs-human"); err != nil {
		t.Fatal(err)
	}
	ready, _ := repo.Ready(ctx)
	if len(ready) != 0 {
		t.Fatalf("expected no ready tasks, got %v", idsOf(ready))
	}
}

func TestEpicStatusLifecycle(t *testing.T) {
	s := newTestStore(t)
	taskRepo := NewTaskRepo(s)
	epicRepo := NewEpicRepo(s, taskRepo)
	ctx := context.Background()

	epic, err := epicRepo.Create(ctx, "ship feature", "")
	if err != nil {
		t.Fatal(err)
	}
	status, _ := epicRepo.Status(ctx, epic)
	if status != EpicPlanning {
		t.Fatalf("expected Planning with no members, got %s", status)
	}

	epicID := epic.ID
	t1, _ := taskRepo.Create(ctx, TaskInput{Title: strPtr("t1"), EpicID: &epicID})
	t2, _ := taskRepo.Create(ctx, TaskInput{Title: strPtr("t2"), EpicID: &epicID})

	epic, _ = epicRepo.Find(ctx, epic.ID)
	status, _ = epicRepo.Status(ctx, epic)
	if status != EpicInProgress {
		t.Fatalf("expected InProgress with open members, got %s", status)
	}

	if err := taskRepo.Done(ctx, t1.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := taskRepo.Done(ctx, t2.ID, "", ""); err != nil {
		t.Fatal(err)
	}
	epic, _ = epicRepo.Find(ctx, epic.ID)
	status, _ = epicRepo.Status(ctx, epic)
	if status != EpicReviewPending {
		t.Fatalf("expected ReviewPending, all members closed, got %s", status)
	}

	if err := epicRepo.Approve(ctx, epic.ID, ""); err != nil {
		t.Fatal(err)
	}
	epic, _ = epicRepo.Find(ctx, epic.ID)
	status, _ = epicRepo.Status(ctx, epic)
	if status != EpicApproved {
		t.Fatalf("expected Approved, got %s", status)
	}
	if epic.ApprovedBy != "human" {
		t.Fatalf("expected default approver 'human', got %q", epic.ApprovedBy)
	}

	if err := epicRepo.Reject(ctx, epic.ID, "missing tests"); err != nil {
		t.Fatal(err)
	}
	epic, _ = epicRepo.Find(ctx, epic.ID)
	status, _ = epicRepo.Status(ctx, epic)
	if status != EpicInProgress {
		t.Fatalf("expected InProgress after reject reopens members, got %s", status)
	}

	reopened1, _ := taskRepo.Find(ctx, t1.ID)
	reopened2, _ := taskRepo.Find(ctx, t2.ID)
	if reopened1.Status != "open" || reopened2.Status != "open" {
		t.Fatalf("expected both members reopened, got %s %s", reopened1.Status, reopened2.Status)
	}
}

func TestRunOutputTruncationBoundary(t *testing.T) {
	s := newTestStore(t)
	taskRepo := NewTaskRepo(s)
	runRepo := NewRunRepo(s)
	ctx := context.Background()

	task, _ := taskRepo.Create(ctx, TaskInput{Title: strPtr("x")})
	runID, err := runRepo.CreateRun(ctx, task.ID, RunInput{Agent: "claude"})
	if err != nil {
		t.Fatal(err)
	}
	_ = runID

	exact := strings.Repeat("a", outputTruncateAt)
	if err := runRepo.UpdateLatestRun(ctx, task.ID, RunPatch{Output: &exact}); err != nil {
		t.Fatal(err)
	}
	run, err := runRepo.latestRun(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Output) != outputTruncateAt {
		t.Fatalf("expected exact boundary preserved, got len %d", len(run.Output))
	}

	over := strings.Repeat("b", outputTruncateAt+1)
	if err := runRepo.UpdateLatestRun(ctx, task.ID, RunPatch{Output: &over}); err != nil {
		t.Fatal(err)
	}
	run, err = runRepo.latestRun(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Output) != outputTruncateAt {
		t.Fatalf("expected truncation at boundary, got len %d", len(run.Output))
	}
}

func TestUpdateLatestRunCompletion(t *testing.T) {
	s := newTestStore(t)
	taskRepo := NewTaskRepo(s)
	runRepo := NewRunRepo(s)
	ctx := context.Background()

	task, _ := taskRepo.Create(ctx, TaskInput{Title: strPtr("x")})
	if _, err := runRepo.CreateRun(ctx, task.ID, RunInput{Agent: "claude"}); err != nil {
		t.Fatal(err)
	}

	ended := nowUTC()
	exitCode := 0
	if err := runRepo.UpdateLatestRun(ctx, task.ID, RunPatch{EndedAt: &ended, ExitCode: &exitCode}); err != nil {
		t.Fatal(err)
	}
	run, err := runRepo.latestRun(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "completed" {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.DurationSeconds == nil || *run.DurationSeconds < 0 {
		t.Fatalf("expected duration computed, got %v", run.DurationSeconds)
	}
}

func TestCleanupOrphanedRuns(t *testing.T) {
	s := newTestStore(t)
	taskRepo := NewTaskRepo(s)
	runRepo := NewRunRepo(s)
	ctx := context.Background()

	task, _ := taskRepo.Create(ctx, TaskInput{Title: strPtr("x")})
	if _, err := runRepo.CreateRun(ctx, task.ID, RunInput{Agent: "claude"}); err != nil {
		t.Fatal(err)
	}

	n, err := runRepo.CleanupOrphanedRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphan cleaned, got %d", n)
	}

	run, err := runRepo.latestRun(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != "failed" || run.ExitCode == nil || *run.ExitCode != -1 {
		t.Fatalf("expected orphan marked failed/-1, got %+v", run)
	}

	// Second cleanup run should find nothing left to do.
	n, err = runRepo.CleanupOrphanedRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no orphans on second pass, got %d", n)
	}
}

func TestRetryAcceptsFailedStuckVariants(t *testing.T) {
	s := newTestStore(t)
	repo := NewTaskRepo(s)
	ctx := context.Background()

	task, _ := repo.Create(ctx, TaskInput{Title: strPtr("x")})
	if err := repo.Start(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.RecordCompletion(ctx, task.ID, 1, "boom"); err != nil {
		t.Fatal(err)
	}

	if err := repo.Retry(ctx, task.ID); err != nil {
		t.Fatalf("retry on consumed+non-zero-exit variant: %v", err)
	}
	got, _ := repo.Find(ctx, task.ID)
	if got.Status != "open" || got.Consumed {
		t.Fatalf("expected reset to open/unconsumed, got %+v", got)
	}
}
