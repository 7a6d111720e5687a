package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opsforge/opsforge/pkg/engine"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func newTestRun(id string) *Run {
	now := time.Now().UTC()
	return &Run{
		ID:        id,
		Kind:      "mysql",
		Status:    RunStatusRunning,
		HostCount: 2,
		StartedAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("NewSQLiteStore(\"\") error = nil, want error")
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := newTestRun("run-1")
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.ID != "run-1" || got.Kind != "mysql" || got.Status != RunStatusRunning {
		t.Errorf("GetRun() = %+v", got)
	}
	if got.HostCount != 2 {
		t.Errorf("host count = %d, want 2", got.HostCount)
	}
	if got.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil for a running run", got.CompletedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "absent")
	if !engine.IsValidation(err) {
		t.Errorf("GetRun() error = %v, want validation error", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		run := newTestRun(id)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(%s) error = %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(runs))
	}
	if runs[0].ID != "run-3" || runs[1].ID != "run-2" {
		t.Errorf("ListRuns() order = [%s, %s], want newest first", runs[0].ID, runs[1].ID)
	}
}

func TestCompleteRunStoresCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, newTestRun("run-1")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	result := engine.ExecutionResult{
		RunID:    "run-1",
		Success:  true,
		ExitCode: 0,
		Credentials: engine.CredentialSet{
			"mysql": {"username": "admin", "password": "pw", "path": "/root/.my.cnf"},
		},
		CompletedAt: time.Now().UTC(),
	}
	if err := store.CompleteRun(ctx, result); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("status = %s, want succeeded", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", run.ExitCode)
	}
	if run.Error != nil {
		t.Errorf("error = %v, want nil on success", run.Error)
	}

	creds, err := store.GetCredentials(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetCredentials() error = %v", err)
	}
	if got, _ := creds.Get("mysql", "password"); got != "pw" {
		t.Errorf("stored credentials = %+v", creds)
	}
}

func TestCompleteRunFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, newTestRun("run-1")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	result := engine.ExecutionResult{
		RunID:       "run-1",
		Success:     false,
		ExitCode:    2,
		Error:       "[run] one or more remote tasks failed",
		CompletedAt: time.Now().UTC(),
	}
	if err := store.CompleteRun(ctx, result); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("status = %s, want failed", run.Status)
	}
	if run.Error == nil || *run.Error == "" {
		t.Error("error not persisted for a failed run")
	}
}

func TestCompleteRunUpsertsCredentials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateRun(ctx, newTestRun("run-1")); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	first := engine.ExecutionResult{
		RunID:       "run-1",
		Success:     true,
		Credentials: engine.CredentialSet{"mysql": {"password": "old"}},
		CompletedAt: time.Now().UTC(),
	}
	if err := store.CompleteRun(ctx, first); err != nil {
		t.Fatalf("CompleteRun() error = %v", err)
	}

	second := first
	second.Credentials = engine.CredentialSet{"mysql": {"password": "new"}}
	if err := store.CompleteRun(ctx, second); err != nil {
		t.Fatalf("CompleteRun() again error = %v", err)
	}

	creds, err := store.GetCredentials(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetCredentials() error = %v", err)
	}
	if got, _ := creds.Get("mysql", "password"); got != "new" {
		t.Errorf("password = %q, want upserted value", got)
	}
}
