package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/KodaTao/LLMFunctions/pkg/storage"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

type mockEvaluator struct {
	calls atomic.Int32
	execs []*trace.Execution
	err   error
}

func (m *mockEvaluator) Evaluate(ctx context.Context, functionID string) ([]*trace.Execution, error) {
	m.calls.Add(1)
	return m.execs, m.err
}

type mockLookup map[string]bool

func (m mockLookup) Has(id string) bool { return m[id] }

func boolPtr(b bool) *bool { return &b }

// setupTestDB 创建测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	return db
}

// setupTestScheduler 创建测试调度器
func setupTestScheduler(t *testing.T, db *gorm.DB, eval Evaluator) *CronScheduler {
	testLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewCronScheduler(db, eval,
		WithLogger(testLogger),
		WithFunctionLookup(mockLookup{"fn-1": true}),
	)
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	return s
}

func TestCronScheduler_CreateTask(t *testing.T) {
	s := setupTestScheduler(t, setupTestDB(t), &mockEvaluator{})
	defer s.Stop()

	task, err := s.CreateTask("nightly", "0 0 2 * * *", "fn-1", "每晚评估")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if task.ID == 0 {
		t.Error("Expected task to have a valid ID")
	}
	if task.FunctionID != "fn-1" {
		t.Errorf("Expected function_id 'fn-1', got '%s'", task.FunctionID)
	}
	if task.NextRunAt == nil {
		t.Error("Expected task to have next_run_at")
	}
	if !s.IsScheduled(task.ID) {
		t.Error("Expected task to be scheduled")
	}
}

func TestCronScheduler_CreateTask_Invalid(t *testing.T) {
	s := setupTestScheduler(t, setupTestDB(t), &mockEvaluator{})
	defer s.Stop()

	if _, err := s.CreateTask("bad", "invalid", "fn-1", ""); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
	if _, err := s.CreateTask("bad", "0 * * * * *", "", ""); err == nil {
		t.Error("Expected error for empty function id")
	}
	if _, err := s.CreateTask("bad", "0 * * * * *", "missing", ""); err == nil {
		t.Error("Expected error when function not found")
	}

	count, err := s.CountTasks()
	if err != nil {
		t.Fatalf("Failed to count tasks: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no tasks, got %d", count)
	}
}

func TestCronScheduler_RunNow(t *testing.T) {
	eval := &mockEvaluator{execs: []*trace.Execution{
		{ID: "e1", Verified: boolPtr(true)},
		{ID: "e2", Verified: boolPtr(false)},
		{ID: "e3"},
	}}
	s := setupTestScheduler(t, setupTestDB(t), eval)
	defer s.Stop()

	task, err := s.CreateTask("manual", "0 0 0 1 1 *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	run, err := s.RunNow(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if run.Status != RunStatusCompleted {
		t.Errorf("Expected status completed, got %s", run.Status)
	}
	if run.Total != 3 || run.Verified != 1 || run.Rejected != 1 {
		t.Errorf("Unexpected counts: total=%d verified=%d rejected=%d", run.Total, run.Verified, run.Rejected)
	}
	if run.ExecutionIDs != `["e1","e2","e3"]` {
		t.Errorf("Unexpected execution ids: %s", run.ExecutionIDs)
	}

	history, err := s.GetRunHistory(task.ID, 10, 0)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(history))
	}
	if history[0].FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}

	stored, err := s.GetRun(task.ID, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if stored.Total != 3 {
		t.Errorf("Expected stored total 3, got %d", stored.Total)
	}
	if _, err := s.GetRun(task.ID+1, run.ID); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound for another task, got %v", err)
	}
	if _, err := s.GetRun(task.ID, run.ID+1); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound for missing run, got %v", err)
	}

	updated, err := s.GetTaskByID(task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if updated.RunCount != 1 {
		t.Errorf("Expected run_count 1, got %d", updated.RunCount)
	}
	if updated.LastStatus != RunStatusCompleted {
		t.Errorf("Expected last_status completed, got %s", updated.LastStatus)
	}
}

func TestCronScheduler_RunNow_Failure(t *testing.T) {
	evalErr := errors.New("provider down")
	s := setupTestScheduler(t, setupTestDB(t), &mockEvaluator{err: evalErr})
	defer s.Stop()

	task, err := s.CreateTask("failing", "0 0 0 1 1 *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	run, err := s.RunNow(context.Background(), task.ID)
	if !errors.Is(err, evalErr) {
		t.Fatalf("Expected evaluator error, got %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("Expected status failed, got %s", run.Status)
	}
	if run.Error != "provider down" {
		t.Errorf("Unexpected error message: %s", run.Error)
	}
}

func TestCronScheduler_RunNow_NoEvaluator(t *testing.T) {
	s := setupTestScheduler(t, setupTestDB(t), nil)
	defer s.Stop()

	task, err := s.CreateTask("orphan", "0 0 0 1 1 *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if _, err := s.RunNow(context.Background(), task.ID); !errors.Is(err, ErrNoEvaluator) {
		t.Errorf("Expected ErrNoEvaluator, got %v", err)
	}
	if _, err := s.RunNow(context.Background(), 999); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
}

func TestCronScheduler_DeleteTask(t *testing.T) {
	s := setupTestScheduler(t, setupTestDB(t), &mockEvaluator{})
	defer s.Stop()

	task, err := s.CreateTask("temp", "0 * * * * *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if _, err := s.RunNow(context.Background(), task.ID); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}

	if err := s.DeleteTaskByID(task.ID); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}
	if _, err := s.GetTaskByID(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound, got %v", err)
	}
	if s.IsScheduled(task.ID) {
		t.Error("Expected task to be unscheduled")
	}
	count, _ := s.CountRunHistory(task.ID)
	if count != 0 {
		t.Errorf("Expected run history to be deleted, got %d", count)
	}
	if err := s.DeleteTaskByID(task.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Expected ErrTaskNotFound on second delete, got %v", err)
	}
}

func TestCronScheduler_PauseResume(t *testing.T) {
	s := setupTestScheduler(t, setupTestDB(t), &mockEvaluator{})
	defer s.Stop()

	task, err := s.CreateTask("pausable", "0 * * * * *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if err := s.PauseTask(task.ID); err != nil {
		t.Fatalf("Failed to pause: %v", err)
	}
	if s.IsScheduled(task.ID) {
		t.Error("Expected paused task to be unscheduled")
	}

	if err := s.ResumeTask(task.ID); err != nil {
		t.Fatalf("Failed to resume: %v", err)
	}
	if !s.IsScheduled(task.ID) {
		t.Error("Expected resumed task to be scheduled")
	}
}

func TestCronScheduler_RecoverTasks(t *testing.T) {
	db := setupTestDB(t)

	first := setupTestScheduler(t, db, &mockEvaluator{})
	kept, err := first.CreateTask("kept", "0 * * * * *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	paused, err := first.CreateTask("paused", "0 * * * * *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	if err := first.PauseTask(paused.ID); err != nil {
		t.Fatalf("Failed to pause: %v", err)
	}
	first.Stop()

	second := setupTestScheduler(t, db, &mockEvaluator{})
	defer second.Stop()

	if !second.IsScheduled(kept.ID) {
		t.Error("Expected enabled task to be recovered")
	}
	if second.IsScheduled(paused.ID) {
		t.Error("Expected paused task to stay unscheduled")
	}
}

func TestCronScheduler_ExecuteTask(t *testing.T) {
	eval := &mockEvaluator{execs: []*trace.Execution{{ID: "e1"}}}
	s := setupTestScheduler(t, setupTestDB(t), eval)
	defer s.Stop()

	// 每秒执行
	task, err := s.CreateTask("every_second", "* * * * * *", "fn-1", "")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	if eval.calls.Load() == 0 {
		t.Error("Expected evaluator to be called")
	}
	count, err := s.CountRunHistory(task.ID)
	if err != nil {
		t.Fatalf("Failed to count history: %v", err)
	}
	if count == 0 {
		t.Error("Expected run history to be recorded")
	}
}
