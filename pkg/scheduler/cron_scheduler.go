// Package scheduler 提供数据集评估的定时调度功能
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/KodaTao/LLMFunctions/pkg/observability"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// ErrNoEvaluator 未设置评估器
var ErrNoEvaluator = errors.New("evaluator not set")

// DefaultRunTimeout 单次评估的默认超时
const DefaultRunTimeout = 5 * time.Minute

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronScheduler 按 Cron 表达式定时运行函数数据集
type CronScheduler struct {
	db        *gorm.DB
	taskRepo  *TaskRepository
	runRepo   *RunRepository
	evaluator Evaluator
	functions FunctionLookup
	logger    *slog.Logger

	runTimeout time.Duration

	cron     *cron.Cron
	mu       sync.RWMutex
	entryMap map[uint]cron.EntryID // 任务ID -> cron EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// Option 调度器选项
type Option func(*CronScheduler)

// WithFunctionLookup 创建任务时检查函数是否已注册
func WithFunctionLookup(l FunctionLookup) Option {
	return func(s *CronScheduler) {
		s.functions = l
	}
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(s *CronScheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRunTimeout 设置单次评估超时
func WithRunTimeout(d time.Duration) Option {
	return func(s *CronScheduler) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// NewCronScheduler 创建调度器
func NewCronScheduler(db *gorm.DB, evaluator Evaluator, opts ...Option) *CronScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &CronScheduler{
		db:         db,
		taskRepo:   NewTaskRepository(db),
		runRepo:    NewRunRepository(db),
		evaluator:  evaluator,
		logger:     observability.DefaultLogger(),
		runTimeout: DefaultRunTimeout,
		// 支持秒级的 6 字段格式
		cron:     cron.New(cron.WithSeconds()),
		entryMap: make(map[uint]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start 迁移表结构、恢复已启用的任务并启动调度
func (s *CronScheduler) Start() error {
	s.logger.Info("starting evaluation scheduler")

	if err := s.db.AutoMigrate(&EvaluationTask{}, &EvaluationRun{}); err != nil {
		return fmt.Errorf("failed to migrate scheduler tables: %w", err)
	}

	if err := s.recoverTasks(); err != nil {
		return fmt.Errorf("failed to recover evaluation tasks: %w", err)
	}

	s.cron.Start()
	s.logger.Info("evaluation scheduler started")
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *CronScheduler) Stop() {
	s.logger.Info("stopping evaluation scheduler")
	s.cancel()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.entryMap = make(map[uint]cron.EntryID)
	s.mu.Unlock()

	s.logger.Info("evaluation scheduler stopped")
}

func (s *CronScheduler) recoverTasks() error {
	tasks, err := s.taskRepo.ListEnabled()
	if err != nil {
		return err
	}

	s.logger.Info("recovering evaluation tasks", "count", len(tasks))
	for i := range tasks {
		task := &tasks[i]
		if err := s.scheduleTask(task); err != nil {
			s.logger.Error("failed to recover evaluation task", "task_id", task.ID, "name", task.Name, "error", err)
			continue
		}
		s.logger.Info("evaluation task recovered", "task_id", task.ID, "name", task.Name, "cron_expr", task.CronExpr)
	}
	return nil
}

// CreateTask 创建定时评估任务
func (s *CronScheduler) CreateTask(name, cronExpr, functionID, description string) (*EvaluationTask, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if functionID == "" {
		return nil, fmt.Errorf("function id cannot be empty")
	}
	if s.functions != nil && !s.functions.Has(functionID) {
		return nil, fmt.Errorf("function not found: %s", functionID)
	}

	nextRun := schedule.Next(time.Now())
	task := &EvaluationTask{
		Name:        name,
		CronExpr:    cronExpr,
		FunctionID:  functionID,
		Description: description,
		Enabled:     true,
		NextRunAt:   &nextRun,
	}
	if err := s.taskRepo.Create(task); err != nil {
		return nil, fmt.Errorf("failed to create evaluation task: %w", err)
	}

	if err := s.scheduleTask(task); err != nil {
		_ = s.taskRepo.DeleteByID(task.ID)
		return nil, fmt.Errorf("failed to schedule evaluation task: %w", err)
	}

	s.logger.Info("evaluation task created",
		"task_id", task.ID,
		"name", name,
		"function_id", functionID,
		"cron_expr", cronExpr,
		"next_run", nextRun,
	)
	return task, nil
}

func (s *CronScheduler) scheduleTask(task *EvaluationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entryMap[task.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, task.ID)
	}

	taskID := task.ID
	entryID, err := s.cron.AddFunc(task.CronExpr, func() {
		s.executeTask(taskID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}
	s.entryMap[task.ID] = entryID

	if entry := s.cron.Entry(entryID); !entry.Next.IsZero() {
		_ = s.taskRepo.UpdateNextRunAt(task.ID, entry.Next)
	}

	s.logger.Debug("evaluation task scheduled",
		"task_id", task.ID,
		"name", task.Name,
		"entry_id", entryID,
	)
	return nil
}

func (s *CronScheduler) executeTask(taskID uint) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	if _, err := s.RunNow(s.ctx, taskID); err != nil {
		s.logger.Error("evaluation task failed", "task_id", taskID, "error", err)
	}

	s.mu.RLock()
	entryID, ok := s.entryMap[taskID]
	s.mu.RUnlock()
	if ok {
		if entry := s.cron.Entry(entryID); !entry.Next.IsZero() {
			_ = s.taskRepo.UpdateNextRunAt(taskID, entry.Next)
		}
	}
}

// RunNow 立即运行一次任务并记录运行历史
// 评估失败时返回的运行记录状态为 failed，错误同时返回
func (s *CronScheduler) RunNow(ctx context.Context, taskID uint) (*EvaluationRun, error) {
	task, err := s.taskRepo.GetByID(taskID)
	if err != nil {
		return nil, err
	}

	startedAt := time.Now()
	run := &EvaluationRun{
		TaskID:      taskID,
		ScheduledAt: startedAt,
		StartedAt:   startedAt,
		Status:      RunStatusRunning,
	}
	if err := s.runRepo.Create(run); err != nil {
		s.logger.Error("failed to create run record", "task_id", taskID, "error", err)
	}

	if s.evaluator == nil {
		s.finishRun(task, run, nil, ErrNoEvaluator)
		return run, ErrNoEvaluator
	}

	s.logger.Info("running evaluation task", "task_id", taskID, "function_id", task.FunctionID)
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	execs, evalErr := s.evaluator.Evaluate(runCtx, task.FunctionID)
	s.finishRun(task, run, execs, evalErr)
	return run, evalErr
}

func (s *CronScheduler) finishRun(task *EvaluationTask, run *EvaluationRun, execs []*trace.Execution, runErr error) {
	finishedAt := time.Now()
	run.FinishedAt = &finishedAt
	run.Duration = finishedAt.Sub(run.StartedAt).Milliseconds()
	run.Total = len(execs)

	ids := make([]string, 0, len(execs))
	for _, exec := range execs {
		if exec == nil {
			continue
		}
		ids = append(ids, exec.ID)
		if exec.Verified != nil {
			if *exec.Verified {
				run.Verified++
			} else {
				run.Rejected++
			}
		}
	}
	if data, err := json.Marshal(ids); err == nil {
		run.ExecutionIDs = string(data)
	}

	run.Status = RunStatusCompleted
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}

	if run.ID != 0 {
		if err := s.runRepo.Update(run); err != nil {
			s.logger.Error("failed to update run record", "run_id", run.ID, "error", err)
		}
	}
	if err := s.taskRepo.RecordRun(task.ID, finishedAt, run.Status); err != nil {
		s.logger.Error("failed to update task", "task_id", task.ID, "error", err)
	}

	s.logger.Info("evaluation task finished",
		"task_id", task.ID,
		"status", run.Status,
		"total", run.Total,
		"verified", run.Verified,
		"rejected", run.Rejected,
		"duration_ms", run.Duration,
	)
}

// PauseTask 停止调度但保留任务
func (s *CronScheduler) PauseTask(id uint) error {
	if err := s.taskRepo.SetEnabled(id, false); err != nil {
		return err
	}
	s.mu.Lock()
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
	s.mu.Unlock()
	return nil
}

// ResumeTask 重新启用任务
func (s *CronScheduler) ResumeTask(id uint) error {
	if err := s.taskRepo.SetEnabled(id, true); err != nil {
		return err
	}
	task, err := s.taskRepo.GetByID(id)
	if err != nil {
		return err
	}
	return s.scheduleTask(task)
}

// DeleteTaskByID 删除任务及其运行历史
func (s *CronScheduler) DeleteTaskByID(id uint) error {
	s.mu.Lock()
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
	s.mu.Unlock()

	if err := s.runRepo.DeleteByTaskID(id); err != nil {
		s.logger.Warn("failed to delete run history", "task_id", id, "error", err)
	}
	if err := s.taskRepo.DeleteByID(id); err != nil {
		return err
	}

	s.logger.Info("evaluation task deleted", "task_id", id)
	return nil
}

// GetTaskByID 根据 ID 获取任务
func (s *CronScheduler) GetTaskByID(id uint) (*EvaluationTask, error) {
	return s.taskRepo.GetByID(id)
}

// ListTasks 列出任务
func (s *CronScheduler) ListTasks(limit, offset int) ([]EvaluationTask, error) {
	return s.taskRepo.List(limit, offset)
}

// CountTasks 统计任务数量
func (s *CronScheduler) CountTasks() (int64, error) {
	return s.taskRepo.Count()
}

// GetRunHistory 获取任务的运行历史
func (s *CronScheduler) GetRunHistory(taskID uint, limit, offset int) ([]EvaluationRun, error) {
	return s.runRepo.ListByTaskID(taskID, limit, offset)
}

// GetRun 获取任务的一次运行记录
func (s *CronScheduler) GetRun(taskID, runID uint) (*EvaluationRun, error) {
	run, err := s.runRepo.GetByID(runID)
	if err != nil {
		return nil, err
	}
	if run.TaskID != taskID {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// CountRunHistory 统计任务的运行次数
func (s *CronScheduler) CountRunHistory(taskID uint) (int64, error) {
	return s.runRepo.CountByTaskID(taskID)
}

// IsScheduled 任务当前是否在调度中
func (s *CronScheduler) IsScheduled(id uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entryMap[id]
	return ok
}
