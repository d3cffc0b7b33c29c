// Package scheduler 提供数据集评估的定时调度功能
package scheduler

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

var (
	ErrTaskNotFound = errors.New("evaluation task not found")
	ErrRunNotFound  = errors.New("evaluation run not found")
)

// TaskRepository 评估任务 Repository
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建 TaskRepository
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create 创建任务
func (r *TaskRepository) Create(task *EvaluationTask) error {
	return r.db.Create(task).Error
}

// GetByID 根据 ID 获取任务
func (r *TaskRepository) GetByID(id uint) (*EvaluationTask, error) {
	var task EvaluationTask
	if err := r.db.First(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// UpdateNextRunAt 更新下次执行时间
func (r *TaskRepository) UpdateNextRunAt(id uint, next time.Time) error {
	return r.db.Model(&EvaluationTask{}).Where("id = ?", id).Update("next_run_at", next).Error
}

// RecordRun 记录一次运行结果
func (r *TaskRepository) RecordRun(id uint, at time.Time, status RunStatus) error {
	return r.db.Model(&EvaluationTask{}).Where("id = ?", id).Updates(map[string]any{
		"last_run_at": at,
		"last_status": status,
		"run_count":   gorm.Expr("run_count + ?", 1),
	}).Error
}

// SetEnabled 启用或停用任务
func (r *TaskRepository) SetEnabled(id uint, enabled bool) error {
	result := r.db.Model(&EvaluationTask{}).Where("id = ?", id).Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// DeleteByID 根据 ID 删除任务
func (r *TaskRepository) DeleteByID(id uint) error {
	result := r.db.Delete(&EvaluationTask{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List 列出任务
func (r *TaskRepository) List(limit, offset int) ([]EvaluationTask, error) {
	var tasks []EvaluationTask
	query := r.db.Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListEnabled 列出所有启用的任务（用于恢复调度）
func (r *TaskRepository) ListEnabled() ([]EvaluationTask, error) {
	var tasks []EvaluationTask
	if err := r.db.Where("enabled = ?", true).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// Count 统计任务数量
func (r *TaskRepository) Count() (int64, error) {
	var count int64
	if err := r.db.Model(&EvaluationTask{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// RunRepository 评估运行历史 Repository
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建 RunRepository
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 创建运行记录
func (r *RunRepository) Create(run *EvaluationRun) error {
	return r.db.Create(run).Error
}

// GetByID 根据 ID 获取运行记录
func (r *RunRepository) GetByID(id uint) (*EvaluationRun, error) {
	var run EvaluationRun
	if err := r.db.First(&run, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// Update 更新运行记录
func (r *RunRepository) Update(run *EvaluationRun) error {
	return r.db.Save(run).Error
}

// ListByTaskID 根据任务 ID 列出运行历史
func (r *RunRepository) ListByTaskID(taskID uint, limit, offset int) ([]EvaluationRun, error) {
	var runs []EvaluationRun
	query := r.db.Where("task_id = ?", taskID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// CountByTaskID 统计任务的运行次数
func (r *RunRepository) CountByTaskID(taskID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&EvaluationRun{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByTaskID 删除任务的所有运行历史
func (r *RunRepository) DeleteByTaskID(taskID uint) error {
	return r.db.Where("task_id = ?", taskID).Delete(&EvaluationRun{}).Error
}
