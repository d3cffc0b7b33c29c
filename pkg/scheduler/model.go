// Package scheduler 提供数据集评估的定时调度功能
package scheduler

import (
	"time"

	"gorm.io/gorm"
)

// RunStatus 评估运行状态
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"   // 正在执行
	RunStatusCompleted RunStatus = "completed" // 执行完成
	RunStatusFailed    RunStatus = "failed"    // 执行失败
)

// EvaluationTask 定时数据集评估任务
type EvaluationTask struct {
	gorm.Model
	Name        string     `gorm:"index;not null" json:"name"`             // 任务名称
	CronExpr    string     `gorm:"not null" json:"cron_expr"`              // Cron 表达式（6 字段，含秒）
	FunctionID  string     `gorm:"not null;index" json:"function_id"`      // 函数定义的内容哈希
	Description string     `gorm:"type:text" json:"description,omitempty"` // 描述
	Enabled     bool       `gorm:"default:true" json:"enabled"`            // 是否启用
	RunCount    int        `gorm:"default:0" json:"run_count"`             // 已执行次数
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`                  // 下次执行时间
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`                  // 最后执行时间
	LastStatus  RunStatus  `json:"last_status,omitempty"`                  // 最后执行状态
}

// TableName 指定表名
func (EvaluationTask) TableName() string {
	return "evaluation_tasks"
}

// EvaluationRun 一次评估运行的记录
type EvaluationRun struct {
	gorm.Model
	TaskID       uint       `gorm:"not null;index" json:"task_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `gorm:"index" json:"status"`
	Total        int        `json:"total"`                                    // 数据集条目数
	Verified     int        `json:"verified"`                                 // 校验通过数
	Rejected     int        `json:"rejected"`                                 // 校验未通过数
	ExecutionIDs string     `gorm:"type:text" json:"execution_ids,omitempty"` // 执行记录 ID（JSON 数组）
	Error        string     `gorm:"type:text" json:"error,omitempty"`
	Duration     int64      `json:"duration_ms"`
}

// TableName 指定表名
func (EvaluationRun) TableName() string {
	return "evaluation_runs"
}
