// Package storage 提供数据存储功能
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// ExecutionLog 执行记录表
// Payload 保存完整的 Execution JSON，其余列用于查询
type ExecutionLog struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FunctionCount int       `json:"function_count"`
	Verified      *bool     `json:"verified,omitempty"`
	Payload       string    `gorm:"type:text;not null" json:"payload"`
}

// TableName 指定表名
func (ExecutionLog) TableName() string {
	return "execution_logs"
}

// LogStore 基于 gorm 的执行记录存储，实现 logs.Store
type LogStore struct {
	db *gorm.DB
}

// NewLogStore 创建存储并迁移表结构
func NewLogStore(db *gorm.DB) (*LogStore, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	if err := db.AutoMigrate(&ExecutionLog{}); err != nil {
		return nil, err
	}
	return &LogStore{db: db}, nil
}

// GetLogs 按创建时间返回所有记录
func (s *LogStore) GetLogs(ctx context.Context) ([]*trace.Execution, error) {
	var rows []ExecutionLog
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	execs := make([]*trace.Execution, 0, len(rows))
	for _, row := range rows {
		var exec trace.Execution
		if err := json.Unmarshal([]byte(row.Payload), &exec); err != nil {
			return nil, &DBError{Message: fmt.Sprintf("decode execution %s: %v", row.ID, err)}
		}
		execs = append(execs, &exec)
	}
	return execs, nil
}

// SaveLog 写入或覆盖同 ID 的记录
func (s *LogStore) SaveLog(ctx context.Context, exec *trace.Execution) error {
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}

	createdAt := exec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := ExecutionLog{
		ID:            exec.ID,
		CreatedAt:     createdAt,
		FunctionCount: len(exec.FunctionsExecuted),
		Verified:      exec.Verified,
		Payload:       string(payload),
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "function_count", "verified", "payload"}),
	}).Create(&row).Error
}

// Count 统计记录数量
func (s *LogStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ExecutionLog{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
