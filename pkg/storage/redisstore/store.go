// Package redisstore 提供基于 Redis 的执行记录存储
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// DefaultPrefix 默认键前缀
const DefaultPrefix = "llmfn:"

// 记录键与索引键位于前缀下不同的命名空间，任何 Execution ID 都不会与索引键冲突
const (
	recordNamespace = "execution:"
	indexName       = "executions"
)

// Store 实现 logs.Store
// 每条记录保存为一个 JSON 字符串，另用 ZSET 按创建时间索引
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option 存储选项
type Option func(*Store)

// WithPrefix 设置键前缀
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTTL 设置记录过期时间，0 表示不过期
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// New 创建 Redis 存储
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient 使用已有客户端创建存储
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(id string) string {
	return s.prefix + recordNamespace + id
}

func (s *Store) indexKey() string {
	return s.prefix + indexName
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SaveLog 写入或覆盖同 ID 的记录
func (s *Store) SaveLog(ctx context.Context, exec *trace.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	createdAt := exec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(exec.ID), data, s.ttl)
	// NX 保留首次写入的排序位置
	pipe.ZAddNX(ctx, s.indexKey(), backend.Z{
		Score:  float64(createdAt.UnixMicro()),
		Member: exec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// GetLogs 按创建时间返回所有记录，已过期的记录会从索引中清理
func (s *Store) GetLogs(ctx context.Context) ([]*trace.Execution, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if len(ids) == 0 {
		return []*trace.Execution{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}

	execs := make([]*trace.Execution, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var exec trace.Execution
		if err := json.Unmarshal([]byte(raw), &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution %s: %w", ids[i], err)
		}
		execs = append(execs, &exec)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.indexKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("failed to clean index: %w", err)
		}
	}
	return execs, nil
}

// Delete 删除一条记录
func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}
