// Package logstest 提供 logs.Store 实现的通用契约测试
package logstest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/LLMFunctions/pkg/logs"
	"github.com/KodaTao/LLMFunctions/pkg/trace"
)

// RunStoreContract 验证 Store 的基本行为：空存储、写入、同 ID 覆盖、按创建时间排序
func RunStoreContract(t *testing.T, store logs.Store) {
	t.Helper()
	ctx := context.Background()

	got, err := store.GetLogs(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "store should start empty")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := &trace.Execution{
		ID:        "contract-1",
		CreatedAt: base,
		FunctionsExecuted: []trace.FunctionExecution{{
			FunctionExecutionID: "sub-1",
			Trace: []trace.Action{{
				ID:        "a1",
				Type:      trace.ActionExecutingFunction,
				Timestamp: base,
				Response:  trace.Loading(),
			}},
		}},
	}
	second := &trace.Execution{ID: "contract-2", CreatedAt: base.Add(time.Minute)}

	require.NoError(t, store.SaveLog(ctx, second))
	require.NoError(t, store.SaveLog(ctx, first))

	got, err = store.GetLogs(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "contract-1", got[0].ID, "logs should be ordered by creation time")
	assert.Equal(t, "contract-2", got[1].ID)
	require.Len(t, got[0].FunctionsExecuted, 1)
	assert.Equal(t, trace.StatusLoading, got[0].FunctionsExecuted[0].Trace[0].Response.Status)

	updated := first.Clone()
	updated.FinalResponse = "done"
	updated.FunctionsExecuted[0].Trace[0].Response = trace.Success("done")
	require.NoError(t, store.SaveLog(ctx, updated))

	got, err = store.GetLogs(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2, "saving the same id should overwrite")
	assert.Equal(t, "done", got[0].FinalResponse)
	assert.Equal(t, trace.StatusSuccess, got[0].FunctionsExecuted[0].Trace[0].Response.Status)
}
