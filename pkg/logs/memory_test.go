package logs_test

import (
	"testing"

	"github.com/KodaTao/LLMFunctions/pkg/logs"
	"github.com/KodaTao/LLMFunctions/pkg/logs/logstest"
)

func TestMemoryStore_Contract(t *testing.T) {
	logstest.RunStoreContract(t, logs.NewMemoryStore())
}
