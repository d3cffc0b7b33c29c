package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("LLMFN_TEST_KEY", "sk-from-env")

	assert.Equal(t, "sk-from-env", ResolveAPIKey("${LLMFN_TEST_KEY}"))
	assert.Equal(t, "sk-literal", ResolveAPIKey("sk-literal"))
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", MaskAPIKey("short"))
	assert.Equal(t, "sk-1****cdef", MaskAPIKey("sk-1234567890abcdef"))
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("LLMFN_LLM_MODEL", "gpt-custom")
	t.Setenv("LLMFN_LLM_TIMEOUT", "15")
	t.Setenv("LLMFN_LLM_TEMPERATURE", "0.5")
	t.Setenv("LLMFN_LLM_MAX_TOKENS", "not-a-number")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, "gpt-custom", cfg.Model)
	assert.Equal(t, 15, cfg.Timeout)
	assert.InDelta(t, 0.5, cfg.Temperature, 1e-9)
	assert.Equal(t, 4096, cfg.MaxTokens)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Model: "gpt"}
	assert.Equal(t, ErrMissingAPIKey, cfg.Validate())

	cfg = Config{APIKey: "k"}
	assert.Equal(t, ErrMissingModel, cfg.Validate())
}

func TestConfigMerge(t *testing.T) {
	cfg := Config{Model: "gpt-default", MaxTokens: 512, Temperature: 0.3}

	p := cfg.Merge(ModelParams{})
	assert.Equal(t, "gpt-default", p.Model)
	assert.Equal(t, 512, p.MaxTokens)
	require.NotNil(t, p.Temperature)
	assert.InDelta(t, 0.3, *p.Temperature, 1e-9)

	p = cfg.Merge(ModelParams{Model: "other", Temperature: Float(1)})
	assert.Equal(t, "other", p.Model)
	assert.InDelta(t, 1.0, *p.Temperature, 1e-9)
}
