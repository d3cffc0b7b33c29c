// Package llm 提供模型调用的请求/响应契约
package llm

import (
	"os"
	"strconv"
	"strings"
)

// LoadConfigFromEnv 从环境变量加载配置
func LoadConfigFromEnv() Config {
	return Config{
		Provider:    getEnv("LLMFN_LLM_PROVIDER", "openai"),
		APIKey:      getEnv("LLMFN_LLM_API_KEY", os.Getenv("OPENAI_API_KEY")),
		BaseURL:     getEnv("LLMFN_LLM_BASE_URL", "https://api.openai.com/v1"),
		Model:       getEnv("LLMFN_LLM_MODEL", "gpt-4o-mini"),
		Timeout:     getEnvInt("LLMFN_LLM_TIMEOUT", 60),
		MaxTokens:   getEnvInt("LLMFN_LLM_MAX_TOKENS", 4096),
		Temperature: getEnvFloat("LLMFN_LLM_TEMPERATURE", 0),
	}
}

// ResolveAPIKey 解析 API Key（支持环境变量引用）
// 如果值以 ${} 包裹，则从环境变量读取
func ResolveAPIKey(key string) string {
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		return os.Getenv(key[2 : len(key)-1])
	}
	return key
}

// MaskAPIKey 脱敏 API Key，用于日志输出
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrMissingModel
	}
	return nil
}

// Merge 用函数定义的模型参数覆盖提供商默认配置
func (c Config) Merge(p ModelParams) ModelParams {
	out := p
	if out.Model == "" {
		out.Model = c.Model
	}
	if out.MaxTokens == 0 && c.MaxTokens > 0 {
		out.MaxTokens = c.MaxTokens
	}
	if out.Temperature == nil {
		out.Temperature = Float(c.Temperature)
	}
	return out
}

// ConfigError 配置错误
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

var (
	ErrMissingAPIKey = &ConfigError{Message: "API key is required"}
	ErrMissingModel  = &ConfigError{Message: "model is required"}
)
