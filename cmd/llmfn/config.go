package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/KodaTao/LLMFunctions/pkg/chassis"
)

// loadConfig 加载配置文件，环境变量使用 LLMFN_ 前缀（例如 LLMFN_LLM_API_KEY）
func loadConfig(path string) (*chassis.Config, error) {
	v := viper.New()
	def := chassis.DefaultConfig()

	// 设置默认值
	v.SetDefault("server.host", def.Server.Host)
	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.mode", def.Server.Mode)

	v.SetDefault("llm.provider", def.LLM.Provider)
	v.SetDefault("llm.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("llm.base_url", def.LLM.BaseURL)
	v.SetDefault("llm.model", def.LLM.Model)
	v.SetDefault("llm.timeout", def.LLM.Timeout)
	v.SetDefault("llm.max_tokens", def.LLM.MaxTokens)
	v.SetDefault("llm.temperature", def.LLM.Temperature)

	v.SetDefault("database.path", def.Database.Path)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.output", def.Log.Output)
	v.SetDefault("log.file_path", "")

	v.SetDefault("logstore.backend", def.LogStore.Backend)
	v.SetDefault("logstore.redis.addr", def.LogStore.Redis.Addr)
	v.SetDefault("logstore.redis.password", "")
	v.SetDefault("logstore.redis.db", 0)
	v.SetDefault("logstore.redis.prefix", def.LogStore.Redis.Prefix)
	v.SetDefault("logstore.redis.ttl", "0s")

	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.path", def.Metrics.Path)

	v.SetDefault("engine.max_retries", def.Engine.MaxRetries)
	v.SetDefault("engine.max_corrections", def.Engine.MaxCorrections)
	v.SetDefault("engine.function_timeout", def.Engine.FunctionTimeout.String())

	v.SetDefault("scheduler.enabled", def.Scheduler.Enabled)
	v.SetDefault("scheduler.run_timeout", def.Scheduler.RunTimeout.String())

	v.SetDefault("manifests.dir", def.Manifests.Dir)

	// 配置文件
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.llmfn")
	}

	// 环境变量
	v.SetEnvPrefix("LLMFN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 配置文件不存在时使用默认值
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	config := chassis.DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, nil
}
