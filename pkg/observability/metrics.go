// Package observability 提供可观测性功能：日志、指标
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry 指标注册表
var Registry = prometheus.NewRegistry()

var (
	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmfn_provider_requests_total",
			Help: "Total number of chat provider requests",
		},
		[]string{"provider", "status"},
	)
	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmfn_provider_request_duration_seconds",
			Help:    "Duration of chat provider requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)
	retrieverOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmfn_retriever_outcomes_total",
			Help: "Outcomes of structured output retrieval steps",
		},
		[]string{"outcome"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmfn_executions_total",
			Help: "Total number of function executions",
		},
		[]string{"function", "status"},
	)

	registerOnce sync.Once
)

// 重试循环单步结果
const (
	OutcomeSuccess        = "success"
	OutcomeZodError       = "zod_error"
	OutcomeTimeoutError   = "timeout_error"
	OutcomeNoFunctionCall = "no_function_call"
	OutcomeFunctionCall   = "function_call"
)

func register() {
	registerOnce.Do(func() {
		Registry.MustRegister(providerRequests, providerDuration, retrieverOutcomes, executions)
	})
}

// ObserveProviderRequest 记录一次模型请求
func ObserveProviderRequest(provider, status string, d time.Duration) {
	register()
	providerRequests.WithLabelValues(provider, status).Inc()
	providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveRetrieverOutcome 记录一次重试循环单步结果
func ObserveRetrieverOutcome(outcome string) {
	register()
	retrieverOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveExecution 记录一次函数执行
func ObserveExecution(function, status string) {
	register()
	executions.WithLabelValues(function, status).Inc()
}

// MetricsHandler 返回 Prometheus 指标 HTTP handler
func MetricsHandler() http.Handler {
	register()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
