package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TaskDuration, TaskTotal, TaskCostUSD,
		StepDuration, StepTotal,
		LLMTokensTotal,
		BreakerState, BreakerRejectTotal,
		SessionsActive, SessionWait,
		EventDropTotal, RateLimitRejectTotal,
	)
}

// TaskDuration 任务执行耗时（秒）
var TaskDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agentd_task_duration_seconds",
		Help:    "任务执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"status"},
)

// TaskTotal 任务总数（按终态）
var TaskTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentd_task_total",
		Help: "任务总数（按终态）",
	},
	[]string{"status"}, // completed | partial | failed | cancelled
)

// TaskCostUSD 任务估算成本（美元）
var TaskCostUSD = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentd_task_cost_usd_total",
		Help: "任务估算成本（美元）",
	},
	[]string{"kind"}, // llm | browser
)

// StepDuration Step 执行耗时（秒）
var StepDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agentd_step_duration_seconds",
		Help:    "Step 执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"action"},
)

// StepTotal Step 总数（按动作与终态）
var StepTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentd_step_total",
		Help: "Step 总数（按动作与终态）",
	},
	[]string{"action", "status"}, // completed | failed | skipped
)

// LLMTokensTotal LLM 调用 token 数
var LLMTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentd_llm_tokens_total",
		Help: "LLM 调用 token 总数",
	},
	[]string{"direction"}, // input | output
)

// BreakerState 熔断器状态（0=closed 1=open 2=half_open）
var BreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "agentd_breaker_state",
		Help: "熔断器状态（0=closed 1=open 2=half_open）",
	},
	[]string{"name"},
)

// BreakerRejectTotal 熔断器快速失败计数
var BreakerRejectTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agentd_breaker_reject_total",
		Help: "熔断器快速失败计数",
	},
	[]string{"name"},
)

// SessionsActive 当前占用中的浏览器会话数
var SessionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "agentd_browser_sessions_active",
		Help: "当前占用中的浏览器会话数",
	},
)

// SessionWait 浏览器会话获取等待时长（秒）
var SessionWait = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "agentd_browser_session_wait_seconds",
		Help:    "浏览器会话获取等待时长（秒）",
		Buckets: prometheus.DefBuckets,
	},
)

// EventDropTotal 事件订阅者队列满导致的丢弃计数
var EventDropTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "agentd_event_drop_total",
		Help: "事件订阅者队列满导致的丢弃计数",
	},
)

// RateLimitRejectTotal 限流拒绝计数
var RateLimitRejectTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "agentd_ratelimit_reject_total",
		Help: "限流拒绝计数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
