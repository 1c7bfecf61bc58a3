// Package observability 提供 Prometheus 指标。
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "risklock"

// Metrics 汇总运行指标。每个实例使用独立的 Registry，nil 接收者的方法均为空操作。
type Metrics struct {
	registry *prometheus.Registry

	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	Violations         prometheus.Counter
	PersistFailures    prometheus.Counter
	FetchFailures      *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	NotifySkipped      *prometheus.CounterVec
	BehaviorFlags      *prometheus.CounterVec
	BehaviorScore      *prometheus.GaugeVec
	AccountStatus      *prometheus.GaugeVec
	PortfolioEquity    prometheus.Gauge
	LastPollTimestamp  prometheus.Gauge
}

// NewMetrics 创建指标并注册进程与 Go 运行时采集器。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "evaluations_total",
			Help:      "Risk evaluations by resulting status",
		}, []string{"status"}),
		EvaluationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "evaluation_duration_seconds",
			Help:      "Risk evaluation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		Violations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "violations_total",
			Help:      "Violation messages produced by the evaluator",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "persist_failures_total",
			Help:      "Reconciliation transactions rolled back",
		}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "fetch_failures_total",
			Help:      "Broker fetch failures by provider and resulting confidence",
		}, []string{"provider", "confidence"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Alert deliveries by channel and result",
		}, []string{"channel", "result"}),
		NotifySkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "skipped_total",
			Help:      "Alerts not sent, by reason",
		}, []string{"reason"}),
		BehaviorFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "flags_total",
			Help:      "Behavior flags by type and severity",
		}, []string{"type", "severity"}),
		BehaviorScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "behavior",
			Name:      "discipline_score",
			Help:      "Latest discipline score per account",
		}, []string{"account"}),
		AccountStatus: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "account_status",
			Help:      "Latest status severity per account (0 safe .. 3 breach)",
		}, []string{"account"}),
		PortfolioEquity: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "equity",
			Help:      "Total equity across reachable accounts",
		}),
		LastPollTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "last_poll_timestamp",
			Help:      "Unix time of the last completed poll",
		}),
	}
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvaluation 记录一次风控评估。
func (m *Metrics) RecordEvaluation(account, status string, severity, violations int, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(status).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
	m.Violations.Add(float64(violations))
	if account != "" {
		m.AccountStatus.WithLabelValues(account).Set(float64(severity))
	}
}

// RecordPersistFailure 记录一次对账回滚。
func (m *Metrics) RecordPersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}

// RecordFetchFailure 记录一次券商拉取失败。
func (m *Metrics) RecordFetchFailure(provider, confidence string) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(provider, confidence).Inc()
}

// RecordNotification 记录一次通道发送结果。
func (m *Metrics) RecordNotification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

// RecordNotifySkipped 记录被跳过的告警。
func (m *Metrics) RecordNotifySkipped(reason string) {
	if m == nil {
		return
	}
	m.NotifySkipped.WithLabelValues(reason).Inc()
}

// RecordBehavior 记录行为分析结果。
func (m *Metrics) RecordBehavior(account string, score int, flags map[string]string) {
	if m == nil {
		return
	}
	m.BehaviorScore.WithLabelValues(account).Set(float64(score))
	for typ, severity := range flags {
		m.BehaviorFlags.WithLabelValues(typ, severity).Inc()
	}
}

// RecordPoll 记录一次轮询完成及组合净值。
func (m *Metrics) RecordPoll(at time.Time, totalEquity float64) {
	if m == nil {
		return
	}
	m.PortfolioEquity.Set(totalEquity)
	m.LastPollTimestamp.Set(float64(at.Unix()))
}
