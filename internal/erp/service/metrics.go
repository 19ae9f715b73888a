package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// 审批结果
	Approvals *prometheus.CounterVec

	// 报工结果
	ProductionLogs *prometheus.CounterVec

	// 报工耗时
	ProductionLogDuration prometheus.Histogram

	// 一致性校验失败
	ConsistencyViolations prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Approvals: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "erp_order_approvals_total",
			Help: "Order approvals by result.",
		}, []string{"result"}),

		ProductionLogs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "erp_production_logs_total",
			Help: "Production log submissions by result.",
		}, []string{"result"}),

		ProductionLogDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "erp_production_log_duration_seconds",
			Help:    "Latency of production log ingestion.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		ConsistencyViolations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "erp_consistency_violations_total",
			Help: "Production logs rolled back because stock movements did not match.",
		}),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
