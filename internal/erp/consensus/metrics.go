package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// 裁决数量
	Verdicts *prometheus.CounterVec

	// 各层耗时
	LayerDuration *prometheus.HistogramVec

	// 智能体调用失败
	AgentErrors *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// 未传入注册器时使用不对外暴露的本地注册器
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Verdicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "erp_consensus_verdicts_total",
			Help: "Consensus verdicts by domain and decision.",
		}, []string{"domain", "decision"}),

		LayerDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "erp_consensus_layer_duration_seconds",
			Help:    "Latency of each consensus layer.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"domain", "layer"}),

		AgentErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "erp_consensus_agent_errors_total",
			Help: "Failed agent evaluations.",
		}, []string{"agent_id"}),
	}
}
