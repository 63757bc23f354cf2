package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_executions_total",
		Help: "Successful flash-loan executions by strategy",
	}, []string{"strategy"})

	ExecutionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_execution_failures_total",
		Help: "Reverted executions by error kind",
	}, []string{"kind"})

	ProfitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flasharb_profit_total",
		Help: "Realized profit in raw token units",
	}, []string{"asset"})

	ExecutionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flasharb_execution_seconds",
		Help:    "Wall time of one execution unit, successful or not",
		Buckets: prometheus.DefBuckets,
	})

	RequestsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flasharb_requests_consumed_total",
		Help: "Execution requests read from the request stream",
	})
)

func init() {
	prometheus.MustRegister(
		Executions,
		ExecutionFailures,
		ProfitTotal,
		ExecutionLatency,
		RequestsConsumed,
	)
}
