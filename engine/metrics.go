package engine

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dianpeng/xtab/query"
)

type engineMetrics struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	errors   *prometheus.CounterVec
}

func newEngineMetrics() *engineMetrics {
	const (
		namespace = "xtab"
		subsystem = "engine"
	)
	return &engineMetrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queries_total",
			Help:      "Number of executed queries",
		}, []string{"mode", "decision"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "query_duration_seconds",
			Help:      "Time spent executing a query until its result is ready",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"mode"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Number of failed or recovered executions by error kind",
		}, []string{"kind"}),
	}
}

func (self *engineMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{self.queries, self.duration, self.errors}
}

// errorKind is the label of an error in errors_total
func errorKind(err error) string {
	var (
		cnf   *query.ColumnNotFoundError
		arity *query.FormulaArityError
		expr  *query.ExpressionError
		mv    *query.MVUnavailableError
	)
	switch {
	case query.IsCancelled(err):
		return "cancelled"
	case errors.As(err, &cnf):
		return "column_not_found"
	case errors.As(err, &arity):
		return "formula_arity"
	case errors.As(err, &expr):
		return "expression"
	case errors.As(err, &mv):
		return "mv_unavailable"
	default:
		return "other"
	}
}
