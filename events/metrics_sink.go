package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink counts events as prometheus metrics.
type MetricsSink struct {
	RowsTotal   *prometheus.CounterVec
	RunsTotal   *prometheus.CounterVec
	RunsActive  *prometheus.GaugeVec
	RowsLastRun *prometheus.GaugeVec
}

var _ Sink = &MetricsSink{}

// NewMetricsSink creates the metrics and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	factory := promauto.With(reg)

	return &MetricsSink{
		RowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_rows_total",
			Help: "Total number of source rows by migration and outcome",
		}, []string{"migration", "outcome"}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "migrate_runs_total",
			Help: "Total number of finished migration runs by final state",
		}, []string{"migration", "state"}),

		RunsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrate_runs_active",
			Help: "Number of migration runs in progress",
		}, []string{"migration"}),

		RowsLastRun: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "migrate_rows_processed_last_run",
			Help: "Number of rows processed by the last finished run",
		}, []string{"migration"}),
	}
}

func (s *MetricsSink) Emit(e Event) {
	switch e.Type {
	case RunStarted:
		s.RunsActive.WithLabelValues(e.MigrationID).Inc()
	case RunCompleted:
		s.RunsActive.WithLabelValues(e.MigrationID).Dec()
		state := "unknown"
		if e.Counts != nil {
			state = e.Counts.State
			s.RowsLastRun.WithLabelValues(e.MigrationID).Set(float64(e.Counts.Processed))
		}
		s.RunsTotal.WithLabelValues(e.MigrationID, state).Inc()
	case RowImported, RowUpToDate, RowSkipped, RowFailed, RowRolledBack:
		s.RowsTotal.WithLabelValues(e.MigrationID, outcome(e.Type)).Inc()
	}
}

func outcome(t Type) string {
	switch t {
	case RowImported:
		return "imported"
	case RowUpToDate:
		return "up_to_date"
	case RowSkipped:
		return "skipped"
	case RowFailed:
		return "failed"
	default:
		return "rolled_back"
	}
}
