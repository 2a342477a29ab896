// Package metrics exports controller batch events as Prometheus metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/specialistvlad/mgmtcore/internal/controller"
)

const (
	namespace = "mgmtcore"
	subsystem = "controller"
)

// Observer is a controller.Observer backed by Prometheus collectors.
type Observer struct {
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	inFlight      *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec
	compensations *prometheus.CounterVec
}

var _ controller.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_total",
			Help:      "Finished batches by root operation, outcome and whether they were rolled back.",
		}, []string{"operation", "outcome", "rolled_back"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Batch duration from start to commit or rollback.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"operation"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batches_in_flight",
			Help:      "Batches currently executing.",
		}, []string{"read_only"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Duration of completed stages.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 1},
		}, []string{"stage"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compensations_total",
			Help:      "Compensations run during rollback by slot and result.",
		}, []string{"slot", "result"}),
	}
	for _, c := range []prometheus.Collector{o.batches, o.batchDuration, o.inFlight, o.stageDuration, o.compensations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// BatchStarted implements controller.Observer.
func (o *Observer) BatchStarted(_ controller.Operation, readOnly bool) {
	o.inFlight.WithLabelValues(strconv.FormatBool(readOnly)).Inc()
}

// BatchFinished implements controller.Observer.
func (o *Observer) BatchFinished(op controller.Operation, readOnly bool, outcome controller.Outcome, rolledBack bool, elapsed time.Duration) {
	o.inFlight.WithLabelValues(strconv.FormatBool(readOnly)).Dec()
	o.batches.WithLabelValues(op.Name, string(outcome), strconv.FormatBool(rolledBack)).Inc()
	o.batchDuration.WithLabelValues(op.Name).Observe(elapsed.Seconds())
}

// StageCompleted implements controller.Observer.
func (o *Observer) StageCompleted(stage controller.Stage, elapsed time.Duration) {
	o.stageDuration.WithLabelValues(stage.String()).Observe(elapsed.Seconds())
}

// CompensationRan implements controller.Observer.
func (o *Observer) CompensationRan(slot controller.Slot, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	o.compensations.WithLabelValues(slot.String(), result).Inc()
}
