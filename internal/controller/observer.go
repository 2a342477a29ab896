package controller

import "time"

// Observer receives batch lifecycle events. Implementations must be safe for
// concurrent use since read-only batches run in parallel with writers.
type Observer interface {
	BatchStarted(op Operation, readOnly bool)
	StageCompleted(stage Stage, elapsed time.Duration)
	BatchFinished(op Operation, readOnly bool, outcome Outcome, rolledBack bool, elapsed time.Duration)
	CompensationRan(slot Slot, err error)
}

type nopObserver struct{}

func (nopObserver) BatchStarted(Operation, bool)                                 {}
func (nopObserver) StageCompleted(Stage, time.Duration)                          {}
func (nopObserver) BatchFinished(Operation, bool, Outcome, bool, time.Duration) {}
func (nopObserver) CompensationRan(Slot, error)                                  {}
