// Package controller executes management operations against the resource
// tree as atomic batches.
//
// # Stages
//
// Every batch runs its steps through four ordered stages:
//
//	MODEL   -> handlers validate parameters and mutate the batch's private
//	           copy of the tree; capability registrations are recorded.
//	RUNTIME -> handlers install and remove services; each registers the
//	           compensation that undoes what it did.
//	VERIFY  -> read-only consistency checks of the new state.
//	DONE    -> the private tree replaces the canonical one.
//
// Between MODEL and RUNTIME a resolution pass applies the batch's capability
// changes; every requirement must resolve before any service is touched.
//
// Each stage has its own FIFO queue. A step may add steps to its own stage
// or to a later one, never to an earlier one. The controller moves to the
// next stage only when the current queue is empty.
//
// # Rollback
//
// Any step error, a rollback request, or cancellation of the caller's context
// ends the batch in ROLLED_BACK: compensations of the steps that completed
// run in reverse registration order, then those registered in the Late slot
// in reverse order, then the capability changes are undone and the private
// tree is dropped. A failing compensation is logged and reported in the
// failure description; the remaining ones still run.
//
// # Concurrency
//
// Write batches are serialized. When Run is active they are queued to a
// single worker goroutine; otherwise Execute runs them on the caller's
// goroutine under the controller's write lock. Read-only operations execute
// against the published snapshot and never wait for a writer.
package controller
