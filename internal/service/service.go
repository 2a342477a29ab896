// Package service defines the contract between the operation controller and
// the container that runs long-lived runtime services.
//
// # Why a Service Target Exists
//
// The management model is declared state. Services are what actually runs:
// a thread pool, a bound socket, a listener. RUNTIME-stage handlers install
// and remove services through a Target so that every side effect goes through
// one place and can be compensated when a batch rolls back.
//
// # Contract
//
//   - Install starts a service synchronously and reports start failure as an
//     error. A service whose dependencies are not up cannot be installed.
//   - Remove stops a service. Removal does not cascade to dependents.
//   - Services are keyed by ID, usually the service name derived from a
//     capability (see capability.ServiceName).
//
// See internal/inmemoryservice for the reference implementation.
package service

import "context"

// ID names a service.
type ID string

// String implements fmt.Stringer.
func (id ID) String() string { return string(id) }

// State is the lifecycle state of an installed service.
type State int

const (
	// Down means the service is not installed.
	Down State = iota
	// Up means the service started successfully.
	Up
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Up:
		return "UP"
	default:
		return "DOWN"
	}
}

// Service is a long-lived runtime component.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Valuer is implemented by services that expose a value to dependents, for
// example the port of a socket binding.
type Valuer interface {
	Value() any
}

// Funcs adapts a pair of functions to Service. Nil functions are no-ops.
type Funcs struct {
	StartFunc func(ctx context.Context) error
	StopFunc  func(ctx context.Context) error
	Val       any
}

// Start implements Service.
func (f Funcs) Start(ctx context.Context) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx)
}

// Stop implements Service.
func (f Funcs) Stop(ctx context.Context) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx)
}

// Value implements Valuer.
func (f Funcs) Value() any { return f.Val }

// Handle identifies an installed service.
type Handle struct {
	ID           ID
	Dependencies []ID
}

// Target installs and removes services.
//
// Implementations MUST be safe for concurrent use; read-only operations may
// call Lookup while a batch installs services.
type Target interface {
	// Install starts svc under id once every dependency is up.
	Install(ctx context.Context, id ID, svc Service, deps ...ID) (*Handle, error)
	// Remove stops the service identified by h.
	Remove(ctx context.Context, h *Handle) error
	// Lookup returns the running service with the given id.
	Lookup(id ID) (Service, bool)
	// State returns the lifecycle state of id.
	State(id ID) State
}
