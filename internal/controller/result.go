package controller

import (
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/zclconf/go-cty/cty"
)

// Outcome is the final state of a batch as seen by the caller.
type Outcome string

const (
	Success Outcome = "success"
	Failed  Outcome = "failed"
)

// Response header names.
const (
	HeaderReloadRequired  = "operation-requires-reload"
	HeaderRestartRequired = "operation-requires-restart"
	HeaderProcessState    = "process-state"
)

// Result is the reply to an operation.
type Result struct {
	Outcome            Outcome
	Result             cty.Value // present on success
	FailureDescription string    // present on failure
	RolledBack         bool
	Headers            map[string]cty.Value
	BatchID            string
	// Err is the classified failure, a *failure.Error, when Outcome is Failed.
	Err error
}

// Succeeded reports whether the outcome is Success.
func (r Result) Succeeded() bool { return r.Outcome == Success }

// ToValue returns the object form of the result.
func (r Result) ToValue() cty.Value {
	attrs := map[string]cty.Value{
		"outcome": cty.StringVal(string(r.Outcome)),
	}
	if r.Outcome == Success {
		res := r.Result
		if res == cty.NilVal {
			res = cty.NullVal(cty.DynamicPseudoType)
		}
		attrs["result"] = res
	} else {
		attrs["failure-description"] = cty.StringVal(r.FailureDescription)
		attrs["rolled-back"] = cty.BoolVal(r.RolledBack)
	}
	if len(r.Headers) > 0 {
		attrs["response-headers"] = cty.ObjectVal(r.Headers)
	}
	return cty.ObjectVal(attrs)
}

// Response collects the result of one dispatched operation.
type Response struct {
	op     Operation
	result cty.Value
	lazy   func() cty.Value
}

// Operation returns the operation the response belongs to.
func (r *Response) Operation() Operation { return r.op }

// Result returns the value set by the operation's handlers, or a null value.
func (r *Response) Result() cty.Value {
	if r.lazy != nil {
		return r.lazy()
	}
	if r.result == cty.NilVal {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return r.result
}

// Handler executes one step of an operation.
//
// Handlers must only touch state reachable through the Context: the resource
// tree, capability changes, the service target and compensations. Any
// external side effect belongs to the RUNTIME stage and must register a
// compensation.
type Handler interface {
	Execute(ctx *Context, op Operation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx *Context, op Operation) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx *Context, op Operation) error { return f(ctx, op) }

// Flags describe how an operation may be executed.
type Flags struct {
	// ReadOnly operations run on a snapshot and may not modify the model.
	ReadOnly bool
	// AllowWildcard operations accept wildcard addresses.
	AllowWildcard bool
}

// Dispatcher resolves an address and operation name to a handler.
type Dispatcher interface {
	Resolve(addr address.Address, name string) (Handler, Flags, error)
}

// Compensation undoes the effect of a completed RUNTIME step.
type Compensation func(ctx *Context) error

// Slot orders compensations. Normal compensations run first in reverse
// registration order, then Late ones in reverse registration order.
type Slot int

const (
	Normal Slot = iota
	Late
)

// String implements fmt.Stringer.
func (s Slot) String() string {
	if s == Late {
		return "late"
	}
	return "normal"
}
