package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/zclconf/go-cty/cty"
)

// Context is the view of a running batch given to a handler step.
type Context struct {
	b       *batch
	step    *step
	stage   Stage
	ctx     context.Context
	pending []armed
}

func (b *batch) newContext(s *step, stage Stage, ctx context.Context) *Context {
	return &Context{b: b, step: s, stage: stage, ctx: ctx}
}

// Context returns the batch's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Logger returns the batch logger.
func (c *Context) Logger() *slog.Logger { return ctxlog.FromContext(c.ctx) }

// BatchID returns the id of the running batch.
func (c *Context) BatchID() string { return c.b.id }

// Stage returns the stage the step runs in. Compensations see RolledBack.
func (c *Context) Stage() Stage { return c.stage }

// Operation returns the operation of the current step.
func (c *Context) Operation() Operation { return c.step.op }

// Address returns the address of the current step's operation.
func (c *Context) Address() address.Address { return c.step.op.Address }

// ReadOnly reports whether the batch may not modify the model.
func (c *Context) ReadOnly() bool { return c.b.readOnly }

// AddStep queues h for the current operation in stage. stage must not be
// earlier than the current one.
func (c *Context) AddStep(stage Stage, h Handler) error {
	if c.stage == RolledBack || c.stage == Done {
		return errors.NotValidf("adding a step after the batch finished")
	}
	if stage < c.stage || stage >= Done {
		return errors.NotValidf("adding a %s step during the %s stage", stage, c.stage)
	}
	c.b.queues[stage] = append(c.b.queues[stage], &step{op: c.step.op, handler: h, resp: c.step.resp})
	return nil
}

// AddStepFunc is AddStep for a function.
func (c *Context) AddStepFunc(stage Stage, fn func(ctx *Context, op Operation) error) error {
	return c.AddStep(stage, HandlerFunc(fn))
}

func (c *Context) resolve(op Operation) (Handler, error) {
	h, flags, err := c.b.c.dispatcher.Resolve(op.Address, op.Name)
	if err != nil {
		if _, ok := failure.As(err); ok {
			return nil, err
		}
		return nil, failure.New(failure.OperationNotFound, op.Name, op.Address.String(), err)
	}
	if c.b.readOnly && !flags.ReadOnly {
		return nil, failure.Newf(failure.Validation, op.Name, op.Address.String(), "operation modifies the model inside a read-only operation")
	}
	if !flags.AllowWildcard {
		if err := op.Address.Validate(); err != nil {
			return nil, failure.New(failure.Validation, op.Name, op.Address.String(), err)
		}
	}
	return h, nil
}

// Dispatch queues op as a new step of the current stage with its own
// response. The step runs after the steps already queued.
func (c *Context) Dispatch(op Operation) (*Response, error) {
	if c.stage >= Done {
		return nil, errors.NotValidf("dispatch after the batch finished")
	}
	h, err := c.resolve(op)
	if err != nil {
		return nil, err
	}
	resp := &Response{op: op}
	c.b.queues[c.stage] = append(c.b.queues[c.stage], &step{op: op, handler: h, resp: resp})
	return resp, nil
}

// Delegate executes op immediately, in the current stage and batch, sharing
// the current step's response. Steps and compensations registered by the
// delegate belong to op.
func (c *Context) Delegate(op Operation) error {
	if c.stage >= Done {
		return errors.NotValidf("delegation after the batch finished")
	}
	h, err := c.resolve(op)
	if err != nil {
		return err
	}
	child := c.b.newContext(&step{op: op, handler: h, resp: c.step.resp}, c.stage, c.ctx)
	if err := h.Execute(child, op); err != nil {
		return c.b.classify(c.stage, op, err)
	}
	c.pending = append(c.pending, child.pending...)
	return nil
}

func (c *Context) checkModelWrite(what string) error {
	if c.b.readOnly {
		return errors.NotValidf("%s in a read-only operation", what)
	}
	if c.stage != Model {
		return errors.NotValidf("%s during the %s stage", what, c.stage)
	}
	return nil
}

// Root returns the batch's view of the model root. It must not be modified.
func (c *Context) Root() *resource.Resource { return c.b.tx.Root() }

// ReadResource returns the resource at addr as seen by the batch. The result
// must not be modified.
func (c *Context) ReadResource(addr address.Address) (*resource.Resource, error) {
	return c.b.tx.Read(addr)
}

// ReadResourceForUpdate returns a mutable copy of the resource at addr.
func (c *Context) ReadResourceForUpdate(addr address.Address) (*resource.Resource, error) {
	if err := c.checkModelWrite("resource update"); err != nil {
		return nil, err
	}
	return c.b.tx.ReadForUpdate(addr)
}

// CreateResource adds r at addr.
func (c *Context) CreateResource(addr address.Address, r *resource.Resource) error {
	if err := c.checkModelWrite("resource creation"); err != nil {
		return err
	}
	return c.b.tx.Create(addr, r)
}

// RemoveResource removes the resource at addr and its subtree.
func (c *Context) RemoveResource(addr address.Address) (*resource.Resource, error) {
	if err := c.checkModelWrite("resource removal"); err != nil {
		return nil, err
	}
	return c.b.tx.Remove(addr)
}

// RegisterCapability records that the current address provides fullName.
func (c *Context) RegisterCapability(fullName string) error {
	if err := c.checkModelWrite("capability registration"); err != nil {
		return err
	}
	c.b.changes.Register(fullName, c.Address())
	return nil
}

// DeregisterCapability records that the current address no longer provides
// fullName.
func (c *Context) DeregisterCapability(fullName string) error {
	if err := c.checkModelWrite("capability removal"); err != nil {
		return err
	}
	c.b.changes.Deregister(fullName, c.Address())
	return nil
}

// RequireCapability records that the current address requires a capability.
// attribute optionally names the attribute holding the reference.
func (c *Context) RequireCapability(name, dynamic, attribute string) error {
	if err := c.checkModelWrite("capability requirement"); err != nil {
		return err
	}
	c.b.changes.Require(capability.Requirement{Name: name, Dynamic: dynamic, Requester: c.Address(), Attribute: attribute})
	return nil
}

// ReleaseCapability drops a requirement recorded by RequireCapability.
func (c *Context) ReleaseCapability(name, dynamic, attribute string) error {
	if err := c.checkModelWrite("capability release"); err != nil {
		return err
	}
	c.b.changes.Release(capability.Requirement{Name: name, Dynamic: dynamic, Requester: c.Address(), Attribute: attribute})
	return nil
}

// CapabilityServiceName returns the service id of a capability.
func (c *Context) CapabilityServiceName(name, dynamic string) service.ID {
	return capability.ServiceName(name, dynamic)
}

// ResolveCapability returns the provider of a capability visible from the
// current address. Changes of the running batch are visible from the
// RUNTIME stage on.
func (c *Context) ResolveCapability(name, dynamic string) (capability.Registration, error) {
	return c.b.c.caps.Resolve(name, dynamic, c.Address())
}

// ServiceTarget returns the target for installing services. It is not
// available in the MODEL stage.
func (c *Context) ServiceTarget() (service.Target, error) {
	if c.stage == Model {
		return nil, errors.NotValidf("service access during the MODEL stage")
	}
	if c.b.c.target == nil {
		return nil, errors.NotSupportedf("service target")
	}
	return c.b.c.target, nil
}

// OnRollback registers a Normal compensation for the current step. It is
// armed when the step returns without error.
func (c *Context) OnRollback(fn Compensation) {
	c.OnRollbackIn(Normal, fn)
}

// OnRollbackIn registers a compensation in the given slot.
func (c *Context) OnRollbackIn(slot Slot, fn Compensation) {
	c.pending = append(c.pending, armed{fn: fn, slot: slot, step: c.step})
}

// OnCompleted registers fn to run once the batch outcome is known, after
// commit or rollback. Hooks run in registration order.
func (c *Context) OnCompleted(fn func(outcome Outcome)) {
	c.b.completed = append(c.b.completed, fn)
}

// SetResult sets the result of the current operation.
func (c *Context) SetResult(v cty.Value) {
	c.step.resp.result = v
	c.step.resp.lazy = nil
}

// SetResultFunc makes fn compute the result of the current operation each
// time it is read. It is meant for results assembled from the responses of
// dispatched operations, which are final only once the batch ends.
func (c *Context) SetResultFunc(fn func() cty.Value) { c.step.resp.lazy = fn }

// Result returns the result set so far for the current operation.
func (c *Context) Result() cty.Value { return c.step.resp.Result() }

// AddResponseHeader sets a batch response header.
func (c *Context) AddResponseHeader(name string, v cty.Value) { c.b.headers[name] = v }

// ReloadRequired marks that the change takes effect only after a reload.
func (c *Context) ReloadRequired() {
	c.AddResponseHeader(HeaderReloadRequired, cty.True)
	c.AddResponseHeader(HeaderProcessState, cty.StringVal("reload-required"))
}

// RestartRequired marks that the change takes effect only after a restart.
func (c *Context) RestartRequired() {
	c.AddResponseHeader(HeaderRestartRequired, cty.True)
	c.AddResponseHeader(HeaderProcessState, cty.StringVal("restart-required"))
}

// SetRollbackOnly makes the batch roll back when the current stage ends.
func (c *Context) SetRollbackOnly() { c.b.rollbackOnly = true }

// ResolveExpression resolves every expression inside v.
func (c *Context) ResolveExpression(v cty.Value) (cty.Value, error) {
	out, err := c.b.c.resolver.Resolve(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("at %s: %w", c.Address(), err)
	}
	return out, nil
}
