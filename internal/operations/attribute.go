package operations

import (
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/zclconf/go-cty/cty"
)

func (h *Handlers) attribute(op controller.Operation) (*registration.Node, *registration.AttributeDefinition, error) {
	n, err := h.node(op)
	if err != nil {
		return nil, nil, err
	}
	name, err := stringParam(op, ParamName)
	if err != nil {
		return nil, nil, err
	}
	a, ok := n.Attribute(name)
	if !ok {
		return nil, nil, invalid(op, "unknown attribute %q", name)
	}
	return n, a, nil
}

func (h *Handlers) writeAttribute(ctx *controller.Context, op controller.Operation) error {
	n, a, err := h.attribute(op)
	if err != nil {
		return err
	}
	v, _ := op.Param(ParamValue)
	return h.write(ctx, op, n, a, v)
}

func (h *Handlers) undefineAttribute(ctx *controller.Context, op controller.Operation) error {
	n, a, err := h.attribute(op)
	if err != nil {
		return err
	}
	return h.write(ctx, op, n, a, cty.NilVal)
}

// write stores v, null meaning undefined, and schedules the runtime side of
// the change.
func (h *Handlers) write(ctx *controller.Context, op controller.Operation, n *registration.Node, a *registration.AttributeDefinition, v cty.Value) error {
	if !a.Writable() {
		return invalid(op, "attribute %q is %s and cannot be written", a.Name, describeAccess(a))
	}
	cv, err := a.Coerce(v)
	if err != nil {
		return invalid(op, "%w", err)
	}
	if cv.IsNull() && a.Required && !a.HasDefault() {
		return invalid(op, "attribute %q is required", a.Name)
	}

	r, err := ctx.ReadResourceForUpdate(op.Address)
	if err != nil {
		return invalid(op, "%w", err)
	}
	old, _ := r.Attribute(a.Name)
	r.SetAttribute(a.Name, cv)

	if a.Capability != nil {
		if dyn, ok, err := referenceValue(ctx, a, old); err != nil {
			return err
		} else if ok {
			if err := ctx.ReleaseCapability(a.Capability.Name, dyn, a.Name); err != nil {
				return err
			}
		}
		if dyn, ok, err := referenceValue(ctx, a, cv); err != nil {
			return err
		} else if ok {
			if err := ctx.RequireCapability(a.Capability.Name, dyn, a.Name); err != nil {
				return err
			}
		}
	}

	if sameValue(old, cv) {
		return nil
	}
	if a.RestartRequired {
		ctx.ReloadRequired()
		return nil
	}
	rt := h.runtime(n)
	if rt == nil {
		return nil
	}
	applier, ok := rt.(AttributeApplier)
	if !ok {
		ctx.ReloadRequired()
		return nil
	}
	applied := attributeValue(r, a, true)
	previous := old
	if previous == cty.NilVal || previous.IsNull() {
		previous = a.Default
		if !a.HasDefault() {
			previous = cty.NullVal(a.Type)
		}
	}
	return ctx.AddStepFunc(controller.Runtime, func(ctx *controller.Context, op controller.Operation) error {
		if err := applier.ApplyAttribute(ctx, op.Address, a.Name, applied); err != nil {
			return err
		}
		ctx.OnRollback(func(ctx *controller.Context) error {
			return applier.ApplyAttribute(ctx, op.Address, a.Name, previous)
		})
		return nil
	})
}

func describeAccess(a *registration.AttributeDefinition) string {
	if a.Storage == registration.RuntimeStorage {
		return "a runtime attribute"
	}
	return a.Access.String()
}

func (h *Handlers) readAttribute(ctx *controller.Context, op controller.Operation) error {
	_, a, err := h.attribute(op)
	if err != nil {
		return err
	}
	includeDefaults, err := boolParam(op, ParamIncludeDefaults, true)
	if err != nil {
		return err
	}
	resolve, err := boolParam(op, ParamResolveExpressions, false)
	if err != nil {
		return err
	}

	if a.Storage == registration.RuntimeStorage {
		if a.Reader == nil {
			return invalid(op, "runtime attribute %q has no reader", a.Name)
		}
		return ctx.AddStepFunc(controller.Runtime, func(ctx *controller.Context, op controller.Operation) error {
			v, err := a.Reader(ctx, op.Address)
			if err != nil {
				return err
			}
			ctx.SetResult(v)
			return nil
		})
	}

	r, err := ctx.ReadResource(op.Address)
	if err != nil {
		return invalid(op, "%w", err)
	}
	v := attributeValue(r, a, includeDefaults)
	if resolve {
		if v, err = ctx.ResolveExpression(v); err != nil {
			return invalid(op, "%w", err)
		}
	}
	ctx.SetResult(v)
	return nil
}
