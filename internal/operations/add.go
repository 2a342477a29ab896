package operations

import (
	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/zclconf/go-cty/cty"
)

// requirement is one capability a resource requires.
type requirement struct {
	name, dynamic, attribute string
}

// requirementsOf returns the static requirements of n's definition and the
// capabilities referenced by r's attribute values.
func requirementsOf(ctx *controller.Context, n *registration.Node, r *resource.Resource) ([]requirement, error) {
	def := n.Definition()
	out := make([]requirement, 0, len(def.Requirements))
	for _, name := range def.Requirements {
		out = append(out, requirement{name: name})
	}
	for _, a := range n.Attributes() {
		if a.Capability == nil {
			continue
		}
		v, ok := r.Attribute(a.Name)
		if !ok {
			continue
		}
		dyn, ok, err := referenceValue(ctx, a, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, requirement{name: a.Capability.Name, dynamic: dyn, attribute: a.Name})
		}
	}
	return out, nil
}

// referenceValue returns the dynamic part named by a capability reference
// attribute, resolving an expression first.
func referenceValue(ctx *controller.Context, a *registration.AttributeDefinition, v cty.Value) (string, bool, error) {
	if expression.IsExpression(v) {
		resolved, err := ctx.ResolveExpression(v)
		if err != nil {
			return "", false, err
		}
		v = resolved
	}
	dyn, ok := a.CapabilityDynamic(v)
	return dyn, ok, nil
}

// AddHandler returns the add handler for a resource type. rt may be nil.
func (h *Handlers) AddHandler(rt RuntimeHandler) controller.Handler {
	return controller.HandlerFunc(func(ctx *controller.Context, op controller.Operation) error {
		n, err := h.node(op)
		if err != nil {
			return err
		}
		def := n.Definition()

		r := resource.New()
		if def.Runtime {
			r = resource.NewRuntime()
		}
		known := make(map[string]bool)
		for _, a := range n.Attributes() {
			known[a.Name] = true
			v, ok := op.Param(a.Name)
			if !ok {
				if a.Required && !a.HasDefault() {
					return invalid(op, "missing required attribute %q", a.Name)
				}
				continue
			}
			if a.Storage == registration.RuntimeStorage || a.Access == registration.Metric {
				return invalid(op, "attribute %q is a runtime attribute and cannot be set", a.Name)
			}
			cv, err := a.Coerce(v)
			if err != nil {
				return invalid(op, "%w", err)
			}
			r.SetAttribute(a.Name, cv)
		}
		for _, name := range op.ParamNames() {
			if !known[name] {
				return invalid(op, "unknown attribute %q", name)
			}
		}

		if err := ctx.CreateResource(op.Address, r); err != nil {
			return invalid(op, "%w", err)
		}
		for _, c := range def.Capabilities {
			if err := ctx.RegisterCapability(c.FullName(op.Address)); err != nil {
				return err
			}
		}
		reqs, err := requirementsOf(ctx, n, r)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if err := ctx.RequireCapability(req.name, req.dynamic, req.attribute); err != nil {
				return err
			}
		}

		if rt == nil {
			return nil
		}
		return ctx.AddStepFunc(controller.Runtime, installStep(rt, false))
	})
}

// installStep installs the resource's services. A service whose dependency
// is not installed yet is retried once, after every other runtime step
// already queued in the batch; this lets a batch add a resource before the
// resources it depends on.
func installStep(rt RuntimeHandler, retry bool) controller.HandlerFunc {
	return func(ctx *controller.Context, op controller.Operation) error {
		model, err := ctx.ReadResource(op.Address)
		if err != nil {
			return err
		}
		if err := rt.Install(ctx, op.Address, model); err != nil {
			if !retry && errors.Is(err, errors.NotFound) {
				ctx.Logger().Debug("Install deferred until the batch's other runtime steps ran.", "error", err)
				return ctx.AddStepFunc(controller.Runtime, installStep(rt, true))
			}
			return err
		}
		ctx.OnRollback(func(ctx *controller.Context) error {
			return rt.Uninstall(ctx, op.Address, model)
		})
		return nil
	}
}

// RemoveHandler returns the remove handler for a resource type. rt may be
// nil. A resource with children cannot be removed.
func (h *Handlers) RemoveHandler(rt RuntimeHandler) controller.Handler {
	return controller.HandlerFunc(func(ctx *controller.Context, op controller.Operation) error {
		n, err := h.node(op)
		if err != nil {
			return err
		}
		r, err := ctx.ReadResource(op.Address)
		if err != nil {
			return invalid(op, "%w", err)
		}
		if r.HasChildren() {
			return invalid(op, "resource has children %s; remove them first", childList(op.Address, r))
		}
		reqs, err := requirementsOf(ctx, n, r)
		if err != nil {
			return err
		}
		model, err := ctx.RemoveResource(op.Address)
		if err != nil {
			return invalid(op, "%w", err)
		}
		for _, c := range n.Definition().Capabilities {
			if err := ctx.DeregisterCapability(c.FullName(op.Address)); err != nil {
				return err
			}
		}
		for _, req := range reqs {
			if err := ctx.ReleaseCapability(req.name, req.dynamic, req.attribute); err != nil {
				return err
			}
		}

		if rt == nil {
			return nil
		}
		return ctx.AddStepFunc(controller.Runtime, func(ctx *controller.Context, op controller.Operation) error {
			if err := rt.Uninstall(ctx, op.Address, model); err != nil {
				return err
			}
			ctx.OnRollback(func(ctx *controller.Context) error {
				return rt.Install(ctx, op.Address, model)
			})
			return nil
		})
	})
}

func childList(addr address.Address, r *resource.Resource) []string {
	keys := r.Children()
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = addr.Append(address.NewElement(k.Type, k.Name)).String()
	}
	return out
}
