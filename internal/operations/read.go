package operations

import (
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/zclconf/go-cty/cty"
)

type readOptions struct {
	recursive       bool
	includeRuntime  bool
	includeDefaults bool
	resolve         bool
}

func readOptionsOf(op controller.Operation) (readOptions, error) {
	var o readOptions
	var err error
	if o.recursive, err = boolParam(op, ParamRecursive, false); err != nil {
		return o, err
	}
	if o.includeRuntime, err = boolParam(op, ParamIncludeRuntime, false); err != nil {
		return o, err
	}
	if o.includeDefaults, err = boolParam(op, ParamIncludeDefaults, true); err != nil {
		return o, err
	}
	if o.resolve, err = boolParam(op, ParamResolveExpressions, false); err != nil {
		return o, err
	}
	return o, nil
}

func (h *Handlers) readResource(ctx *controller.Context, op controller.Operation) error {
	opts, err := readOptionsOf(op)
	if err != nil {
		return err
	}
	n, err := h.node(op)
	if err != nil {
		return err
	}
	read := func(ctx *controller.Context, op controller.Operation) error {
		r, err := ctx.ReadResource(op.Address)
		if err != nil {
			return invalid(op, "%w", err)
		}
		v, err := h.readModel(ctx, op.Address, n, r, opts)
		if err != nil {
			return invalid(op, "%w", err)
		}
		ctx.SetResult(v)
		return nil
	}
	// Runtime attributes are read from services, which only the RUNTIME
	// stage may touch.
	if opts.includeRuntime {
		return ctx.AddStepFunc(controller.Runtime, read)
	}
	return read(ctx, op)
}

func (h *Handlers) readModel(ctx *controller.Context, addr address.Address, n *registration.Node, r *resource.Resource, opts readOptions) (cty.Value, error) {
	out := make(map[string]cty.Value)
	for _, a := range n.Attributes() {
		if a.Storage == registration.RuntimeStorage {
			if !opts.includeRuntime || a.Reader == nil {
				continue
			}
			v, err := a.Reader(ctx, addr)
			if err != nil {
				return cty.NilVal, err
			}
			out[a.Name] = v
			continue
		}
		v := attributeValue(r, a, opts.includeDefaults)
		if opts.resolve {
			var err error
			if v, err = ctx.ResolveExpression(v); err != nil {
				return cty.NilVal, err
			}
		}
		out[a.Name] = v
	}

	types := n.CanonicalChildTypes()
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		seen[t] = true
	}
	for _, t := range r.ChildTypes() {
		if !seen[t] {
			types = append(types, t)
		}
	}
	for _, t := range types {
		names := r.ChildNames(t)
		children := make(map[string]cty.Value, len(names))
		for _, name := range names {
			if !opts.recursive {
				children[name] = cty.NullVal(cty.DynamicPseudoType)
				continue
			}
			childAddr := addr.Append(address.NewElement(t, name))
			child, _ := r.Child(t, name)
			cn, err := h.reg.Find(childAddr)
			if err != nil {
				return cty.NilVal, err
			}
			v, err := h.readModel(ctx, childAddr, cn, child, opts)
			if err != nil {
				return cty.NilVal, err
			}
			children[name] = v
		}
		out[t] = objectOrEmpty(children)
	}
	return objectOrEmpty(out), nil
}

func (h *Handlers) readResourceDescription(ctx *controller.Context, op controller.Operation) error {
	recursive, err := boolParam(op, ParamRecursive, false)
	if err != nil {
		return err
	}
	n, err := h.node(op)
	if err != nil {
		return err
	}
	ctx.SetResult(n.Describe(recursive))
	return nil
}

func (h *Handlers) readChildrenNames(ctx *controller.Context, op controller.Operation) error {
	childType, err := stringParam(op, ParamChildType)
	if err != nil {
		return err
	}
	r, err := ctx.ReadResource(op.Address)
	if err != nil {
		return invalid(op, "%w", err)
	}
	ctx.SetResult(stringList(r.ChildNames(childType)))
	return nil
}

func (h *Handlers) readChildrenTypes(ctx *controller.Context, op controller.Operation) error {
	n, err := h.node(op)
	if err != nil {
		return err
	}
	if _, err := ctx.ReadResource(op.Address); err != nil {
		return invalid(op, "%w", err)
	}
	ctx.SetResult(stringList(n.CanonicalChildTypes()))
	return nil
}

func (h *Handlers) readOperationNames(ctx *controller.Context, op controller.Operation) error {
	n, err := h.node(op)
	if err != nil {
		return err
	}
	if _, err := ctx.ReadResource(op.Address); err != nil {
		return invalid(op, "%w", err)
	}
	ctx.SetResult(stringList(n.OperationNames()))
	return nil
}
