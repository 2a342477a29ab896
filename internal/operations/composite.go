package operations

import (
	"fmt"

	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/zclconf/go-cty/cty"
)

// StepKey returns the key of the i-th (zero based) step in a composite
// result.
func StepKey(i int) string { return fmt.Sprintf("step-%d", i+1) }

// NewComposite builds a composite operation of steps.
func NewComposite(steps ...controller.Operation) controller.Operation {
	vals := make([]cty.Value, len(steps))
	for i, s := range steps {
		vals[i] = s.ToValue()
	}
	list := cty.EmptyTupleVal
	if len(vals) > 0 {
		list = cty.TupleVal(vals)
	}
	return controller.Operation{
		Name:   Composite,
		Params: map[string]cty.Value{ParamSteps: list},
	}
}

// Steps decodes the steps of a composite operation.
func Steps(op controller.Operation) ([]controller.Operation, error) {
	list, ok := op.Param(ParamSteps)
	if !ok {
		return nil, invalid(op, "missing parameter %q", ParamSteps)
	}
	ty := list.Type()
	if !ty.IsListType() && !ty.IsTupleType() {
		return nil, invalid(op, "parameter %q must be a list of operations", ParamSteps)
	}
	var out []controller.Operation
	for it := list.ElementIterator(); it.Next(); {
		_, v := it.Element()
		step, err := controller.OperationFromValue(v)
		if err != nil {
			return nil, invalid(op, "%s: %v", StepKey(len(out)), err)
		}
		out = append(out, step)
	}
	return out, nil
}

// composite dispatches every step in declared order as MODEL steps of the
// same batch.
func (h *Handlers) composite(ctx *controller.Context, op controller.Operation) error {
	steps, err := Steps(op)
	if err != nil {
		return err
	}
	responses := make([]*controller.Response, 0, len(steps))
	for _, s := range steps {
		resp, err := ctx.Dispatch(s)
		if err != nil {
			return err
		}
		responses = append(responses, resp)
	}
	ctx.SetResultFunc(func() cty.Value {
		out := make(map[string]cty.Value, len(responses))
		for i, resp := range responses {
			out[StepKey(i)] = cty.ObjectVal(map[string]cty.Value{
				"outcome": cty.StringVal(string(controller.Success)),
				"result":  resp.Result(),
			})
		}
		return objectOrEmpty(out)
	})
	return nil
}
