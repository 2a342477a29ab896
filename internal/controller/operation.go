package controller

import (
	"fmt"
	"sort"

	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/zclconf/go-cty/cty"
)

// Stage is a phase of batch execution.
type Stage int

const (
	Model Stage = iota
	Runtime
	Verify
	Done
	RolledBack
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case Model:
		return "MODEL"
	case Runtime:
		return "RUNTIME"
	case Verify:
		return "VERIFY"
	case Done:
		return "DONE"
	case RolledBack:
		return "ROLLED_BACK"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Keys of the object form of an operation.
const (
	OperationKey = "operation"
	AddressKey   = "address"
)

// Operation is a request to run a named operation against an address.
type Operation struct {
	Address address.Address
	Name    string
	Params  map[string]cty.Value
}

// NewOperation builds an operation. params may be nil.
func NewOperation(name string, addr address.Address, params map[string]cty.Value) Operation {
	p := make(map[string]cty.Value, len(params))
	for k, v := range params {
		p[k] = v
	}
	return Operation{Address: addr, Name: name, Params: p}
}

// Param returns a defined, non-null parameter.
func (op Operation) Param(name string) (cty.Value, bool) {
	v, ok := op.Params[name]
	if !ok || v == cty.NilVal || v.IsNull() {
		return cty.NilVal, false
	}
	return v, true
}

// ParamNames returns the parameter names in lexical order.
func (op Operation) ParamNames() []string {
	names := make([]string, 0, len(op.Params))
	for k := range op.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WithAddress returns a copy of op targeting addr.
func (op Operation) WithAddress(addr address.Address) Operation {
	out := NewOperation(op.Name, addr, op.Params)
	return out
}

// WithParam returns a copy of op with one parameter replaced. A null value
// removes the parameter.
func (op Operation) WithParam(name string, v cty.Value) Operation {
	out := NewOperation(op.Name, op.Address, op.Params)
	if v == cty.NilVal || v.IsNull() {
		delete(out.Params, name)
	} else {
		out.Params[name] = v
	}
	return out
}

// String renders the operation for logs and errors.
func (op Operation) String() string {
	return fmt.Sprintf("%s:%s", op.Address, op.Name)
}

// ToValue returns the object form: {operation, address, <params>...}.
func (op Operation) ToValue() cty.Value {
	attrs := make(map[string]cty.Value, len(op.Params)+2)
	for k, v := range op.Params {
		attrs[k] = v
	}
	attrs[OperationKey] = cty.StringVal(op.Name)
	attrs[AddressKey] = cty.StringVal(op.Address.String())
	return cty.ObjectVal(attrs)
}

// OperationFromValue parses the object form produced by ToValue. The address
// is a path string; every other attribute becomes a parameter.
func OperationFromValue(v cty.Value) (Operation, error) {
	if v == cty.NilVal || v.IsNull() || !v.IsKnown() {
		return Operation{}, fmt.Errorf("operation must be a known, non-null object")
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return Operation{}, fmt.Errorf("operation must be an object, got %s", ty.FriendlyName())
	}
	var op Operation
	op.Params = make(map[string]cty.Value)
	op.Address = address.Root()
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		switch name := k.AsString(); name {
		case OperationKey:
			if ev.IsNull() || !ev.Type().Equals(cty.String) {
				return Operation{}, fmt.Errorf("%q must be a string", OperationKey)
			}
			op.Name = ev.AsString()
		case AddressKey:
			if ev.IsNull() || !ev.Type().Equals(cty.String) {
				return Operation{}, fmt.Errorf("%q must be a string", AddressKey)
			}
			addr, err := address.Parse(ev.AsString())
			if err != nil {
				return Operation{}, err
			}
			op.Address = addr
		default:
			op.Params[name] = ev
		}
	}
	if op.Name == "" {
		return Operation{}, fmt.Errorf("missing %q", OperationKey)
	}
	return op, nil
}
