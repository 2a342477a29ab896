package registration

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Storage says where an attribute's value lives.
type Storage int

const (
	// Configuration attributes are stored in the model.
	Configuration Storage = iota
	// RuntimeStorage attributes are read from a running service on demand.
	RuntimeStorage
)

// String implements fmt.Stringer.
func (s Storage) String() string {
	if s == RuntimeStorage {
		return "runtime"
	}
	return "configuration"
}

// Access is the access type of an attribute.
type Access int

const (
	ReadWrite Access = iota
	ReadOnly
	// Metric attributes are read-only runtime statistics.
	Metric
)

// String implements fmt.Stringer.
func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case Metric:
		return "metric"
	default:
		return "read-write"
	}
}

// CapabilityReference makes an attribute's value the dynamic part of a
// required capability.
type CapabilityReference struct {
	Name string
}

// AttributeDefinition describes one attribute of a resource.
type AttributeDefinition struct {
	Name        string
	Type        cty.Type
	Description string
	Required    bool
	// Default is used when the attribute is undefined. cty.NilVal means no
	// default.
	Default         cty.Value
	Storage         Storage
	Access          Access
	AllowExpression bool
	// RestartRequired attributes are written to the model only; the running
	// service keeps its value until reload.
	RestartRequired bool
	Capability      *CapabilityReference
	Validate        func(v cty.Value) error
	// Reader computes the value of a RuntimeStorage attribute of the
	// resource at addr. It runs in the RUNTIME stage.
	Reader func(ctx *controller.Context, addr address.Address) (cty.Value, error)
}

// HasDefault reports whether the attribute declares a default.
func (a *AttributeDefinition) HasDefault() bool {
	return a.Default != cty.NilVal && !a.Default.IsNull()
}

// Writable reports whether write-attribute may change the attribute.
func (a *AttributeDefinition) Writable() bool {
	return a.Access == ReadWrite && a.Storage == Configuration
}

// Coerce converts v to the attribute's type and validates it. A null value
// is returned as a typed null. Strings containing `${...}` references become
// expressions when the attribute allows them.
func (a *AttributeDefinition) Coerce(v cty.Value) (cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		return cty.NullVal(a.Type), nil
	}
	if !v.IsKnown() {
		return cty.NilVal, errors.NotValidf("unknown value for attribute %q", a.Name)
	}
	if !expression.IsExpression(v) && v.Type().Equals(cty.String) && expression.HasReference(v.AsString()) {
		v = expression.New(v.AsString())
	}
	if expression.IsExpression(v) {
		if !a.AllowExpression {
			return cty.NilVal, errors.NotValidf("expression %q for attribute %q", expression.Template(v), a.Name)
		}
		return v, nil
	}
	out, err := convert.Convert(v, a.Type)
	if err != nil {
		return cty.NilVal, errors.NewNotValid(err, fmt.Sprintf("attribute %q", a.Name))
	}
	if a.Validate != nil {
		if err := a.Validate(out); err != nil {
			return cty.NilVal, errors.NewNotValid(err, fmt.Sprintf("attribute %q", a.Name))
		}
	}
	return out, nil
}

// CapabilityDynamic returns the dynamic part of the capability the attribute
// references with value v. It reports false when v is null or the attribute
// references no capability.
func (a *AttributeDefinition) CapabilityDynamic(v cty.Value) (string, bool) {
	if a.Capability == nil || v == cty.NilVal || v.IsNull() || !v.Type().Equals(cty.String) {
		return "", false
	}
	return v.AsString(), true
}

// IntRange validates that a number is a whole number in [lo, hi].
func IntRange(lo, hi int64) func(cty.Value) error {
	return func(v cty.Value) error {
		bf := v.AsBigFloat()
		if !bf.IsInt() {
			return fmt.Errorf("%s is not a whole number", bf.String())
		}
		i, _ := bf.Int64()
		if i < lo || i > hi {
			return fmt.Errorf("%d is outside [%d, %d]", i, lo, hi)
		}
		return nil
	}
}

// OneOf validates that a string is one of allowed.
func OneOf(allowed ...string) func(cty.Value) error {
	return func(v cty.Value) error {
		s := v.AsString()
		for _, a := range allowed {
			if s == a {
				return nil
			}
		}
		return fmt.Errorf("%q is not one of %v", s, allowed)
	}
}

// ContentHash validates an opaque content-repository hash: 40 or 64 lower
// case hex digits.
func ContentHash(v cty.Value) error {
	s := v.AsString()
	if len(s) != 40 && len(s) != 64 {
		return fmt.Errorf("content hash must have 40 or 64 hex digits, got %d", len(s))
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("content hash %q is not lower case hex", s)
		}
	}
	return nil
}
