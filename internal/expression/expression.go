// Package expression implements expression-reference attribute values.
//
// An expression is a string containing one or more `${name}` or
// `${name:default}` references. Names prefixed with `env.` read the process
// environment; all other names read the controller's system properties.
// Expressions are stored unresolved in the model as a cty capsule and resolved
// when a runtime step needs the concrete value.
package expression

import (
	"reflect"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Expression is an unresolved expression template.
type Expression struct {
	template string
}

// String returns the raw template.
func (e *Expression) String() string {
	return e.template
}

// Type is the cty capsule type of expression values.
var Type = cty.CapsuleWithOps("expression", reflect.TypeOf(Expression{}), &cty.CapsuleOps{
	GoString: func(val interface{}) string {
		return "expression.New(" + quote(val.(*Expression).template) + ")"
	},
	RawEquals: func(a, b interface{}) bool {
		return a.(*Expression).template == b.(*Expression).template
	},
	Equals: func(a, b interface{}) cty.Value {
		return cty.BoolVal(a.(*Expression).template == b.(*Expression).template)
	},
})

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// New wraps template as an expression value.
func New(template string) cty.Value {
	return cty.CapsuleVal(Type, &Expression{template: template})
}

// IsExpression reports whether v is a known, non-null expression value.
func IsExpression(v cty.Value) bool {
	return v != cty.NilVal && v.Type().Equals(Type) && v.IsKnown() && !v.IsNull()
}

// Template returns the raw template of an expression value, or "" when v is
// not an expression.
func Template(v cty.Value) string {
	if !IsExpression(v) {
		return ""
	}
	return v.EncapsulatedValue().(*Expression).template
}

// HasReference reports whether s contains an expression reference.
func HasReference(s string) bool {
	return referenceRegex.MatchString(s)
}

// FromString turns a string value containing references into an expression
// value. Any other value is returned unchanged.
func FromString(v cty.Value) cty.Value {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() || !v.Type().Equals(cty.String) {
		return v
	}
	if s := v.AsString(); HasReference(s) {
		return New(s)
	}
	return v
}
