package operations

import (
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/zclconf/go-cty/cty"
)

// ResolveModel returns an object holding every configuration attribute of
// attrs as the running service should see it: expressions resolved and
// checked against the attribute type, defaults applied, and a typed null for
// an undefined attribute without default. The object suits gocty decoding.
func ResolveModel(ctx *controller.Context, attrs []*registration.AttributeDefinition, model *resource.Resource) (cty.Value, error) {
	out := make(map[string]cty.Value, len(attrs))
	for _, a := range attrs {
		if a.Storage == registration.RuntimeStorage {
			continue
		}
		v := attributeValue(model, a, true)
		if expression.IsExpression(v) {
			resolved, err := ctx.ResolveExpression(v)
			if err != nil {
				return cty.NilVal, err
			}
			if v, err = a.Coerce(resolved); err != nil {
				return cty.NilVal, err
			}
		}
		out[a.Name] = v
	}
	return objectOrEmpty(out), nil
}

// ResolveAttribute is ResolveModel for the single value v of a.
func ResolveAttribute(ctx *controller.Context, a *registration.AttributeDefinition, v cty.Value) (cty.Value, error) {
	if v == cty.NilVal || v.IsNull() {
		if a.HasDefault() {
			return a.Default, nil
		}
		return cty.NullVal(a.Type), nil
	}
	if !expression.IsExpression(v) {
		return v, nil
	}
	resolved, err := ctx.ResolveExpression(v)
	if err != nil {
		return cty.NilVal, err
	}
	return a.Coerce(resolved)
}
