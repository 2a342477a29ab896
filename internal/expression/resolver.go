package expression

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// referenceRegex matches `${name}` and `${name:default}`.
var referenceRegex = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

const envPrefix = "env."

// Resolver evaluates expressions against system properties and the environment.
type Resolver struct {
	mu     sync.RWMutex
	props  map[string]string
	lookup func(string) (string, bool)
}

// NewResolver creates a resolver over a copy of props.
func NewResolver(props map[string]string) *Resolver {
	cp := make(map[string]string, len(props))
	for k, v := range props {
		cp[k] = v
	}
	return &Resolver{props: cp, lookup: os.LookupEnv}
}

// SetProperty sets a system property.
func (r *Resolver) SetProperty(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.props[name] = value
}

// Property returns a property, consulting the environment for `env.` names.
func (r *Resolver) Property(name string) (string, bool) {
	if strings.HasPrefix(name, envPrefix) {
		return r.lookup(strings.TrimPrefix(name, envPrefix))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.props[name]
	return v, ok
}

// Resolve replaces every expression inside v (including nested list, tuple,
// map and object elements) with its resolved string value.
func (r *Resolver) Resolve(v cty.Value) (cty.Value, error) {
	if v == cty.NilVal || !v.IsKnown() || v.IsNull() {
		return v, nil
	}
	if IsExpression(v) {
		s, err := r.ResolveString(Template(v))
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(s), nil
	}

	ty := v.Type()
	switch {
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		if v.LengthInt() == 0 {
			return v, nil
		}
		elems := make([]cty.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			rv, err := r.Resolve(ev)
			if err != nil {
				return cty.NilVal, err
			}
			elems = append(elems, rv)
		}
		return cty.TupleVal(elems), nil
	case ty.IsMapType() || ty.IsObjectType():
		if v.LengthInt() == 0 {
			return v, nil
		}
		attrs := make(map[string]cty.Value, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			rv, err := r.Resolve(ev)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k.AsString()] = rv
		}
		return cty.ObjectVal(attrs), nil
	}
	return v, nil
}

// ResolveString evaluates a raw expression template.
func (r *Resolver) ResolveString(template string) (string, error) {
	src, parts := toHCLTemplate(template)
	expr, diags := hclsyntax.ParseTemplate([]byte(src), "expression", hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return "", fmt.Errorf("invalid expression %q: %s", template, diags.Error())
	}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{partsVar: cty.ObjectVal(parts)},
		Functions: map[string]function.Function{"property": r.propertyFunc()},
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return "", fmt.Errorf("cannot resolve expression %q: %s", template, diags.Error())
	}
	if val.IsNull() || !val.Type().Equals(cty.String) {
		return "", fmt.Errorf("expression %q did not resolve to a string", template)
	}
	return val.AsString(), nil
}

func (r *Resolver) propertyFunc() function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "name", Type: cty.String},
			{Name: "default", Type: cty.String, AllowNull: true},
		},
		Type: function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			name := args[0].AsString()
			if v, ok := r.Property(name); ok {
				return cty.StringVal(v), nil
			}
			if !args[1].IsNull() {
				return args[1], nil
			}
			return cty.NilVal, fmt.Errorf("unresolved property %q and no default", name)
		},
	})
}

const partsVar = "part"

// toHCLTemplate rewrites template into an HCL template made of
// interpolations only. Literal text, property names and defaults are bound
// as variables, so none of their characters is read as template syntax.
func toHCLTemplate(template string) (string, map[string]cty.Value) {
	var sb strings.Builder
	parts := make(map[string]cty.Value)
	bind := func(s string) string {
		key := fmt.Sprintf("p%d", len(parts))
		parts[key] = cty.StringVal(s)
		return partsVar + "." + key
	}
	last := 0
	for _, m := range referenceRegex.FindAllStringSubmatchIndex(template, -1) {
		if m[0] > last {
			fmt.Fprintf(&sb, "${%s}", bind(template[last:m[0]]))
		}
		name := bind(strings.TrimSpace(template[m[2]:m[3]]))
		def := "null"
		if m[4] >= 0 {
			def = bind(template[m[4]:m[5]])
		}
		fmt.Fprintf(&sb, "${property(%s, %s)}", name, def)
		last = m[1]
	}
	if last < len(template) {
		fmt.Fprintf(&sb, "${%s}", bind(template[last:]))
	}
	return sb.String(), parts
}
