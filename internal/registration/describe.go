package registration

import (
	"sort"

	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/zclconf/go-cty/cty"
)

// Describe returns the description of the node: its attributes, operations,
// capabilities and child types. With recursive set, child descriptions are
// included.
func (n *Node) Describe(recursive bool) cty.Value {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	return n.describe(recursive)
}

func (n *Node) describe(recursive bool) cty.Value {
	attrs := make(map[string]cty.Value, len(n.def.Attributes))
	for _, a := range n.def.Attributes {
		attrs[a.Name] = describeAttribute(a)
	}

	ops := make(map[string]cty.Value)
	for _, name := range n.operationNames() {
		op, _ := n.operation(name)
		ops[name] = cty.ObjectVal(map[string]cty.Value{
			"description": cty.StringVal(op.Description),
			"read-only":   cty.BoolVal(op.ReadOnly),
		})
	}

	caps := make([]cty.Value, 0, len(n.def.Capabilities))
	for _, c := range n.def.Capabilities {
		caps = append(caps, cty.ObjectVal(map[string]cty.Value{
			"name":    cty.StringVal(c.Name),
			"dynamic": cty.BoolVal(c.Dynamic),
		}))
	}

	reqs := make([]cty.Value, 0, len(n.def.Requirements))
	for _, r := range n.def.Requirements {
		reqs = append(reqs, cty.StringVal(r))
	}

	children := make(map[string]cty.Value)
	for _, key := range n.childTypes() {
		values := make([]string, 0, len(n.children[key]))
		for v := range n.children[key] {
			values = append(values, v)
		}
		sort.Strings(values)
		descs := make(map[string]cty.Value, len(values))
		for _, v := range values {
			child := n.children[key][v]
			if recursive {
				descs[v] = child.describe(true)
			} else {
				descs[v] = cty.ObjectVal(map[string]cty.Value{
					"description": cty.StringVal(child.def.Description),
				})
			}
		}
		children[key] = cty.ObjectVal(map[string]cty.Value{
			"model-description": cty.ObjectVal(descs),
		})
	}

	out := map[string]cty.Value{
		"description":  cty.StringVal(n.def.Description),
		"attributes":   objectOrEmpty(attrs),
		"operations":   objectOrEmpty(ops),
		"capabilities": listOrEmpty(caps),
		"requirements": listOrEmpty(reqs),
		"children":     objectOrEmpty(children),
		"runtime-only": cty.BoolVal(n.def.Runtime),
	}
	if n.aliasTarget != nil {
		out["alias-of"] = cty.StringVal(n.aliasTarget.String())
	}
	return cty.ObjectVal(out)
}

func describeAttribute(a *AttributeDefinition) cty.Value {
	m := map[string]cty.Value{
		"type":                cty.StringVal(typeexpr.TypeString(a.Type)),
		"description":         cty.StringVal(a.Description),
		"required":            cty.BoolVal(a.Required),
		"access-type":         cty.StringVal(a.Access.String()),
		"storage":             cty.StringVal(a.Storage.String()),
		"expressions-allowed": cty.BoolVal(a.AllowExpression),
		"restart-required":    cty.BoolVal(a.RestartRequired),
	}
	if a.HasDefault() {
		m["default"] = a.Default
	}
	if a.Capability != nil {
		m["capability-reference"] = cty.StringVal(a.Capability.Name)
	}
	return cty.ObjectVal(m)
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}

func listOrEmpty(vs []cty.Value) cty.Value {
	if len(vs) == 0 {
		return cty.EmptyTupleVal
	}
	return cty.TupleVal(vs)
}
