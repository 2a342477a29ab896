package registration

import (
	"sort"

	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
)

// Node is the registration of one address pattern.
type Node struct {
	reg      *Registry
	parent   *Node
	element  address.Element
	def      *ResourceDefinition
	attrs    map[string]*AttributeDefinition
	ops      map[string]*OperationEntry
	children map[string]map[string]*Node // key -> value (or "*") -> node

	// aliasTarget is set on alias nodes: the canonical pattern they stand for.
	aliasTarget  *address.Address
	aliasHandler controller.Handler
}

func newNode(reg *Registry, parent *Node, def *ResourceDefinition) *Node {
	n := &Node{
		reg:      reg,
		parent:   parent,
		element:  def.Element,
		def:      def,
		attrs:    make(map[string]*AttributeDefinition, len(def.Attributes)),
		ops:      make(map[string]*OperationEntry, len(def.Operations)),
		children: make(map[string]map[string]*Node),
	}
	for _, a := range def.Attributes {
		n.attrs[a.Name] = a
	}
	for i := range def.Operations {
		op := def.Operations[i]
		n.ops[op.Name] = &op
	}
	return n
}

// Pattern returns the address pattern of the node.
func (n *Node) Pattern() address.Address {
	var elems []address.Element
	for cur := n; cur.parent != nil; cur = cur.parent {
		elems = append(elems, cur.element)
	}
	for i, j := 0, len(elems)-1; i < j; i, j = i+1, j-1 {
		elems[i], elems[j] = elems[j], elems[i]
	}
	return address.New(elems...)
}

// Definition returns the resource definition.
func (n *Node) Definition() *ResourceDefinition { return n.def }

// IsAlias reports whether the node is an alias of another pattern.
func (n *Node) IsAlias() bool { return n.aliasTarget != nil }

// AliasTarget returns the canonical pattern of an alias node.
func (n *Node) AliasTarget() (address.Address, bool) {
	if n.aliasTarget == nil {
		return address.Address{}, false
	}
	return *n.aliasTarget, true
}

// Attribute returns an attribute definition.
func (n *Node) Attribute(name string) (*AttributeDefinition, bool) {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	a, ok := n.attrs[name]
	return a, ok
}

// Attributes returns the attribute definitions in declaration order.
func (n *Node) Attributes() []*AttributeDefinition {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	out := make([]*AttributeDefinition, len(n.def.Attributes))
	copy(out, n.def.Attributes)
	return out
}

// ChildTypes returns the registered child keys in lexical order.
func (n *Node) ChildTypes() []string {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	return n.childTypes()
}

func (n *Node) childTypes() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CanonicalChildTypes returns the child keys that have at least one
// registration that is not an alias, in lexical order.
func (n *Node) CanonicalChildTypes() []string {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	var out []string
	for _, key := range n.childTypes() {
		for _, c := range n.children[key] {
			if c.aliasTarget == nil {
				out = append(out, key)
				break
			}
		}
	}
	return out
}

// Child returns the child registered for element exactly as given.
func (n *Node) Child(e address.Element) (*Node, bool) {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	c, ok := n.children[e.Key][e.Value]
	return c, ok
}

// Operation returns the entry for name, including operations inherited
// from ancestors.
func (n *Node) Operation(name string) (*OperationEntry, bool) {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	return n.operation(name)
}

func (n *Node) operation(name string) (*OperationEntry, bool) {
	if op, ok := n.ops[name]; ok {
		return op, true
	}
	for cur := n.parent; cur != nil; cur = cur.parent {
		if op, ok := cur.ops[name]; ok && op.Inherited {
			return op, true
		}
	}
	return nil, false
}

// OperationNames returns the names of all operations available on the node,
// inherited ones included, in lexical order.
func (n *Node) OperationNames() []string {
	n.reg.mu.RLock()
	defer n.reg.mu.RUnlock()
	return n.operationNames()
}

func (n *Node) operationNames() []string {
	seen := make(map[string]struct{})
	for name := range n.ops {
		seen[name] = struct{}{}
	}
	for cur := n.parent; cur != nil; cur = cur.parent {
		for name, op := range cur.ops {
			if op.Inherited {
				seen[name] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
