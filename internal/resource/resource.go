// Package resource holds the management model: a tree of resources, each with
// an attribute map and ordered children keyed by (type, name).
//
// A Tree publishes an immutable root. Writers work on a Transaction, which
// copies only the path from the root to each resource it modifies; untouched
// subtrees stay shared with the published root. Readers load the root once and
// see a consistent model for as long as they hold it.
package resource

import (
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// ChildKey identifies a child within its parent.
type ChildKey struct {
	Type string
	Name string
}

// Resource is a node of the management model.
//
// A Resource reachable from a published root must not be modified. Mutable
// copies are obtained through Transaction.ReadForUpdate or by calling New.
type Resource struct {
	attrs    map[string]cty.Value
	order    []ChildKey
	children map[ChildKey]*Resource
	runtime  bool
}

// New creates an empty resource.
func New() *Resource {
	return &Resource{
		attrs:    make(map[string]cty.Value),
		children: make(map[ChildKey]*Resource),
	}
}

// NewRuntime creates an empty runtime-only resource.
func NewRuntime() *Resource {
	r := New()
	r.runtime = true
	return r
}

// WithAttributes creates a resource holding a copy of attrs.
func WithAttributes(attrs map[string]cty.Value) *Resource {
	r := New()
	for k, v := range attrs {
		r.attrs[k] = v
	}
	return r
}

// Runtime reports whether r is a runtime-only resource.
func (r *Resource) Runtime() bool { return r.runtime }

// Attribute returns the value of a defined attribute.
func (r *Resource) Attribute(name string) (cty.Value, bool) {
	v, ok := r.attrs[name]
	return v, ok
}

// Attributes returns a copy of the attribute map.
func (r *Resource) Attributes() map[string]cty.Value {
	out := make(map[string]cty.Value, len(r.attrs))
	for k, v := range r.attrs {
		out[k] = v
	}
	return out
}

// AttributeNames returns the defined attribute names in lexical order.
func (r *Resource) AttributeNames() []string {
	names := make([]string, 0, len(r.attrs))
	for k := range r.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// SetAttribute defines or replaces an attribute. A null value undefines it.
func (r *Resource) SetAttribute(name string, v cty.Value) {
	if v == cty.NilVal || v.IsNull() {
		delete(r.attrs, name)
		return
	}
	r.attrs[name] = v
}

// UndefineAttribute removes an attribute and reports whether it was defined.
func (r *Resource) UndefineAttribute(name string) bool {
	_, ok := r.attrs[name]
	delete(r.attrs, name)
	return ok
}

// Child returns the child with the given key.
func (r *Resource) Child(childType, name string) (*Resource, bool) {
	c, ok := r.children[ChildKey{Type: childType, Name: name}]
	return c, ok
}

// HasChildren reports whether r has any child.
func (r *Resource) HasChildren() bool { return len(r.order) > 0 }

// Children returns the child keys in insertion order.
func (r *Resource) Children() []ChildKey {
	out := make([]ChildKey, len(r.order))
	copy(out, r.order)
	return out
}

// ChildTypes returns the distinct child types in order of first insertion.
func (r *Resource) ChildTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range r.order {
		if _, ok := seen[k.Type]; ok {
			continue
		}
		seen[k.Type] = struct{}{}
		out = append(out, k.Type)
	}
	return out
}

// ChildNames returns the names of the children of one type in insertion order.
func (r *Resource) ChildNames(childType string) []string {
	var out []string
	for _, k := range r.order {
		if k.Type == childType {
			out = append(out, k.Name)
		}
	}
	return out
}

func (r *Resource) putChild(key ChildKey, child *Resource) {
	if _, ok := r.children[key]; !ok {
		r.order = append(r.order, key)
	}
	r.children[key] = child
}

func (r *Resource) removeChild(key ChildKey) (*Resource, bool) {
	c, ok := r.children[key]
	if !ok {
		return nil, false
	}
	delete(r.children, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return c, true
}

// shallowClone copies r's own state; children are shared.
func (r *Resource) shallowClone() *Resource {
	c := &Resource{
		attrs:    make(map[string]cty.Value, len(r.attrs)),
		order:    make([]ChildKey, len(r.order)),
		children: make(map[ChildKey]*Resource, len(r.children)),
		runtime:  r.runtime,
	}
	for k, v := range r.attrs {
		c.attrs[k] = v
	}
	copy(c.order, r.order)
	for k, v := range r.children {
		c.children[k] = v
	}
	return c
}

// Clone returns a deep copy of r.
func (r *Resource) Clone() *Resource {
	c := r.shallowClone()
	for k, v := range c.children {
		c.children[k] = v.Clone()
	}
	return c
}

// withoutRuntime returns a deep copy of r that omits runtime-only descendants.
func (r *Resource) withoutRuntime() *Resource {
	c := r.shallowClone()
	for _, k := range r.order {
		child := r.children[k]
		if child.runtime {
			c.removeChild(k)
			continue
		}
		c.children[k] = child.withoutRuntime()
	}
	return c
}

// Equal reports whether r and other hold the same attributes and the same
// children, recursively. Child order is not significant.
func (r *Resource) Equal(other *Resource) bool {
	if r == other {
		return true
	}
	if r == nil || other == nil {
		return false
	}
	if r.runtime != other.runtime || len(r.attrs) != len(other.attrs) || len(r.children) != len(other.children) {
		return false
	}
	for k, v := range r.attrs {
		ov, ok := other.attrs[k]
		if !ok || !v.RawEquals(ov) {
			return false
		}
	}
	for k, c := range r.children {
		oc, ok := other.children[k]
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	return true
}
