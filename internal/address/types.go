package address

import "strings"

// Wildcard is the element value that matches any concrete value of the same key.
const Wildcard = "*"

// Element is a single key=value component of an address.
type Element struct {
	Key   string
	Value string
}

// NewElement creates a new element.
func NewElement(key, value string) Element {
	return Element{Key: key, Value: value}
}

// WildcardElement creates an element matching every value of key.
func WildcardElement(key string) Element {
	return Element{Key: key, Value: Wildcard}
}

// IsWildcard returns true if the element value is the wildcard.
func (e Element) IsWildcard() bool {
	return e.Value == Wildcard
}

// Matches reports whether a concrete element matches this (possibly wildcard) element.
func (e Element) Matches(concrete Element) bool {
	if e.Key != concrete.Key {
		return false
	}
	return e.IsWildcard() || e.Value == concrete.Value
}

// String returns the element in key=value form.
func (e Element) String() string {
	var sb strings.Builder
	sb.Grow(len(e.Key) + len(e.Value) + 1)
	sb.WriteString(e.Key)
	sb.WriteByte('=')
	sb.WriteString(e.Value)
	return sb.String()
}

// Address is an ordered, immutable sequence of elements identifying a node
// in the resource tree. The zero value is the root address.
type Address struct {
	elems []Element
}

// Root returns the empty address.
func Root() Address {
	return Address{}
}

// New creates an address from the given elements. The slice is copied.
func New(elems ...Element) Address {
	if len(elems) == 0 {
		return Address{}
	}
	cp := make([]Element, len(elems))
	copy(cp, elems)
	return Address{elems: cp}
}

// Pairs creates an address from alternating keys and values.
// It panics if given an odd number of arguments.
func Pairs(kv ...string) Address {
	if len(kv)%2 != 0 {
		panic("address: Pairs requires an even number of arguments")
	}
	elems := make([]Element, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		elems = append(elems, Element{Key: kv[i], Value: kv[i+1]})
	}
	return Address{elems: elems}
}
