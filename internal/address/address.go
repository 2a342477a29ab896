package address

import (
	"fmt"
	"strings"
)

// Len returns the number of elements.
func (a Address) Len() int {
	return len(a.elems)
}

// IsRoot returns true for the empty address.
func (a Address) IsRoot() bool {
	return len(a.elems) == 0
}

// Element returns the element at index i.
func (a Address) Element(i int) Element {
	return a.elems[i]
}

// Elements returns a copy of the address elements.
func (a Address) Elements() []Element {
	cp := make([]Element, len(a.elems))
	copy(cp, a.elems)
	return cp
}

// Last returns the final element. It panics on the root address.
func (a Address) Last() Element {
	return a.elems[len(a.elems)-1]
}

// Parent returns the address without its final element. The parent of the
// root is the root.
func (a Address) Parent() Address {
	if len(a.elems) == 0 {
		return a
	}
	return a.SubAddress(0, len(a.elems)-1)
}

// Append returns a new address with elems added to the end. The receiver is
// never modified.
func (a Address) Append(elems ...Element) Address {
	out := make([]Element, 0, len(a.elems)+len(elems))
	out = append(out, a.elems...)
	out = append(out, elems...)
	return Address{elems: out}
}

// SubAddress returns the elements in [start, end). It panics when the range
// is out of bounds, like slicing.
func (a Address) SubAddress(start, end int) Address {
	return New(a.elems[start:end]...)
}

// Equal checks for structural equality.
func (a Address) Equal(other Address) bool {
	if len(a.elems) != len(other.elems) {
		return false
	}
	for i := range a.elems {
		if a.elems[i] != other.elems[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading subsequence of a.
func (a Address) HasPrefix(prefix Address) bool {
	if len(prefix.elems) > len(a.elems) {
		return false
	}
	for i := range prefix.elems {
		if a.elems[i] != prefix.elems[i] {
			return false
		}
	}
	return true
}

// CommonPrefixLen returns the number of leading elements a and b share.
func CommonPrefixLen(a, b Address) int {
	n := 0
	for n < len(a.elems) && n < len(b.elems) && a.elems[n] == b.elems[n] {
		n++
	}
	return n
}

// HasWildcard returns true if any element is a wildcard.
func (a Address) HasWildcard() bool {
	for _, e := range a.elems {
		if e.IsWildcard() {
			return true
		}
	}
	return false
}

// Matches reports whether the concrete address a matches pattern, element by
// element, with wildcard values in pattern matching any value.
func (a Address) Matches(pattern Address) bool {
	if len(a.elems) != len(pattern.elems) {
		return false
	}
	for i, p := range pattern.elems {
		if !p.Matches(a.elems[i]) {
			return false
		}
	}
	return true
}

// Validate checks that a is usable as a concrete tree address.
func (a Address) Validate() error {
	for i, e := range a.elems {
		if err := validateElement(e); err != nil {
			return fmt.Errorf("address %s: element %d: %w", a, i, err)
		}
		if e.IsWildcard() {
			return fmt.Errorf("address %s: wildcard element %q is not allowed in a concrete address", a, e)
		}
	}
	return nil
}

// Key returns a string that is unique per structural address value, for use
// as a map key.
func (a Address) Key() string {
	return a.String()
}

// String serializes the address into its canonical path form.
func (a Address) String() string {
	if len(a.elems) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, e := range a.elems {
		sb.WriteByte('/')
		sb.WriteString(e.Key)
		sb.WriteByte('=')
		sb.WriteString(e.Value)
	}
	return sb.String()
}
