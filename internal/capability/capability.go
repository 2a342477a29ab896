// Package capability maps abstract capability names to the providers that
// implement them and checks that every requirement resolves.
//
// A resource registers a capability when it is added and requires the
// capabilities named by its reference attributes. Registrations and
// requirements made by a batch are collected in a Changes set and applied in
// one pass after the batch's MODEL stage, so the order in which the batch
// declared them does not matter.
//
// Scope: a provider whose address starts with host= or profile= is visible
// only to requesters under the same first element; every other provider is
// global and visible to all requesters. Providers in the requester's own
// scope take precedence over global ones.
package capability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/service"
)

// FullName joins a capability's base name and dynamic part.
func FullName(name, dynamic string) string {
	if dynamic == "" {
		return name
	}
	return name + "." + dynamic
}

// ServiceName returns the id of the service backing a capability.
func ServiceName(name, dynamic string) service.ID {
	return service.ID(FullName(name, dynamic))
}

// scopedKeys are the first-element keys that open a private scope.
var scopedKeys = map[string]bool{"host": true, "profile": true}

// Scope returns the scope of addr: its first element for host and profile
// subtrees, otherwise "" for the global scope.
func Scope(addr address.Address) string {
	if addr.Len() == 0 {
		return ""
	}
	first := addr.Element(0)
	if scopedKeys[first.Key] {
		return first.String()
	}
	return ""
}

// Registration is a capability provided by a resource.
type Registration struct {
	Name     string // full name
	Provider address.Address
}

// Requirement is a capability required by a resource.
type Requirement struct {
	Name      string
	Dynamic   string
	Requester address.Address
	// Attribute optionally names the attribute holding the reference.
	Attribute string
}

// FullName returns the full name of the required capability.
func (r Requirement) FullName() string { return FullName(r.Name, r.Dynamic) }

// Problem describes one capability that did not resolve. A requirement with
// no visible provider has no Candidates; a capability provided twice in one
// scope lists both providers and names the later one as Requester.
type Problem struct {
	Capability string
	Requester  address.Address
	Attribute  string
	Candidates []address.Address
}

// Ambiguous reports whether the problem is a duplicate registration.
func (p Problem) Ambiguous() bool { return len(p.Candidates) > 1 }

// String renders the problem naming the capability and the requester.
func (p Problem) String() string {
	var sb strings.Builder
	if !p.Ambiguous() {
		fmt.Fprintf(&sb, "capability %q required by %s is not registered", p.Capability, p.Requester)
	} else {
		providers := make([]string, len(p.Candidates))
		for i, c := range p.Candidates {
			providers[i] = c.String()
		}
		sort.Strings(providers)
		fmt.Fprintf(&sb, "capability %q is ambiguous: provided by %s",
			p.Capability, strings.Join(providers, ", "))
	}
	if p.Attribute != "" {
		fmt.Fprintf(&sb, " (attribute %q)", p.Attribute)
	}
	return sb.String()
}

// ResolutionError lists every problem found by a resolution pass.
type ResolutionError struct {
	Problems []Problem
}

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.String()
	}
	return strings.Join(msgs, "; ")
}
