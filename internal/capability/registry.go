package capability

import (
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
)

// Changes collects the capability registrations and requirements made by one
// batch. The zero value is ready to use.
type Changes struct {
	registers   []Registration
	deregisters []Registration
	requires    []Requirement
	releases    []Requirement
}

// Register records that provider provides the capability fullName.
func (c *Changes) Register(fullName string, provider address.Address) {
	c.registers = append(c.registers, Registration{Name: fullName, Provider: provider})
}

// Deregister records that provider no longer provides fullName. A
// registration recorded earlier in the same batch is cancelled instead.
func (c *Changes) Deregister(fullName string, provider address.Address) {
	for i := len(c.registers) - 1; i >= 0; i-- {
		if r := c.registers[i]; r.Name == fullName && r.Provider.Equal(provider) {
			c.registers = append(c.registers[:i], c.registers[i+1:]...)
			return
		}
	}
	c.deregisters = append(c.deregisters, Registration{Name: fullName, Provider: provider})
}

// Require records a requirement.
func (c *Changes) Require(r Requirement) {
	c.requires = append(c.requires, r)
}

// Release drops a requirement previously recorded with Require. A
// requirement recorded earlier in the same batch is cancelled instead.
func (c *Changes) Release(r Requirement) {
	for i := len(c.requires) - 1; i >= 0; i-- {
		if q := c.requires[i]; q.FullName() == r.FullName() && q.Attribute == r.Attribute && q.Requester.Equal(r.Requester) {
			c.requires = append(c.requires[:i], c.requires[i+1:]...)
			return
		}
	}
	c.releases = append(c.releases, r)
}

// Empty reports whether no change was recorded.
func (c *Changes) Empty() bool {
	return len(c.registers)+len(c.deregisters)+len(c.requires)+len(c.releases) == 0
}

type requirementKey struct {
	name      string
	requester string
	attribute string
}

type requirementEntry struct {
	req   Requirement
	count int
}

type state struct {
	// full name -> scope -> provider
	providers    map[string]map[string]address.Address
	requirements map[requirementKey]requirementEntry
}

func (s *state) clone() *state {
	c := &state{
		providers:    make(map[string]map[string]address.Address, len(s.providers)),
		requirements: make(map[requirementKey]requirementEntry, len(s.requirements)),
	}
	for name, scopes := range s.providers {
		m := make(map[string]address.Address, len(scopes))
		for k, v := range scopes {
			m[k] = v
		}
		c.providers[name] = m
	}
	for k, v := range s.requirements {
		c.requirements[k] = v
	}
	return c
}

func (s *state) resolve(fullName string, requester address.Address) (address.Address, bool) {
	scopes := s.providers[fullName]
	if p, ok := scopes[Scope(requester)]; ok {
		return p, true
	}
	p, ok := scopes[""]
	return p, ok
}

// Registry is the process-scoped capability registry. It is mutated only by
// Apply, which the controller calls from the batch holding the write lock.
type Registry struct {
	mu sync.RWMutex
	st *state
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{st: &state{
		providers:    make(map[string]map[string]address.Address),
		requirements: make(map[requirementKey]requirementEntry),
	}}
}

func (r *Registry) current() *state {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.st
}

// Apply runs the resolution pass for c. Deregistrations and releases are
// applied first, then registrations and requirements. Every requirement known
// to the registry, old or new, must then resolve to exactly one provider.
// On success the new state is published and the returned undo function
// restores the previous one; on failure the registry is unchanged and the
// error is a *ResolutionError.
func (r *Registry) Apply(c *Changes) (undo func(), err error) {
	old := r.current()
	if c == nil || c.Empty() {
		return func() {}, nil
	}
	next := old.clone()
	var problems []Problem

	for _, d := range c.deregisters {
		scopes := next.providers[d.Name]
		scope := Scope(d.Provider)
		if p, ok := scopes[scope]; ok && p.Equal(d.Provider) {
			delete(scopes, scope)
			if len(scopes) == 0 {
				delete(next.providers, d.Name)
			}
		}
	}
	for _, rel := range c.releases {
		key := requirementKey{name: rel.FullName(), requester: rel.Requester.Key(), attribute: rel.Attribute}
		if e, ok := next.requirements[key]; ok {
			e.count--
			if e.count <= 0 {
				delete(next.requirements, key)
			} else {
				next.requirements[key] = e
			}
		}
	}
	for _, reg := range c.registers {
		scopes, ok := next.providers[reg.Name]
		if !ok {
			scopes = make(map[string]address.Address)
			next.providers[reg.Name] = scopes
		}
		scope := Scope(reg.Provider)
		if existing, ok := scopes[scope]; ok {
			if !existing.Equal(reg.Provider) {
				problems = append(problems, Problem{
					Capability: reg.Name,
					Requester:  reg.Provider,
					Candidates: []address.Address{existing, reg.Provider},
				})
			}
			continue
		}
		scopes[scope] = reg.Provider
	}
	for _, req := range c.requires {
		key := requirementKey{name: req.FullName(), requester: req.Requester.Key(), attribute: req.Attribute}
		e := next.requirements[key]
		e.req = req
		e.count++
		next.requirements[key] = e
	}

	for _, e := range next.requirements {
		if _, ok := next.resolve(e.req.FullName(), e.req.Requester); !ok {
			problems = append(problems, Problem{
				Capability: e.req.FullName(),
				Requester:  e.req.Requester,
				Attribute:  e.req.Attribute,
			})
		}
	}
	if len(problems) > 0 {
		sort.Slice(problems, func(i, j int) bool {
			a, b := problems[i], problems[j]
			if a.Requester.String() != b.Requester.String() {
				return a.Requester.String() < b.Requester.String()
			}
			if a.Capability != b.Capability {
				return a.Capability < b.Capability
			}
			return a.Attribute < b.Attribute
		})
		return nil, &ResolutionError{Problems: problems}
	}

	r.mu.Lock()
	r.st = next
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.st = old
		r.mu.Unlock()
	}, nil
}

// Resolve returns the provider visible to requester for the capability.
func (r *Registry) Resolve(name, dynamic string, requester address.Address) (Registration, error) {
	full := FullName(name, dynamic)
	p, ok := r.current().resolve(full, requester)
	if !ok {
		return Registration{}, errors.NotFoundf("capability %q visible to %s", full, requester)
	}
	return Registration{Name: full, Provider: p}, nil
}

// IsRegistered reports whether fullName is provided in any scope.
func (r *Registry) IsRegistered(fullName string) bool {
	return len(r.current().providers[fullName]) > 0
}

// Registrations returns every registration ordered by name and provider.
func (r *Registry) Registrations() []Registration {
	st := r.current()
	var out []Registration
	for name, scopes := range st.providers {
		for _, p := range scopes {
			out = append(out, Registration{Name: name, Provider: p})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Provider.String() < out[j].Provider.String()
	})
	return out
}

// Dependents returns the requirements on fullName, ordered by requester.
func (r *Registry) Dependents(fullName string) []Requirement {
	st := r.current()
	var out []Requirement
	for k, e := range st.requirements {
		if k.name == fullName {
			out = append(out, e.req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Requester.String() < out[j].Requester.String()
	})
	return out
}
