package transformers

import (
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
)

// Registry holds the rule sets of every subsystem.
type Registry struct {
	mu   sync.RWMutex
	sets map[string][]*RuleSet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string][]*RuleSet)}
}

// Add validates and adds rule sets. A subsystem has at most one rule set per
// version.
func (r *Registry) Add(sets ...*RuleSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rs := range sets {
		if err := rs.Validate(); err != nil {
			return err
		}
		for _, have := range r.sets[rs.Subsystem] {
			if have.Version.Compare(rs.Version) == 0 {
				return errors.AlreadyExistsf("rules for subsystem %q at version %s", rs.Subsystem, rs.Version)
			}
		}
		r.sets[rs.Subsystem] = append(r.sets[rs.Subsystem], rs)
	}
	return nil
}

// Subsystems returns the subsystems with rules, in lexical order.
func (r *Registry) Subsystems() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sets))
	for k := range r.sets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Chain returns the rule sets that turn the current model of subsystem into
// the model of peer, newest first.
func (r *Registry) Chain(subsystem string, peer version.Number) []*RuleSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*RuleSet
	for _, rs := range r.sets[subsystem] {
		if rs.Version.Compare(peer) >= 0 {
			out = append(out, rs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version.Compare(out[j].Version) > 0
	})
	return out
}
