package registration

import (
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	gocache "github.com/patrickmn/go-cache"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
)

const (
	lookupTTL     = 5 * time.Minute
	lookupCleanup = 10 * time.Minute
)

type resolved struct {
	handler controller.Handler
	flags   controller.Flags
}

// Registry is the registration tree. It is built at extension
// initialization and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	root       *Node
	cache      *gocache.Cache
	extensions map[string]*extensionRecord
}

// New creates a registry with an empty root registration.
func New() *Registry {
	r := &Registry{
		cache:      gocache.New(lookupTTL, lookupCleanup),
		extensions: make(map[string]*extensionRecord),
	}
	r.root = newNode(r, nil, &ResourceDefinition{Description: "The root resource."})
	return r
}

var _ controller.Dispatcher = (*Registry)(nil)

// Root returns the root registration.
func (r *Registry) Root() *Node { return r.root }

// nodeAt walks pattern exactly, wildcard elements included. The caller holds
// the lock.
func (r *Registry) nodeAt(pattern address.Address) (*Node, error) {
	cur := r.root
	for i := 0; i < pattern.Len(); i++ {
		e := pattern.Element(i)
		next, ok := cur.children[e.Key][e.Value]
		if !ok {
			return nil, errors.NotFoundf("registration %s", pattern)
		}
		cur = next
	}
	return cur, nil
}

// NodeAt returns the registration of an exact pattern.
func (r *Registry) NodeAt(pattern address.Address) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodeAt(pattern)
}

// Register adds def as a child of the registration at parent.
func (r *Registry) Register(parent address.Address, def *ResourceDefinition) (*Node, error) {
	if def == nil || def.Element.Key == "" || def.Element.Value == "" {
		return nil, errors.NotValidf("resource definition without element")
	}
	seen := make(map[string]struct{}, len(def.Attributes))
	for _, a := range def.Attributes {
		if _, dup := seen[a.Name]; dup {
			return nil, errors.NotValidf("duplicate attribute %q in %s", a.Name, def.Element)
		}
		seen[a.Name] = struct{}{}
		if a.HasDefault() {
			if _, err := a.Coerce(a.Default); err != nil {
				return nil, errors.Annotatef(err, "default of %s", def.Element)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.nodeAt(parent)
	if err != nil {
		return nil, err
	}
	if _, ok := p.children[def.Element.Key][def.Element.Value]; ok {
		return nil, errors.AlreadyExistsf("registration %s", parent.Append(def.Element))
	}
	n := newNode(r, p, def)
	if p.children[def.Element.Key] == nil {
		p.children[def.Element.Key] = make(map[string]*Node)
	}
	p.children[def.Element.Key][def.Element.Value] = n
	r.cache.Flush()
	return n, nil
}

// RegisterAlias registers elem under parent as an alias of target. Every
// operation addressed at or below the alias is dispatched to h, with the
// flags of the same operation on target.
func (r *Registry) RegisterAlias(parent address.Address, elem address.Element, target address.Address, h controller.Handler) (*Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.nodeAt(target)
	if err != nil {
		return nil, errors.Annotatef(err, "alias target")
	}
	if t.aliasTarget != nil {
		return nil, errors.NotValidf("alias of alias %s", target)
	}
	p, err := r.nodeAt(parent)
	if err != nil {
		return nil, err
	}
	if _, ok := p.children[elem.Key][elem.Value]; ok {
		return nil, errors.AlreadyExistsf("registration %s", parent.Append(elem))
	}
	def := *t.def
	def.Element = elem
	def.Description = fmt.Sprintf("Alias of %s. %s", target, t.def.Description)
	n := newNode(r, p, &def)
	tgt := target
	n.aliasTarget = &tgt
	n.aliasHandler = h
	if p.children[elem.Key] == nil {
		p.children[elem.Key] = make(map[string]*Node)
	}
	p.children[elem.Key][elem.Value] = n
	r.cache.Flush()
	return n, nil
}

// RegisterOperation adds or replaces an operation on the registration at
// pattern.
func (r *Registry) RegisterOperation(pattern address.Address, entry OperationEntry) error {
	if entry.Name == "" || entry.Handler == nil {
		return errors.NotValidf("operation entry without name or handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.nodeAt(pattern)
	if err != nil {
		return err
	}
	n.ops[entry.Name] = &entry
	r.cache.Flush()
	return nil
}

// RegisterGlobal registers an operation on the root that every resource
// inherits.
func (r *Registry) RegisterGlobal(entry OperationEntry) error {
	entry.Inherited = true
	return r.RegisterOperation(address.Root(), entry)
}

// Unregister removes the registration at pattern and everything below it.
func (r *Registry) Unregister(pattern address.Address) error {
	if pattern.IsRoot() {
		return errors.NotValidf("unregistering the root")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n, err := r.nodeAt(pattern)
	if err != nil {
		return err
	}
	siblings := n.parent.children[n.element.Key]
	delete(siblings, n.element.Value)
	if len(siblings) == 0 {
		delete(n.parent.children, n.element.Key)
	}
	r.cache.Flush()
	return nil
}

// match finds the registration for addr, preferring an exact child over a
// wildcard one at every element and backtracking when the exact branch does
// not lead to a registration. via is the alias crossed on the way, if any.
func (r *Registry) match(cur, via *Node, addr address.Address, i int) (*Node, *Node) {
	if cur.aliasTarget != nil && via == nil {
		via = cur
		t, err := r.nodeAt(*cur.aliasTarget)
		if err != nil {
			return nil, nil
		}
		cur = t
	}
	if i == addr.Len() {
		return cur, via
	}
	e := addr.Element(i)
	kids := cur.children[e.Key]
	if n, ok := kids[e.Value]; ok {
		if found, v := r.match(n, via, addr, i+1); found != nil {
			return found, v
		}
	}
	if e.IsWildcard() {
		return nil, nil
	}
	if n, ok := kids[address.Wildcard]; ok {
		return r.match(n, via, addr, i+1)
	}
	return nil, nil
}

// Find returns the registration matching addr. For addresses at or below an
// alias it returns the canonical registration.
func (r *Registry) Find(addr address.Address) (*Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, _ := r.match(r.root, nil, addr, 0)
	if n == nil {
		return nil, errors.NotFoundf("registration for %s", addr)
	}
	return n, nil
}

// Rewriter is implemented by alias handlers that map an address at or below
// the alias to its canonical address.
type Rewriter interface {
	Rewrite(addr address.Address) (address.Address, error)
}

// Canonical returns the canonical address of addr. An address that crosses
// no alias is returned unchanged.
func (r *Registry) Canonical(addr address.Address) (address.Address, error) {
	r.mu.RLock()
	n, via := r.match(r.root, nil, addr, 0)
	var alias address.Address
	if via != nil {
		alias = via.Pattern()
	}
	r.mu.RUnlock()
	if n == nil {
		return address.Address{}, errors.NotFoundf("registration for %s", addr)
	}
	if via == nil {
		return addr, nil
	}
	rw, ok := via.aliasHandler.(Rewriter)
	if !ok {
		return address.Address{}, errors.NotSupportedf("address rewriting by alias %s", alias)
	}
	return rw.Rewrite(addr)
}

// Resolve implements controller.Dispatcher.
func (r *Registry) Resolve(addr address.Address, name string) (controller.Handler, controller.Flags, error) {
	key := addr.Key() + "\x00" + name
	if v, ok := r.cache.Get(key); ok {
		res := v.(resolved)
		return res.handler, res.flags, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	n, via := r.match(r.root, nil, addr, 0)
	if n == nil {
		return nil, controller.Flags{}, failure.Newf(failure.OperationNotFound, name, addr.String(), "no resource type is registered at this address")
	}
	entry, ok := n.operation(name)
	if !ok {
		return nil, controller.Flags{}, failure.Newf(failure.OperationNotFound, name, addr.String(), "no operation %q is registered", name)
	}

	res := resolved{handler: entry.Handler, flags: entry.flags()}
	if via != nil {
		res.handler = via.aliasHandler
	}
	// Registration changes flush the cache under the write lock, so an entry
	// stored while holding the read lock is never stale.
	r.cache.SetDefault(key, res)
	return res.handler, res.flags, nil
}
