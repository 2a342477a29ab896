package resource

import (
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
)

// Tree is the canonical model. Its root is replaced atomically on commit.
type Tree struct {
	root atomic.Pointer[Resource]
}

// NewTree creates a tree with an empty root resource.
func NewTree() *Tree {
	t := &Tree{}
	t.root.Store(New())
	return t
}

// Snapshot returns the current published root. It must not be modified.
func (t *Tree) Snapshot() *Resource {
	return t.root.Load()
}

// PersistentSnapshot returns a deep copy of the current root without any
// runtime-only resources.
func (t *Tree) PersistentSnapshot() *Resource {
	return t.Snapshot().withoutRuntime()
}

// Navigate resolves addr against the current root.
func (t *Tree) Navigate(addr address.Address) (*Resource, error) {
	return Navigate(t.Snapshot(), addr)
}

// Begin starts a transaction against the current root.
func (t *Tree) Begin() *Transaction {
	base := t.Snapshot()
	return &Transaction{
		tree:  t,
		base:  base,
		root:  base,
		owned: make(map[*Resource]struct{}),
	}
}

// Navigate walks addr from root one element at a time. It never creates
// resources; a missing element yields a NotFound error.
func Navigate(root *Resource, addr address.Address) (*Resource, error) {
	if addr.HasWildcard() {
		return nil, errors.NotValidf("wildcard address %s", addr)
	}
	cur := root
	for i := 0; i < addr.Len(); i++ {
		e := addr.Element(i)
		next, ok := cur.Child(e.Key, e.Value)
		if !ok {
			return nil, errors.NotFoundf("resource %s", addr)
		}
		cur = next
	}
	return cur, nil
}

// Transaction is a private copy-on-write view of a Tree.
type Transaction struct {
	tree     *Tree
	base     *Resource
	root     *Resource
	owned    map[*Resource]struct{}
	modified bool
	done     bool
}

// Root returns the transaction's current root.
func (tx *Transaction) Root() *Resource { return tx.root }

// Modified reports whether the transaction changed anything.
func (tx *Transaction) Modified() bool { return tx.modified }

// Read returns the resource at addr as seen by the transaction. The result
// must not be modified.
func (tx *Transaction) Read(addr address.Address) (*Resource, error) {
	return Navigate(tx.root, addr)
}

// ReadForUpdate returns a mutable copy of the resource at addr, installed in
// the transaction's view.
func (tx *Transaction) ReadForUpdate(addr address.Address) (*Resource, error) {
	if _, err := tx.Read(addr); err != nil {
		return nil, err
	}
	tx.modified = true
	return tx.own(addr), nil
}

// Create adds r at addr. The parent must exist and addr must be free.
func (tx *Transaction) Create(addr address.Address, r *Resource) error {
	if err := addr.Validate(); err != nil {
		return errors.NewNotValid(err, "cannot create resource")
	}
	if addr.IsRoot() {
		return errors.AlreadyExistsf("resource /")
	}
	parentAddr := addr.Parent()
	parent, err := tx.Read(parentAddr)
	if err != nil {
		return errors.Annotatef(err, "parent of %s", addr)
	}
	last := addr.Last()
	if _, ok := parent.Child(last.Key, last.Value); ok {
		return errors.AlreadyExistsf("resource %s", addr)
	}
	tx.modified = true
	p := tx.own(parentAddr)
	p.putChild(ChildKey{Type: last.Key, Name: last.Value}, r)
	tx.owned[r] = struct{}{}
	return nil
}

// Remove detaches and returns the resource at addr together with its subtree.
func (tx *Transaction) Remove(addr address.Address) (*Resource, error) {
	if addr.IsRoot() {
		return nil, errors.NotValidf("removal of the root resource")
	}
	if _, err := tx.Read(addr); err != nil {
		return nil, err
	}
	tx.modified = true
	p := tx.own(addr.Parent())
	last := addr.Last()
	removed, _ := p.removeChild(ChildKey{Type: last.Key, Name: last.Value})
	return removed, nil
}

// own makes every resource on the path to addr private to the transaction and
// returns the one at addr. The path must exist.
func (tx *Transaction) own(addr address.Address) *Resource {
	if _, ok := tx.owned[tx.root]; !ok {
		tx.root = tx.root.shallowClone()
		tx.owned[tx.root] = struct{}{}
	}
	cur := tx.root
	for i := 0; i < addr.Len(); i++ {
		e := addr.Element(i)
		key := ChildKey{Type: e.Key, Name: e.Value}
		child := cur.children[key]
		if _, ok := tx.owned[child]; !ok {
			child = child.shallowClone()
			cur.children[key] = child
			tx.owned[child] = struct{}{}
		}
		cur = child
	}
	return cur
}

// Commit publishes the transaction's root. It fails when the tree changed
// since Begin, leaving the tree untouched.
func (tx *Transaction) Commit() error {
	if tx.done {
		return errors.Errorf("transaction already finished")
	}
	tx.done = true
	if !tx.modified {
		return nil
	}
	if !tx.tree.root.CompareAndSwap(tx.base, tx.root) {
		return errors.Errorf("concurrent modification of the resource tree")
	}
	return nil
}

// Discard abandons the transaction's changes.
func (tx *Transaction) Discard() {
	tx.done = true
	tx.root = tx.base
	tx.owned = nil
}
