// Package alias lets a resource be addressed under a second, alias address.
//
// An alias registration stands for a canonical pattern. Every operation
// addressed at or below the alias is rewritten to the canonical address and
// delegated within the same batch and stage, so it shares the batch's
// atomicity and rollback.
//
// Rewriting keeps the prefix the alias and canonical patterns have in common,
// replaces the rest of the alias pattern with the canonical suffix, filling
// canonical wildcards from the values of the original address, and appends
// any elements the original address has below the alias.
package alias

import (
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/registration"
)

// Handler rewrites operations from an alias pattern to its canonical pattern.
type Handler struct {
	pattern address.Address
	target  address.Address
}

// NewHandler creates the handler for the alias pattern of target.
func NewHandler(pattern, target address.Address) *Handler {
	return &Handler{pattern: pattern, target: target}
}

// Register registers elem under parent as an alias of target.
func Register(reg *registration.Registry, parent address.Address, elem address.Element, target address.Address) (*registration.Node, error) {
	return reg.RegisterAlias(parent, elem, target, NewHandler(parent.Append(elem), target))
}

// Rewrite returns the canonical address of addr, which must match the alias
// pattern in its leading elements.
func (h *Handler) Rewrite(addr address.Address) (address.Address, error) {
	n := h.pattern.Len()
	if addr.Len() < n || !addr.SubAddress(0, n).Matches(h.pattern) {
		return address.Address{}, failure.Newf(failure.Validation, "", addr.String(), "address does not match alias %s", h.pattern)
	}
	prefix := address.CommonPrefixLen(h.pattern, h.target)

	elems := make([]address.Element, 0, h.target.Len()+addr.Len()-n)
	elems = append(elems, addr.SubAddress(0, prefix).Elements()...)
	for i := prefix; i < h.target.Len(); i++ {
		e := h.target.Element(i)
		if e.IsWildcard() {
			if i >= n {
				return address.Address{}, failure.Newf(failure.Validation, "", addr.String(), "no value for %s of alias target %s", e, h.target)
			}
			e = address.NewElement(e.Key, addr.Element(i).Value)
		}
		elems = append(elems, e)
	}
	elems = append(elems, addr.SubAddress(n, addr.Len()).Elements()...)
	return address.New(elems...), nil
}

// Execute implements controller.Handler.
func (h *Handler) Execute(ctx *controller.Context, op controller.Operation) error {
	rewritten, err := h.Rewrite(op.Address)
	if err != nil {
		return err
	}
	if rewritten.Equal(op.Address) {
		return failure.Newf(failure.AliasCycle, op.Name, op.Address.String(), "alias %s rewrites the address to itself", h.pattern)
	}
	ctx.Logger().Debug("Rewriting alias address.", "from", op.Address.String(), "to", rewritten.String())
	return ctx.Delegate(op.WithAddress(rewritten))
}
