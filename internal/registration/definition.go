package registration

import (
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/controller"
)

// CapabilityDefinition declares a capability provided by a resource. The
// dynamic part of a dynamic capability is the value of the resource's last
// address element.
type CapabilityDefinition struct {
	Name    string
	Dynamic bool
}

// FullName returns the capability name for the resource at addr.
func (c CapabilityDefinition) FullName(addr address.Address) string {
	if !c.Dynamic || addr.IsRoot() {
		return c.Name
	}
	return capability.FullName(c.Name, addr.Last().Value)
}

// OperationEntry registers an operation handler on a node.
type OperationEntry struct {
	Name        string
	Description string
	Handler     controller.Handler
	ReadOnly    bool
	// Inherited operations apply to every descendant of the node that does
	// not register its own operation of the same name.
	Inherited bool
	// AllowWildcard lets the operation target wildcard addresses.
	AllowWildcard bool
}

func (e *OperationEntry) flags() controller.Flags {
	return controller.Flags{ReadOnly: e.ReadOnly, AllowWildcard: e.AllowWildcard}
}

// ResourceDefinition describes a resource type: its address element, its
// attributes, the capabilities it provides and requires, and its operations.
type ResourceDefinition struct {
	Element     address.Element
	Description string
	Attributes  []*AttributeDefinition
	// Capabilities provided by every resource of this type.
	Capabilities []CapabilityDefinition
	// Requirements are capabilities every resource of this type requires,
	// independent of attribute values.
	Requirements []string
	Operations   []OperationEntry
	// Runtime marks runtime-only resources, excluded from persistent
	// snapshots.
	Runtime bool
}
