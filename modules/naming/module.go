// Package naming contributes the naming subsystem: a directory of named
// string values, resolved from expressions when installed, that other code
// looks up at runtime.
package naming

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/zclconf/go-cty/cty"
)

const (
	// Name is the subsystem name.
	Name = "naming"
	// EntryCapability is provided by every entry; its dynamic part is the
	// entry name.
	EntryCapability = "org.mgmtcore.naming.entry"
	// LookupOperation returns the running value of an entry.
	LookupOperation = "lookup"
)

// ModelVersion is the version of the subsystem's management model.
var ModelVersion = version.MustParse("1.0.0")

// Address is the address of the subsystem.
var Address = address.Pairs("subsystem", Name)

// EntryAddress returns the address of the named entry.
func EntryAddress(name string) address.Address {
	return Address.Append(address.NewElement("entry", name))
}

// ServiceID returns the service id of the named entry.
func ServiceID(name string) service.ID {
	return capability.ServiceName(EntryCapability, name)
}

// Entry is a running naming entry.
type Entry struct {
	value atomic.Pointer[string]
}

func newEntry(v string) *Entry {
	e := &Entry{}
	e.value.Store(&v)
	return e
}

// Get returns the entry's value.
func (e *Entry) Get() string { return *e.value.Load() }

func (e *Entry) set(v string) { e.value.Store(&v) }

// Start implements service.Service.
func (e *Entry) Start(context.Context) error { return nil }

// Stop implements service.Service.
func (e *Entry) Stop(context.Context) error { return nil }

// Value implements service.Valuer.
func (e *Entry) Value() any { return e.Get() }

// Lookup returns the running entry with the given name.
func Lookup(target service.Target, name string) (*Entry, bool) {
	svc, ok := target.Lookup(ServiceID(name))
	if !ok {
		return nil, false
	}
	e, ok := svc.(*Entry)
	return e, ok
}

var valueAttribute = &registration.AttributeDefinition{
	Name:            "value",
	Type:            cty.String,
	Description:     "The bound value; may reference system properties.",
	Required:        true,
	AllowExpression: true,
}

// Module is the naming extension.
type Module struct {
	ops *operations.Handlers
}

// New creates the extension. Its resources get the generic handlers of ops.
func New(ops *operations.Handlers) *Module {
	return &Module{ops: ops}
}

// Name implements registration.Extension.
func (m *Module) Name() string { return Name }

// Initialize implements registration.Extension.
func (m *Module) Initialize(ec *registration.ExtensionContext) error {
	if _, err := m.ops.RegisterSubsystem(ec, &registration.ResourceDefinition{
		Element:     address.NewElement("subsystem", Name),
		Description: "Named values.",
		Operations: []registration.OperationEntry{{
			Name:        LookupOperation,
			Description: "Returns the running value of an entry.",
			Handler:     controller.HandlerFunc(lookup),
			ReadOnly:    true,
		}},
	}, nil); err != nil {
		return err
	}
	_, err := m.ops.Register(Address, &registration.ResourceDefinition{
		Element:      address.WildcardElement("entry"),
		Description:  "A named value.",
		Attributes:   []*registration.AttributeDefinition{valueAttribute},
		Capabilities: []registration.CapabilityDefinition{{Name: EntryCapability, Dynamic: true}},
	}, entryRuntime{})
	return err
}

func lookup(ctx *controller.Context, op controller.Operation) error {
	v, ok := op.Param(operations.ParamName)
	if !ok || v.IsNull() || !v.Type().Equals(cty.String) {
		return failure.Newf(failure.Validation, op.Name, op.Address.String(), "parameter %q must be a string", operations.ParamName)
	}
	name := v.AsString()
	return ctx.AddStepFunc(controller.Runtime, func(ctx *controller.Context, op controller.Operation) error {
		target, err := ctx.ServiceTarget()
		if err != nil {
			return err
		}
		e, ok := Lookup(target, name)
		if !ok {
			return failure.Newf(failure.Validation, op.Name, op.Address.String(), "no running entry %q", name)
		}
		ctx.SetResult(cty.StringVal(e.Get()))
		return nil
	})
}

// entryRuntime runs one Entry per entry resource.
type entryRuntime struct{}

var _ operations.AttributeApplier = entryRuntime{}

// Install implements operations.RuntimeHandler.
func (entryRuntime) Install(ctx *controller.Context, addr address.Address, model *resource.Resource) error {
	raw, _ := model.Attribute(valueAttribute.Name)
	v, err := operations.ResolveAttribute(ctx, valueAttribute, raw)
	if err != nil {
		return err
	}
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	_, err = target.Install(ctx.Context(), ServiceID(addr.Last().Value), newEntry(v.AsString()))
	return err
}

// Uninstall implements operations.RuntimeHandler.
func (entryRuntime) Uninstall(ctx *controller.Context, addr address.Address, _ *resource.Resource) error {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	return target.Remove(ctx.Context(), &service.Handle{ID: ServiceID(addr.Last().Value)})
}

// ApplyAttribute implements operations.AttributeApplier.
func (entryRuntime) ApplyAttribute(ctx *controller.Context, addr address.Address, name string, v cty.Value) error {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	e, ok := Lookup(target, addr.Last().Value)
	if !ok {
		return errors.NotFoundf("naming entry %s", addr.Last().Value)
	}
	resolved, err := operations.ResolveAttribute(ctx, valueAttribute, v)
	if err != nil {
		return err
	}
	e.set(resolved.AsString())
	return nil
}
