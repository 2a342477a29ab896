// Package sockets contributes the sockets subsystem: named socket bindings
// (interface and port) that listeners reference through the socket-binding
// capability. Bindings describe where a listener binds; opening the socket is
// left to the listener.
package sockets

import (
	"fmt"
	"net"
	"strconv"

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
	"github.com/zclconf/go-cty/cty/gocty"
)

const (
	// Name is the subsystem name.
	Name = "sockets"
	// BindingCapability is provided by every binding; its dynamic part is
	// the binding name.
	BindingCapability = "org.mgmtcore.network.socket-binding"

	bindingType = "binding"
)

// ModelVersion is the version of the subsystem's management model.
var ModelVersion = version.MustParse("1.0.0")

// Address is the address of the subsystem.
var Address = address.Pairs("subsystem", Name)

// BindingAddress returns the address of the named binding.
func BindingAddress(name string) address.Address {
	return Address.Append(address.NewElement(bindingType, name))
}

// ServiceID returns the service id of the named binding.
func ServiceID(name string) service.ID {
	return capability.ServiceName(BindingCapability, name)
}

// Binding is the value of a binding service.
type Binding struct {
	Name      string
	Interface string
	Port      int
}

// Addr returns the host:port the binding stands for.
func (b Binding) Addr() string {
	return net.JoinHostPort(b.Interface, strconv.Itoa(b.Port))
}

// Lookup returns the installed binding with the given name.
func Lookup(target service.Target, name string) (Binding, bool) {
	svc, ok := target.Lookup(ServiceID(name))
	if !ok {
		return Binding{}, false
	}
	v, ok := svc.(service.Valuer)
	if !ok {
		return Binding{}, false
	}
	b, ok := v.Value().(Binding)
	return b, ok
}

var (
	subsystemAttributes = []*registration.AttributeDefinition{
		{
			Name:            "default-interface",
			Type:            cty.String,
			Description:     "Interface used by bindings that name none.",
			Default:         cty.StringVal("0.0.0.0"),
			AllowExpression: true,
			RestartRequired: true,
		},
		{
			Name:            "port-offset",
			Type:            cty.Number,
			Description:     "Added to the port of every binding.",
			Default:         cty.NumberIntVal(0),
			AllowExpression: true,
			RestartRequired: true,
			Validate:        registration.IntRange(0, 65535),
		},
	}
	bindingAttributes = []*registration.AttributeDefinition{
		{
			Name:            "port",
			Type:            cty.Number,
			Description:     "Port before the subsystem's port offset.",
			Required:        true,
			AllowExpression: true,
			RestartRequired: true,
			Validate:        registration.IntRange(0, 65535),
		},
		{
			Name:            "interface",
			Type:            cty.String,
			Description:     "Interface to bind; the subsystem default when undefined.",
			AllowExpression: true,
			RestartRequired: true,
		},
		{
			Name:        "bound-address",
			Type:        cty.String,
			Description: "The host:port the running binding stands for.",
			Storage:     registration.RuntimeStorage,
			Access:      registration.ReadOnly,
			Reader:      readBoundAddress,
		},
	}
)

type subsystemConfig struct {
	DefaultInterface string `cty:"default-interface"`
	PortOffset       int    `cty:"port-offset"`
}

type bindingConfig struct {
	Port      int     `cty:"port"`
	Interface *string `cty:"interface"`
}

// Module is the sockets extension.
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
		Description: "Socket bindings.",
		Attributes:  subsystemAttributes,
	}, nil); err != nil {
		return err
	}

	rt := bindingRuntime{}
	add := m.ops.AddHandler(rt)
	write := m.ops.WriteAttributeHandler()
	_, err := m.ops.Register(Address, &registration.ResourceDefinition{
		Element:      address.WildcardElement(bindingType),
		Description:  "A named interface and port.",
		Attributes:   bindingAttributes,
		Capabilities: []registration.CapabilityDefinition{{Name: BindingCapability, Dynamic: true}},
		Operations: []registration.OperationEntry{
			{Name: operations.Add, Description: "Adds the binding.", Handler: withPortCheck(add)},
			{Name: operations.WriteAttribute, Description: "Sets an attribute of the binding.", Handler: withPortCheck(write)},
		},
	}, rt)
	return err
}

// withPortCheck runs h and then checks in the VERIFY stage that no two
// bindings share an interface and port.
func withPortCheck(h controller.Handler) controller.Handler {
	return controller.HandlerFunc(func(ctx *controller.Context, op controller.Operation) error {
		if err := h.Execute(ctx, op); err != nil {
			return err
		}
		return ctx.AddStepFunc(controller.Verify, verifyUniquePorts)
	})
}

func verifyUniquePorts(ctx *controller.Context, op controller.Operation) error {
	bindings, err := resolveAll(ctx)
	if err != nil {
		return err
	}
	self := op.Address.Last().Value
	var mine Binding
	for _, b := range bindings {
		if b.Name == self {
			mine = b
		}
	}
	for _, b := range bindings {
		if b.Name != self && b.Addr() == mine.Addr() {
			return failure.Newf(failure.Validation, op.Name, op.Address.String(),
				"%s is already used by %s", mine.Addr(), BindingAddress(b.Name))
		}
	}
	return nil
}

// resolveAll returns every binding of the batch's model with expressions
// resolved.
func resolveAll(ctx *controller.Context) ([]Binding, error) {
	sub, err := ctx.ReadResource(Address)
	if err != nil {
		return nil, err
	}
	cfg, err := resolveSubsystem(ctx, sub)
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, name := range sub.ChildNames(bindingType) {
		r, _ := sub.Child(bindingType, name)
		b, err := resolveBinding(ctx, cfg, name, r)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func resolveSubsystem(ctx *controller.Context, r *resource.Resource) (subsystemConfig, error) {
	var cfg subsystemConfig
	v, err := operations.ResolveModel(ctx, subsystemAttributes, r)
	if err != nil {
		return cfg, err
	}
	if err := gocty.FromCtyValue(v, &cfg); err != nil {
		return cfg, errors.Annotatef(err, "decoding %s", Address)
	}
	return cfg, nil
}

func resolveBinding(ctx *controller.Context, sub subsystemConfig, name string, r *resource.Resource) (Binding, error) {
	v, err := operations.ResolveModel(ctx, bindingAttributes, r)
	if err != nil {
		return Binding{}, err
	}
	var cfg bindingConfig
	if err := gocty.FromCtyValue(v, &cfg); err != nil {
		return Binding{}, errors.Annotatef(err, "decoding %s", BindingAddress(name))
	}
	b := Binding{Name: name, Interface: sub.DefaultInterface, Port: cfg.Port + sub.PortOffset}
	if cfg.Interface != nil {
		b.Interface = *cfg.Interface
	}
	if b.Port > 65535 {
		return Binding{}, fmt.Errorf("binding %s: port %d with offset %d exceeds 65535", name, cfg.Port, sub.PortOffset)
	}
	return b, nil
}

// bindingRuntime installs one service per binding carrying its Binding.
type bindingRuntime struct{}

// Install implements operations.RuntimeHandler.
func (bindingRuntime) Install(ctx *controller.Context, addr address.Address, model *resource.Resource) error {
	sub, err := ctx.ReadResource(Address)
	if err != nil {
		return err
	}
	cfg, err := resolveSubsystem(ctx, sub)
	if err != nil {
		return err
	}
	b, err := resolveBinding(ctx, cfg, addr.Last().Value, model)
	if err != nil {
		return err
	}
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	if _, err := target.Install(ctx.Context(), ServiceID(b.Name), service.Funcs{Val: b}); err != nil {
		return err
	}
	ctx.Logger().Info("Socket binding installed.", "binding", b.Name, "address", b.Addr())
	return nil
}

// Uninstall implements operations.RuntimeHandler.
func (bindingRuntime) Uninstall(ctx *controller.Context, addr address.Address, _ *resource.Resource) error {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	return target.Remove(ctx.Context(), &service.Handle{ID: ServiceID(addr.Last().Value)})
}

func readBoundAddress(ctx *controller.Context, addr address.Address) (cty.Value, error) {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return cty.NilVal, err
	}
	b, ok := Lookup(target, addr.Last().Value)
	if !ok {
		return cty.NullVal(cty.String), nil
	}
	return cty.StringVal(b.Addr()), nil
}
