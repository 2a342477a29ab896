package operations

import (
	"sync"

	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Operation names.
const (
	Add                     = "add"
	Remove                  = "remove"
	WriteAttribute          = "write-attribute"
	UndefineAttribute       = "undefine-attribute"
	ReadAttribute           = "read-attribute"
	ReadResource            = "read-resource"
	ReadResourceDescription = "read-resource-description"
	ReadChildrenNames       = "read-children-names"
	ReadChildrenTypes       = "read-children-types"
	ReadOperationNames      = "read-operation-names"
	Composite               = "composite"
	RemoveExtension         = "remove-extension"
)

// Parameter names.
const (
	ParamName               = "name"
	ParamValue              = "value"
	ParamRecursive          = "recursive"
	ParamIncludeRuntime     = "include-runtime"
	ParamIncludeDefaults    = "include-defaults"
	ParamResolveExpressions = "resolve-expressions"
	ParamChildType          = "child-type"
	ParamSteps              = "steps"
	ParamExtension          = "extension"
)

// RuntimeHandler applies a resource's model to running services. Install
// runs in the RUNTIME stage after add, Uninstall after remove; each is the
// compensation of the other.
type RuntimeHandler interface {
	Install(ctx *controller.Context, addr address.Address, model *resource.Resource) error
	Uninstall(ctx *controller.Context, addr address.Address, model *resource.Resource) error
}

// AttributeApplier is implemented by runtime handlers that can apply an
// attribute change to a running service. Without it, writing an attribute of
// a resource with runtime effects only marks the process reload-required.
type AttributeApplier interface {
	ApplyAttribute(ctx *controller.Context, addr address.Address, name string, value cty.Value) error
}

// Handlers builds the generic handlers for one registry.
type Handlers struct {
	reg *registration.Registry

	mu       sync.RWMutex
	runtimes map[*registration.Node]RuntimeHandler
}

// New creates the handlers for reg.
func New(reg *registration.Registry) *Handlers {
	return &Handlers{reg: reg, runtimes: make(map[*registration.Node]RuntimeHandler)}
}

// Registry returns the registry the handlers read definitions from.
func (h *Handlers) Registry() *registration.Registry { return h.reg }

// RegisterGlobals registers the operations every resource inherits, and
// composite on the root.
func (h *Handlers) RegisterGlobals() error {
	globals := []registration.OperationEntry{
		{Name: ReadResource, Description: "Reads the attributes and children of a resource.", Handler: controller.HandlerFunc(h.readResource), ReadOnly: true},
		{Name: ReadAttribute, Description: "Reads one attribute.", Handler: controller.HandlerFunc(h.readAttribute), ReadOnly: true},
		{Name: ReadResourceDescription, Description: "Describes the resource type.", Handler: controller.HandlerFunc(h.readResourceDescription), ReadOnly: true, AllowWildcard: true},
		{Name: ReadChildrenNames, Description: "Lists the children of one type.", Handler: controller.HandlerFunc(h.readChildrenNames), ReadOnly: true},
		{Name: ReadChildrenTypes, Description: "Lists the registered child types.", Handler: controller.HandlerFunc(h.readChildrenTypes), ReadOnly: true},
		{Name: ReadOperationNames, Description: "Lists the available operations.", Handler: controller.HandlerFunc(h.readOperationNames), ReadOnly: true},
		{Name: WriteAttribute, Description: "Sets an attribute.", Handler: controller.HandlerFunc(h.writeAttribute)},
		{Name: UndefineAttribute, Description: "Undefines an attribute.", Handler: controller.HandlerFunc(h.undefineAttribute)},
	}
	for _, e := range globals {
		if err := h.reg.RegisterGlobal(e); err != nil {
			return err
		}
	}
	if err := h.reg.RegisterOperation(address.Root(), registration.OperationEntry{
		Name:        Composite,
		Description: "Executes a list of operations as one batch.",
		Handler:     controller.HandlerFunc(h.composite),
	}); err != nil {
		return err
	}
	return h.reg.RegisterOperation(address.Root(), registration.OperationEntry{
		Name:        RemoveExtension,
		Description: "Removes an extension and its subsystem registrations. None of its resources may exist.",
		Handler:     controller.HandlerFunc(h.removeExtension),
	})
}

// Register registers def under parent with add and remove operations backed
// by rt. rt may be nil for model-only resources.
func (h *Handlers) Register(parent address.Address, def *registration.ResourceDefinition, rt RuntimeHandler) (*registration.Node, error) {
	n, err := h.reg.Register(parent, h.withLifecycle(def, rt))
	if err != nil {
		return nil, err
	}
	h.setRuntime(n, rt)
	return n, nil
}

// RegisterSubsystem is Register for a subsystem contributed by an extension.
func (h *Handlers) RegisterSubsystem(ec *registration.ExtensionContext, def *registration.ResourceDefinition, rt RuntimeHandler) (*registration.Node, error) {
	n, err := ec.RegisterSubsystem(h.withLifecycle(def, rt))
	if err != nil {
		return nil, err
	}
	h.setRuntime(n, rt)
	return n, nil
}

// WriteAttributeHandler returns the generic write-attribute handler, for
// resource types that register their own write-attribute around it.
func (h *Handlers) WriteAttributeHandler() controller.Handler {
	return controller.HandlerFunc(h.writeAttribute)
}

func (h *Handlers) withLifecycle(def *registration.ResourceDefinition, rt RuntimeHandler) *registration.ResourceDefinition {
	out := *def
	out.Operations = append([]registration.OperationEntry(nil), def.Operations...)
	has := make(map[string]bool, len(out.Operations))
	for _, e := range out.Operations {
		has[e.Name] = true
	}
	if !has[Add] {
		out.Operations = append(out.Operations, registration.OperationEntry{
			Name: Add, Description: "Adds the resource.", Handler: h.AddHandler(rt),
		})
	}
	if !has[Remove] {
		out.Operations = append(out.Operations, registration.OperationEntry{
			Name: Remove, Description: "Removes the resource.", Handler: h.RemoveHandler(rt),
		})
	}
	return &out
}

func (h *Handlers) setRuntime(n *registration.Node, rt RuntimeHandler) {
	if rt == nil {
		return
	}
	h.mu.Lock()
	h.runtimes[n] = rt
	h.mu.Unlock()
}

func (h *Handlers) runtime(n *registration.Node) RuntimeHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runtimes[n]
}

func (h *Handlers) node(op controller.Operation) (*registration.Node, error) {
	n, err := h.reg.Find(op.Address)
	if err != nil {
		return nil, failure.New(failure.Validation, op.Name, op.Address.String(), err)
	}
	return n, nil
}

func invalid(op controller.Operation, format string, args ...any) error {
	return failure.Newf(failure.Validation, op.Name, op.Address.String(), format, args...)
}

func boolParam(op controller.Operation, name string, def bool) (bool, error) {
	v, ok := op.Param(name)
	if !ok {
		return def, nil
	}
	b, err := convert.Convert(v, cty.Bool)
	if err != nil || !b.IsKnown() {
		return false, invalid(op, "parameter %q must be a boolean", name)
	}
	return b.True(), nil
}

func stringParam(op controller.Operation, name string) (string, error) {
	v, ok := op.Param(name)
	if !ok {
		return "", invalid(op, "missing parameter %q", name)
	}
	s, err := convert.Convert(v, cty.String)
	if err != nil || !s.IsKnown() {
		return "", invalid(op, "parameter %q must be a string", name)
	}
	return s.AsString(), nil
}

func stringList(values []string) cty.Value {
	if len(values) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	out := make([]cty.Value, len(values))
	for i, v := range values {
		out[i] = cty.StringVal(v)
	}
	return cty.ListVal(out)
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(m)
}

// attributeValue returns the stored value of a, its default when undefined
// and includeDefaults is set, or a typed null.
func attributeValue(r *resource.Resource, a *registration.AttributeDefinition, includeDefaults bool) cty.Value {
	if v, ok := r.Attribute(a.Name); ok && !v.IsNull() {
		return v
	}
	if includeDefaults && a.HasDefault() {
		return a.Default
	}
	return cty.NullVal(a.Type)
}

func sameValue(a, b cty.Value) bool {
	aNull := a == cty.NilVal || a.IsNull()
	bNull := b == cty.NilVal || b.IsNull()
	if aNull || bNull {
		return aNull == bNull
	}
	return a.RawEquals(b)
}
