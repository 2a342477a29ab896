// Package moduletest runs subsystem extensions against a real controller and
// an in-memory service container.
package moduletest

import (
	"testing"

	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/inmemoryservice"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/testutil"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// Harness is a controller with the generic operations and the extensions
// under test registered.
type Harness struct {
	t          *testing.T
	Registry   *registration.Registry
	Ops        *operations.Handlers
	Controller *controller.Controller
	Container  *inmemoryservice.Container
	Resolver   *expression.Resolver
}

// New builds a harness. extensions receives the generic handlers the
// extensions register their resources with.
func New(t *testing.T, props map[string]string, extensions func(ops *operations.Handlers) []registration.Extension) *Harness {
	t.Helper()
	reg := registration.New()
	ops := operations.New(reg)
	require.NoError(t, ops.RegisterGlobals())
	for _, ext := range extensions(ops) {
		require.NoError(t, reg.AddExtension(ext))
	}
	container := inmemoryservice.New()
	resolver := expression.NewResolver(props)
	return &Harness{
		t:        t,
		Registry: reg,
		Ops:      ops,
		Controller: controller.New(reg,
			controller.WithServiceTarget(container),
			controller.WithResolver(resolver),
		),
		Container: container,
		Resolver:  resolver,
	}
}

// Op builds an operation.
func Op(name string, addr address.Address, params map[string]cty.Value) controller.Operation {
	return controller.NewOperation(name, addr, params)
}

// Exec executes one operation.
func (h *Harness) Exec(name string, addr address.Address, params map[string]cty.Value) controller.Result {
	h.t.Helper()
	return h.Controller.Execute(testutil.Context(h.t), Op(name, addr, params))
}

// MustExec executes one operation and fails the test unless it succeeds.
func (h *Harness) MustExec(name string, addr address.Address, params map[string]cty.Value) controller.Result {
	h.t.Helper()
	res := h.Exec(name, addr, params)
	require.True(h.t, res.Succeeded(), res.FailureDescription)
	return res
}

// Composite executes ops as one batch.
func (h *Harness) Composite(ops ...controller.Operation) controller.Result {
	h.t.Helper()
	return h.Controller.Execute(testutil.Context(h.t), operations.NewComposite(ops...))
}

// Write sets one attribute.
func (h *Harness) Write(addr address.Address, name string, v cty.Value) controller.Result {
	h.t.Helper()
	return h.Exec(operations.WriteAttribute, addr, map[string]cty.Value{
		operations.ParamName:  cty.StringVal(name),
		operations.ParamValue: v,
	})
}

// Read reads one attribute, defaults included.
func (h *Harness) Read(addr address.Address, name string) cty.Value {
	h.t.Helper()
	res := h.MustExec(operations.ReadAttribute, addr, map[string]cty.Value{operations.ParamName: cty.StringVal(name)})
	return res.Result
}
