package sockets

import (
	"testing"

	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/specialistvlad/mgmtcore/modules/internal/moduletest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newHarness(t *testing.T) *moduletest.Harness {
	t.Helper()
	return moduletest.New(t, map[string]string{"bind.address": "127.0.0.1"}, func(ops *operations.Handlers) []registration.Extension {
		return []registration.Extension{New(ops)}
	})
}

func addBinding(name string, port int64, extra map[string]cty.Value) controller.Operation {
	params := map[string]cty.Value{"port": cty.NumberIntVal(port)}
	for k, v := range extra {
		params[k] = v
	}
	return moduletest.Op(operations.Add, BindingAddress(name), params)
}

func TestBinding_Install(t *testing.T) {
	h := newHarness(t)
	res := h.Composite(
		moduletest.Op(operations.Add, Address, map[string]cty.Value{"port-offset": cty.NumberIntVal(100)}),
		addBinding("http", 8080, nil),
		addBinding("admin", 9990, map[string]cty.Value{"interface": cty.StringVal("${bind.address:0.0.0.0}")}),
	)
	require.True(t, res.Succeeded(), res.FailureDescription)

	testCases := []struct {
		name     string
		expected string
	}{
		{name: "http", expected: "0.0.0.0:8180"},
		{name: "admin", expected: "127.0.0.1:10090"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b, ok := Lookup(h.Container, tc.name)
			require.True(t, ok)
			assert.Equal(t, tc.expected, b.Addr())
			assert.Equal(t, tc.expected, h.Read(BindingAddress(tc.name), "bound-address").AsString())
		})
	}

	res = h.Write(Address, "port-offset", cty.NumberIntVal(0))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, cty.True, res.Headers[controller.HeaderReloadRequired])
}

func TestBinding_PortConflicts(t *testing.T) {
	testCases := []struct {
		name      string
		steps     []controller.Operation
		succeeded bool
	}{
		{
			name:  "same port in one batch",
			steps: []controller.Operation{addBinding("a", 8080, nil), addBinding("b", 8080, nil)},
		},
		{
			name: "same port on different interfaces",
			steps: []controller.Operation{
				addBinding("a", 8080, nil),
				addBinding("b", 8080, map[string]cty.Value{"interface": cty.StringVal("127.0.0.1")}),
			},
			succeeded: true,
		},
		{
			name:  "port pushed past the range by the offset",
			steps: []controller.Operation{addBinding("a", 65500, nil), addBinding("b", 65535, nil)},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.MustExec(operations.Add, Address, map[string]cty.Value{"port-offset": cty.NumberIntVal(1)})
			res := h.Composite(tc.steps...)
			require.Equal(t, tc.succeeded, res.Succeeded(), res.FailureDescription)
			if tc.succeeded {
				return
			}
			assert.True(t, res.RolledBack)
			assert.Equal(t, service.Down, h.Container.State(ServiceID("a")))
			assert.Equal(t, service.Down, h.Container.State(ServiceID("b")))
		})
	}
}

func TestBinding_WriteConflictingPort(t *testing.T) {
	h := newHarness(t)
	res := h.Composite(
		moduletest.Op(operations.Add, Address, nil),
		addBinding("a", 8080, nil),
		addBinding("b", 8081, nil),
	)
	require.True(t, res.Succeeded(), res.FailureDescription)

	res = h.Write(BindingAddress("b"), "port", cty.NumberIntVal(8080))
	require.False(t, res.Succeeded())
	assert.Contains(t, res.FailureDescription, "0.0.0.0:8080 is already used by /subsystem=sockets/binding=a")
	assert.True(t, h.Read(BindingAddress("b"), "port").RawEquals(cty.NumberIntVal(8081)))

	res = h.Write(BindingAddress("b"), "port", cty.NumberIntVal(8082))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, cty.True, res.Headers[controller.HeaderReloadRequired])
}
