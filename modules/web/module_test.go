package web

import (
	"context"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/specialistvlad/mgmtcore/internal/testutil"
	"github.com/specialistvlad/mgmtcore/internal/transformers"
	"github.com/specialistvlad/mgmtcore/modules/internal/moduletest"
	"github.com/specialistvlad/mgmtcore/modules/sockets"
	"github.com/specialistvlad/mgmtcore/modules/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newHarness(t *testing.T) *moduletest.Harness {
	t.Helper()
	return moduletest.New(t, nil, func(ops *operations.Handlers) []registration.Extension {
		return []registration.Extension{threads.New(ops), sockets.New(ops), New(ops)}
	})
}

func listenerParams(extra map[string]cty.Value) map[string]cty.Value {
	params := map[string]cty.Value{
		"socket-binding": cty.StringVal("http"),
		"worker":         cty.StringVal("default"),
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

// bootOps adds the listener before the pool and binding it references.
func bootOps(listener map[string]cty.Value) []controller.Operation {
	return []controller.Operation{
		moduletest.Op(operations.Add, Address, nil),
		moduletest.Op(operations.Add, ListenerAddress("default"), listenerParams(listener)),
		moduletest.Op(operations.Add, threads.Address, nil),
		moduletest.Op(operations.Add, threads.PoolAddress("default"), map[string]cty.Value{"max-threads": cty.NumberIntVal(4)}),
		moduletest.Op(operations.Add, sockets.Address, nil),
		moduletest.Op(operations.Add, sockets.BindingAddress("http"), map[string]cty.Value{"port": cty.NumberIntVal(8080)}),
	}
}

func boot(t *testing.T, listener map[string]cty.Value) *moduletest.Harness {
	t.Helper()
	h := newHarness(t)
	res := h.Composite(bootOps(listener)...)
	require.True(t, res.Succeeded(), res.FailureDescription)
	return h
}

func TestListener_InstallsAfterItsDependencies(t *testing.T) {
	h := boot(t, map[string]cty.Value{"http2": cty.True})

	l, ok := Lookup(h.Container, "default")
	require.True(t, ok)
	assert.Equal(t, "0.0.0.0:8080", l.Addr())
	assert.Equal(t, "default", l.Worker())
	assert.True(t, l.HTTP2())
	assert.Equal(t, int64(16), l.BufferSize())
	assert.Equal(t, int64(100), l.MaxConnections())
	assert.Equal(t, "http://0.0.0.0:8080", l.URL())
	assert.Empty(t, l.WelcomeContent())

	reg, err := h.Controller.Capabilities().Resolve(ListenerCapability, "default", ListenerAddress("default"))
	require.NoError(t, err)
	assert.True(t, reg.Provider.Equal(ListenerAddress("default")))
}

func TestListener_HTTPSWithWelcomeContent(t *testing.T) {
	const hash = "da39a3ee5e6b4b0d3255bfef95601890afd80709"
	h := boot(t, map[string]cty.Value{
		"scheme":          cty.StringVal("https"),
		"welcome-content": cty.StringVal(hash),
	})
	l, ok := Lookup(h.Container, "default")
	require.True(t, ok)
	assert.Equal(t, "https://0.0.0.0:8080", l.URL())
	assert.Equal(t, hash, l.WelcomeContent())
}

func TestListener_Failures(t *testing.T) {
	testCases := []struct {
		name     string
		steps    func() []controller.Operation
		kind     failure.Kind
		errorMsg string
	}{
		{
			name: "unknown worker",
			steps: func() []controller.Operation {
				return bootOps(map[string]cty.Value{"worker": cty.StringVal("missing")})
			},
			kind:     failure.CapabilityResolution,
			errorMsg: "org.mgmtcore.threads.pool.missing",
		},
		{
			name: "unknown scheme",
			steps: func() []controller.Operation {
				return bootOps(map[string]cty.Value{"scheme": cty.StringVal("ftp")})
			},
			kind:     failure.Validation,
			errorMsg: `"ftp" is not one of [http https]`,
		},
		{
			name: "malformed welcome content",
			steps: func() []controller.Operation {
				return bootOps(map[string]cty.Value{"welcome-content": cty.StringVal("not-a-hash")})
			},
			kind:     failure.Validation,
			errorMsg: "content hash must have 40 or 64 hex digits",
		},
		{
			name: "missing socket binding",
			steps: func() []controller.Operation {
				return []controller.Operation{
					moduletest.Op(operations.Add, Address, nil),
					moduletest.Op(operations.Add, ListenerAddress("default"), map[string]cty.Value{"worker": cty.StringVal("default")}),
				}
			},
			kind:     failure.Validation,
			errorMsg: `missing required attribute "socket-binding"`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			res := h.Composite(tc.steps()...)
			require.False(t, res.Succeeded())
			assert.True(t, failure.Is(res.Err, tc.kind), res.FailureDescription)
			assert.Contains(t, res.FailureDescription, tc.errorMsg)
			assert.Equal(t, service.Down, h.Container.State(threads.ServiceID("default")))
			assert.Equal(t, service.Down, h.Container.State(ServiceID("default")))
		})
	}
}

func TestListener_RequiredPoolCannotBeRemoved(t *testing.T) {
	h := boot(t, nil)
	res := h.Exec(operations.Remove, threads.PoolAddress("default"), nil)
	require.False(t, res.Succeeded())
	assert.True(t, failure.Is(res.Err, failure.CapabilityResolution), res.FailureDescription)
	assert.Equal(t, service.Up, h.Container.State(threads.ServiceID("default")))

	res = h.Composite(
		moduletest.Op(operations.Remove, ListenerAddress("default"), nil),
		moduletest.Op(operations.Remove, threads.PoolAddress("default"), nil),
	)
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, service.Down, h.Container.State(ServiceID("default")))
	assert.Equal(t, service.Down, h.Container.State(threads.ServiceID("default")))
}

func TestListener_ServeAndStatistics(t *testing.T) {
	ctx := testutil.Context(t)
	h := boot(t, nil)
	l, ok := Lookup(h.Container, "default")
	require.True(t, ok)

	res := h.Write(ListenerAddress("default"), "max-connections", cty.NumberIntVal(1))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, int64(1), l.MaxConnections())

	release := make(chan struct{})
	require.NoError(t, l.Serve(ctx, func(context.Context) { <-release }))
	err := l.Serve(ctx, func(context.Context) {})
	assert.True(t, errors.Is(err, ErrTooManyConnections))
	assert.True(t, h.Read(ListenerAddress("default"), "active-connections").RawEquals(cty.NumberIntVal(1)))

	close(release)
	require.Eventually(t, func() bool { return l.ActiveConnections() == 0 }, time.Second, 10*time.Millisecond)
	assert.True(t, h.Read(ListenerAddress("default"), "request-count").RawEquals(cty.NumberIntVal(1)))

	res = h.MustExec(ResetStatistics, ListenerAddress("default"), nil)
	assert.True(t, res.Result.RawEquals(cty.NumberIntVal(1)))
	assert.Zero(t, l.Requests())
}

func TestListener_ResetStatisticsRollsBack(t *testing.T) {
	h := boot(t, nil)
	l, ok := Lookup(h.Container, "default")
	require.True(t, ok)
	require.NoError(t, l.Serve(context.Background(), func(context.Context) {}))
	require.Eventually(t, func() bool { return l.Requests() == 1 }, time.Second, 10*time.Millisecond)

	// The second step fails validation in MODEL, before the reset runs.
	res := h.Composite(
		moduletest.Op(ResetStatistics, ListenerAddress("default"), nil),
		moduletest.Op(operations.Add, ListenerAddress("default"), listenerParams(nil)),
	)
	require.False(t, res.Succeeded())
	assert.Equal(t, int64(1), l.Requests())
}

func TestConnectorAlias(t *testing.T) {
	h := boot(t, nil)

	res := h.Write(ConnectorAddress("default"), "max-connections", cty.NumberIntVal(7))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.True(t, h.Read(ListenerAddress("default"), "max-connections").RawEquals(cty.NumberIntVal(7)))

	viaAlias := h.MustExec(operations.ReadResource, ConnectorAddress("default"), nil)
	canonical := h.MustExec(operations.ReadResource, ListenerAddress("default"), nil)
	assert.True(t, viaAlias.Result.RawEquals(canonical.Result))

	l, ok := Lookup(h.Container, "default")
	require.True(t, ok)
	assert.Equal(t, int64(7), l.MaxConnections())
}

func TestRules_LegacyPeer(t *testing.T) {
	ctx := testutil.Context(t)
	h := boot(t, nil)

	sets, err := Rules()
	require.NoError(t, err)
	reg := transformers.NewRegistry()
	require.NoError(t, reg.Add(sets...))

	peer := transformers.LocalPeer{
		Peer:     h.Controller,
		Versions: transformers.PeerVersions{Name: version.MustParse("1.0.0")},
	}
	ch := transformers.NewChannel(transformers.New(reg, transformers.WithCanonicalizer(h.Registry)), peer, nil)

	res := ch.Execute(ctx, moduletest.Op(operations.Add, ListenerAddress("h2"), listenerParams(map[string]cty.Value{"http2": cty.True})))
	require.False(t, res.Succeeded())
	assert.True(t, failure.Is(res.Err, failure.TransformationRejected))
	assert.Contains(t, res.FailureDescription, "/subsystem=web/listener=h2@http2")
	_, ok := Lookup(h.Container, "h2")
	assert.False(t, ok, "the rejected operation never reaches the peer")

	for attr, v := range map[string]cty.Value{
		"scheme":          cty.StringVal("https"),
		"welcome-content": cty.StringVal("da39a3ee5e6b4b0d3255bfef95601890afd80709"),
	} {
		res = ch.Execute(ctx, moduletest.Op(operations.Add, ListenerAddress("l2"), listenerParams(map[string]cty.Value{attr: v})))
		assert.True(t, failure.Is(res.Err, failure.TransformationRejected), attr)
		assert.Contains(t, res.FailureDescription, "/subsystem=web/listener=l2@"+attr)
	}

	res = ch.Execute(ctx, moduletest.Op(operations.Add, ConnectorAddress("h2"), listenerParams(map[string]cty.Value{"http2": cty.True})))
	assert.True(t, failure.Is(res.Err, failure.TransformationRejected), "the alias address is checked like the listener")
	assert.Contains(t, res.FailureDescription, "/subsystem=web/listener=h2@http2")
	_, ok = Lookup(h.Container, "h2")
	assert.False(t, ok)

	tr, err := transformers.New(reg, transformers.WithCanonicalizer(h.Registry)).TransformOperation(
		moduletest.Op(operations.WriteAttribute, ConnectorAddress("default"), map[string]cty.Value{
			operations.ParamName:  cty.StringVal("max-connections"),
			operations.ParamValue: cty.NumberIntVal(50),
		}), peer.Versions)
	require.NoError(t, err)
	name, _ := tr.Operation.Param(operations.ParamName)
	assert.Equal(t, "max-conn", name.AsString())

	res = ch.Execute(ctx, moduletest.Op(ResetStatistics, ListenerAddress("default"), nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.True(t, res.Result.IsNull(), "1.0.0 peers have no statistics to reset")
}
