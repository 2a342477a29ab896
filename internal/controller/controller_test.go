package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/inmemoryservice"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/specialistvlad/mgmtcore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"pgregory.net/rapid"
)

type entry struct {
	h     Handler
	flags Flags
}

// mapDispatcher resolves handlers by operation name only.
type mapDispatcher map[string]entry

func (d mapDispatcher) Resolve(addr address.Address, name string) (Handler, Flags, error) {
	e, ok := d[name]
	if !ok {
		return nil, Flags{}, failure.Newf(failure.OperationNotFound, name, addr.String(), "no such operation")
	}
	return e.h, e.flags, nil
}

// addHandler creates the resource with the operation's params as attributes.
var addHandler = HandlerFunc(func(ctx *Context, op Operation) error {
	return ctx.CreateResource(op.Address, resource.WithAttributes(op.Params))
})

var readHandler = HandlerFunc(func(ctx *Context, op Operation) error {
	r, err := ctx.ReadResource(op.Address)
	if err != nil {
		return err
	}
	ctx.SetResult(cty.ObjectVal(r.Attributes()))
	return nil
})

func newTestController(t *testing.T, extra mapDispatcher, opts ...Option) *Controller {
	t.Helper()
	d := mapDispatcher{
		"add":           {h: addHandler},
		"read-resource": {h: readHandler, flags: Flags{ReadOnly: true}},
	}
	for k, v := range extra {
		d[k] = v
	}
	return New(d, opts...)
}

var foo = address.Pairs("subsystem", "foo")

func TestExecute_AddThenRead(t *testing.T) {
	ctx := testutil.Context(t)
	c := newTestController(t, nil)

	res := c.Execute(ctx, NewOperation("add", foo, map[string]cty.Value{"max": cty.NumberIntVal(10)}))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.NotEmpty(t, res.BatchID)

	first := c.Execute(ctx, NewOperation("read-resource", foo, nil))
	require.True(t, first.Succeeded(), first.FailureDescription)
	assert.True(t, first.Result.GetAttr("max").RawEquals(cty.NumberIntVal(10)))

	second := c.Execute(ctx, NewOperation("read-resource", foo, nil))
	assert.True(t, first.Result.RawEquals(second.Result))
}

func TestExecute_OperationNotFound(t *testing.T) {
	c := newTestController(t, nil)
	res := c.Execute(testutil.Context(t), NewOperation("frobnicate", foo, nil))

	require.False(t, res.Succeeded())
	assert.False(t, res.RolledBack)
	assert.True(t, failure.Is(res.Err, failure.OperationNotFound))
	assert.Contains(t, res.FailureDescription, "frobnicate")
	assert.Contains(t, res.FailureDescription, "/subsystem=foo")
}

func TestExecute_WildcardRejected(t *testing.T) {
	c := newTestController(t, nil)
	res := c.Execute(testutil.Context(t), NewOperation("add", address.New(address.WildcardElement("subsystem")), nil))
	require.False(t, res.Succeeded())
	assert.True(t, failure.Is(res.Err, failure.Validation))
}

func TestExecute_StageOrderAndFIFO(t *testing.T) {
	var trace []string
	record := func(label string) HandlerFunc {
		return func(ctx *Context, op Operation) error {
			trace = append(trace, fmt.Sprintf("%s:%s", ctx.Stage(), label))
			return nil
		}
	}
	c := newTestController(t, mapDispatcher{
		"multi": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			trace = append(trace, "MODEL:first")
			require.NoError(t, ctx.AddStep(Verify, record("verify")))
			require.NoError(t, ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
				trace = append(trace, "RUNTIME:a")
				return ctx.AddStep(Runtime, record("c"))
			})))
			require.NoError(t, ctx.AddStep(Runtime, record("b")))
			require.NoError(t, ctx.AddStep(Model, record("second")))
			return nil
		})},
	})

	res := c.Execute(testutil.Context(t), NewOperation("multi", foo, nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, []string{
		"MODEL:first", "MODEL:second",
		"RUNTIME:a", "RUNTIME:b", "RUNTIME:c",
		"VERIFY:verify",
	}, trace)
}

func TestExecute_NoBackwardSteps(t *testing.T) {
	var addErr error
	c := newTestController(t, mapDispatcher{
		"op": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			return ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
				addErr = ctx.AddStep(Model, HandlerFunc(func(*Context, Operation) error { return nil }))
				return nil
			}))
		})},
	})
	res := c.Execute(testutil.Context(t), NewOperation("op", foo, nil))
	require.True(t, res.Succeeded())
	require.Error(t, addErr)
	assert.True(t, errors.Is(addErr, errors.NotValid))
}

// runtimeSteps builds an operation that adds n RUNTIME steps; step k fails.
// Each successful step registers a compensation that records its index.
func runtimeSteps(n, k int, undone *[]int) HandlerFunc {
	return func(ctx *Context, op Operation) error {
		if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
			return err
		}
		for i := 1; i <= n; i++ {
			i := i
			if err := ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
				ctx.OnRollback(func(*Context) error {
					*undone = append(*undone, i)
					return nil
				})
				if i == k {
					return fmt.Errorf("step %d failed", i)
				}
				return nil
			})); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestExecute_RollbackCompleteness(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		k := rapid.IntRange(1, n).Draw(rt, "k")

		var undone []int
		c := newTestController(t, mapDispatcher{"op": {h: runtimeSteps(n, k, &undone)}})
		before := c.Tree().Snapshot()

		res := c.Execute(testutil.Context(t), NewOperation("op", foo, nil))
		if res.Succeeded() || !res.RolledBack {
			rt.Fatalf("expected rollback, got %+v", res)
		}
		if !failure.Is(res.Err, failure.RuntimeInstall) {
			rt.Fatalf("expected RuntimeInstall, got %v", res.Err)
		}
		var expected []int
		for i := k - 1; i >= 1; i-- {
			expected = append(expected, i)
		}
		if fmt.Sprint(expected) != fmt.Sprint(undone) {
			rt.Fatalf("compensations ran %v, expected %v", undone, expected)
		}
		if c.Tree().Snapshot() != before {
			rt.Fatalf("tree changed")
		}
	})
}

func TestExecute_LateSlotAndCompensationFailures(t *testing.T) {
	var order []string
	c := newTestController(t, mapDispatcher{
		"op": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			return ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
				ctx.OnRollbackIn(Late, func(*Context) error { order = append(order, "late-1"); return nil })
				ctx.OnRollback(func(*Context) error { order = append(order, "normal-1"); return nil })
				ctx.OnRollback(func(*Context) error {
					order = append(order, "normal-2")
					return fmt.Errorf("cannot stop")
				})
				ctx.OnRollbackIn(Late, func(*Context) error { order = append(order, "late-2"); return nil })
				return ctx.AddStep(Verify, HandlerFunc(func(*Context, Operation) error {
					return fmt.Errorf("duplicate binding")
				}))
			}))
		})},
	})

	res := c.Execute(testutil.Context(t), NewOperation("op", foo, nil))
	require.False(t, res.Succeeded())
	assert.Equal(t, []string{"normal-2", "normal-1", "late-2", "late-1"}, order)
	assert.True(t, failure.Is(res.Err, failure.Validation))
	assert.Contains(t, res.FailureDescription, "duplicate binding")
	assert.Contains(t, res.FailureDescription, "cannot stop")
}

func TestExecute_VerifyFailureStopsService(t *testing.T) {
	ctx := testutil.Context(t)
	container := inmemoryservice.New()
	c := newTestController(t, mapDispatcher{
		"add-foo": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
				return err
			}
			if err := ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
				target, err := ctx.ServiceTarget()
				if err != nil {
					return err
				}
				h, err := target.Install(ctx.Context(), "foo", service.Funcs{})
				if err != nil {
					return err
				}
				ctx.OnRollback(func(ctx *Context) error {
					target, _ := ctx.ServiceTarget()
					return target.Remove(ctx.Context(), h)
				})
				return nil
			})); err != nil {
				return err
			}
			return ctx.AddStep(Verify, HandlerFunc(func(*Context, Operation) error {
				return fmt.Errorf("inconsistent")
			}))
		})},
	}, WithServiceTarget(container))

	res := c.Execute(ctx, NewOperation("add-foo", foo, nil))
	require.False(t, res.Succeeded())
	assert.True(t, res.RolledBack)
	assert.Equal(t, service.Down, container.State("foo"))
	_, err := c.Tree().Navigate(foo)
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestExecute_CancellationRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(testutil.Context(t))
	defer cancel()
	compensated := false
	c := newTestController(t, mapDispatcher{
		"op": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
				return err
			}
			if err := ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
				ctx.OnRollback(func(ctx *Context) error {
					// Compensations still get a live context.
					compensated = ctx.Context().Err() == nil
					return nil
				})
				cancel()
				return nil
			})); err != nil {
				return err
			}
			return ctx.AddStep(Runtime, HandlerFunc(func(*Context, Operation) error {
				t.Error("step after cancellation must not run")
				return nil
			}))
		})},
	})

	res := c.Execute(ctx, NewOperation("op", foo, nil))
	require.False(t, res.Succeeded())
	assert.True(t, failure.Is(res.Err, failure.Cancelled))
	assert.True(t, compensated)
	_, err := c.Tree().Navigate(foo)
	assert.Error(t, err)
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	c := newTestController(t, mapDispatcher{
		"boom": {h: HandlerFunc(func(*Context, Operation) error { panic("nil map") })},
	})
	res := c.Execute(testutil.Context(t), NewOperation("boom", foo, nil))
	require.False(t, res.Succeeded())
	assert.Contains(t, res.FailureDescription, "nil map")
}

func TestExecute_ReadOnlyCannotWrite(t *testing.T) {
	c := newTestController(t, mapDispatcher{
		"sneaky": {h: addHandler, flags: Flags{ReadOnly: true}},
	})
	res := c.Execute(testutil.Context(t), NewOperation("sneaky", foo, nil))
	require.False(t, res.Succeeded())
	assert.False(t, res.RolledBack)
	assert.Contains(t, res.FailureDescription, "read-only")
}

func TestExecute_RollbackOnly(t *testing.T) {
	c := newTestController(t, mapDispatcher{
		"op": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
				return err
			}
			ctx.SetRollbackOnly()
			return nil
		})},
	})
	res := c.Execute(testutil.Context(t), NewOperation("op", foo, nil))
	require.False(t, res.Succeeded())
	assert.True(t, res.RolledBack)
	_, err := c.Tree().Navigate(foo)
	assert.Error(t, err)
}

func TestExecute_CompletedHooks(t *testing.T) {
	var outcomes []Outcome
	c := newTestController(t, mapDispatcher{
		"ok": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			ctx.OnCompleted(func(o Outcome) { outcomes = append(outcomes, o) })
			return nil
		})},
		"bad": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			ctx.OnCompleted(func(o Outcome) { outcomes = append(outcomes, o) })
			return fmt.Errorf("bad")
		})},
	})
	ctx := testutil.Context(t)
	c.Execute(ctx, NewOperation("ok", foo, nil))
	c.Execute(ctx, NewOperation("bad", foo, nil))
	assert.Equal(t, []Outcome{Success, Failed}, outcomes)
}

func TestExecute_DispatchAndDelegate(t *testing.T) {
	c := newTestController(t, mapDispatcher{
		"pair": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			child := op.Address.Append(address.NewElement("pool", "a"))
			if _, err := ctx.Dispatch(NewOperation("add", op.Address, nil)); err != nil {
				return err
			}
			resp, err := ctx.Dispatch(NewOperation("add", child, nil))
			if err != nil {
				return err
			}
			ctx.OnCompleted(func(Outcome) {
				ctx.SetResult(cty.StringVal(resp.Operation().Address.String()))
			})
			return nil
		})},
		"forward": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			return ctx.Delegate(NewOperation("read-resource", foo, nil))
		})},
	})
	ctx := testutil.Context(t)

	res := c.Execute(ctx, NewOperation("pair", foo, nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, "/subsystem=foo/pool=a", res.Result.AsString())

	res = c.Execute(ctx, NewOperation("forward", address.Pairs("subsystem", "bar"), nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, 0, res.Result.LengthInt())
}

func TestExecute_CapabilityPass(t *testing.T) {
	provide := HandlerFunc(func(ctx *Context, op Operation) error {
		if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
			return err
		}
		return ctx.RegisterCapability("org.test.cap")
	})
	consume := HandlerFunc(func(ctx *Context, op Operation) error {
		if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
			return err
		}
		if err := ctx.RequireCapability("org.test.cap", "", "ref"); err != nil {
			return err
		}
		return ctx.AddStep(Runtime, HandlerFunc(func(ctx *Context, op Operation) error {
			reg, err := ctx.ResolveCapability("org.test.cap", "")
			if err != nil {
				return err
			}
			ctx.SetResult(cty.StringVal(reg.Provider.String()))
			return nil
		}))
	})
	c := newTestController(t, mapDispatcher{"provide": {h: provide}, "consume": {h: consume}})
	ctx := testutil.Context(t)

	res := c.Execute(ctx, NewOperation("consume", address.Pairs("subsystem", "consumer"), nil))
	require.False(t, res.Succeeded())
	assert.True(t, failure.Is(res.Err, failure.CapabilityResolution))
	assert.Contains(t, res.FailureDescription, "org.test.cap")
	assert.Contains(t, res.FailureDescription, "/subsystem=consumer")
	assert.Empty(t, c.Capabilities().Registrations())

	res = c.Execute(ctx, NewOperation("provide", address.Pairs("subsystem", "provider"), nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	res = c.Execute(ctx, NewOperation("consume", address.Pairs("subsystem", "consumer"), nil))
	require.True(t, res.Succeeded(), res.FailureDescription)
	assert.Equal(t, "/subsystem=provider", res.Result.AsString())
}

func TestRun_SerializesWritersAndReadersDoNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(testutil.Context(t))
	release := make(chan struct{})
	entered := make(chan struct{})
	c := newTestController(t, mapDispatcher{
		"slow-add": {h: HandlerFunc(func(ctx *Context, op Operation) error {
			if err := ctx.CreateResource(op.Address, resource.New()); err != nil {
				return err
			}
			return ctx.AddStep(Runtime, HandlerFunc(func(*Context, Operation) error {
				close(entered)
				<-release
				return nil
			}))
		})},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()
	require.Eventually(t, func() bool { return c.worker.Load() != nil }, time.Second, time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	var slowRes Result
	go func() {
		defer wg.Done()
		slowRes = c.Execute(ctx, NewOperation("slow-add", foo, nil))
	}()
	<-entered

	// A reader sees the last committed state while the writer is blocked.
	read := c.Execute(ctx, NewOperation("read-resource", foo, nil))
	assert.False(t, read.Succeeded())

	close(release)
	wg.Wait()
	require.True(t, slowRes.Succeeded(), slowRes.FailureDescription)

	var writers sync.WaitGroup
	results := make([]Result, 10)
	for i := range results {
		writers.Add(1)
		go func(i int) {
			defer writers.Done()
			results[i] = c.Execute(ctx, NewOperation("add", address.Pairs("subsystem", fmt.Sprint(i)), nil))
		}(i)
	}
	writers.Wait()
	for _, r := range results {
		assert.True(t, r.Succeeded(), r.FailureDescription)
	}
	assert.Len(t, c.Tree().Snapshot().ChildNames("subsystem"), 11)

	cancel()
	require.NoError(t, <-runDone)
	assert.Nil(t, c.worker.Load())
}

func TestOperation_ValueRoundTrip(t *testing.T) {
	op := NewOperation("add", foo, map[string]cty.Value{"max": cty.NumberIntVal(10)})
	back, err := OperationFromValue(op.ToValue())
	require.NoError(t, err)
	assert.Equal(t, "add", back.Name)
	assert.True(t, back.Address.Equal(foo))
	assert.True(t, back.Params["max"].RawEquals(cty.NumberIntVal(10)))

	_, err = OperationFromValue(cty.ObjectVal(map[string]cty.Value{"address": cty.StringVal("/a=b")}))
	assert.Error(t, err)
}
