package controller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultQueueDepth is the number of write batches that may wait for the
// worker before Execute blocks.
const DefaultQueueDepth = 64

// Controller owns the canonical resource tree and executes operations
// against it.
type Controller struct {
	tree       *resource.Tree
	dispatcher Dispatcher
	caps       *capability.Registry
	target     service.Target
	resolver   *expression.Resolver
	observer   Observer
	tracer     trace.Tracer
	logger     *slog.Logger
	queueDepth int

	// writeMu serializes write batches.
	writeMu sync.Mutex
	worker  atomic.Pointer[worker]
}

// Option configures a Controller.
type Option func(*Controller)

// WithTree uses an existing tree instead of an empty one.
func WithTree(t *resource.Tree) Option {
	return func(c *Controller) { c.tree = t }
}

// WithCapabilities uses an existing capability registry.
func WithCapabilities(r *capability.Registry) Option {
	return func(c *Controller) { c.caps = r }
}

// WithServiceTarget sets the target RUNTIME steps install services into.
func WithServiceTarget(t service.Target) Option {
	return func(c *Controller) { c.target = t }
}

// WithResolver sets the resolver used for expression attributes.
func WithResolver(r *expression.Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithObserver registers an observer of batch events.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// WithTracer traces batches and stages with t.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithLogger sets the logger used when the caller's context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithQueueDepth sets the capacity of the write queue.
func WithQueueDepth(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.queueDepth = n
		}
	}
}

// New creates a controller that resolves handlers through d.
func New(d Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		dispatcher: d,
		observer:   nopObserver{},
		queueDepth: DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tree == nil {
		c.tree = resource.NewTree()
	}
	if c.caps == nil {
		c.caps = capability.NewRegistry()
	}
	if c.resolver == nil {
		c.resolver = expression.NewResolver(nil)
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("mgmtcore/controller")
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Tree returns the canonical resource tree.
func (c *Controller) Tree() *resource.Tree { return c.tree }

// Capabilities returns the capability registry.
func (c *Controller) Capabilities() *capability.Registry { return c.caps }

// ServiceTarget returns the configured service target, which may be nil.
func (c *Controller) ServiceTarget() service.Target { return c.target }

// Resolver returns the expression resolver.
func (c *Controller) Resolver() *expression.Resolver { return c.resolver }

// Execute runs op as one batch and returns its result. Errors never escape
// as Go errors; they are reported in the Result.
func (c *Controller) Execute(ctx context.Context, op Operation) Result {
	ctx = ctxlog.Ensure(ctx, c.logger)

	handler, flags, err := c.dispatcher.Resolve(op.Address, op.Name)
	if err != nil {
		fe, ok := failure.As(err)
		if !ok {
			fe = failure.New(failure.OperationNotFound, op.Name, op.Address.String(), err)
		}
		return failedResult(fe, false, "")
	}
	if op.Address.HasWildcard() && !flags.AllowWildcard {
		fe := failure.Newf(failure.Validation, op.Name, op.Address.String(), "wildcard address not allowed")
		return failedResult(fe, false, "")
	}
	if err := op.Address.Validate(); err != nil && !flags.AllowWildcard {
		return failedResult(failure.New(failure.Validation, op.Name, op.Address.String(), err), false, "")
	}

	if flags.ReadOnly {
		return c.runBatch(ctx, op, handler, true)
	}

	if w := c.worker.Load(); w != nil {
		if res, ok := w.submit(ctx, op, handler); ok {
			return res
		}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.runBatch(ctx, op, handler, false)
}

// Run processes queued write batches on the calling goroutine until ctx is
// done. While Run is active Execute hands write batches to it.
func (c *Controller) Run(ctx context.Context) error {
	ctx = ctxlog.Ensure(ctx, c.logger)
	logger := ctxlog.FromContext(ctx)

	w := newWorker(c.queueDepth)
	if !c.worker.CompareAndSwap(nil, w) {
		return errors.Errorf("controller worker already running")
	}
	logger.Debug("Controller worker started.", "queue_depth", c.queueDepth)
	defer func() {
		c.worker.Store(nil)
		close(w.stopped)
		w.drain()
		logger.Debug("Controller worker finished.")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.queue:
			c.writeMu.Lock()
			res := c.runBatch(req.ctx, req.op, req.handler, false)
			c.writeMu.Unlock()
			req.reply <- res
		}
	}
}

func failedResult(fe *failure.Error, rolledBack bool, batchID string) Result {
	return Result{
		Outcome:            Failed,
		FailureDescription: fe.Error(),
		RolledBack:         rolledBack,
		BatchID:            batchID,
		Err:                fe,
	}
}
