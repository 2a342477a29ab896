package controller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/zclconf/go-cty/cty"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type step struct {
	op      Operation
	handler Handler
	resp    *Response
}

type armed struct {
	fn   Compensation
	slot Slot
	step *step
}

// batch is the state of one top-level operation while it executes.
type batch struct {
	c        *Controller
	id       string
	ctx      context.Context
	op       Operation
	readOnly bool

	tx            *resource.Transaction
	stage         Stage
	queues        [Done][]*step
	changes       capability.Changes
	capUndo       func()
	compensations []armed
	completed     []func(Outcome)
	headers       map[string]cty.Value
	rollbackOnly  bool
	root          *Response
}

func (c *Controller) runBatch(ctx context.Context, op Operation, h Handler, readOnly bool) Result {
	id := uuid.NewString()
	ctx = ctxlog.With(ctx, "batch", id, "operation", op.Name, "address", op.Address.String())
	ctx, span := c.tracer.Start(ctx, "batch "+op.Name, trace.WithAttributes(
		attribute.String("mgmt.batch.id", id),
		attribute.String("mgmt.operation", op.Name),
		attribute.String("mgmt.address", op.Address.String()),
		attribute.Bool("mgmt.read_only", readOnly),
	))
	defer span.End()

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Batch started.", "read_only", readOnly)
	start := time.Now()
	c.observer.BatchStarted(op, readOnly)

	b := &batch{
		c:        c,
		id:       id,
		ctx:      ctx,
		op:       op,
		readOnly: readOnly,
		tx:       c.tree.Begin(),
		stage:    Model,
		headers:  make(map[string]cty.Value),
		root:     &Response{op: op},
	}
	b.queues[Model] = append(b.queues[Model], &step{op: op, handler: h, resp: b.root})

	res := b.run()
	res.BatchID = id

	elapsed := time.Since(start)
	c.observer.BatchFinished(op, readOnly, res.Outcome, res.RolledBack, elapsed)
	if res.Succeeded() {
		logger.Debug("Batch completed.", "elapsed", elapsed)
	} else {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.FailureDescription)
		logger.Info("Batch failed.", "rolled_back", res.RolledBack, "error", res.FailureDescription)
	}
	return res
}

func (b *batch) run() Result {
	for _, stage := range []Stage{Model, Runtime, Verify} {
		b.stage = stage
		if stage == Runtime {
			if fe := b.resolveCapabilities(); fe != nil {
				return b.rollback(fe)
			}
		}
		if fe := b.runStage(stage); fe != nil {
			return b.rollback(fe)
		}
		if b.rollbackOnly {
			return b.rollback(failure.Newf(failure.Validation, b.op.Name, b.op.Address.String(), "rollback requested during %s stage", stage))
		}
	}
	if err := b.ctx.Err(); err != nil {
		return b.rollback(failure.New(failure.Cancelled, b.op.Name, b.op.Address.String(), err))
	}

	b.stage = Done
	if b.readOnly {
		b.tx.Discard()
	} else if err := b.tx.Commit(); err != nil {
		return b.rollback(failure.New(failure.Validation, b.op.Name, b.op.Address.String(), err))
	}
	b.compensations = nil
	b.complete(Success)

	res := Result{Outcome: Success, Result: b.root.Result()}
	if len(b.headers) > 0 {
		res.Headers = b.headers
	}
	return res
}

func (b *batch) runStage(stage Stage) *failure.Error {
	if len(b.queues[stage]) == 0 {
		return nil
	}
	start := time.Now()
	_, span := b.c.tracer.Start(b.ctx, stage.String())
	defer span.End()
	logger := ctxlog.FromContext(b.ctx)
	logger.Debug("Stage started.", "stage", stage, "steps", len(b.queues[stage]))

	for len(b.queues[stage]) > 0 {
		if err := b.ctx.Err(); err != nil {
			return failure.New(failure.Cancelled, b.op.Name, b.op.Address.String(), err)
		}
		s := b.queues[stage][0]
		b.queues[stage] = b.queues[stage][1:]
		if fe := b.execute(s); fe != nil {
			span.SetStatus(codes.Error, fe.Error())
			return fe
		}
	}
	b.c.observer.StageCompleted(stage, time.Since(start))
	return nil
}

// execute runs one step. Compensations it registered are armed only when it
// returns without error.
func (b *batch) execute(s *step) (fe *failure.Error) {
	sc := b.newContext(s, b.stage, b.ctx)
	defer func() {
		if r := recover(); r != nil {
			fe = b.classify(b.stage, s.op, fmt.Errorf("handler panicked: %v", r))
		}
	}()
	if err := s.handler.Execute(sc, s.op); err != nil {
		return b.classify(b.stage, s.op, err)
	}
	b.compensations = append(b.compensations, sc.pending...)
	return nil
}

func (b *batch) resolveCapabilities() *failure.Error {
	if b.readOnly || b.changes.Empty() {
		return nil
	}
	undo, err := b.c.caps.Apply(&b.changes)
	if err != nil {
		fe := failure.New(failure.CapabilityResolution, b.op.Name, b.op.Address.String(), err)
		var re *capability.ResolutionError
		if errors.As(err, &re) {
			for _, p := range re.Problems {
				fe.Details = append(fe.Details, p.Requester.String())
			}
		}
		return fe
	}
	b.capUndo = undo
	ctxlog.FromContext(b.ctx).Debug("Capabilities resolved.")
	return nil
}

func (b *batch) rollback(cause *failure.Error) Result {
	logger := ctxlog.FromContext(b.ctx)
	logger.Debug("Rolling back batch.", "stage", b.stage, "error", cause)
	b.stage = RolledBack

	var compFailures []string
	for _, slot := range []Slot{Normal, Late} {
		for i := len(b.compensations) - 1; i >= 0; i-- {
			a := b.compensations[i]
			if a.slot != slot {
				continue
			}
			err := b.compensate(a)
			b.c.observer.CompensationRan(slot, err)
			if err != nil {
				logger.Error("Compensation failed.", "step", a.step.op.String(), "error", err)
				compFailures = append(compFailures, fmt.Sprintf("%s: %v", a.step.op, err))
			}
		}
	}
	b.compensations = nil
	if b.capUndo != nil {
		b.capUndo()
		b.capUndo = nil
	}
	b.tx.Discard()
	b.complete(Failed)

	desc := cause.Error()
	if len(compFailures) > 0 {
		desc += "; compensation failures: " + strings.Join(compFailures, "; ")
	}
	return Result{
		Outcome:            Failed,
		FailureDescription: desc,
		RolledBack:         !b.readOnly,
		Err:                cause,
	}
}

func (b *batch) compensate(a armed) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panicked: %v", r)
		}
	}()
	return a.fn(b.newContext(a.step, RolledBack, context.WithoutCancel(b.ctx)))
}

func (b *batch) complete(outcome Outcome) {
	hooks := b.completed
	b.completed = nil
	for _, fn := range hooks {
		fn(outcome)
	}
}

func (b *batch) classify(stage Stage, op Operation, err error) *failure.Error {
	if fe, ok := failure.As(err); ok {
		if fe.Operation == "" {
			fe.Operation = op.Name
		}
		if fe.Address == "" {
			fe.Address = op.Address.String()
		}
		return fe
	}
	kind := failure.Validation
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = failure.Cancelled
	case stage == Runtime:
		kind = failure.RuntimeInstall
	}
	return failure.New(kind, op.Name, op.Address.String(), err)
}
