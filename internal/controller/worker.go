package controller

import (
	"context"

	"github.com/specialistvlad/mgmtcore/internal/failure"
)

type request struct {
	ctx     context.Context
	op      Operation
	handler Handler
	reply   chan Result
}

// worker is the queue between Execute and the goroutine running Run.
type worker struct {
	queue   chan *request
	stopped chan struct{}
}

func newWorker(depth int) *worker {
	return &worker{
		queue:   make(chan *request, depth),
		stopped: make(chan struct{}),
	}
}

// submit queues a batch and waits for its result. It returns false when the
// worker stopped before accepting the batch, in which case the caller runs it
// itself.
func (w *worker) submit(ctx context.Context, op Operation, h Handler) (Result, bool) {
	req := &request{ctx: ctx, op: op, handler: h, reply: make(chan Result, 1)}
	select {
	case w.queue <- req:
	case <-w.stopped:
		return Result{}, false
	case <-ctx.Done():
		fe := failure.New(failure.Cancelled, op.Name, op.Address.String(), ctx.Err())
		return failedResult(fe, false, ""), true
	}
	select {
	case res := <-req.reply:
		return res, true
	case <-w.stopped:
		// The request was either answered before Run returned or is still
		// queued; draining answers it in the latter case.
		w.drain()
		return <-req.reply, true
	}
}

// drain answers every request still queued after the worker stopped.
func (w *worker) drain() {
	for {
		select {
		case req := <-w.queue:
			fe := failure.Newf(failure.Cancelled, req.op.Name, req.op.Address.String(), "controller stopped")
			req.reply <- failedResult(fe, false, "")
		default:
			return
		}
	}
}
