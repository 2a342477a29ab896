package transformers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/failure"
	"github.com/zclconf/go-cty/cty"
)

// Peer executes operations against its own model. *controller.Controller
// is a Peer.
type Peer interface {
	Execute(ctx context.Context, op controller.Operation) controller.Result
}

// VersionedPeer is a Peer that can report the model versions it runs.
type VersionedPeer interface {
	Peer
	ModelVersions(ctx context.Context) (PeerVersions, error)
}

// LocalPeer is a Peer in the same process with fixed versions.
type LocalPeer struct {
	Peer
	Versions PeerVersions
}

// ModelVersions implements VersionedPeer.
func (p LocalPeer) ModelVersions(context.Context) (PeerVersions, error) {
	return p.Versions, nil
}

// Channel sends operations to one legacy peer. The peer's versions are
// negotiated once; every operation afterwards is transformed for them.
type Channel struct {
	t      *Transformer
	peer   VersionedPeer
	logger *slog.Logger

	mu       sync.Mutex
	versions PeerVersions
}

// NewChannel creates a channel to peer.
func NewChannel(t *Transformer, peer VersionedPeer, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{t: t, peer: peer, logger: logger}
}

// Negotiate asks the peer for its model versions unless that already
// happened.
func (c *Channel) Negotiate(ctx context.Context) (PeerVersions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions != nil {
		return c.versions, nil
	}
	v, err := c.peer.ModelVersions(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "negotiating model versions")
	}
	if v == nil {
		v = PeerVersions{}
	}
	c.versions = v
	ctxlog.FromContext(ctxlog.Ensure(ctx, c.logger)).Info("Negotiated peer model versions.", "subsystems", len(v))
	return v, nil
}

// Execute transforms op, runs it on the peer and maps the result back. A
// rejected operation never reaches the peer.
func (c *Channel) Execute(ctx context.Context, op controller.Operation) controller.Result {
	ctx = ctxlog.Ensure(ctx, c.logger)
	logger := ctxlog.FromContext(ctx)

	versions, err := c.Negotiate(ctx)
	if err != nil {
		return failed(failure.New(failure.TransformationRejected, op.Name, op.Address.String(), err))
	}
	tr, err := c.t.TransformOperation(op, versions)
	if err != nil {
		fe, ok := failure.As(err)
		if !ok {
			fe = failure.New(failure.TransformationRejected, op.Name, op.Address.String(), err)
		}
		logger.Warn("Operation rejected for legacy peer.", "operation", op.String(), "error", err)
		return failed(fe)
	}
	if tr.Discarded {
		logger.Debug("Operation discarded for legacy peer.", "operation", op.String())
		res, err := c.t.TransformResult(tr, cty.NullVal(cty.DynamicPseudoType))
		if err != nil {
			return failed(failure.New(failure.TransformationRejected, op.Name, op.Address.String(), err))
		}
		return controller.Result{Outcome: controller.Success, Result: res}
	}

	res := c.peer.Execute(ctx, tr.Operation)
	if !res.Succeeded() {
		return res
	}
	mapped, err := c.t.TransformResult(tr, res.Result)
	if err != nil {
		return failed(failure.New(failure.TransformationRejected, op.Name, op.Address.String(), err))
	}
	res.Result = mapped
	return res
}

func failed(fe *failure.Error) controller.Result {
	return controller.Result{
		Outcome:            controller.Failed,
		FailureDescription: fe.Error(),
		Err:                fe,
	}
}
