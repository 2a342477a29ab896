package web

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/modules/sockets"
	"github.com/specialistvlad/mgmtcore/modules/threads"
)

// ErrTooManyConnections is returned by Serve when the listener is at its
// connection limit.
const ErrTooManyConnections = errors.ConstError("listener is at its connection limit")

// Listener accepts work on a socket binding and runs it on a worker pool,
// admitting at most MaxConnections at once.
type Listener struct {
	name       string
	binding    sockets.Binding
	pool       *threads.Pool
	http2      bool
	bufferSize int64
	scheme     string
	welcome    string

	maxConns atomic.Int64
	active   atomic.Int64
	requests atomic.Int64
}

func newListener(name string, cfg listenerConfig, binding sockets.Binding, pool *threads.Pool) *Listener {
	l := &Listener{
		name:       name,
		binding:    binding,
		pool:       pool,
		http2:      cfg.HTTP2,
		bufferSize: cfg.BufferSize,
		scheme:     cfg.Scheme,
	}
	if cfg.WelcomeContent != nil {
		l.welcome = *cfg.WelcomeContent
	}
	l.maxConns.Store(cfg.MaxConnections)
	return l
}

// Name returns the listener name.
func (l *Listener) Name() string { return l.name }

// Addr returns the address of the listener's socket binding.
func (l *Listener) Addr() string { return l.binding.Addr() }

// URL returns the base URL clients use to reach the listener.
func (l *Listener) URL() string { return l.scheme + "://" + l.Addr() }

// WelcomeContent returns the content hash served at the root path, or "".
func (l *Listener) WelcomeContent() string { return l.welcome }

// HTTP2 reports whether HTTP/2 is enabled.
func (l *Listener) HTTP2() bool { return l.http2 }

// BufferSize returns the buffer size in KiB.
func (l *Listener) BufferSize() int64 { return l.bufferSize }

// Worker returns the name of the pool requests run on.
func (l *Listener) Worker() string { return l.pool.Name() }

// MaxConnections returns the connection limit.
func (l *Listener) MaxConnections() int64 { return l.maxConns.Load() }

// SetMaxConnections changes the connection limit. Connections over a
// lowered limit are not closed.
func (l *Listener) SetMaxConnections(n int64) { l.maxConns.Store(n) }

// ActiveConnections returns the number of connections being served.
func (l *Listener) ActiveConnections() int64 { return l.active.Load() }

// Requests returns the number of requests served since start or the last
// statistics reset.
func (l *Listener) Requests() int64 { return l.requests.Load() }

// ResetStatistics zeroes the request counter and returns its old value.
func (l *Listener) ResetStatistics() int64 { return l.requests.Swap(0) }

// Serve runs fn for one connection on the listener's worker pool.
func (l *Listener) Serve(ctx context.Context, fn func(ctx context.Context)) error {
	if l.active.Add(1) > l.maxConns.Load() {
		l.active.Add(-1)
		return ErrTooManyConnections
	}
	err := l.pool.Go(ctx, func(ctx context.Context) {
		defer l.active.Add(-1)
		l.requests.Add(1)
		fn(ctx)
	})
	if err != nil {
		l.active.Add(-1)
	}
	return err
}

// Start implements service.Service.
func (l *Listener) Start(context.Context) error { return nil }

// Stop implements service.Service.
func (l *Listener) Stop(context.Context) error { return nil }

// Value implements service.Valuer.
func (l *Listener) Value() any { return l }
