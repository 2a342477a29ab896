// Package inmemoryservice provides an in-process, thread-safe implementation
// of service.Target.
//
// The container keeps installed services in a map guarded by a RWMutex.
// Lookups take the read lock; Install and Remove take the write lock only to
// update bookkeeping, never while a service starts or stops, so a slow start
// does not block concurrent lookups.
package inmemoryservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/service"
)

type entry struct {
	svc      service.Service
	deps     []service.ID
	starting bool
}

// Container is an in-memory service.Target.
type Container struct {
	mu       sync.RWMutex
	services map[service.ID]*entry
}

// New creates an empty container.
func New() *Container {
	return &Container{services: make(map[service.ID]*entry)}
}

var _ service.Target = (*Container)(nil)

// Install implements service.Target.
func (c *Container) Install(ctx context.Context, id service.ID, svc service.Service, deps ...service.ID) (*service.Handle, error) {
	logger := ctxlog.FromContext(ctx).With("service", id)

	c.mu.Lock()
	if _, ok := c.services[id]; ok {
		c.mu.Unlock()
		return nil, errors.AlreadyExistsf("service %s", id)
	}
	for _, dep := range deps {
		e, ok := c.services[dep]
		if !ok || e.starting {
			c.mu.Unlock()
			return nil, errors.NotFoundf("dependency %s of service %s", dep, id)
		}
	}
	e := &entry{svc: svc, deps: append([]service.ID(nil), deps...), starting: true}
	c.services[id] = e
	c.mu.Unlock()

	logger.Debug("Starting service.", "dependencies", deps)
	if err := svc.Start(ctx); err != nil {
		c.mu.Lock()
		delete(c.services, id)
		c.mu.Unlock()
		logger.Debug("Service failed to start.", "error", err)
		return nil, fmt.Errorf("service %s failed to start: %w", id, err)
	}

	c.mu.Lock()
	e.starting = false
	c.mu.Unlock()
	logger.Debug("Service started.")
	return &service.Handle{ID: id, Dependencies: e.deps}, nil
}

// Remove implements service.Target.
func (c *Container) Remove(ctx context.Context, h *service.Handle) error {
	if h == nil {
		return errors.NotValidf("nil service handle")
	}
	c.mu.Lock()
	e, ok := c.services[h.ID]
	if !ok {
		c.mu.Unlock()
		return errors.NotFoundf("service %s", h.ID)
	}
	delete(c.services, h.ID)
	c.mu.Unlock()

	ctxlog.FromContext(ctx).Debug("Stopping service.", "service", h.ID)
	if err := e.svc.Stop(ctx); err != nil {
		return fmt.Errorf("service %s failed to stop: %w", h.ID, err)
	}
	return nil
}

// Lookup implements service.Target.
func (c *Container) Lookup(id service.ID) (service.Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.services[id]
	if !ok || e.starting {
		return nil, false
	}
	return e.svc, true
}

// State implements service.Target.
func (c *Container) State(id service.ID) service.State {
	if _, ok := c.Lookup(id); ok {
		return service.Up
	}
	return service.Down
}

// IDs returns the ids of all running services.
func (c *Container) IDs() []service.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]service.ID, 0, len(c.services))
	for id, e := range c.services {
		if !e.starting {
			out = append(out, id)
		}
	}
	return out
}
