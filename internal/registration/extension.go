package registration

import (
	"sort"

	"github.com/juju/errors"
	"github.com/specialistvlad/mgmtcore/internal/address"
)

// Extension contributes subsystems to the registry. Extensions are added at
// process start and may be removed again once none of their resources
// exist, which unregisters everything they registered.
type Extension interface {
	Name() string
	Initialize(ctx *ExtensionContext) error
}

type extensionRecord struct {
	name       string
	subsystems []address.Address
}

// ExtensionContext is handed to Extension.Initialize.
type ExtensionContext struct {
	reg *Registry
	rec *extensionRecord
}

// Registry returns the registry being extended.
func (c *ExtensionContext) Registry() *Registry { return c.reg }

// RegisterSubsystem registers def under the root. The definition's element
// is normally subsystem=<name>.
func (c *ExtensionContext) RegisterSubsystem(def *ResourceDefinition) (*Node, error) {
	n, err := c.reg.Register(address.Root(), def)
	if err != nil {
		return nil, err
	}
	c.rec.subsystems = append(c.rec.subsystems, address.New(def.Element))
	return n, nil
}

// AddExtension initializes ext. If initialization fails, whatever it already
// registered is removed again.
func (r *Registry) AddExtension(ext Extension) error {
	name := ext.Name()
	r.mu.Lock()
	if _, ok := r.extensions[name]; ok {
		r.mu.Unlock()
		return errors.AlreadyExistsf("extension %q", name)
	}
	rec := &extensionRecord{name: name}
	r.extensions[name] = rec
	r.mu.Unlock()

	if err := ext.Initialize(&ExtensionContext{reg: r, rec: rec}); err != nil {
		if rmErr := r.removeRecord(rec); rmErr != nil {
			return errors.Annotatef(err, "initializing extension %q (cleanup: %v)", name, rmErr)
		}
		return errors.Annotatef(err, "initializing extension %q", name)
	}
	return nil
}

// ExtensionSubsystems returns the subsystem addresses the named extension
// registered.
func (r *Registry) ExtensionSubsystems(name string) ([]address.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.extensions[name]
	if !ok {
		return nil, errors.NotFoundf("extension %q", name)
	}
	return append([]address.Address(nil), rec.subsystems...), nil
}

// UnregisterExtension unregisters every subsystem of the named extension.
// It does not look at the model: the caller makes sure no resource of those
// subsystems exists, as the remove-extension operation does.
func (r *Registry) UnregisterExtension(name string) error {
	r.mu.RLock()
	rec, ok := r.extensions[name]
	r.mu.RUnlock()
	if !ok {
		return errors.NotFoundf("extension %q", name)
	}
	return r.removeRecord(rec)
}

// removeRecord unregisters the subsystems of rec, newest first. The record
// is dropped only when every subsystem is gone.
func (r *Registry) removeRecord(rec *extensionRecord) error {
	for i := len(rec.subsystems) - 1; i >= 0; i-- {
		err := r.Unregister(rec.subsystems[i])
		if err != nil && !errors.Is(err, errors.NotFound) {
			return errors.Annotatef(err, "unregistering %s", rec.subsystems[i])
		}
		rec.subsystems = rec.subsystems[:i]
	}
	r.mu.Lock()
	delete(r.extensions, rec.name)
	r.mu.Unlock()
	return nil
}

// Extensions returns the names of the added extensions.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extensions))
	for name := range r.extensions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
