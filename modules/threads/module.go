// Package threads contributes the threads subsystem: named, bounded worker
// pools other subsystems reference through the pool capability.
//
//	/subsystem=threads/pool=default
//	  max-threads  = 8      (live, may be an expression)
//	  stop-timeout = "30s"  (restart required)
//	  active-tasks          (metric)
package threads

import (
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

const (
	// Name is the subsystem name.
	Name = "threads"
	// PoolCapability is provided by every pool; its dynamic part is the
	// pool name.
	PoolCapability = "org.mgmtcore.threads.pool"
)

// ModelVersion is the version of the subsystem's management model.
var ModelVersion = version.MustParse("1.0.0")

// Address is the address of the subsystem.
var Address = address.Pairs("subsystem", Name)

// PoolAddress returns the address of the named pool.
func PoolAddress(name string) address.Address {
	return Address.Append(address.NewElement("pool", name))
}

// ServiceID returns the service id of the named pool.
func ServiceID(name string) service.ID {
	return capability.ServiceName(PoolCapability, name)
}

// Lookup returns the running pool with the given name.
func Lookup(target service.Target, name string) (*Pool, bool) {
	svc, ok := target.Lookup(ServiceID(name))
	if !ok {
		return nil, false
	}
	p, ok := svc.(*Pool)
	return p, ok
}

var (
	maxThreads = &registration.AttributeDefinition{
		Name:            "max-threads",
		Type:            cty.Number,
		Description:     "Maximum number of tasks running at once.",
		Default:         cty.NumberIntVal(8),
		AllowExpression: true,
		Validate:        registration.IntRange(1, 1024),
	}
	stopTimeout = &registration.AttributeDefinition{
		Name:            "stop-timeout",
		Type:            cty.String,
		Description:     "How long stopping the pool waits for running tasks.",
		Default:         cty.StringVal("30s"),
		AllowExpression: true,
		RestartRequired: true,
		Validate:        validDuration,
	}
	activeTasks = &registration.AttributeDefinition{
		Name:        "active-tasks",
		Type:        cty.Number,
		Description: "Number of running tasks.",
		Storage:     registration.RuntimeStorage,
		Access:      registration.Metric,
		Reader:      readActiveTasks,
	}
	poolAttributes = []*registration.AttributeDefinition{maxThreads, stopTimeout, activeTasks}
)

func validDuration(v cty.Value) error {
	d, err := time.ParseDuration(v.AsString())
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("duration %s must be positive", d)
	}
	return nil
}

// poolConfig is the resolved model of a pool.
type poolConfig struct {
	MaxThreads  int64  `cty:"max-threads"`
	StopTimeout string `cty:"stop-timeout"`
}

// Module is the threads extension.
type Module struct {
	ops *operations.Handlers
}

// New creates the extension. Its resources get the generic handlers of ops.
func New(ops *operations.Handlers) *Module {
	return &Module{ops: ops}
}

// Name implements registration.Extension.
func (m *Module) Name() string { return Name }

// Initialize implements registration.Extension.
func (m *Module) Initialize(ec *registration.ExtensionContext) error {
	if _, err := m.ops.RegisterSubsystem(ec, &registration.ResourceDefinition{
		Element:     address.NewElement("subsystem", Name),
		Description: "Worker pools.",
	}, nil); err != nil {
		return err
	}
	_, err := m.ops.Register(Address, &registration.ResourceDefinition{
		Element:      address.WildcardElement("pool"),
		Description:  "A bounded worker pool.",
		Attributes:   poolAttributes,
		Capabilities: []registration.CapabilityDefinition{{Name: PoolCapability, Dynamic: true}},
	}, poolRuntime{})
	return err
}

// poolRuntime runs one Pool service per pool resource.
type poolRuntime struct{}

var _ operations.AttributeApplier = poolRuntime{}

// Install implements operations.RuntimeHandler.
func (poolRuntime) Install(ctx *controller.Context, addr address.Address, model *resource.Resource) error {
	v, err := operations.ResolveModel(ctx, poolAttributes, model)
	if err != nil {
		return err
	}
	var cfg poolConfig
	if err := gocty.FromCtyValue(v, &cfg); err != nil {
		return errors.Annotatef(err, "decoding pool %s", addr)
	}
	timeout, err := time.ParseDuration(cfg.StopTimeout)
	if err != nil {
		return errors.Annotatef(err, "pool %s", addr)
	}
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	name := addr.Last().Value
	if _, err := target.Install(ctx.Context(), ServiceID(name), NewPool(name, cfg.MaxThreads, timeout)); err != nil {
		return err
	}
	ctx.Logger().Info("Thread pool started.", "pool", name, "max_threads", cfg.MaxThreads)
	return nil
}

// Uninstall implements operations.RuntimeHandler.
func (poolRuntime) Uninstall(ctx *controller.Context, addr address.Address, _ *resource.Resource) error {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	name := addr.Last().Value
	if err := target.Remove(ctx.Context(), &service.Handle{ID: ServiceID(name)}); err != nil {
		return err
	}
	ctx.Logger().Info("Thread pool stopped.", "pool", name)
	return nil
}

// ApplyAttribute implements operations.AttributeApplier. Only max-threads is
// applied live.
func (poolRuntime) ApplyAttribute(ctx *controller.Context, addr address.Address, name string, v cty.Value) error {
	if name != maxThreads.Name {
		return errors.NotSupportedf("applying %q to a running pool", name)
	}
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	pool, ok := Lookup(target, addr.Last().Value)
	if !ok {
		return errors.NotFoundf("pool %s", addr.Last().Value)
	}
	resolved, err := operations.ResolveAttribute(ctx, maxThreads, v)
	if err != nil {
		return err
	}
	var size int64
	if err := gocty.FromCtyValue(resolved, &size); err != nil {
		return errors.Annotatef(err, "max-threads of %s", addr)
	}
	pool.Resize(size)
	ctx.Logger().Debug("Thread pool resized.", "pool", pool.Name(), "max_threads", size)
	return nil
}

func readActiveTasks(ctx *controller.Context, addr address.Address) (cty.Value, error) {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return cty.NilVal, err
	}
	pool, ok := Lookup(target, addr.Last().Value)
	if !ok {
		return cty.NullVal(cty.Number), nil
	}
	return cty.NumberIntVal(pool.Active()), nil
}
