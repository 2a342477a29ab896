// Package web contributes the web subsystem: listeners that serve on a socket
// binding with a worker pool, both referenced by capability.
//
//	/subsystem=web/listener=default
//	  socket-binding  = "http"     (org.mgmtcore.network.socket-binding)
//	  worker          = "default"  (org.mgmtcore.threads.pool)
//	  max-connections = 100        (live)
//	  http2           = false      (model 2.0.0)
//	  buffer-size     = 16         (KiB)
//
// /subsystem=web/connector=* is an alias of listener=*, kept for clients of
// the old resource name. Rules returns the transformer rules for peers on an
// older model version.
package web

import (
	_ "embed"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
	"github.com/specialistvlad/mgmtcore/internal/address"
	"github.com/specialistvlad/mgmtcore/internal/alias"
	"github.com/specialistvlad/mgmtcore/internal/capability"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/resource"
	"github.com/specialistvlad/mgmtcore/internal/service"
	"github.com/specialistvlad/mgmtcore/internal/transformers"
	"github.com/specialistvlad/mgmtcore/modules/sockets"
	"github.com/specialistvlad/mgmtcore/modules/threads"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

const (
	// Name is the subsystem name.
	Name = "web"
	// ListenerCapability is provided by every listener; its dynamic part is
	// the listener name.
	ListenerCapability = "org.mgmtcore.web.listener"
	// ResetStatistics zeroes a listener's request counter.
	ResetStatistics = "reset-statistics"
)

// ModelVersion is the version of the subsystem's management model.
var ModelVersion = version.MustParse("2.0.0")

// Address is the address of the subsystem.
var Address = address.Pairs("subsystem", Name)

// ListenerAddress returns the address of the named listener.
func ListenerAddress(name string) address.Address {
	return Address.Append(address.NewElement("listener", name))
}

// ConnectorAddress returns the alias address of the named listener.
func ConnectorAddress(name string) address.Address {
	return Address.Append(address.NewElement("connector", name))
}

// ServiceID returns the service id of the named listener.
func ServiceID(name string) service.ID {
	return capability.ServiceName(ListenerCapability, name)
}

// Lookup returns the running listener with the given name.
func Lookup(target service.Target, name string) (*Listener, bool) {
	svc, ok := target.Lookup(ServiceID(name))
	if !ok {
		return nil, false
	}
	l, ok := svc.(*Listener)
	return l, ok
}

//go:embed rules/web-1.0.0.rules.yaml
var rules100 []byte

// Rules returns the transformer rule sets of the subsystem.
func Rules() ([]*transformers.RuleSet, error) {
	rs, err := transformers.Parse(rules100)
	if err != nil {
		return nil, errors.Annotate(err, "web 1.0.0 rules")
	}
	return []*transformers.RuleSet{rs}, nil
}

var (
	maxConnections = &registration.AttributeDefinition{
		Name:            "max-connections",
		Type:            cty.Number,
		Description:     "Maximum number of connections served at once.",
		Default:         cty.NumberIntVal(100),
		AllowExpression: true,
		Validate:        registration.IntRange(1, 100000),
	}
	listenerAttributes = []*registration.AttributeDefinition{
		{
			Name:            "socket-binding",
			Type:            cty.String,
			Description:     "Socket binding the listener serves on.",
			Required:        true,
			RestartRequired: true,
			Capability:      &registration.CapabilityReference{Name: sockets.BindingCapability},
		},
		{
			Name:            "worker",
			Type:            cty.String,
			Description:     "Thread pool requests run on.",
			Required:        true,
			RestartRequired: true,
			Capability:      &registration.CapabilityReference{Name: threads.PoolCapability},
		},
		maxConnections,
		{
			Name:            "http2",
			Type:            cty.Bool,
			Description:     "Enables HTTP/2.",
			Default:         cty.False,
			RestartRequired: true,
		},
		{
			Name:            "buffer-size",
			Type:            cty.Number,
			Description:     "Per-connection buffer size in KiB.",
			Default:         cty.NumberIntVal(16),
			RestartRequired: true,
			Validate:        registration.IntRange(1, 1024),
		},
		{
			Name:            "scheme",
			Type:            cty.String,
			Description:     "URL scheme clients use to reach the listener.",
			Default:         cty.StringVal("http"),
			RestartRequired: true,
			Validate:        registration.OneOf("http", "https"),
		},
		{
			Name:            "welcome-content",
			Type:            cty.String,
			Description:     "Content-repository hash of the content served at the root path.",
			RestartRequired: true,
			Validate:        registration.ContentHash,
		},
		{
			Name:        "active-connections",
			Type:        cty.Number,
			Description: "Connections being served.",
			Storage:     registration.RuntimeStorage,
			Access:      registration.Metric,
			Reader:      listenerMetric((*Listener).ActiveConnections),
		},
		{
			Name:        "request-count",
			Type:        cty.Number,
			Description: "Requests served since start or the last statistics reset.",
			Storage:     registration.RuntimeStorage,
			Access:      registration.Metric,
			Reader:      listenerMetric((*Listener).Requests),
		},
	}
)

type listenerConfig struct {
	SocketBinding  string  `cty:"socket-binding"`
	Worker         string  `cty:"worker"`
	MaxConnections int64   `cty:"max-connections"`
	HTTP2          bool    `cty:"http2"`
	BufferSize     int64   `cty:"buffer-size"`
	Scheme         string  `cty:"scheme"`
	WelcomeContent *string `cty:"welcome-content"`
}

// Module is the web extension.
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
		Description: "Web listeners.",
	}, nil); err != nil {
		return err
	}
	if _, err := m.ops.Register(Address, &registration.ResourceDefinition{
		Element:      address.WildcardElement("listener"),
		Description:  "Serves requests on a socket binding with a worker pool.",
		Attributes:   listenerAttributes,
		Capabilities: []registration.CapabilityDefinition{{Name: ListenerCapability, Dynamic: true}},
		Operations: []registration.OperationEntry{{
			Name:        ResetStatistics,
			Description: "Zeroes the request counter of a running listener.",
			Handler:     controller.HandlerFunc(resetStatistics),
		}},
	}, listenerRuntime{}); err != nil {
		return err
	}
	_, err := alias.Register(ec.Registry(), Address, address.WildcardElement("connector"),
		Address.Append(address.WildcardElement("listener")))
	return err
}

// listenerRuntime runs one Listener service per listener resource.
type listenerRuntime struct{}

var _ operations.AttributeApplier = listenerRuntime{}

// Install implements operations.RuntimeHandler. A binding or pool added in
// the same batch may not be running yet; the not-found error makes the
// install wait for the batch's other runtime steps.
func (listenerRuntime) Install(ctx *controller.Context, addr address.Address, model *resource.Resource) error {
	v, err := operations.ResolveModel(ctx, listenerAttributes, model)
	if err != nil {
		return err
	}
	var cfg listenerConfig
	if err := gocty.FromCtyValue(v, &cfg); err != nil {
		return errors.Annotatef(err, "decoding listener %s", addr)
	}
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	binding, ok := sockets.Lookup(target, cfg.SocketBinding)
	if !ok {
		return errors.NotFoundf("socket binding %q", cfg.SocketBinding)
	}
	pool, ok := threads.Lookup(target, cfg.Worker)
	if !ok {
		return errors.NotFoundf("thread pool %q", cfg.Worker)
	}

	name := addr.Last().Value
	l := newListener(name, cfg, binding, pool)
	deps := []service.ID{sockets.ServiceID(cfg.SocketBinding), threads.ServiceID(cfg.Worker)}
	if _, err := target.Install(ctx.Context(), ServiceID(name), l, deps...); err != nil {
		return err
	}
	ctx.Logger().Info("Listener started.", "listener", name, "address", l.Addr(), "worker", cfg.Worker, "http2", cfg.HTTP2)
	return nil
}

// Uninstall implements operations.RuntimeHandler.
func (listenerRuntime) Uninstall(ctx *controller.Context, addr address.Address, _ *resource.Resource) error {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return err
	}
	name := addr.Last().Value
	if err := target.Remove(ctx.Context(), &service.Handle{ID: ServiceID(name)}); err != nil {
		return err
	}
	ctx.Logger().Info("Listener stopped.", "listener", name)
	return nil
}

// ApplyAttribute implements operations.AttributeApplier. Only
// max-connections is applied live.
func (listenerRuntime) ApplyAttribute(ctx *controller.Context, addr address.Address, name string, v cty.Value) error {
	if name != maxConnections.Name {
		return errors.NotSupportedf("applying %q to a running listener", name)
	}
	l, err := runningListener(ctx, addr)
	if err != nil {
		return err
	}
	resolved, err := operations.ResolveAttribute(ctx, maxConnections, v)
	if err != nil {
		return err
	}
	var n int64
	if err := gocty.FromCtyValue(resolved, &n); err != nil {
		return errors.Annotatef(err, "max-connections of %s", addr)
	}
	l.SetMaxConnections(n)
	return nil
}

func runningListener(ctx *controller.Context, addr address.Address) (*Listener, error) {
	target, err := ctx.ServiceTarget()
	if err != nil {
		return nil, err
	}
	l, ok := Lookup(target, addr.Last().Value)
	if !ok {
		return nil, errors.NotFoundf("listener %s", addr.Last().Value)
	}
	return l, nil
}

func resetStatistics(ctx *controller.Context, op controller.Operation) error {
	if _, err := ctx.ReadResource(op.Address); err != nil {
		return err
	}
	return ctx.AddStepFunc(controller.Runtime, func(ctx *controller.Context, op controller.Operation) error {
		l, err := runningListener(ctx, op.Address)
		if err != nil {
			return err
		}
		previous := l.ResetStatistics()
		ctx.SetResult(cty.NumberIntVal(previous))
		ctx.OnRollback(func(*controller.Context) error {
			l.requests.Add(previous)
			return nil
		})
		return nil
	})
}

func listenerMetric(read func(*Listener) int64) func(*controller.Context, address.Address) (cty.Value, error) {
	return func(ctx *controller.Context, addr address.Address) (cty.Value, error) {
		target, err := ctx.ServiceTarget()
		if err != nil {
			return cty.NilVal, err
		}
		l, ok := Lookup(target, addr.Last().Value)
		if !ok {
			return cty.NullVal(cty.Number), nil
		}
		return cty.NumberIntVal(read(l)), nil
	}
}
