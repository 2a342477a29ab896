package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/specialistvlad/mgmtcore/internal/controller"
	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"github.com/specialistvlad/mgmtcore/internal/expression"
	"github.com/specialistvlad/mgmtcore/internal/hcl"
	"github.com/specialistvlad/mgmtcore/internal/inmemoryservice"
	"github.com/specialistvlad/mgmtcore/internal/metrics"
	"github.com/specialistvlad/mgmtcore/internal/operations"
	"github.com/specialistvlad/mgmtcore/internal/registration"
	"github.com/specialistvlad/mgmtcore/internal/tracing"
	"github.com/specialistvlad/mgmtcore/internal/transformers"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config

	registry     *registration.Registry
	controller   *controller.Controller
	container    *inmemoryservice.Container
	resolver     *expression.Resolver
	metrics      *prometheus.Registry
	tracing      *tracing.Provider
	transformers *transformers.Registry
	versions     transformers.PeerVersions

	booted atomic.Bool
}

// NewApp is the constructor for the main application. It returns a fully
// wired App with its own logger, registries and controller. The model is
// empty until Boot runs. With no modules the compiled-in subsystems are used.
func NewApp(outW io.Writer, cfg *Config, modules ...Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}

	reg := registration.New()
	ops := operations.New(reg)
	if err := ops.RegisterGlobals(); err != nil {
		return nil, fmt.Errorf("failed to register global operations: %w", err)
	}

	rules := transformers.NewRegistry()
	versions := make(transformers.PeerVersions, len(modules))
	for _, mod := range modules {
		if err := reg.AddExtension(mod.New(ops)); err != nil {
			return nil, fmt.Errorf("failed to initialize subsystem %s: %w", mod.Name, err)
		}
		versions[mod.Name] = mod.Version
		if mod.Rules == nil {
			continue
		}
		sets, err := mod.Rules()
		if err != nil {
			return nil, fmt.Errorf("failed to load transformer rules of %s: %w", mod.Name, err)
		}
		if err := rules.Add(sets...); err != nil {
			return nil, fmt.Errorf("failed to register transformer rules of %s: %w", mod.Name, err)
		}
	}
	logger.Debug("All subsystems registered.", "count", len(modules), "extensions", reg.Extensions())

	if cfg.RulesDir != "" {
		n, err := transformers.LoadDir(rules, cfg.RulesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load transformer rules: %w", err)
		}
		logger.Debug("Transformer rule files loaded.", "dir", cfg.RulesDir, "count", n)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	observer, err := metrics.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Exporter:   cfg.TraceExporter,
		SampleRate: cfg.TraceSampleRate,
		Output:     outW,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure tracing: %w", err)
	}

	container := inmemoryservice.New()
	resolver := expression.NewResolver(mergeProperties(
		cfg.Properties,
		EnvironmentProperties(cfg.PropertyEnvPrefix, os.Environ()),
	))
	ctrl := controller.New(reg,
		controller.WithServiceTarget(container),
		controller.WithResolver(resolver),
		controller.WithObserver(observer),
		controller.WithTracer(tp.Tracer()),
		controller.WithLogger(logger),
		controller.WithQueueDepth(cfg.QueueDepth),
	)

	return &App{
		outW:         outW,
		logger:       logger,
		config:       cfg,
		registry:     reg,
		controller:   ctrl,
		container:    container,
		resolver:     resolver,
		metrics:      promReg,
		tracing:      tp,
		transformers: rules,
		versions:     versions,
	}, nil
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Controller returns the application's controller.
func (a *App) Controller() *controller.Controller { return a.controller }

// Registry returns the application's registration registry.
func (a *App) Registry() *registration.Registry { return a.registry }

// Services returns the application's service container.
func (a *App) Services() *inmemoryservice.Container { return a.container }

// ModelVersions returns the model version of every registered subsystem.
func (a *App) ModelVersions() transformers.PeerVersions {
	out := make(transformers.PeerVersions, len(a.versions))
	for k, v := range a.versions {
		out[k] = v
	}
	return out
}

// Booted reports whether the boot batch succeeded.
func (a *App) Booted() bool { return a.booted.Load() }

// Boot loads the boot files and executes their operations as one batch.
// Properties from the configuration and the environment override those of
// the boot files.
func (a *App) Boot(ctx context.Context) error {
	ctx = ctxlog.Ensure(ctx, a.logger)
	boot, err := hcl.NewLoader().Load(ctx, a.config.BootPaths...)
	if err != nil {
		return fmt.Errorf("failed to load boot files: %w", err)
	}
	for name, value := range boot.Properties {
		if _, set := a.resolver.Property(name); !set {
			a.resolver.SetProperty(name, value)
		}
	}

	a.logger.Info("Booting.", "operations", len(boot.Operations))
	res := a.controller.Execute(ctx, boot.Composite())
	if !res.Succeeded() {
		return fmt.Errorf("boot failed: %w", res.Err)
	}
	a.booted.Store(true)
	a.logger.Info("Boot complete.", "batch", res.BatchID, "services", len(a.container.IDs()))
	return nil
}

// Execute runs op against the local model.
func (a *App) Execute(ctx context.Context, op controller.Operation) controller.Result {
	return a.controller.Execute(ctxlog.Ensure(ctx, a.logger), op)
}

// Transform rewrites op for a peer on the given model versions, the way a
// channel to that peer would send it. Subsystems missing from versions are
// taken to be current.
func (a *App) Transform(op controller.Operation, versions transformers.PeerVersions) (*transformers.Transformed, error) {
	return transformers.New(a.transformers, transformers.WithCanonicalizer(a.registry)).TransformOperation(op, versions)
}
