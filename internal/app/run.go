package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run boots the model and serves management requests until ctx is done or
// a component fails. The controller worker, the boot batch and the HTTP
// server run under one errgroup, so a failed boot stops the process.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")
	defer a.shutdownTracing()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.controller.Run(gCtx)
	})
	g.Go(func() error {
		return a.Boot(gCtx)
	})
	if a.config.HTTPPort > 0 {
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.config.HTTPPort)))
		if err != nil {
			return fmt.Errorf("failed to listen on management port: %w", err)
		}
		g.Go(func() error {
			return a.serve(gCtx, ln)
		})
	} else {
		a.logger.Warn("Management HTTP server not started: disabled")
	}

	err := g.Wait()
	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

// serve runs the management server on ln until ctx is done.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Management server starting.", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("management server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	a.logger.Info("Shutting down management server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management server shutdown failed: %w", err)
	}
	return nil
}

func (a *App) shutdownTracing() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.Error("Tracer shutdown failed", "error", err)
	}
}
