package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/payments-capture/internal/application/capture"
	"github.com/cassiomorais/payments-capture/internal/bootstrap"
	domainErrors "github.com/cassiomorais/payments-capture/internal/domain/errors"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payments-capture", "payments_capture")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.Router(),
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Health, metrics and admin server.
	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// 2. Scheduler tick loop.
	app.Scheduler.Start()
	app.Logger.Info().
		Str("pool", app.Pool.Name()).
		Int("max_workers", app.Pool.Size()).
		Msg("Capture scheduler started")

	// 3. Wait for a signal or a fatal error, then drain.
	g.Go(func() error {
		var cause error
		select {
		case <-gCtx.Done():
		case sig := <-quit:
			app.Logger.Info().Str("signal", sig.String()).Msg("Shutting down capture scheduler...")
		case cause = <-app.Fatal():
			app.Logger.Error().Err(cause).Msg("Halting capture scheduler on inconsistency")
		}
		if err := shutdown(app, srv); err != nil {
			return err
		}
		return cause
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Capture scheduler error")
		app.Close()
		os.Exit(1)
	}
	app.Logger.Info().Msg("Capture scheduler exited")
}

// shutdown stops new ticks, cancels queued captures and waits for in-flight
// ones, all within the configured shutdown timeout.
func shutdown(app *bootstrap.App, srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.Scheduler.Stop(ctx); err != nil {
		app.Logger.Warn().Err(err).Msg("Scheduled jobs did not finish in time")
	}

	cancelled, results, err := app.Pool.Cancel(ctx)
	if errors.Is(err, domainErrors.ErrPoolShutDown) {
		return err
	}
	summary := capture.SummarizeDrain(cancelled, results)

	ev := app.Logger.Info()
	if err != nil || summary.Failed > 0 {
		ev = app.Logger.Warn().AnErr("drain_error", err).AnErr("task_errors", summary.Err)
	}
	ev.Int("cancelled", summary.Cancelled).
		Int("in_flight_finished", summary.Finished).
		Int("in_flight_failed", summary.Failed).
		Interface("results", summary.ByResult).
		Msg("Worker pool drained")

	if err := srv.Shutdown(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	return nil
}
