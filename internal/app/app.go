package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phd-crm/crm-service/internal/config"
	"github.com/phd-crm/crm-service/internal/observability"
	"github.com/phd-crm/crm-service/internal/repository"
)

// App owns the HTTP server and the background session sweeper, and drives
// graceful shutdown for both plus the observability runtime.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Sessions      repository.SessionRepository
	Observability *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, sessions repository.SessionRepository, runtime *observability.Runtime) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Sessions:      sessions,
		Observability: runtime,
	}
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives, then
// drains in-flight requests within the configured shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeperDone := make(chan struct{})
	go a.sweepSessions(ctx, sweeperDone)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		<-sweeperDone
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down", "timeout", a.Config.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	<-sweeperDone
	if a.Observability != nil {
		if err := a.Observability.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sweepSessions periodically deletes expired session rows. Reads already
// treat expiry as authoritative, so the sweeper only reclaims storage.
func (a *App) sweepSessions(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	if a.Sessions == nil || a.Config.SessionSweepEvery <= 0 {
		return
	}
	ticker := time.NewTicker(a.Config.SessionSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Sessions.DeleteExpired(ctx)
			if err != nil {
				a.Logger.Warn("session sweep failed", "error", err.Error())
				continue
			}
			if n > 0 {
				a.Logger.Info("swept expired sessions", "deleted", n)
			}
		}
	}
}
