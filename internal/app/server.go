package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/troupe/internal/health"
	"github.com/MrWong99/troupe/internal/observe"
)

const shutdownGrace = 5 * time.Second

// Handler returns the operational endpoints: /metrics, /healthz and /readyz.
// Readiness checks that the session log and the scratch directory are
// writable.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", observe.MetricsHandler())
	health.New(
		health.FileWritable("session_log", a.log.Path()),
		health.DirWritable("scratch", a.voices.ScratchDir()),
	).Register(mux)
	return observe.Middleware(a.met)(mux)
}

// Serve runs the operational HTTP server on metrics.listen_addr until ctx is
// cancelled. It returns immediately when no address is configured.
func (a *App) Serve(ctx context.Context) error {
	addr := a.cfg.Metrics.ListenAddr
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: metrics listener: %w", err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving metrics", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
