package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/fileserver/config"
	"github.com/searchktools/fileserver/core"
	"github.com/searchktools/fileserver/core/observability"
	"github.com/searchktools/fileserver/core/static"
)

const shutdownTimeout = 5 * time.Second

// App wires configuration, logging, metrics and the engine together
type App struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics

	ready chan net.Addr
}

// New creates an application instance logging to stderr
func New(cfg *config.Config) *App {
	return NewWithWriter(cfg, os.Stderr)
}

// NewWithWriter creates an application instance logging to w. Console output
// is used in development, JSON lines otherwise.
func NewWithWriter(cfg *config.Config, w io.Writer) *App {
	if cfg.Env == config.EnvDevelopment {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return &App{
		cfg:     cfg,
		logger:  zerolog.New(w).Level(level).With().Timestamp().Logger(),
		metrics: observability.NewMetrics(),
		ready:   make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the server is accepting connections
func (a *App) Ready() <-chan net.Addr {
	return a.ready
}

// Metrics returns the collectors the engine reports to
func (a *App) Metrics() *observability.Metrics {
	return a.metrics
}

// Run serves until ctx is done. Connections already handed to a worker are
// served to completion before Run returns.
func (a *App) Run(ctx context.Context) error {
	resolver, err := static.NewResolver(a.cfg.Root)
	if err != nil {
		return fmt.Errorf("app: document root: %w", err)
	}

	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	if a.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, a.cfg.MaxConns)
	}

	engine := core.NewEngine(resolver, core.Config{
		Workers: a.cfg.Workers,
		Logger:  &a.logger,
		Metrics: a.metrics,
	})

	a.logger.Info().
		Str("root", resolver.Root()).
		Int("workers", a.cfg.Workers).
		Str("env", a.cfg.Env).
		Msgf("Listening on %s", ln.Addr())
	a.ready <- ln.Addr()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return engine.Serve(ctx, ln)
	})

	if a.cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           a.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			a.logger.Info().Msgf("Metrics on http://%s/metrics", a.cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	a.logger.Info().Msg("Shutting down...")
	engine.Close()

	stats := engine.Stats()
	a.logger.Info().
		Uint64("completed", stats.TasksCompleted).
		Uint64("failed", stats.TasksFailed).
		Msg("Worker pool stopped")

	return err
}

func (a *App) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}
