//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VoolFI71/pollkv/internal/config"
	"github.com/VoolFI71/pollkv/internal/engine"
	"github.com/VoolFI71/pollkv/internal/handler"
	"github.com/VoolFI71/pollkv/internal/logging"
	"github.com/VoolFI71/pollkv/internal/metrics"
	"github.com/VoolFI71/pollkv/internal/reactor"
	"github.com/VoolFI71/pollkv/internal/storage"
)

var (
	v       = config.NewViper()
	rootCmd = &cobra.Command{
		Use:   "kv-server",
		Short: "Serve the key-value store",
		Long: `Serve the key-value store on a single event loop. Settings can be given as flags or
as environment variables named POLLKV_<FLAG> (e.g. POLLKV_PORT=6000), also read from .env files.`,
		SilenceUsage: true,
		RunE:         run,
	}
)

func init() {
	cobra.OnInitialize(config.LoadEnvFiles)
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logConfig(log, cfg)

	st := storage.New(cfg.MapOptions()...)
	defer st.Close()
	h := handler.New(st, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	switch cfg.Engine {
	case config.EngineGnet:
		srv := engine.New(engine.Config{Port: cfg.Port, NoDelay: cfg.TCPNoDelay}, h, log)
		g.Go(func() error { return srv.Run(ctx) })
	default:
		r, err := reactor.Listen(reactor.Config{
			Port:        cfg.Port,
			PollTimeout: cfg.PollTimeout,
			NoDelay:     cfg.TCPNoDelay,
		}, h, log)
		if err != nil {
			log.Error("server setup failed", zap.Error(err))
			return err
		}
		g.Go(func() (err error) {
			defer func() { err = multierr.Append(err, r.Close()) }()
			return r.Run(ctx)
		})
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.MetricsAddr, log) })
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}

// logConfig renders the configuration only when debug logging is enabled.
func logConfig(log *zap.Logger, cfg *config.Config) {
	log.Debug("configuration", zap.Stringer("config", cfg))
}

func serveMetrics(ctx context.Context, addr string, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
