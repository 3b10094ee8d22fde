package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alfredjeanlab/pipeflow/internal/config"
	"github.com/alfredjeanlab/pipeflow/internal/events"
	"github.com/alfredjeanlab/pipeflow/internal/gateway"
	"github.com/alfredjeanlab/pipeflow/internal/hooks"
	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/server"
	"github.com/alfredjeanlab/pipeflow/internal/store"
	"github.com/alfredjeanlab/pipeflow/internal/store/memory"
	"github.com/alfredjeanlab/pipeflow/internal/store/postgres"
	pfsync "github.com/alfredjeanlab/pipeflow/internal/sync"
	"github.com/spf13/cobra"
)

const (
	// sessionSweepInterval is how often idle sessions are looked for.
	sessionSweepInterval = time.Minute
	httpShutdownTimeout  = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the pipeflow server (sessions API and validator service)",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: noClient,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		restore, _ := cmd.Flags().GetString("restore")
		d := &daemon{
			cfg:    cfg,
			logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})),
		}
		return d.run(cmd.Context(), restore)
	},
}

// daemon holds what serve has started. Stops run in reverse order of
// registration, so a failed startup unwinds only what came up.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	stops  []func()
}

func (d *daemon) onStop(component string, fn func() error) {
	d.stops = append(d.stops, func() {
		if err := fn(); err != nil {
			d.logger.Error("stop failed", "component", component, "err", err)
			return
		}
		d.logger.Debug("stopped", "component", component)
	})
}

func (d *daemon) shutdown() {
	for i := len(d.stops) - 1; i >= 0; i-- {
		d.stops[i]()
	}
	d.stops = nil
}

func (d *daemon) run(ctx context.Context, restore string) error {
	defer d.shutdown()

	st, err := openStore(ctx, d.cfg, d.logger)
	if err != nil {
		return err
	}
	d.onStop("store", st.Close)
	if restore != "" {
		n, err := restoreFrom(ctx, d.cfg, st, restore)
		if err != nil {
			return err
		}
		d.logger.Info("restored pipelines", "file", restore, "records", n)
	}

	publisher, err := d.publisher()
	if err != nil {
		return err
	}
	d.onStop("publisher", publisher.Close)

	validator, closeValidator, source, err := serverValidator(d.cfg)
	if err != nil {
		return err
	}
	d.onStop("validator", closeValidator)
	gw := gateway.New(validator, gateway.WithTimeout(d.cfg.SubmitTimeout), gateway.WithLogger(d.logger))
	d.logger.Info("validation gateway ready", "source", source, "timeout", d.cfg.SubmitTimeout)

	ps := server.NewPipelineServer(st, publisher,
		server.WithGateway(gw, source),
		server.WithLogger(d.logger),
	)
	d.onStop("sessions", func() error { ps.Close(); return nil })
	if d.cfg.SessionIdle > 0 {
		ps.StartSessionReaper(d.cfg.SessionIdle, sessionSweepInterval)
	}

	if err := d.serveGRPC(ps); err != nil {
		return err
	}
	d.serveHTTP(ps)

	scheduler := startScheduler(ctx, d.cfg, st, d.logger)
	if scheduler != nil {
		d.onStop("sync", func() error { scheduler.Stop(); return nil })
	}
	d.startAutoValidation(ps)

	d.logger.Info("pipeflow server started",
		"grpc_addr", d.cfg.GRPCAddr,
		"http_addr", d.cfg.HTTPAddr,
		"session_idle", d.cfg.SessionIdle,
	)
	sig := waitForShutdown(ctx, func() {
		if scheduler != nil {
			d.logger.Info("received SIGHUP, syncing now")
			scheduler.Trigger()
		}
	})
	d.logger.Info("shutting down", "signal", sig)
	return nil
}

func (d *daemon) publisher() (events.Publisher, error) {
	if d.cfg.NATSURL == "" {
		d.logger.Info("events disabled (PIPEFLOW_NATS_URL not set)")
		return &events.NoopPublisher{}, nil
	}
	pub, err := events.NewNATSPublisher(d.cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	d.logger.Info("events enabled", "nats_url", d.cfg.NATSURL)
	return pub, nil
}

func (d *daemon) serveGRPC(ps *server.PipelineServer) error {
	lis, err := net.Listen("tcp", d.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listener: %w", err)
	}
	srv := server.NewGRPCServer(ps, d.cfg.AuthToken)
	go func() {
		d.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			d.logger.Error("gRPC server error", "err", err)
		}
	}()
	d.onStop("grpc", func() error { srv.GracefulStop(); return nil })
	return nil
}

func (d *daemon) serveHTTP(ps *server.PipelineServer) {
	srv := &http.Server{
		Addr:              d.cfg.HTTPAddr,
		Handler:           ps.NewHTTPHandler(d.cfg.AuthToken, d.cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		d.logger.Info("HTTP server listening", "addr", d.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server error", "err", err)
		}
	}()
	d.onStop("http", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// startAutoValidation validates pipelines shortly after their graph
// changes. It needs NATS; without it the server runs without hooks.
func (d *daemon) startAutoValidation(ps *server.PipelineServer) {
	if d.cfg.NATSURL == "" || d.cfg.AutoValidateDelay <= 0 {
		return
	}
	sub, err := events.NewNATSSubscriber(d.cfg.NATSURL)
	if err != nil {
		d.logger.Error("auto-validation disabled", "err", err)
		return
	}
	handler := hooks.NewHandler(ps, hooks.Config{
		Delay:        d.cfg.AutoValidateDelay,
		CycleCommand: d.cfg.CycleHook,
		CycleTimeout: d.cfg.CycleHookTimeout,
	}, d.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := handler.StartSubscriber(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("auto-validation subscriber error", "err", err)
		}
	}()
	d.onStop("auto-validation", func() error {
		cancel()
		<-done
		return sub.Close()
	})
	d.logger.Info("auto-validation started", "delay", d.cfg.AutoValidateDelay, "cycle_hook", d.cfg.CycleHook != "")
}

// waitForShutdown blocks until SIGINT, SIGTERM or ctx ends. Each SIGHUP
// in the meantime calls onHangup.
func waitForShutdown(ctx context.Context, onHangup func()) string {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return "context done"
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				return sig.String()
			}
			onHangup()
		}
	}
}

// openStore connects to Postgres when a database URL is configured and
// falls back to an in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("PIPEFLOW_DATABASE_URL not set, pipelines are kept in memory")
		return memory.New(), nil
	}
	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	version, dirty, err := st.SchemaVersion(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if dirty {
		st.Close()
		return nil, fmt.Errorf("database schema version %d is dirty; fix it before serving", version)
	}
	logger.Info("postgres store ready", "schema_version", version)
	return st, nil
}

// restoreFrom loads a JSONL export into st. src is a file path or an
// s3://bucket/key URL.
func restoreFrom(ctx context.Context, cfg *config.Config, st store.Store, src string) (int, error) {
	var r io.Reader
	if strings.HasPrefix(src, "s3://") {
		bucket, key, err := pfsync.ParseS3URL(src)
		if err != nil {
			return 0, err
		}
		dest, err := pfsync.NewS3Destination(ctx, s3Config(cfg, bucket, key))
		if err != nil {
			return 0, err
		}
		data, err := dest.Fetch(ctx)
		if err != nil {
			return 0, err
		}
		r = bytes.NewReader(data)
	} else {
		f, err := os.Open(src)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		r = f
	}
	n, err := pfsync.ImportJSONL(ctx, st, r)
	if err != nil {
		return 0, fmt.Errorf("restoring %s: %w", src, err)
	}
	return n, nil
}

func s3Config(cfg *config.Config, bucket, key string) pfsync.S3Config {
	return pfsync.S3Config{
		Bucket:   bucket,
		Key:      key,
		Region:   cfg.SyncS3Region,
		Endpoint: cfg.SyncS3Endpoint,
	}
}

// serverValidator returns the remote validator named by the config, or the
// in-process one when none is configured.
func serverValidator(cfg *config.Config) (gateway.Validator, func() error, model.ValidationSource, error) {
	if cfg.ValidatorURL == "" {
		return gateway.Local{}, func() error { return nil }, model.SourceLocal, nil
	}
	v, closeFn, err := newRemoteValidator(cfg.ValidatorURL, cfg.AuthToken)
	if err != nil {
		return nil, nil, "", err
	}
	return v, closeFn, model.SourceRemote, nil
}

func startScheduler(ctx context.Context, cfg *config.Config, st store.Store, logger *slog.Logger) *pfsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []pfsync.Destination

	if cfg.SyncS3Bucket != "" {
		s3Dest, err := pfsync.NewS3Destination(ctx, s3Config(cfg, cfg.SyncS3Bucket, cfg.SyncS3Key))
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync destination enabled", "destination", s3Dest.Name())
		}
	}

	if cfg.SyncGitRepo != "" {
		gitDest := pfsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch)
		dests = append(dests, gitDest)
		logger.Info("sync destination enabled", "destination", gitDest.Name())
	}

	if len(dests) == 0 {
		return nil
	}
	scheduler := pfsync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start(ctx)
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}

func init() {
	serveCmd.Flags().String("restore", "", "load a JSONL export (file or s3://bucket/key) into the store before serving")
}
