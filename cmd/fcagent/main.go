// Command fcagent is the guest agent that runs inside Firecracker microVMs.
// It accepts execution requests over vsock (or loopback TCP for local
// testing), runs them, and answers with the exit status and captured output.
//
// Build with: CGO_ENABLED=0 GOOS=linux GOARCH=amd64 go build -o fcagent ./cmd/fcagent
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gettakaro/fcagent/internal/agent"
	"github.com/gettakaro/fcagent/internal/api"
	"github.com/gettakaro/fcagent/internal/config"
	"github.com/gettakaro/fcagent/internal/execution"
	"github.com/gettakaro/fcagent/internal/journal"
	"github.com/gettakaro/fcagent/internal/lifecycle"
	"github.com/gettakaro/fcagent/internal/netboot"
	"github.com/gettakaro/fcagent/internal/tracing"
	"github.com/gettakaro/fcagent/internal/transport"
	"github.com/gettakaro/fcagent/internal/wire"
)

func main() {
	// Mount /proc, /sys and /dev before anything reads them.
	pid1 := netboot.SetupInit(config.NewLogger(os.Stderr, slog.LevelInfo))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	if err := run(cfg, logger, pid1); err != nil {
		log.Fatalf("fcagent: %v", err)
	}
	logger.Info("fcagent: stopped")
}

func run(cfg config.Config, logger *slog.Logger, pid1 bool) error {
	logger.Info("fcagent: starting",
		"transport", cfg.Transport,
		"protocol", cfg.Protocol,
		"pid1", pid1,
		"journal", cfg.JournalPath != "",
	)

	recorder := &journal.Recorder{Logger: logger}
	if cfg.JournalPath != "" {
		db, err := journal.NewSQLiteStore(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer db.Close()
		recorder.Store = db
	}

	ex := execution.New(execution.Config{
		DataVar: cfg.DataVar,
		Timeout: cfg.ExecTimeout,
	}, logger)
	tracer := tracing.Tracer()

	var adapter lifecycle.Adapter
	switch cfg.Protocol {
	case config.ProtocolHTTP:
		adapter = api.NewServer(api.Config{
			MaxBody:    int64(cfg.MaxPayload),
			RedactArgs: cfg.RedactArgs,
			Tracer:     tracer,
			Journal:    recorder,
		}, ex, logger)
	default:
		adapter = agent.New(agent.Config{
			Limits:     wire.Limits{MaxPayload: cfg.MaxPayload},
			RedactArgs: cfg.RedactArgs,
			WorkDir:    cfg.WorkDir,
			RunCommand: cfg.RunCommand,
			Tracer:     tracer,
			Journal:    recorder,
		}, ex, logger)
		if cfg.MetricsAddr != "" {
			stop := serveMetrics(cfg.MetricsAddr, logger)
			defer stop()
		}
	}

	tr, err := transport.New(transport.Options{
		Mode:         cfg.Transport,
		VsockCID:     cfg.VsockCID,
		VsockPort:    cfg.VsockPort,
		LoopbackAddr: cfg.LoopbackAddr,
	})
	if err != nil {
		return err
	}
	boot, err := netboot.New(cfg.NetInterface, cfg.NetAddress, cfg.NetGateway, logger)
	if err != nil {
		return err
	}

	ctrl := lifecycle.New(lifecycle.Config{
		Bootstrap:    boot,
		Transport:    tr,
		Adapter:      adapter,
		Executor:     ex,
		DrainTimeout: cfg.DrainTimeout,
		Subreaper:    cfg.Subreaper,
	}, logger)
	return ctrl.Run(context.Background())
}

// serveMetrics exposes /metrics on addr for the raw protocol, which has no
// HTTP surface of its own.
func serveMetrics(addr string, logger *slog.Logger) (stop func()) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.MetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
