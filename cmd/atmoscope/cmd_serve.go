package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"atmoscope/internal/config"
	"atmoscope/internal/orchestrator"
	"atmoscope/internal/server"
	"atmoscope/internal/tactile"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveListen string

// relayBuffer absorbs bursts of output while a websocket write is slow.
const relayBuffer = 1024

// serveCmd starts the websocket bridge
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulator to browsers over a websocket",
	Long: `Starts the websocket bridge at /ws and a health endpoint at /healthz.

All clients share one simulator; a compute request sent while another is
running is rejected. The config file is watched, and simulator settings and
compute defaults are reloaded when it changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	audit := tactile.NewAuditLogger()
	exec := newExecutor(cfg, audit)

	opts := []orchestrator.Option{orchestrator.WithNotificationBuffer(relayBuffer)}
	if cfg.Store.Record {
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		opts = append(opts, orchestrator.WithRecorder(s))
	}
	orch := orchestrator.New(exec, settingsFromConfig(cfg), opts...)

	srv := server.New(orch, server.Config{
		Listen:         cfg.Server.Listen,
		MaxConnections: cfg.Server.MaxConnections,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Defaults:       defaultsFromConfig(cfg),
		Metrics:        audit,
	})

	watcher, err := config.NewWatcher(configPath, config.DefaultDebounce, func(next *config.Config) {
		applyReload(exec, orch, srv, next)
	})
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("Config watch disabled", zap.String("path", configPath), zap.Error(err))
	}
	defer watcher.Stop()

	fmt.Fprintf(cmd.OutOrStdout(), "atmoscope listening on ws://%s/ws\n", cfg.Server.Listen)
	logger.Info("Serving", zap.String("listen", cfg.Server.Listen), zap.String("binary", cfg.Simulator.Binary))
	return srv.ListenAndServe(ctx)
}

// applyReload pushes a reloaded config into the running executor,
// orchestrator and server. The listen address and store are fixed for the
// life of the process.
func applyReload(exec *tactile.DirectExecutor, orch *orchestrator.Orchestrator, srv *server.Server, next *config.Config) {
	if err := orch.Reconfigure(settingsFromConfig(next)); err != nil {
		logger.Warn("Config reload rejected", zap.Error(err))
		return
	}
	exec.Reconfigure(executorConfig(next))
	srv.SetDefaults(defaultsFromConfig(next))
	logger.Info("Config reloaded",
		zap.String("binary", next.Simulator.Binary),
		zap.String("timeout", next.Simulator.Timeout))
}
