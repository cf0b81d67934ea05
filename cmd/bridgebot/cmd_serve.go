package main

import (
	"os"
	"os/signal"
	"syscall"

	"bridgebot/internal/config"
	"bridgebot/internal/logging"
	"bridgebot/internal/server"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// serveCmd starts the HTTP host
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bridge over HTTP (JSON, SSE and websocket)",
	Long: `Starts the HTTP host:
  POST /v1/messages  {"conversation_id": "...", "text": "...", "stream": true}
  GET  /v1/ws        websocket, one conversation per connection
  GET  /healthz

Bridge limits are reloaded when the config file changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, closeStore, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := server.New(cfg, svc)
	logger.Info("starting bridgebot", zap.String("addr", cfg.Server.Addr), zap.String("provider", cfg.LLM.Provider))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if _, err := os.Stat(configPath); err == nil {
		g.Go(func() error {
			return config.Watch(gctx, configPath, svc.SetLimits)
		})
	} else {
		logging.BootDebug("config file %s not found; hot reload disabled", configPath)
	}

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
		return err
	}
	logger.Info("bridgebot stopped")
	return nil
}
