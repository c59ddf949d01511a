package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mengguiyouziyi/social-auto-upload/internal/api"
	"github.com/mengguiyouziyi/social-auto-upload/internal/config"
	"github.com/mengguiyouziyi/social-auto-upload/internal/logging"
	saumcp "github.com/mengguiyouziyi/social-auto-upload/internal/mcp"
	"github.com/mengguiyouziyi/social-auto-upload/internal/system"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sys, err := system.New(ctx, system.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("assemble system", "err", err)
		os.Exit(1)
	}

	sys.Start(ctx)

	mcpServer := saumcp.NewMCPServer(sys.Scheduler, sys.History, sys.Monitor, logger)

	server := api.NewServer(api.Options{
		Addr:       cfg.Server.Addr,
		AuthToken:  cfg.Server.AuthToken,
		Scheduler:  sys.Scheduler,
		History:    sys.History,
		Monitor:    sys.Monitor,
		MCPHandler: mcpServer,
		Logger:     logger,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info("received signal", "signal", sig.String())
	case err := <-serverErr:
		logger.Error("server error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}

	sys.Stop()
	logger.Info("shutdown complete")
}
