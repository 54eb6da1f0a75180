package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

func main() {
	cfg := server.NewConfigFromEnv()
	logger := server.NewLogger(cfg.Env)

	logger.Info().Msg("starting roomchat server")

	ds, err := store.Open(context.Background(), cfg.DatabaseURL, cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer ds.Close()

	srv := server.New(*cfg, ds, logger)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	go func() {
		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := srv.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Error().Err(err).Msg("hub shutdown incomplete")
	}

	logger.Info().Msg("server stopped")
}
