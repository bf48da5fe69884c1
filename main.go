package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/methodiva/littleLetters/config"
	"github.com/methodiva/littleLetters/logger"
	"github.com/methodiva/littleLetters/server"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	logger.Init("info")
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Log.Sync()

	gameServer := server.NewGameServer(cfg.Server, cfg.Game)

	errCh := make(chan error, 1)
	go func() {
		errCh <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Log.Fatalf("Failed to start server: %v", err)
		}
	case sig := <-quit:
		logger.Log.Infof("Received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gameServer.Shutdown(ctx); err != nil {
			logger.Log.Errorf("Shutdown: %v", err)
		}
	}
}
