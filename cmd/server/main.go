package main

import (
	"log/slog"
	"os"

	"go-token-auth/internal/app"
	"go-token-auth/internal/logger"
)

func main() {
	// Bootstrap logger until config is loaded.
	slog.SetDefault(logger.New(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))

	application, err := app.New()
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application run failed", "error", err)
		os.Exit(1)
	}
}
