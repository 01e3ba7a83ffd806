// Package main is the entry point for the epidemiological panel backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"epipanel/config"
	"epipanel/internal/app"
	"epipanel/internal/history"
	"epipanel/internal/logging"
	"epipanel/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	onceFlag := flag.Bool("once", false, "Run one refresh and exit instead of serving")
	demoFlag := flag.Bool("demo", false, "Force demo mode (synthetic data, no upstream calls)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *demoFlag {
		cfg.DemoMode = true
	}

	logger := logging.Setup(cfg.LogLevel)

	logger.Info("starting epipanel",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	ctx := context.Background()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if *onceFlag {
		run := application.Orchestrator().RunOnce(ctx, history.TriggerManual)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		if run.TotalFailure {
			os.Exit(1)
		}
		return
	}

	application.StartScheduler()

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
