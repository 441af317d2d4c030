package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"

	"rejoin/internal/app"
	"rejoin/internal/cli"
	"rejoin/internal/config"
	"rejoin/internal/store"
)

func main() {
	// Missing .env is fine; explicit env always wins over the file.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// stdout is the chat surface; all diagnostics go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := app.Build(ctx, cfg, confirmStoreDir, logger)
	if err != nil {
		if errors.Is(err, store.ErrDeclined) {
			fmt.Fprintln(os.Stderr, "nothing saved, exiting")
			os.Exit(1)
		}
		logger.Error("setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("cleanup", "error", err)
		}
	}()

	if cfg.DebugAddr != "" {
		srv := &http.Server{Addr: cfg.DebugAddr, Handler: res.Debug.Router()}
		go func() {
			logger.Info("debug server listening", "addr", cfg.DebugAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("debug server", "error", err)
			}
		}()
		defer srv.Close()
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	repl := cli.New(res.Engine, res.Client, res.Window, cli.Options{
		Model:          cfg.Model,
		RequestTimeout: cfg.RequestTimeout,
		Plain:          cfg.Plain,
		Interrupts:     interrupts,
		Logger:         logger,
	})

	if cfg.ContinueOnStart {
		repl.Continue(ctx, cfg.ContinueIndex)
	}

	if err := repl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session ended abnormally", "error", err)
		os.Exit(1)
	}
}

// confirmStoreDir asks once before the store directory is created on first
// run. Declining aborts setup.
func confirmStoreDir(path string) bool {
	fmt.Printf("create %s to store conversations? [Y/n] ", path)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}
