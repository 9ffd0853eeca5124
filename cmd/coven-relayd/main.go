// ABOUTME: Entry point for coven-relayd, the coordinator process
// ABOUTME: Accepts embedded-client connections and logs relayed messages

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/coordinator"
	"github.com/2389/coven-relay/internal/wire"
)

var version = "dev"

// getConfigPath returns the path to the relay config file, shared with
// the client binary.
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "relay.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Coordinator.ListenAddr
	if addr == "" {
		addr = "localhost:8090"
	}

	logger := setupLogger(cfg.Logging)

	gray := color.New(color.FgHiBlack)
	gray.Printf("coven-relayd %s\n", version)

	srv := coordinator.New(addr, logger)
	registerHandlers(srv, logger)

	logger.Info("starting coven-relayd", "config", configPath, "addr", addr)
	return srv.Run(ctx)
}

// registerHandlers wires the coordinator's message handling. This
// binary only logs; real deployments register handlers that push to
// GitHub, surface upload progress, and so on.
func registerHandlers(srv *coordinator.Server, logger *slog.Logger) {
	srv.Handle(wire.TypeContentReady, func(clientID string, msg wire.Message) {
		logger.Info("client ready", "client_id", clientID)
	})

	srv.Handle(wire.TypeDebug, func(clientID string, msg wire.Message) {
		logger.Debug("client debug", "client_id", clientID, "data", msg.Data)
	})

	srv.Handle(wire.TypeZipData, func(clientID string, msg wire.Message) {
		logger.Info("received project archive", "client_id", clientID)
	})

	srv.Handle(wire.TypeSetCommitMessage, func(clientID string, msg wire.Message) {
		logger.Info("commit message set", "client_id", clientID, "data", msg.Data)
	})

	srv.Handle(wire.TypeUploadStatus, func(clientID string, msg wire.Message) {
		logger.Info("upload status", "client_id", clientID, "data", msg.Data)
	})

	srv.Handle(wire.TypeSettingsChanged, func(clientID string, msg wire.Message) {
		logger.Info("github settings changed", "client_id", clientID)
	})

	srv.Handle(wire.TypeImportPrivateRepo, func(clientID string, msg wire.Message) {
		logger.Info("private repo import requested", "client_id", clientID, "data", msg.Data)
	})
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
