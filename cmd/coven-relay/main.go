// ABOUTME: Entry point for the coven-relay embedded client
// ABOUTME: Runs the resilient channel and supervisor against a coordinator endpoint

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/config"
	"github.com/2389/coven-relay/internal/port"
	"github.com/2389/coven-relay/internal/settings"
	"github.com/2389/coven-relay/internal/supervisor"
	"github.com/2389/coven-relay/internal/wire"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __ ___| | __ _ _   _
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \ |/ _' | | | |
| (_| (_) \ V /  __/ | | |_____| | |  __/ | (_| | |_| |
 \___\___/ \_/ \___|_| |_|     |_|  \___|_|\__,_|\__, |
                                                 |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: COVEN_RELAY_CONFIG env var > XDG_CONFIG_HOME/coven/relay.yaml > ~/.config/coven/relay.yaml
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

// getDataPath returns the path to the relay data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-relay")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run                           Connect to the coordinator and relay messages")
		fmt.Println("  init                          Write a default config file")
		fmt.Println("  status                        Check coordinator health")
		fmt.Println("  set-repo OWNER REPO [BRANCH]  Save the GitHub repository target")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runRelay(ctx)
	case "init":
		err = runInit()
	case "status":
		err = runStatus(ctx)
	case "set-repo":
		err = runSetRepo(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runRelay(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Coordinator.URL == "" {
		return fmt.Errorf("coordinator.url is required to run the relay client")
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Coordinator: %s\n", cfg.Coordinator.URL)
	fmt.Println()

	runtimeID := cfg.Coordinator.RuntimeID
	if runtimeID == "" {
		runtimeID = uuid.New().String()
	}
	rt := port.StaticRuntime(runtimeID)

	store, err := settings.NewStore(databasePath(cfg))
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	defer store.Close()

	ch := channel.New(rt, logger)
	defer ch.Close()
	factory := port.NewWebSocketFactory(cfg.Coordinator.URL, logger)

	sup := supervisor.New(supervisor.Params{
		Channel: ch,
		Factory: factory,
		Runtime: rt,
		Config: supervisor.Config{
			MaxReconnectAttempts: cfg.Reconnect.MaxAttempts,
			ReconnectBackoffBase: cfg.Reconnect.BackoffBase,
			ReconnectBackoffCap:  cfg.Reconnect.BackoffCap,
			RecoveryTimeout:      cfg.Reconnect.RecoveryTimeout,
			FlapWindow:           cfg.Reconnect.FlapWindow,
			FlapThreshold:        cfg.Reconnect.FlapThreshold,
			HeartbeatInterval:    cfg.Heartbeat.Interval,
			HeartbeatTimeout:     cfg.Heartbeat.Timeout,
		},
		Logger: logger,
	})
	defer sup.Destroy()

	sup.OnMessage(func(msg wire.Message) {
		handleInbound(ctx, msg, store, ch, logger)
	})

	logger.Info("starting coven-relay",
		"config", configPath,
		"coordinator", cfg.Coordinator.URL,
		"runtime_id", runtimeID,
	)
	sup.Start(ctx)

	// Announce the current repository target. The channel queues this
	// until the first port is installed, so ordering relative to
	// CONTENT_SCRIPT_READY is preserved without waiting here.
	if gs, err := store.Get(ctx); err == nil {
		ch.Send(wire.TypeSettingsChanged, gs)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// handleInbound processes coordinator-originated messages.
func handleInbound(ctx context.Context, msg wire.Message, store *settings.Store, ch *channel.Channel, logger *slog.Logger) {
	switch msg.Type {
	case wire.TypeSetCommitMessage:
		template, _ := msg.Data.(string)
		gs, err := store.Get(ctx)
		if err != nil {
			logger.Warn("commit message received before settings configured")
			return
		}
		gs.CommitTemplate = template
		if err := store.Save(ctx, gs); err != nil {
			logger.Warn("saving commit template", "error", err)
			return
		}
		ch.Send(wire.TypeUploadStatus, map[string]any{"status": "commit-message-set"})
		ch.Send(wire.TypeSettingsChanged, gs)

	case wire.TypeOpenSettings:
		logger.Info("coordinator requested settings UI")

	default:
		logger.Info("coordinator message", "type", msg.Type)
	}
}

// databasePath resolves the settings database location from config with
// an XDG fallback.
func databasePath(cfg *config.Config) string {
	if cfg.Database.Path != "" {
		return cfg.Database.Path
	}
	return filepath.Join(getDataPath(), "relay.db")
}

func runStatus(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url, err := healthURL(cfg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// healthURL derives the coordinator health endpoint from the websocket
// URL (ws://host/relay -> http://host/health).
func healthURL(cfg *config.Config) (string, error) {
	wsURL := cfg.Coordinator.URL
	if wsURL == "" {
		if cfg.Coordinator.ListenAddr != "" {
			return "http://" + cfg.Coordinator.ListenAddr + "/health", nil
		}
		return "", fmt.Errorf("coordinator.url not configured")
	}

	httpURL := wsURL
	switch {
	case strings.HasPrefix(wsURL, "wss://"):
		httpURL = "https://" + strings.TrimPrefix(wsURL, "wss://")
	case strings.HasPrefix(wsURL, "ws://"):
		httpURL = "http://" + strings.TrimPrefix(wsURL, "ws://")
	}
	if idx := strings.LastIndex(httpURL, "/relay"); idx > 0 {
		httpURL = httpURL[:idx]
	}
	return httpURL + "/health", nil
}

func runSetRepo(ctx context.Context) error {
	args := os.Args[2:]
	if len(args) < 2 {
		return fmt.Errorf("usage: coven-relay set-repo OWNER REPO [BRANCH]")
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := settings.NewStore(databasePath(cfg))
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	defer store.Close()

	gs := &settings.GitHubSettings{
		RepoOwner: args[0],
		RepoName:  args[1],
		Token:     os.Getenv("GITHUB_TOKEN"),
	}
	if len(args) > 2 {
		gs.Branch = args[2]
	}

	if err := store.Save(ctx, gs); err != nil {
		return err
	}

	out, _ := json.MarshalIndent(gs, "", "  ")
	green := color.New(color.FgGreen)
	green.Println("  ✓ Repository target saved")
	fmt.Println(string(out))
	return nil
}

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	dbPath := filepath.Join(getDataPath(), "relay.db")

	configContent := fmt.Sprintf(`# coven-relay configuration
# Generated by coven-relay init

coordinator:
  url: "ws://localhost:8090/relay"

reconnect:
  max_attempts: 10
  backoff_base: "1s"
  backoff_cap: "5m"
  recovery_timeout: "30s"
  flap_window: "10s"
  flap_threshold: 3

heartbeat:
  interval: "30s"
  timeout: "90s"

database:
  path: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println("\nTo start the relay:")
	fmt.Println("  coven-relay run")
	return nil
}
