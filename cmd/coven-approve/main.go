// ABOUTME: Entry point for the coven-approve server
// ABOUTME: Bridges agent permission hooks to Matrix for human approval

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-approve/internal/config"
	"github.com/2389/coven-approve/internal/gateway"
	"github.com/2389/coven-approve/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __         __ _ _ __  _ __  _ __ _____   _____
 / __/ _ \ \ / / _ \ '_ \ _____ / _' | '_ \| '_ \| '__/ _ \ \ / / _ \
| (_| (_) \ V /  __/ | | |_____| (_| | |_) | |_) | | | (_) \ V /  __/
 \___\___/ \_/ \___|_| |_|      \__,_| .__/| .__/|_|  \___/ \_/ \___|
                                     |_|   |_|
`

// getConfigPath returns the path to the config file.
// Priority: COVEN_APPROVE_CONFIG env var > XDG_CONFIG_HOME/coven/approve.yaml > ~/.config/coven/approve.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_APPROVE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "approve.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "approve.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-approve <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve              Start the approval server")
		fmt.Println("  init               Create a starter config file")
		fmt.Println("  health             Check server health")
		fmt.Println("  history [-n N]     Show recent decisions from the audit log")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "history":
		err = runHistory(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Matrix:  ")
	cyan.Print(cfg.Matrix.Homeserver)
	fmt.Printf(" as %s\n", cfg.Matrix.UserID)
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Audit:   %s\n", cfg.Database.Path)
	}

	fmt.Println()

	logger.Info("starting coven-approve",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"room", cfg.Matrix.RoomID,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

const starterConfig = `server:
  http_addr: "127.0.0.1:19280"

matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@approve-bot:example.org"
  access_token: "${MATRIX_ACCESS_TOKEN}"
  room_id: "!yourroom:example.org"
  allowed_users:
    - "@you:example.org"

approvals:
  default_timeout: "5m"
  max_timeout: "10m"
  auto_allow:
    - read

database:
  path: "%s"

logging:
  level: "info"
  format: "text"
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	dataPath := getDataPath()
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "approve.db")
	content := fmt.Sprintf(starterConfig, dbPath)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("  ✓ ")
	fmt.Printf("Wrote %s\n", configPath)
	fmt.Println("  Edit the matrix section, then run: coven-approve serve")
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
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

	fmt.Println("healthy")
	return nil
}

func runHistory(ctx context.Context) error {
	limit := 50
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("-n requires a value")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid -n value: %s", args[i+1])
			}
			limit = n
			i++
		case strings.HasPrefix(args[i], "-n="):
			n, err := strconv.Atoi(strings.TrimPrefix(args[i], "-n="))
			if err != nil {
				return fmt.Errorf("invalid -n value: %s", args[i])
			}
			limit = n
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("no audit database configured")
	}

	audit, err := store.OpenAuditLog(cfg.Database.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer audit.Close()

	entries, err := audit.ListRecent(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing decisions: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	for _, e := range entries {
		gray.Printf("%s  ", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("%-10s %-10s %-10s", shortID(e.SessionID), e.Category, e.Outcome)
		if e.Detail != "" {
			gray.Printf("  %s", e.Detail)
		}
		fmt.Println()
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
