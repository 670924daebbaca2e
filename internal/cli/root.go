// Package cli implements the ecoagent-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/ecoagent-memory/internal/config"
	"github.com/rcliao/ecoagent-memory/internal/logging"
	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/registry"
	"github.com/rcliao/ecoagent-memory/internal/tools"
)

var (
	configPath  string
	dbPath      string
	backendFlag string
	logLevel    string
	userFlag    string
	sessionFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "ecoagent-memory",
	Short: "Sessions, memory and resumable operations for sustainability agents",
	Long: "Persistent state for tool-calling agents: a per-user memory bank, TTL sessions, " +
		"context windows and pausable long-running operations. SQLite-backed by default.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $ECOAGENT_MEMORY_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $ECOAGENT_MEMORY_DB or ~/.ecoagent-memory/memory.db)")
	RootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Storage backend: memory or sqlite")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", envOr("ECOAGENT_MEMORY_USER", ""), "User id tools act for (default: unknown)")
	RootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", envOr("ECOAGENT_MEMORY_SESSION", ""), "Session id tools act in")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitErr("load config", err)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg
}

func openRegistry(cmd *cobra.Command) *registry.Registry {
	cfg := loadConfig()
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		exitErr("init logger", err)
	}
	reg, err := registry.Open(cmd.Context(), cfg, logger)
	if err != nil {
		exitErr("open registry", err)
	}
	return reg
}

func toolkit(reg *registry.Registry) *tools.Toolkit {
	return tools.New(tools.Deps{
		Memories:   reg.Memories,
		Sessions:   reg.Sessions,
		Operations: reg.Operations,
		Metrics:    reg.Metrics,
		NewWindow:  reg.NewWindow,
		Now:        reg.Now,
	}, reg.Logger)
}

func invocation() tools.Invocation {
	return tools.Invocation{UserID: userFlag, SessionID: sessionFlag}
}

// finish prints a tool result, releases the registry and exits non-zero
// unless the tool succeeded.
func finish(reg *registry.Registry, res tools.Result) {
	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
	if err := reg.Close(); err != nil {
		exitErr("close registry", err)
	}
	if !res.OK() {
		os.Exit(1)
	}
}

// jsonFlag decodes an optional JSON object flag.
func jsonFlag(cmd *cobra.Command, name string) map[string]any {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := model.DecodeJSON([]byte(raw), &out); err != nil {
		exitErr("parse --"+name, err)
	}
	return out
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
