package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dbma/internal/agent"
	"dbma/internal/config"
	"dbma/internal/llm"
	. "dbma/internal/logging"
	"dbma/internal/store"
	"dbma/internal/target"
)

const version = "0.1.0"

var (
	flagHost     string
	flagPort     int
	flagUser     string
	flagPassword string
	flagDatabase string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "dbma [database]",
	Short: "Conversational agent for MySQL databases",
	Long:  "Chat with a MySQL database in natural language, with durable per-database memory and self-healing SQL execution.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagHost, "host", "H", "", "MySQL host (overrides config)")
	rootCmd.PersistentFlags().IntVarP(&flagPort, "port", "P", 0, "MySQL port (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "MySQL user (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagPassword, "password", "p", "", "MySQL password (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&flagDatabase, "database", "d", "", "Database to converse with (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write a default config file to edit",
	RunE: func(_ *cobra.Command, _ []string) error {
		if _, err := os.Stat(config.Path()); err == nil {
			return fmt.Errorf("%s already exists, edit it directly", config.Path())
		}
		cfg := config.Default()
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", config.Path())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dbma version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("dbma %s\n", version)
	},
}

// loadConfig merges the config file with command-line overrides and
// initializes logging.
func loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagHost != "" {
		cfg.Target.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Target.Port = flagPort
	}
	if flagUser != "" {
		cfg.Target.User = flagUser
	}
	if flagPassword != "" {
		cfg.Target.Password = flagPassword
	}
	if flagDatabase != "" {
		cfg.Target.Database = flagDatabase
	}
	if len(args) > 0 {
		cfg.Target.Database = args[0]
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	Init(&Config{
		Level:      ParseLevel(cfg.Logging.Level),
		ShowCaller: cfg.Logging.ShowCaller,
	})
	return cfg, nil
}

// app holds the wired components for one run.
type app struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	db      *target.Manager
	agent   *agent.Agent
	watcher *config.Watcher
	maint   *agent.Maintenance
}

func newApp(args []string) (*app, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	if cfg.Target.Database == "" {
		return nil, fmt.Errorf("no database selected: pass one as an argument or set target.database in %s", config.Path())
	}

	st, err := store.NewSQLiteStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	db, err := target.NewManager(cfg.Target)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := db.Ping(context.Background()); err != nil {
		st.Close()
		db.Close()
		return nil, fmt.Errorf("cannot reach %s:%d: %w", cfg.Target.Host, cfg.Target.Port, err)
	}

	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		st.Close()
		db.Close()
		return nil, err
	}
	if !provider.IsAvailable() {
		L_warn("llm provider %s not responding, turns will fail until it is up", provider.Name())
	}

	ag := agent.New(st, db, provider, cfg.Agent)

	maint, err := agent.NewMaintenance(ag, cfg.Agent.MaintenanceCronSpec)
	if err != nil {
		st.Close()
		db.Close()
		return nil, err
	}

	var watcher *config.Watcher
	if w, err := config.NewWatcher(); err != nil {
		L_debug("config watcher unavailable: %v", err)
	} else if err := w.Start(context.Background()); err != nil {
		L_debug("config watcher unavailable: %v", err)
	} else {
		watcher = w
	}

	return &app{cfg: cfg, store: st, db: db, agent: ag, watcher: watcher, maint: maint}, nil
}

func (a *app) close() {
	if a.maint != nil {
		a.maint.Stop()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.db.Close()
	a.store.Close()
}
