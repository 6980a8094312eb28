package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"dbma/internal/config"
	"dbma/internal/identity"
	. "dbma/internal/logging"
	"dbma/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List known conversation threads",
	RunE: func(_ *cobra.Command, _ []string) error {
		st, err := openStoreOnly()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions(context.Background())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("no conversations yet")
			return nil
		}
		for _, sess := range sessions {
			fmt.Printf("%s  %s@%s/%s  %d messages, last active %s\n",
				sess.ThreadID, sess.User, sess.Host, sess.DBName,
				sess.MessageCount, sess.LastActiveAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [database]",
	Short: "Show the query audit trail for a database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		st, err := openStoreOnly()
		if err != nil {
			return err
		}
		defer st.Close()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		database := cfg.Target.Database
		if flagDatabase != "" {
			database = flagDatabase
		}
		if len(args) > 0 {
			database = args[0]
		}
		if database == "" {
			return fmt.Errorf("no database selected")
		}

		host := cfg.Target.Host
		if flagHost != "" {
			host = flagHost
		}
		user := cfg.Target.User
		if flagUser != "" {
			user = flagUser
		}

		threadID, err := identity.Resolve(host, user, database)
		if err != nil {
			return err
		}
		records, err := st.GetQueryHistory(context.Background(), threadID, 50)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no queries recorded")
			return nil
		}
		for _, rec := range records {
			status := "ok"
			if !rec.Success {
				status = "FAILED"
			}
			fmt.Printf("[%s] %-6s %4dms  %s\n",
				rec.ExecutedAt.Local().Format("2006-01-02 15:04:05"), status, rec.ExecutionMS, rec.SQLQuery)
			if rec.ErrorMessage != "" {
				fmt.Printf("         %s\n", rec.ErrorMessage)
			}
		}
		return nil
	},
}

// openStoreOnly wires just enough for the read-only subcommands.
func openStoreOnly() (*store.SQLiteStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	Init(&Config{Level: ParseLevel(level), ShowCaller: cfg.Logging.ShowCaller})
	return store.NewSQLiteStore(cfg.Store)
}
