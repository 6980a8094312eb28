package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"dbma/internal/agent"
	. "dbma/internal/logging"
)

func runChat(cmd *cobra.Command, args []string) error {
	app, err := newApp(args)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	threadID, err := app.agent.EnsureSession(ctx)
	if err != nil {
		return err
	}
	app.maint.Start()

	fmt.Printf("dbma %s — connected to %s@%s/%s\n", version,
		app.cfg.Target.User, app.cfg.Target.Host, app.db.Database())
	fmt.Println(`Ask questions in natural language. Type /help for commands.`)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Printf("\n%s> ", app.db.Database())
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if done := app.handleCommand(ctx, line, &threadID); done {
				break
			}
			continue
		}

		result, err := app.agent.RunTurn(ctx, threadID, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("error: %v\n", err)
			continue
		}

		if result.RequiresConfirmation {
			result, err = app.confirmAndExecute(ctx, threadID, result, scanner)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			if result == nil {
				fmt.Println("cancelled.")
				continue
			}
		}

		printTurn(result)
	}
	return scanner.Err()
}

func (a *app) confirmAndExecute(ctx context.Context, threadID string, pending *agent.TurnResult, scanner *bufio.Scanner) (*agent.TurnResult, error) {
	fmt.Printf("\nThis statement modifies data:\n\n    %s\n\nRun it? [y/N] ", pending.SQL)
	if !scanner.Scan() {
		return nil, nil
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if answer != "y" && answer != "yes" {
		return nil, nil
	}
	return a.agent.ExecuteApproved(ctx, threadID, pending.Response, pending.SQL)
}

func printTurn(result *agent.TurnResult) {
	if result.Exhausted {
		fmt.Printf("\nCould not produce a working query after %d attempts. Last database error:\n%s\n",
			result.Attempts, result.Response)
		return
	}
	if result.Response != "" {
		fmt.Println("\n" + result.Response)
	}
	if result.Result != nil {
		fmt.Println("\n" + result.Result.FormatText())
	}
}

// handleCommand dispatches a slash command. Returns true when the REPL
// should exit. Commands that rebind the conversation update threadID.
func (a *app) handleCommand(ctx context.Context, line string, threadIDPtr *string) bool {
	threadID := *threadIDPtr
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true

	case "/help":
		fmt.Println(`Commands:
  /refresh        re-introspect the database schema
  /history [n]    show recent query attempts
  /clear          wipe this conversation's memory
  /sessions       list known conversations
  /use <db>       switch to another database
  /exit           quit`)

	case "/refresh":
		snap, err := a.agent.RefreshSchema(ctx, threadID)
		if err != nil {
			fmt.Printf("refresh failed: %v\n", err)
			return false
		}
		fmt.Printf("schema refreshed: %d tables\n", snap.TableCount())

	case "/history":
		limit := 20
		if len(fields) > 1 {
			fmt.Sscanf(fields[1], "%d", &limit)
		}
		records, err := a.agent.History(ctx, threadID, limit)
		if err != nil {
			fmt.Printf("history failed: %v\n", err)
			return false
		}
		if len(records) == 0 {
			fmt.Println("no queries recorded yet")
			return false
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

	case "/clear":
		if err := a.agent.PurgeHistory(ctx, threadID); err != nil {
			fmt.Printf("clear failed: %v\n", err)
			return false
		}
		newID, err := a.agent.EnsureSession(ctx)
		if err != nil {
			fmt.Printf("clear failed: %v\n", err)
			return false
		}
		*threadIDPtr = newID
		fmt.Println("conversation memory cleared")

	case "/sessions":
		sessions, err := a.agent.Sessions(ctx)
		if err != nil {
			fmt.Printf("sessions failed: %v\n", err)
			return false
		}
		for _, sess := range sessions {
			fmt.Printf("%s  %s@%s/%s  %d messages, last active %s\n",
				sess.ThreadID, sess.User, sess.Host, sess.DBName,
				sess.MessageCount, sess.LastActiveAt.Local().Format("2006-01-02 15:04"))
		}

	case "/use":
		if len(fields) < 2 {
			fmt.Println("usage: /use <database>")
			return false
		}
		if err := a.db.UseDatabase(ctx, fields[1]); err != nil {
			fmt.Printf("switch failed: %v\n", err)
			return false
		}
		newID, err := a.agent.EnsureSession(ctx)
		if err != nil {
			fmt.Printf("switch failed: %v\n", err)
			return false
		}
		*threadIDPtr = newID
		L_info("switched to database %s (thread %s)", fields[1], newID)
		fmt.Printf("now conversing with %s\n", fields[1])

	default:
		fmt.Printf("unknown command %s, try /help\n", fields[0])
	}
	return false
}
