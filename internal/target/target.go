// Package target manages the connection to the database under conversation:
// query execution, result capture, and schema introspection.
package target

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"dbma/internal/config"
	. "dbma/internal/logging"
)

// Query type classification, by leading keyword.
const (
	QuerySelect  = "SELECT"
	QueryInsert  = "INSERT"
	QueryUpdate  = "UPDATE"
	QueryDelete  = "DELETE"
	QueryCreate  = "CREATE"
	QueryAlter   = "ALTER"
	QueryDrop    = "DROP"
	QueryShow    = "SHOW"
	QueryDesc    = "DESCRIBE"
	QueryExplain = "EXPLAIN"
	QueryOther   = "OTHER"
)

// Result is the captured outcome of one query execution.
type Result struct {
	QueryType    string     `json:"queryType"`
	Columns      []string   `json:"columns,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
	RowsAffected int64      `json:"rowsAffected"`
	LastInsertID int64      `json:"lastInsertId,omitempty"`
	ExecutionMS  int64      `json:"executionMs"`
	Truncated    bool       `json:"truncated,omitempty"`
}

// Manager holds the connection pool for one target database.
//
// mu guards db, cfg and database: UseDatabase swaps the pool from the REPL
// goroutine while the maintenance sweep may be mid-introspection. Readers
// hold mu for the whole operation so the swap never closes a pool with a
// statement in flight.
type Manager struct {
	mu       sync.RWMutex
	db       *sql.DB
	cfg      config.TargetConfig
	database string
	timeout  time.Duration
}

// maxResultRows caps how many rows one execution captures.
const maxResultRows = 500

// NewManager opens a connection pool against the configured target.
func NewManager(cfg config.TargetConfig) (*Manager, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	mc.Timeout = 10 * time.Second
	mc.ReadTimeout = timeout
	mc.WriteTimeout = timeout

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("opening target connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Manager{db: db, cfg: cfg, database: cfg.Database, timeout: timeout}, nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Close()
}

// Database returns the name of the database currently under conversation.
func (m *Manager) Database() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.database
}

// Host returns the configured target host.
func (m *Manager) Host() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Host
}

// User returns the configured target user.
func (m *Manager) User() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.User
}

// Ping verifies the target is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db.PingContext(ctx)
}

// UseDatabase switches the conversation to a different database on the same
// server. The pool is reopened because the database name is part of the DSN.
// The new pool is opened and verified before the lock is taken, so in-flight
// readers finish on the old pool and the swap itself is brief.
func (m *Manager) UseDatabase(ctx context.Context, name string) error {
	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()
	cfg.Database = name

	next, err := NewManager(cfg)
	if err != nil {
		return err
	}
	if err := next.Ping(ctx); err != nil {
		next.Close()
		return fmt.Errorf("database %q not reachable: %w", name, err)
	}

	return m.swapPool(next.db, cfg).Close()
}

// swapPool installs a new pool and configuration, returning the old pool for
// the caller to close. Waits for in-flight readers before swapping.
func (m *Manager) swapPool(db *sql.DB, cfg config.TargetConfig) *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.db
	m.db = db
	m.cfg = cfg
	m.database = cfg.Database
	return old
}

// Execute runs one statement against the target and captures its outcome.
// The database error, if any, is returned verbatim so callers can feed it
// back to the model unmodified.
func (m *Manager) Execute(ctx context.Context, query string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	queryType := DetectQueryType(query)
	start := time.Now()

	res := &Result{QueryType: queryType}

	if returnsRows(queryType) {
		rows, err := m.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		res.Columns = cols

		raw := make([]sql.RawBytes, len(cols))
		scanArgs := make([]any, len(cols))
		for i := range raw {
			scanArgs[i] = &raw[i]
		}
		for rows.Next() {
			if len(res.Rows) >= maxResultRows {
				res.Truncated = true
				break
			}
			if err := rows.Scan(scanArgs...); err != nil {
				return nil, err
			}
			row := make([]string, len(cols))
			for i, v := range raw {
				if v == nil {
					row[i] = "NULL"
				} else {
					row[i] = string(v)
				}
			}
			res.Rows = append(res.Rows, row)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		res.RowsAffected = int64(len(res.Rows))
	} else {
		out, err := m.db.ExecContext(ctx, query)
		if err != nil {
			return nil, err
		}
		if n, err := out.RowsAffected(); err == nil {
			res.RowsAffected = n
		}
		if id, err := out.LastInsertId(); err == nil {
			res.LastInsertID = id
		}
	}

	res.ExecutionMS = time.Since(start).Milliseconds()
	L_trace("target: %s completed in %dms, %d rows", queryType, res.ExecutionMS, res.RowsAffected)
	return res, nil
}

// DetectQueryType classifies a statement by its first keyword.
func DetectQueryType(query string) string {
	trimmed := strings.TrimSpace(query)
	// Skip leading comments.
	for strings.HasPrefix(trimmed, "--") || strings.HasPrefix(trimmed, "/*") {
		if strings.HasPrefix(trimmed, "--") {
			idx := strings.IndexByte(trimmed, '\n')
			if idx < 0 {
				return QueryOther
			}
			trimmed = strings.TrimSpace(trimmed[idx+1:])
		} else {
			idx := strings.Index(trimmed, "*/")
			if idx < 0 {
				return QueryOther
			}
			trimmed = strings.TrimSpace(trimmed[idx+2:])
		}
	}
	fields := strings.Fields(strings.ToUpper(trimmed))
	if len(fields) == 0 {
		return QueryOther
	}
	switch fields[0] {
	case "SELECT", "WITH":
		return QuerySelect
	case "INSERT", "REPLACE":
		return QueryInsert
	case "UPDATE":
		return QueryUpdate
	case "DELETE", "TRUNCATE":
		return QueryDelete
	case "CREATE":
		return QueryCreate
	case "ALTER", "RENAME":
		return QueryAlter
	case "DROP":
		return QueryDrop
	case "SHOW":
		return QueryShow
	case "DESCRIBE", "DESC":
		return QueryDesc
	case "EXPLAIN":
		return QueryExplain
	default:
		return QueryOther
	}
}

func returnsRows(queryType string) bool {
	switch queryType {
	case QuerySelect, QueryShow, QueryDesc, QueryExplain:
		return true
	}
	return false
}

// ListDatabases returns the databases visible to the configured user.
func (m *Manager) ListDatabases(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.QueryContext(ctx, `SHOW DATABASES`)
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListTables returns the table names in the current database.
func (m *Manager) ListTables(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTables(ctx)
}

// listTables is the lock-free variant for callers already holding mu.
func (m *Manager) listTables(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
