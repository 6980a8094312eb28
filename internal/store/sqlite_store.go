package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"dbma/internal/config"
	"dbma/internal/identity"
	. "dbma/internal/logging"
)

// SQLiteStore persists conversation state in a single SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the configured database and runs
// migrations.
func NewSQLiteStore(cfg config.StoreConfig) (*SQLiteStore, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	journalMode := "WAL"
	if !cfg.WALMode {
		journalMode = "DELETE"
	}
	busyTimeout := cfg.BusyTimeout
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=%s&_busy_timeout=%d&_foreign_keys=on",
		path, journalMode, busyTimeout)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	// A single connection serializes writers, which keeps sequence
	// assignment in AppendMessage race-free.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate brings the schema up to the current version.
func (s *SQLiteStore) Migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	migrations := []func() error{
		s.migrateV1,
	}

	for i, migrate := range migrations {
		version := i + 1
		if version <= current {
			continue
		}
		L_info("store: applying migration v%d", version)
		if err := migrate(); err != nil {
			return fmt.Errorf("migration v%d: %w", version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrateV1() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			thread_id TEXT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			db_name TEXT NOT NULL,
			host TEXT NOT NULL,
			user TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL REFERENCES sessions(thread_id) ON DELETE CASCADE,
			sequence_no INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			sql_query TEXT,
			query_result TEXT,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			metadata TEXT,
			UNIQUE(thread_id, sequence_no)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_seq ON messages(thread_id, sequence_no)`,
		`CREATE TABLE IF NOT EXISTS schema_cache (
			thread_id TEXT NOT NULL UNIQUE REFERENCES sessions(thread_id) ON DELETE CASCADE,
			db_name TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			table_count INTEGER NOT NULL DEFAULT 0,
			refreshed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_summary (
			thread_id TEXT NOT NULL UNIQUE REFERENCES sessions(thread_id) ON DELETE CASCADE,
			summary_text TEXT NOT NULL,
			summarized_up_to_seq INTEGER NOT NULL DEFAULT 0,
			message_count_summarized INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		// query_history deliberately carries no foreign key: audit records
		// outlive purged sessions and messages.
		`CREATE TABLE IF NOT EXISTS query_history (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			message_seq INTEGER,
			sql_query TEXT NOT NULL,
			execution_ms INTEGER NOT NULL DEFAULT 0,
			rows_affected INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL,
			error_message TEXT,
			executed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_history_thread ON query_history(thread_id, executed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSession resolves the thread identity for the given target coordinates
// and upserts the session row. Creating and re-entering a session are the
// same operation; re-entry only advances last_active_at.
func (s *SQLiteStore) EnsureSession(ctx context.Context, host, user, database string) (string, error) {
	threadID, err := identity.Resolve(host, user, database)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (thread_id, id, db_name, host, user, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		threadID, uuid.NewString(), database, host, user, now, now)
	if err != nil {
		return "", fmt.Errorf("ensuring session: %w", err)
	}
	return threadID, nil
}

// GetSession loads one session by thread id.
func (s *SQLiteStore) GetSession(ctx context.Context, threadID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, id, db_name, host, user, created_at, last_active_at, metadata
		FROM sessions WHERE thread_id = ?`, threadID)

	var sess Session
	var metadata sql.NullString
	err := row.Scan(&sess.ThreadID, &sess.ID, &sess.DBName, &sess.Host, &sess.User,
		&sess.CreatedAt, &sess.LastActiveAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &sess.Metadata); err != nil {
			L_warn("store: invalid session metadata for %s: %v", threadID, err)
		}
	}
	return &sess, nil
}

// TouchSession advances last_active_at.
func (s *SQLiteStore) TouchSession(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE thread_id = ?`,
		time.Now().UTC(), threadID)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ListSessions returns all sessions with their message counts, most recently
// active first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.thread_id, s.db_name, s.host, s.user, s.created_at, s.last_active_at,
			(SELECT COUNT(*) FROM messages m WHERE m.thread_id = s.thread_id)
		FROM sessions s
		ORDER BY s.last_active_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ThreadID, &info.DBName, &info.Host, &info.User,
			&info.CreatedAt, &info.LastActiveAt, &info.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// PurgeSession removes a session and its messages, schema cache and summary.
// Query history is untouched.
func (s *SQLiteStore) PurgeSession(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("purging session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	L_debug("store: purged session %s", threadID)
	return nil
}

// AppendMessage assigns the next sequence number and inserts the message in
// one transaction. Returns the assigned sequence number.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_no), 0) + 1 FROM messages WHERE thread_id = ?`,
		msg.ThreadID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("assigning sequence number: %w", err)
	}

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encoding message metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (thread_id, sequence_no, role, content, sql_query, query_result, tokens_used, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ThreadID, seq, msg.Role, msg.Content,
		nullString(msg.SQLQuery), nullString(string(msg.QueryResult)),
		msg.TokensUsed, createdAt, metadata)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE thread_id = ?`,
		createdAt, msg.ThreadID)
	if err != nil {
		return 0, fmt.Errorf("updating session activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing message: %w", err)
	}
	msg.SequenceNo = seq
	msg.CreatedAt = createdAt
	return seq, nil
}

// ReadRange returns messages with fromSeq <= sequence_no <= toSeq in
// ascending order. A toSeq of 0 means no upper bound.
func (s *SQLiteStore) ReadRange(ctx context.Context, threadID string, fromSeq, toSeq int64) ([]Message, error) {
	query := `
		SELECT thread_id, sequence_no, role, content, sql_query, query_result, tokens_used, created_at, metadata
		FROM messages WHERE thread_id = ? AND sequence_no >= ?`
	args := []any{threadID, fromSeq}
	if toSeq > 0 {
		query += ` AND sequence_no <= ?`
		args = append(args, toSeq)
	}
	query += ` ORDER BY sequence_no ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading message range: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesAfter returns all messages with sequence_no > afterSeq in
// ascending order.
func (s *SQLiteStore) MessagesAfter(ctx context.Context, threadID string, afterSeq int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, sequence_no, role, content, sql_query, query_result, tokens_used, created_at, metadata
		FROM messages WHERE thread_id = ? AND sequence_no > ?
		ORDER BY sequence_no ASC`, threadID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("reading messages after seq: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the latest n messages in ascending order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, threadID string, n int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, sequence_no, role, content, sql_query, query_result, tokens_used, created_at, metadata
		FROM (
			SELECT * FROM messages WHERE thread_id = ?
			ORDER BY sequence_no DESC LIMIT ?
		) ORDER BY sequence_no ASC`, threadID, n)
	if err != nil {
		return nil, fmt.Errorf("reading recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessageCount returns the number of messages in a thread.
func (s *SQLiteStore) MessageCount(ctx context.Context, threadID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

// LatestSequence returns the highest sequence number in a thread, 0 when the
// thread has no messages.
func (s *SQLiteStore) LatestSequence(ctx context.Context, threadID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_no), 0) FROM messages WHERE thread_id = ?`, threadID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("reading latest sequence: %w", err)
	}
	return seq, nil
}

// ReplaceSchemaCache atomically replaces the thread's schema snapshot.
func (s *SQLiteStore) ReplaceSchemaCache(ctx context.Context, entry *SchemaCacheEntry) error {
	refreshedAt := entry.RefreshedAt
	if refreshedAt.IsZero() {
		refreshedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_cache (thread_id, db_name, snapshot, table_count, refreshed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			db_name = excluded.db_name,
			snapshot = excluded.snapshot,
			table_count = excluded.table_count,
			refreshed_at = excluded.refreshed_at`,
		entry.ThreadID, entry.DBName, string(entry.Snapshot), entry.TableCount, refreshedAt)
	if err != nil {
		return fmt.Errorf("replacing schema cache: %w", err)
	}
	return nil
}

// GetSchemaCache returns the cached snapshot, or nil when none exists.
// An absent cache is not an error.
func (s *SQLiteStore) GetSchemaCache(ctx context.Context, threadID string) (*SchemaCacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, db_name, snapshot, table_count, refreshed_at
		FROM schema_cache WHERE thread_id = ?`, threadID)

	var entry SchemaCacheEntry
	var snapshot string
	err := row.Scan(&entry.ThreadID, &entry.DBName, &snapshot, &entry.TableCount, &entry.RefreshedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading schema cache: %w", err)
	}
	entry.Snapshot = []byte(snapshot)
	return &entry, nil
}

// SaveSummary upserts the rolling summary. summarized_up_to_seq never moves
// backwards; a stale write is rejected.
func (s *SQLiteStore) SaveSummary(ctx context.Context, sum *Summary) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_summary (thread_id, summary_text, summarized_up_to_seq, message_count_summarized, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			summary_text = excluded.summary_text,
			summarized_up_to_seq = excluded.summarized_up_to_seq,
			message_count_summarized = excluded.message_count_summarized,
			updated_at = excluded.updated_at
		WHERE excluded.summarized_up_to_seq >= conversation_summary.summarized_up_to_seq`,
		sum.ThreadID, sum.SummaryText, sum.SummarizedUpToSeq, sum.MessageCountSummarized, now, now)
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stale summary rejected for %s: summarized_up_to_seq would regress below %d",
			sum.ThreadID, sum.SummarizedUpToSeq)
	}
	return nil
}

// GetSummary returns the thread's summary, or nil when none exists.
func (s *SQLiteStore) GetSummary(ctx context.Context, threadID string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, summary_text, summarized_up_to_seq, message_count_summarized, created_at, updated_at
		FROM conversation_summary WHERE thread_id = ?`, threadID)

	var sum Summary
	err := row.Scan(&sum.ThreadID, &sum.SummaryText, &sum.SummarizedUpToSeq,
		&sum.MessageCountSummarized, &sum.CreatedAt, &sum.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading summary: %w", err)
	}
	return &sum, nil
}

// RecordQuery appends one audit record. Assigns an id when the record has
// none.
func (s *SQLiteStore) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	var messageSeq sql.NullInt64
	if rec.MessageSeq != nil {
		messageSeq = sql.NullInt64{Int64: *rec.MessageSeq, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history (id, thread_id, message_seq, sql_query, execution_ms, rows_affected, success, error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ThreadID, messageSeq, rec.SQLQuery, rec.ExecutionMS,
		rec.RowsAffected, rec.Success, nullString(rec.ErrorMessage), executedAt)
	if err != nil {
		return fmt.Errorf("recording query: %w", err)
	}
	return nil
}

// GetQueryHistory returns the most recent limit records, newest first.
// A limit of 0 means no limit.
func (s *SQLiteStore) GetQueryHistory(ctx context.Context, threadID string, limit int) ([]QueryRecord, error) {
	query := `
		SELECT id, thread_id, message_seq, sql_query, execution_ms, rows_affected, success, error_message, executed_at
		FROM query_history WHERE thread_id = ?
		ORDER BY executed_at DESC, id DESC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading query history: %w", err)
	}
	defer rows.Close()

	var out []QueryRecord
	for rows.Next() {
		var rec QueryRecord
		var messageSeq sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &messageSeq, &rec.SQLQuery,
			&rec.ExecutionMS, &rec.RowsAffected, &rec.Success, &errMsg, &rec.ExecutedAt); err != nil {
			return nil, err
		}
		if messageSeq.Valid {
			seq := messageSeq.Int64
			rec.MessageSeq = &seq
		}
		rec.ErrorMessage = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		var msg Message
		var sqlQuery, queryResult, metadata sql.NullString
		if err := rows.Scan(&msg.ThreadID, &msg.SequenceNo, &msg.Role, &msg.Content,
			&sqlQuery, &queryResult, &msg.TokensUsed, &msg.CreatedAt, &metadata); err != nil {
			return nil, err
		}
		msg.SQLQuery = sqlQuery.String
		if queryResult.Valid {
			msg.QueryResult = []byte(queryResult.String)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				L_warn("store: invalid message metadata at seq %d: %v", msg.SequenceNo, err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// nullString maps "" to NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
