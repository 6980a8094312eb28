// Package store provides durable conversation persistence for dbma:
// sessions, the ordered message log, the schema cache, rolling conversation
// summaries, and the query audit history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a thread id has no session row.
var ErrSessionNotFound = errors.New("session not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Store is the interface for the persistence backend.
// Implementation: SQLiteStore.
type Store interface {
	// Session operations
	EnsureSession(ctx context.Context, host, user, database string) (string, error)
	GetSession(ctx context.Context, threadID string) (*Session, error)
	TouchSession(ctx context.Context, threadID string) error
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	PurgeSession(ctx context.Context, threadID string) error

	// Message log operations
	AppendMessage(ctx context.Context, msg *Message) (int64, error)
	ReadRange(ctx context.Context, threadID string, fromSeq, toSeq int64) ([]Message, error)
	MessagesAfter(ctx context.Context, threadID string, afterSeq int64) ([]Message, error)
	RecentMessages(ctx context.Context, threadID string, n int) ([]Message, error)
	MessageCount(ctx context.Context, threadID string) (int, error)
	LatestSequence(ctx context.Context, threadID string) (int64, error)

	// Schema cache operations
	ReplaceSchemaCache(ctx context.Context, entry *SchemaCacheEntry) error
	GetSchemaCache(ctx context.Context, threadID string) (*SchemaCacheEntry, error)

	// Conversation summary operations
	SaveSummary(ctx context.Context, s *Summary) error
	GetSummary(ctx context.Context, threadID string) (*Summary, error)

	// Query history operations
	RecordQuery(ctx context.Context, rec *QueryRecord) error
	GetQueryHistory(ctx context.Context, threadID string, limit int) ([]QueryRecord, error)

	// Lifecycle
	Close() error
	Migrate() error
}

// Session is one conversation thread bound to a target database identity.
type Session struct {
	ThreadID     string
	ID           string // UUID, assigned at creation
	DBName       string
	Host         string
	User         string
	CreatedAt    time.Time
	LastActiveAt time.Time
	Metadata     map[string]any
}

// SessionInfo is a lightweight session summary for listing.
type SessionInfo struct {
	ThreadID     string
	DBName       string
	Host         string
	User         string
	CreatedAt    time.Time
	LastActiveAt time.Time
	MessageCount int
}

// Message is one conversational turn entry in the message log.
type Message struct {
	ThreadID    string
	SequenceNo  int64 // assigned by AppendMessage, strictly increasing per thread
	Role        string
	Content     string
	SQLQuery    string // extracted SQL, if any
	QueryResult []byte // serialized execution result, if any
	TokensUsed  int
	CreatedAt   time.Time
	Metadata    map[string]any
}

// SchemaCacheEntry is the single cached schema snapshot for a thread.
// The snapshot itself is opaque to the store; typed conversion happens in
// the dbschema package at the persistence edge.
type SchemaCacheEntry struct {
	ThreadID    string
	DBName      string
	Snapshot    []byte
	TableCount  int
	RefreshedAt time.Time
}

// Summary is the rolling conversation summary for a thread.
type Summary struct {
	ThreadID               string
	SummaryText            string
	SummarizedUpToSeq      int64
	MessageCountSummarized int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// QueryRecord is one entry in the append-only query audit trail.
// MessageSeq is a weak reference: the referenced message may be purged
// while the record survives.
type QueryRecord struct {
	ID           string // UUID
	ThreadID     string
	MessageSeq   *int64
	SQLQuery     string
	ExecutionMS  int64
	RowsAffected int64
	Success      bool
	ErrorMessage string
	ExecutedAt   time.Time
}
