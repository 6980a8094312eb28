// Package agent orchestrates conversation turns: context assembly, SQL
// generation, self-healing execution, persistence and compaction.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"dbma/internal/config"
	"dbma/internal/dbschema"
	"dbma/internal/llm"
	. "dbma/internal/logging"
	"dbma/internal/store"
	"dbma/internal/target"
	"dbma/internal/tokens"
)

// TargetDB is the slice of the target manager the agent needs.
// Implementation: target.Manager.
type TargetDB interface {
	SQLRunner
	Snapshot(ctx context.Context) (*dbschema.Snapshot, error)
	Database() string
	Host() string
	User() string
}

// TurnResult is what one user turn produces for the caller to render.
type TurnResult struct {
	Response             string         // assistant text, or the last database error verbatim on exhaustion
	SQL                  string         // statement that ran (or is pending confirmation)
	Result               *target.Result // nil when no SQL ran
	Attempts             int
	Exhausted            bool
	RequiresConfirmation bool // destructive statement awaiting approval
}

// Agent ties the components together for one target database.
type Agent struct {
	store     store.Store
	db        TargetDB
	provider  llm.Provider
	cfg       config.AgentConfig
	builder   *ContextBuilder
	compactor *Compactor
	recorder  *Recorder
	schemaTTL time.Duration

	// Per-thread turn serialization. Different threads run in parallel.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires an agent from its collaborators.
func New(st store.Store, db TargetDB, provider llm.Provider, cfg config.AgentConfig) *Agent {
	ttl := time.Duration(cfg.SchemaTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Agent{
		store:     st,
		db:        db,
		provider:  provider,
		cfg:       cfg,
		builder:   NewContextBuilder(st, cfg.WindowSize),
		compactor: NewCompactor(st, provider, cfg.WindowSize, cfg.KeepTail),
		recorder:  NewRecorder(st),
		schemaTTL: ttl,
		locks:     make(map[string]*sync.Mutex),
	}
}

// EnsureSession resolves and upserts the thread for the connected target.
func (a *Agent) EnsureSession(ctx context.Context) (string, error) {
	return a.store.EnsureSession(ctx, a.db.Host(), a.db.User(), a.db.Database())
}

func (a *Agent) threadMu(threadID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	mu, ok := a.locks[threadID]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[threadID] = mu
	}
	return mu
}

// RunTurn processes one user input end to end. Turns for the same thread are
// serialized; the caller may invoke this from multiple goroutines.
func (a *Agent) RunTurn(ctx context.Context, threadID, userInput string) (*TurnResult, error) {
	mu := a.threadMu(threadID)
	mu.Lock()
	defer mu.Unlock()

	userMsg := &store.Message{
		ThreadID:   threadID,
		Role:       store.RoleUser,
		Content:    userInput,
		TokensUsed: tokens.Estimate(userInput),
	}
	userSeq, err := a.store.AppendMessage(ctx, userMsg)
	if err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	tc, err := a.builder.Build(ctx, threadID)
	if err != nil {
		return nil, err
	}
	// The turn's own user message is passed explicitly, not via the tail.
	if n := len(tc.Recent); n > 0 && tc.Recent[n-1].SequenceNo == userSeq {
		tc.Recent = tc.Recent[:n-1]
	}

	schemaContext, err := a.SchemaContext(ctx, threadID)
	if err != nil {
		L_warn("agent: schema context unavailable: %v", err)
		schemaContext = "(schema unavailable)"
	}

	systemPrompt := buildSystemPrompt(a.db.Database(), schemaContext)
	if records, err := a.store.GetQueryHistory(ctx, threadID, a.cfg.HistoryContext); err == nil {
		systemPrompt += renderQueryHistory(records)
	}
	prompt := buildGenerationPrompt(tc, userInput)

	raw, err := a.generateWithRetry(ctx, prompt, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	response := CleanResponse(raw)
	sqlText := ExtractSQL(raw)

	if sqlText == "" {
		if err := a.appendAssistant(ctx, threadID, response, "", nil); err != nil {
			return nil, err
		}
		a.compactAsBestEffort(ctx, threadID)
		return &TurnResult{Response: response}, nil
	}

	if IsDestructive(sqlText) {
		// Nothing is persisted for the assistant side until the caller
		// approves; declining leaves only the user message in the log.
		return &TurnResult{Response: response, SQL: sqlText, RequiresConfirmation: true}, nil
	}

	return a.executeAndPersist(ctx, threadID, response, sqlText, &userSeq, schemaContext)
}

// ExecuteApproved runs a destructive statement the caller has confirmed.
func (a *Agent) ExecuteApproved(ctx context.Context, threadID, response, sqlText string) (*TurnResult, error) {
	mu := a.threadMu(threadID)
	mu.Lock()
	defer mu.Unlock()

	schemaContext, err := a.SchemaContext(ctx, threadID)
	if err != nil {
		schemaContext = "(schema unavailable)"
	}
	return a.executeAndPersist(ctx, threadID, response, sqlText, nil, schemaContext)
}

func (a *Agent) executeAndPersist(ctx context.Context, threadID, response, sqlText string, userSeq *int64, schemaContext string) (*TurnResult, error) {
	heal := func(ctx context.Context, failedSQL, dbError string) (string, error) {
		return a.provider.Generate(ctx, buildHealerPrompt(a.db.Database(), failedSQL, dbError, schemaContext), "")
	}
	executor := NewExecutor(a.db, heal, a.recorder, a.cfg.MaxRetries)

	outcome, execErr := executor.Run(ctx, threadID, sqlText, userSeq)
	if execErr != nil {
		var exhausted *ExhaustedError
		if errors.As(execErr, &exhausted) {
			// Exhaustion surfaces the raw database error, and the failed
			// turn is still part of the conversation record.
			if err := a.appendAssistant(ctx, threadID, exhausted.Error(), outcome.SQL, nil); err != nil {
				return nil, err
			}
			return &TurnResult{
				Response:  exhausted.Error(),
				SQL:       outcome.SQL,
				Attempts:  outcome.Attempts,
				Exhausted: true,
			}, nil
		}
		return nil, execErr
	}

	if err := a.appendAssistant(ctx, threadID, response, outcome.SQL, outcome.Result); err != nil {
		return nil, err
	}
	a.compactAsBestEffort(ctx, threadID)

	return &TurnResult{
		Response: response,
		SQL:      outcome.SQL,
		Result:   outcome.Result,
		Attempts: outcome.Attempts,
	}, nil
}

// generateWithRetry retries the initial generation call within the same
// budget the executor uses for corrections.
func (a *Agent) generateWithRetry(ctx context.Context, prompt, systemPrompt string) (string, error) {
	budget := a.cfg.MaxRetries
	if budget <= 0 {
		budget = 3
	}
	var lastErr error
	for attempt := 1; attempt <= budget; attempt++ {
		raw, err := a.provider.Generate(ctx, prompt, systemPrompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		L_warn("agent: generation attempt %d failed: %v", attempt, err)
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (a *Agent) appendAssistant(ctx context.Context, threadID, content, sqlText string, result *target.Result) error {
	msg := &store.Message{
		ThreadID:   threadID,
		Role:       store.RoleAssistant,
		Content:    content,
		SQLQuery:   sqlText,
		TokensUsed: tokens.Estimate(content),
	}
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			L_warn("agent: could not encode query result: %v", err)
		} else {
			msg.QueryResult = encoded
		}
	}
	if _, err := a.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("persisting assistant turn: %w", err)
	}
	return nil
}

func (a *Agent) compactAsBestEffort(ctx context.Context, threadID string) {
	if _, err := a.compactor.MaybeCompact(ctx, threadID); err != nil {
		// Retried on the next turn or by the maintenance sweep.
		L_warn("agent: compaction deferred: %v", err)
	}
}

// SchemaContext returns the formatted schema for prompting, refreshing the
// cache when absent or older than the TTL.
func (a *Agent) SchemaContext(ctx context.Context, threadID string) (string, error) {
	entry, err := a.store.GetSchemaCache(ctx, threadID)
	if err != nil {
		return "", err
	}
	if entry == nil || time.Since(entry.RefreshedAt) > a.schemaTTL {
		snap, err := a.RefreshSchema(ctx, threadID)
		if err != nil {
			if entry == nil {
				return "", err
			}
			// Stale beats absent when the target is unreachable.
			L_warn("agent: schema refresh failed, using stale cache: %v", err)
		} else {
			return snap.FormatForLLM(), nil
		}
	}
	snap, err := dbschema.Unmarshal(entry.Snapshot)
	if err != nil {
		return "", fmt.Errorf("decoding cached schema: %w", err)
	}
	return snap.FormatForLLM(), nil
}

// RefreshSchema introspects the target and replaces the cache row.
func (a *Agent) RefreshSchema(ctx context.Context, threadID string) (*dbschema.Snapshot, error) {
	snap, err := a.db.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspecting target: %w", err)
	}
	encoded, err := dbschema.Marshal(snap)
	if err != nil {
		return nil, err
	}
	err = a.store.ReplaceSchemaCache(ctx, &store.SchemaCacheEntry{
		ThreadID:   threadID,
		DBName:     snap.Database,
		Snapshot:   encoded,
		TableCount: snap.TableCount(),
	})
	if err != nil {
		return nil, err
	}
	L_info("agent: schema cache refreshed for %s (%d tables)", threadID, snap.TableCount())
	return snap, nil
}

// History returns recent query audit records for rendering.
func (a *Agent) History(ctx context.Context, threadID string, limit int) ([]store.QueryRecord, error) {
	return a.store.GetQueryHistory(ctx, threadID, limit)
}

// PurgeHistory wipes the thread's conversation state. Query history records
// survive.
func (a *Agent) PurgeHistory(ctx context.Context, threadID string) error {
	return a.store.PurgeSession(ctx, threadID)
}

// Sessions lists all known conversation threads.
func (a *Agent) Sessions(ctx context.Context) ([]store.SessionInfo, error) {
	return a.store.ListSessions(ctx)
}
