package agent

import (
	"context"
	"time"

	. "dbma/internal/logging"
	"dbma/internal/store"
	"dbma/internal/target"
)

// SQLRunner executes one statement against the target database.
// Implementation: target.Manager.
type SQLRunner interface {
	Execute(ctx context.Context, query string) (*target.Result, error)
}

// HealFunc regenerates a failing statement. It receives the failed SQL and
// the database error verbatim and returns a corrected statement.
type HealFunc func(ctx context.Context, failedSQL, dbError string) (string, error)

// Executor state machine per turn.
type execState int

const (
	stateExecuting execState = iota
	stateFailing
	stateSucceeded
	stateExhausted
)

// ExhaustedError is returned when the retry budget is consumed. Its message
// is the last database error verbatim so the caller can surface it as-is.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string { return e.LastErr.Error() }
func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// ExecOutcome is the terminal result of one execution turn.
type ExecOutcome struct {
	SQL      string // statement that ran last
	Result   *target.Result
	Attempts int
}

// Executor runs generated SQL with self-healing retries. Each failed attempt
// feeds the database error back into generation for a corrected statement,
// up to the retry budget. It performs no SQL parsing or repair itself.
type Executor struct {
	runner     SQLRunner
	heal       HealFunc
	history    *Recorder
	maxRetries int
}

// NewExecutor creates an executor. maxRetries is the total execution attempt
// budget per turn.
func NewExecutor(runner SQLRunner, heal HealFunc, history *Recorder, maxRetries int) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Executor{runner: runner, heal: heal, history: history, maxRetries: maxRetries}
}

// Run executes initialSQL, retrying with regenerated statements on database
// errors until success or the budget runs out. Every executed attempt is
// recorded in query history. A generation failure consumes budget like an
// execution failure. On exhaustion the returned error is an *ExhaustedError
// carrying the last database error verbatim.
func (e *Executor) Run(ctx context.Context, threadID, initialSQL string, messageSeq *int64) (*ExecOutcome, error) {
	sqlText := initialSQL
	attempts := 0
	var lastErr error
	state := stateExecuting

	for {
		switch state {
		case stateExecuting:
			// Cancellation stops before the next attempt, never mid-write.
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			start := time.Now()
			result, execErr := e.runner.Execute(ctx, sqlText)
			attempts++

			rec := &store.QueryRecord{
				ThreadID:    threadID,
				MessageSeq:  messageSeq,
				SQLQuery:    sqlText,
				ExecutionMS: time.Since(start).Milliseconds(),
				Success:     execErr == nil,
			}
			if execErr != nil {
				rec.ErrorMessage = execErr.Error()
			} else {
				rec.RowsAffected = result.RowsAffected
				rec.ExecutionMS = result.ExecutionMS
			}
			e.history.Record(ctx, rec)

			if execErr == nil {
				return &ExecOutcome{SQL: sqlText, Result: result, Attempts: attempts}, nil
			}

			lastErr = execErr
			L_debug("executor: attempt %d failed: %v", attempts, execErr)
			state = stateFailing

		case stateFailing:
			if attempts >= e.maxRetries {
				state = stateExhausted
				continue
			}

			corrected, genErr := e.heal(ctx, sqlText, lastErr.Error())
			if genErr != nil {
				// Generation failure counts toward the budget; the last
				// database error stays the user-visible one.
				attempts++
				L_warn("executor: healing generation failed: %v", genErr)
				continue
			}
			corrected = ExtractSQL(corrected)
			if corrected == "" || corrected == sqlText {
				// The model has nothing new to try.
				L_debug("executor: healer returned no new statement, giving up")
				state = stateExhausted
				continue
			}
			sqlText = corrected
			state = stateExecuting

		case stateExhausted:
			return &ExecOutcome{SQL: sqlText, Attempts: attempts},
				&ExhaustedError{Attempts: attempts, LastErr: lastErr}
		}
	}
}
