package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"dbma/internal/config"
	"dbma/internal/store"
	"dbma/internal/target"
)

func newTestStore(t *testing.T) (*store.SQLiteStore, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "dbma_agent_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	s, err := store.NewSQLiteStore(config.StoreConfig{Path: path, WALMode: true, BusyTimeout: 5000})
	if err != nil {
		os.Remove(path)
		t.Fatalf("failed to open store: %v", err)
	}
	return s, func() {
		s.Close()
		os.Remove(path)
	}
}

// fakeRunner plays back a scripted list of outcomes.
type fakeRunner struct {
	errs     []error // nil entry means success
	calls    int
	seenSQL  []string
	rowCount int64
}

func (f *fakeRunner) Execute(_ context.Context, query string) (*target.Result, error) {
	idx := f.calls
	f.calls++
	f.seenSQL = append(f.seenSQL, query)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	return &target.Result{QueryType: target.QuerySelect, RowsAffected: f.rowCount}, nil
}

// countingHeal returns a distinct corrected statement per call.
func countingHeal() (HealFunc, *int) {
	calls := new(int)
	return func(_ context.Context, _, _ string) (string, error) {
		*calls++
		return fmt.Sprintf("```sql\nSELECT fixed_%d\n```", *calls), nil
	}, calls
}

func TestExecutorAlwaysFails(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")

	dbErr := errors.New("ERROR 1054 (42S22): Unknown column 'usrname' in 'field list'")
	runner := &fakeRunner{errs: []error{dbErr, dbErr, dbErr, dbErr}}
	heal, _ := countingHeal()
	exec := NewExecutor(runner, heal, NewRecorder(st), 3)

	outcome, err := exec.Run(ctx, threadID, "SELECT usrname FROM users", nil)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	if exhausted.Error() != dbErr.Error() {
		t.Errorf("exhaustion did not surface the raw database error: %q", exhausted.Error())
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", outcome.Attempts)
	}
	if runner.calls != 3 {
		t.Errorf("expected exactly 3 executions, got %d", runner.calls)
	}

	records, err := st.GetQueryHistory(ctx, threadID, 0)
	if err != nil {
		t.Fatalf("GetQueryHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Success {
			t.Error("unexpected success=true record for an always-failing statement")
		}
		if rec.ErrorMessage != dbErr.Error() {
			t.Errorf("audit record lost the error text: %q", rec.ErrorMessage)
		}
	}
}

func TestExecutorFailTwiceThenSucceed(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")

	dbErr := errors.New("ERROR 1146 (42S02): Table 'shop.user' doesn't exist")
	runner := &fakeRunner{errs: []error{dbErr, dbErr, nil}, rowCount: 7}
	heal, healCalls := countingHeal()
	exec := NewExecutor(runner, heal, NewRecorder(st), 3)

	outcome, err := exec.Run(ctx, threadID, "SELECT * FROM user", nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if *healCalls != 2 {
		t.Errorf("expected 2 healing calls, got %d", *healCalls)
	}
	if outcome.SQL != "SELECT fixed_2" {
		t.Errorf("outcome carries wrong final SQL: %q", outcome.SQL)
	}
	if outcome.Result == nil || outcome.Result.RowsAffected != 7 {
		t.Error("result not captured on success")
	}

	records, _ := st.GetQueryHistory(ctx, threadID, 0)
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	var succeeded, failed int
	for _, rec := range records {
		if rec.Success {
			succeeded++
			if rec.SQLQuery != "SELECT fixed_2" {
				t.Errorf("successful record has wrong SQL: %q", rec.SQLQuery)
			}
		} else {
			failed++
		}
	}
	if succeeded != 1 || failed != 2 {
		t.Errorf("expected 2 failed + 1 succeeded, got %d + %d", failed, succeeded)
	}
}

func TestExecutorFirstTrySuccess(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")

	runner := &fakeRunner{rowCount: 1}
	heal, healCalls := countingHeal()
	exec := NewExecutor(runner, heal, NewRecorder(st), 3)

	outcome, err := exec.Run(ctx, threadID, "SELECT 1", nil)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if outcome.Attempts != 1 || *healCalls != 0 {
		t.Errorf("first-try success ran extra work: attempts=%d heals=%d", outcome.Attempts, *healCalls)
	}
	records, _ := st.GetQueryHistory(ctx, threadID, 0)
	if len(records) != 1 || !records[0].Success {
		t.Errorf("expected one successful audit record")
	}
}

func TestExecutorHealerGivesUp(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")

	dbErr := errors.New("ERROR 1064 (42000): syntax error")
	runner := &fakeRunner{errs: []error{dbErr, dbErr, dbErr}}
	// Healer repeats the failing statement verbatim.
	heal := func(_ context.Context, failedSQL, _ string) (string, error) {
		return "```sql\n" + failedSQL + "\n```", nil
	}
	exec := NewExecutor(runner, heal, NewRecorder(st), 3)

	_, err := exec.Run(ctx, threadID, "SELEC 1", nil)
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if runner.calls != 1 {
		t.Errorf("identical regenerated SQL was re-executed %d times", runner.calls)
	}
}

func TestExecutorGenerationFailureConsumesBudget(t *testing.T) {
	st, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	threadID, _ := st.EnsureSession(ctx, "localhost", "root", "shop")

	dbErr := errors.New("ERROR 2013 (HY000): Lost connection to MySQL server")
	runner := &fakeRunner{errs: []error{dbErr, dbErr, dbErr}}
	heal := func(_ context.Context, _, _ string) (string, error) {
		return "", errors.New("generation timed out")
	}
	exec := NewExecutor(runner, heal, NewRecorder(st), 3)

	_, err := exec.Run(ctx, threadID, "SELECT 1", nil)
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	// The database error stays the user-visible message, not the
	// generation failure.
	if exhausted.Error() != dbErr.Error() {
		t.Errorf("wrong surfaced error: %q", exhausted.Error())
	}
	if runner.calls != 1 {
		t.Errorf("expected a single execution, got %d", runner.calls)
	}
}
