package target

import (
	"strings"
	"sync"
	"testing"

	"dbma/internal/config"
)

func TestDetectQueryType(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM users", QuerySelect},
		{"  select 1", QuerySelect},
		{"WITH t AS (SELECT 1) SELECT * FROM t", QuerySelect},
		{"INSERT INTO users VALUES (1)", QueryInsert},
		{"REPLACE INTO users VALUES (1)", QueryInsert},
		{"UPDATE users SET name = 'x'", QueryUpdate},
		{"DELETE FROM users", QueryDelete},
		{"TRUNCATE TABLE logs", QueryDelete},
		{"CREATE TABLE t (id INT)", QueryCreate},
		{"ALTER TABLE t ADD c INT", QueryAlter},
		{"DROP TABLE t", QueryDrop},
		{"SHOW TABLES", QueryShow},
		{"DESCRIBE users", QueryDesc},
		{"desc users", QueryDesc},
		{"EXPLAIN SELECT 1", QueryExplain},
		{"-- comment\nSELECT 1", QuerySelect},
		{"/* lead */ UPDATE t SET a=1", QueryUpdate},
		{"GRANT ALL ON *.* TO x", QueryOther},
		{"", QueryOther},
	}
	for _, tt := range tests {
		if got := DetectQueryType(tt.sql); got != tt.want {
			t.Errorf("DetectQueryType(%q) = %s, want %s", tt.sql, got, tt.want)
		}
	}
}

func TestFormatTextRowSet(t *testing.T) {
	r := &Result{
		QueryType:    QuerySelect,
		Columns:      []string{"id", "name"},
		Rows:         [][]string{{"1", "alice"}, {"2", "bob"}},
		RowsAffected: 2,
		ExecutionMS:  12,
	}
	out := r.FormatText()

	if !strings.Contains(out, "| id | name  |") {
		t.Errorf("header row missing:\n%s", out)
	}
	if !strings.Contains(out, "| 1  | alice |") || !strings.Contains(out, "| 2  | bob   |") {
		t.Errorf("data rows missing or misaligned:\n%s", out)
	}
	if !strings.Contains(out, "2 rows in set (0.012 sec)") {
		t.Errorf("trailer missing:\n%s", out)
	}
}

func TestFormatTextSingleRow(t *testing.T) {
	r := &Result{Columns: []string{"n"}, Rows: [][]string{{"42"}}, ExecutionMS: 3}
	if !strings.Contains(r.FormatText(), "1 row in set") {
		t.Error("singular noun not used for one row")
	}
}

func TestFormatTextEmptySet(t *testing.T) {
	r := &Result{Columns: []string{"id"}, ExecutionMS: 5}
	if !strings.HasPrefix(r.FormatText(), "Empty set") {
		t.Errorf("empty result not rendered as Empty set: %q", r.FormatText())
	}
}

func TestFormatTextMutation(t *testing.T) {
	r := &Result{QueryType: QueryUpdate, RowsAffected: 3, ExecutionMS: 8}
	if r.FormatText() != "Query OK, 3 rows affected (0.008 sec)" {
		t.Errorf("mutation trailer wrong: %q", r.FormatText())
	}

	one := &Result{QueryType: QueryInsert, RowsAffected: 1, ExecutionMS: 2}
	if one.FormatText() != "Query OK, 1 row affected (0.002 sec)" {
		t.Errorf("singular mutation trailer wrong: %q", one.FormatText())
	}
}

func TestFormatTextTruncated(t *testing.T) {
	r := &Result{Columns: []string{"x"}, Rows: [][]string{{"1"}}, Truncated: true}
	if !strings.Contains(r.FormatText(), "[truncated]") {
		t.Error("truncation marker missing")
	}
}

// Readers and a pool swap share the Manager between the REPL and the
// maintenance sweep, so accessor reads must stay consistent across swaps.
func TestManagerSwapWithConcurrentReaders(t *testing.T) {
	cfg := config.TargetConfig{
		Host: "127.0.0.1", Port: 3306, User: "root",
		Database: "alpha", TimeoutSeconds: 1,
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				name := m.Database()
				if name != "alpha" && name != "beta" {
					t.Errorf("torn read: database %q", name)
					return
				}
				if m.Host() != "127.0.0.1" || m.User() != "root" {
					t.Error("torn read on host/user")
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		next := cfg
		if i%2 == 0 {
			next.Database = "beta"
		}
		replacement, err := NewManager(next)
		if err != nil {
			t.Fatalf("NewManager replacement: %v", err)
		}
		m.swapPool(replacement.db, next).Close()
	}
	close(done)
	wg.Wait()

	if got := m.Database(); got != "alpha" {
		t.Errorf("database after final swap = %q, want alpha", got)
	}
}
