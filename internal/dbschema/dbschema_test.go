package dbschema

import (
	"strings"
	"testing"
)

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		Database: "shop",
		Tables: map[string]Table{
			"users": {
				Name: "users",
				Columns: []Column{
					{Name: "id", Type: "int", Key: "PRI", Extra: "auto_increment"},
					{Name: "email", Type: "varchar(255)", Key: "UNI"},
					{Name: "nickname", Type: "varchar(64)", Nullable: true},
				},
				Indexes: []Index{
					{Name: "PRIMARY", Column: "id", Unique: true},
					{Name: "uq_email", Column: "email", Unique: true},
				},
			},
			"orders": {
				Name: "orders",
				Columns: []Column{
					{Name: "id", Type: "int", Key: "PRI"},
					{Name: "user_id", Type: "int", Key: "MUL"},
				},
				ForeignKeys: []ForeignKey{
					{Column: "user_id", RefTable: "users", RefColumn: "id"},
				},
			},
		},
		Views:      []string{"active_users"},
		Procedures: []string{"monthly_report"},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	data, err := Marshal(snap)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.Database != "shop" || back.TableCount() != 2 {
		t.Errorf("round trip lost structure: db=%s tables=%d", back.Database, back.TableCount())
	}
	if len(back.Tables["users"].Columns) != 3 {
		t.Error("round trip lost columns")
	}
	if len(back.Tables["orders"].ForeignKeys) != 1 {
		t.Error("round trip lost foreign keys")
	}
}

func TestFormatForLLM(t *testing.T) {
	out := sampleSnapshot().FormatForLLM()

	for _, want := range []string{
		"DATABASE: `shop`",
		"Total Tables: 2",
		"TABLE: `users`",
		"TABLE: `orders`",
		"- id: int NOT NULL [PRI] auto_increment",
		"- nickname: varchar(64) NULL",
		"- user_id -> users.id",
		"- uq_email on (email)",
		"VIEWS: active_users",
		"STORED PROCEDURES: monthly_report",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("formatted schema missing %q:\n%s", want, out)
		}
	}

	// orders sorts before users.
	if strings.Index(out, "TABLE: `orders`") > strings.Index(out, "TABLE: `users`") {
		t.Error("tables not sorted by name")
	}

	// Deterministic across calls despite the map.
	if out != sampleSnapshot().FormatForLLM() {
		t.Error("formatting is not deterministic")
	}

	// PRIMARY is not listed under unique indexes.
	if strings.Contains(out, "PRIMARY on") {
		t.Error("PRIMARY index listed as a unique index")
	}
}

func TestFormatForLLMEmpty(t *testing.T) {
	empty := &Snapshot{Database: "blank", Tables: map[string]Table{}}
	if !strings.Contains(empty.FormatForLLM(), "no tables") {
		t.Error("empty database not reported")
	}
}
