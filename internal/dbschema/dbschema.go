// Package dbschema models structural snapshots of a target database.
// Snapshots are typed at the boundary and serialized to JSON only at the
// persistence edge.
package dbschema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	Key      string `json:"key,omitempty"`     // "PRI", "UNI", "MUL" or empty
	Default  string `json:"default,omitempty"`
	Extra    string `json:"extra,omitempty"` // e.g. "auto_increment"
}

// Index describes one index entry of a table.
type Index struct {
	Name   string `json:"name"`
	Column string `json:"column"`
	Unique bool   `json:"unique"`
	Type   string `json:"type,omitempty"`
}

// ForeignKey describes one foreign key constraint.
type ForeignKey struct {
	Column     string `json:"column"`
	RefTable   string `json:"refTable"`
	RefColumn  string `json:"refColumn"`
	Constraint string `json:"constraint,omitempty"`
}

// Table describes one table: its columns, indexes and foreign keys.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	Indexes     []Index      `json:"indexes,omitempty"`
	ForeignKeys []ForeignKey `json:"foreignKeys,omitempty"`
}

// Snapshot is a full structural snapshot of one database.
type Snapshot struct {
	Database   string           `json:"database"`
	Tables     map[string]Table `json:"tables"`
	Views      []string         `json:"views,omitempty"`
	Procedures []string         `json:"procedures,omitempty"`
}

// TableCount returns the number of tables in the snapshot.
func (s *Snapshot) TableCount() int {
	if s == nil {
		return 0
	}
	return len(s.Tables)
}

// Marshal serializes a snapshot for storage.
func Marshal(s *Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema snapshot: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a stored snapshot.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema snapshot: %w", err)
	}
	return &s, nil
}

// FormatForLLM renders a snapshot as plain text for prompt injection.
// Tables are sorted by name so the output is deterministic.
func (s *Snapshot) FormatForLLM() string {
	if s == nil || len(s.Tables) == 0 {
		if s != nil && s.Database != "" {
			return fmt.Sprintf("Database: `%s` (no tables)", s.Database)
		}
		return "(schema not available)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "DATABASE: `%s`\n", s.Database)
	fmt.Fprintf(&b, "Total Tables: %d\n", len(s.Tables))
	b.WriteString(strings.Repeat("=", 60))

	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := s.Tables[name]
		fmt.Fprintf(&b, "\n\nTABLE: `%s`\nColumns:\n", name)
		for _, col := range t.Columns {
			nullable := "NOT NULL"
			if col.Nullable {
				nullable = "NULL"
			}
			fmt.Fprintf(&b, "  - %s: %s %s", col.Name, col.Type, nullable)
			if col.Key != "" {
				fmt.Fprintf(&b, " [%s]", col.Key)
			}
			if col.Default != "" {
				fmt.Fprintf(&b, " DEFAULT=%s", col.Default)
			}
			if col.Extra != "" {
				fmt.Fprintf(&b, " %s", col.Extra)
			}
			b.WriteString("\n")
		}

		if len(t.ForeignKeys) > 0 {
			b.WriteString("Foreign Keys:\n")
			for _, fk := range t.ForeignKeys {
				fmt.Fprintf(&b, "  - %s -> %s.%s\n", fk.Column, fk.RefTable, fk.RefColumn)
			}
		}

		var unique []Index
		for _, idx := range t.Indexes {
			if idx.Unique && idx.Name != "PRIMARY" {
				unique = append(unique, idx)
			}
		}
		if len(unique) > 0 {
			b.WriteString("Unique Indexes:\n")
			for _, idx := range unique {
				fmt.Fprintf(&b, "  - %s on (%s)\n", idx.Name, idx.Column)
			}
		}
	}

	if len(s.Views) > 0 {
		fmt.Fprintf(&b, "\nVIEWS: %s", strings.Join(s.Views, ", "))
	}
	if len(s.Procedures) > 0 {
		fmt.Fprintf(&b, "\nSTORED PROCEDURES: %s", strings.Join(s.Procedures, ", "))
	}

	return strings.TrimRight(b.String(), "\n")
}
