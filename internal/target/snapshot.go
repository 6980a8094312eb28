package target

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dbma/internal/dbschema"
	. "dbma/internal/logging"
)

// Snapshot introspects the current database and returns a full structural
// snapshot: tables with columns, indexes and foreign keys, plus view and
// stored procedure names.
func (m *Manager) Snapshot(ctx context.Context) (*dbschema.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	snap := &dbschema.Snapshot{
		Database: m.database,
		Tables:   make(map[string]dbschema.Table),
	}

	tables, err := m.listTables(ctx)
	if err != nil {
		return nil, err
	}

	for _, name := range tables {
		table, err := m.introspectTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("introspecting table %s: %w", name, err)
		}
		snap.Tables[name] = table
	}

	if snap.Views, err = m.listViews(ctx); err != nil {
		return nil, err
	}
	if snap.Procedures, err = m.listProcedures(ctx); err != nil {
		return nil, err
	}

	L_debug("target: snapshot of %s captured in %s (%d tables)",
		m.database, time.Since(start).Round(time.Millisecond), len(snap.Tables))
	return snap, nil
}

func (m *Manager) introspectTable(ctx context.Context, name string) (dbschema.Table, error) {
	table := dbschema.Table{Name: name}

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf("DESCRIBE `%s`", name))
	if err != nil {
		return table, err
	}
	for rows.Next() {
		var field, colType, null, key string
		var def, extra sql.NullString
		if err := rows.Scan(&field, &colType, &null, &key, &def, &extra); err != nil {
			rows.Close()
			return table, err
		}
		table.Columns = append(table.Columns, dbschema.Column{
			Name:     field,
			Type:     colType,
			Nullable: null == "YES",
			Key:      key,
			Default:  def.String,
			Extra:    extra.String,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return table, err
	}

	rows, err = m.db.QueryContext(ctx, `
		SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE, INDEX_TYPE
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`, m.database, name)
	if err != nil {
		return table, err
	}
	for rows.Next() {
		var idxName, column, idxType string
		var nonUnique int
		if err := rows.Scan(&idxName, &column, &nonUnique, &idxType); err != nil {
			rows.Close()
			return table, err
		}
		table.Indexes = append(table.Indexes, dbschema.Index{
			Name:   idxName,
			Column: column,
			Unique: nonUnique == 0,
			Type:   idxType,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return table, err
	}

	rows, err = m.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME, CONSTRAINT_NAME
		FROM information_schema.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND REFERENCED_TABLE_NAME IS NOT NULL`,
		m.database, name)
	if err != nil {
		return table, err
	}
	for rows.Next() {
		var fk dbschema.ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn, &fk.Constraint); err != nil {
			rows.Close()
			return table, err
		}
		table.ForeignKeys = append(table.ForeignKeys, fk)
	}
	rows.Close()
	return table, rows.Err()
}

func (m *Manager) listViews(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.VIEWS
		WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME`, m.database)
	if err != nil {
		return nil, fmt.Errorf("listing views: %w", err)
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

func (m *Manager) listProcedures(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT ROUTINE_NAME FROM information_schema.ROUTINES
		WHERE ROUTINE_SCHEMA = ? AND ROUTINE_TYPE = 'PROCEDURE'
		ORDER BY ROUTINE_NAME`, m.database)
	if err != nil {
		return nil, fmt.Errorf("listing procedures: %w", err)
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
