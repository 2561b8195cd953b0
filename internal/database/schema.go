package database

import (
	"database/sql"
	"fmt"
	"strings"
)

const schemaHeader = `-- Catalog schema as produced by the migrations.
-- Source: internal/database/migrations/files/*.sql

`

// DumpSchema returns the CREATE statements of a migrated catalog, excluding
// SQLite internals and the migration bookkeeping table. Tables come first,
// then indexes, then triggers, each group ordered by name.
func DumpSchema(db *sql.DB) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index', 'trigger')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		    WHEN 'trigger' THEN 3
		  END,
		  name
	`

	rows, err := db.Query(query)
	if err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	b.WriteString(schemaHeader)
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning schema row: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("reading schema: %w", err)
	}
	return b.String(), nil
}

// Schema returns the schema of this catalog.
func (s *SQLiteDatabase) Schema() (string, error) {
	return DumpSchema(s.db)
}
