// Package db opens the two storage backends the core is built on: a local
// SQLite database (C1 state store, C9 broker persistence, embedding cache)
// and, optionally, a Postgres+pgvector database (C5 vector store).
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite_0001_init.sql
var sqliteSchemaFS embed.FS

//go:embed schema/postgres_0001_init.sql
var PostgresSchemaFS embed.FS

//go:embed schema/sqlite_vec_0001_init.sql
var SqliteVecSchemaFS embed.FS

// OpenSQLite opens (and creates, if absent) the local state/broker database.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if err := applyEmbedded(db, sqliteSchemaFS, "schema/sqlite_0001_init.sql"); err != nil {
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return db, nil
}

func applyEmbedded(db *sql.DB, fsys embed.FS, names ...string) error {
	sort.Strings(names)
	for _, name := range names {
		content, err := fsys.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}
