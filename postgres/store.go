// Package postgres provides a PostgreSQL-backed journal store for flowline.
package postgres

import (
	"database/sql"

	"github.com/flowlinehq/flowline/pkg/api"

	pcatalog "github.com/flowlinehq/flowline/postgres/internal/catalog"
)

// NewJournalStore initializes the journal schema in db and returns a
// JournalStore that keeps flow registrations and run records in
// PostgreSQL. Wire it in via Config.Journal:
//
//	db, _ := sql.Open("pgx", dsn)
//	journal, err := flowlinepg.NewJournalStore(db)
//	cfg := flowline.Config{Journal: journal}
//
// The caller imports the driver, e.g. github.com/jackc/pgx/v5/stdlib.
func NewJournalStore(db *sql.DB) (api.JournalStore, error) {
	return pcatalog.NewPostgresStore(db)
}
