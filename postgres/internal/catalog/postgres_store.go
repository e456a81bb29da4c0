package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

// PostgresStore is a JournalStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib" or "github.com/lib/pq").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements JournalStore.
var _ api.JournalStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) initSchema() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			name TEXT PRIMARY KEY,
			backend_id TEXT NOT NULL,
			registered_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at BIGINT NOT NULL,
			duration_ms BIGINT NOT NULL,
			error TEXT
		);
	`)
	return err
}

func (p *PostgresStore) SaveFlow(rec api.FlowRecord) error {
	_, err := p.db.Exec(`
		INSERT INTO flows (name, backend_id, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET backend_id = EXCLUDED.backend_id,
		    registered_at = EXCLUDED.registered_at`,
		rec.Name,
		rec.BackendID,
		rec.RegisteredAt.UnixNano(),
	)
	return err
}

func (p *PostgresStore) GetFlow(name string) (api.FlowRecord, error) {
	row := p.db.QueryRow(`
		SELECT name, backend_id, registered_at
		FROM flows
		WHERE name = $1`,
		name,
	)

	var rec api.FlowRecord
	var registeredAt int64

	if err := row.Scan(&rec.Name, &rec.BackendID, &registeredAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.FlowRecord{}, api.ErrFlowRecordNotFound
		}
		return api.FlowRecord{}, err
	}

	rec.RegisteredAt = time.Unix(0, registeredAt)
	return rec, nil
}

func (p *PostgresStore) ListFlows() ([]api.FlowRecord, error) {
	rows, err := p.db.Query(`
		SELECT name, backend_id, registered_at
		FROM flows
		ORDER BY registered_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.FlowRecord

	for rows.Next() {
		var rec api.FlowRecord
		var registeredAt int64

		if err := rows.Scan(&rec.Name, &rec.BackendID, &registeredAt); err != nil {
			return nil, err
		}

		rec.RegisteredAt = time.Unix(0, registeredAt)
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (p *PostgresStore) SaveRun(rec api.RunRecord) error {
	errStr := sql.NullString{String: rec.Error, Valid: rec.Error != ""}

	_, err := p.db.Exec(`
		INSERT INTO runs (run_id, flow_name, state, started_at, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO UPDATE
		SET flow_name = EXCLUDED.flow_name,
		    state = EXCLUDED.state,
		    started_at = EXCLUDED.started_at,
		    duration_ms = EXCLUDED.duration_ms,
		    error = EXCLUDED.error`,
		rec.RunID,
		rec.FlowName,
		string(rec.State),
		rec.StartedAt.UnixNano(),
		rec.DurationMs,
		errStr,
	)
	return err
}

func (p *PostgresStore) UpdateRun(rec api.RunRecord) error {
	errStr := sql.NullString{String: rec.Error, Valid: rec.Error != ""}

	res, err := p.db.Exec(`
		UPDATE runs
		SET flow_name = $1, state = $2, started_at = $3, duration_ms = $4, error = $5
		WHERE run_id = $6`,
		rec.FlowName,
		string(rec.State),
		rec.StartedAt.UnixNano(),
		rec.DurationMs,
		errStr,
		rec.RunID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return api.ErrRunRecordNotFound
	}

	return nil
}

func (p *PostgresStore) GetRun(runID string) (api.RunRecord, error) {
	row := p.db.QueryRow(`
		SELECT run_id, flow_name, state, started_at, duration_ms, error
		FROM runs
		WHERE run_id = $1`,
		runID,
	)

	rec, err := scanRun(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.RunRecord{}, api.ErrRunRecordNotFound
		}
		return api.RunRecord{}, err
	}

	return rec, nil
}

func (p *PostgresStore) ListRuns(filter api.RunFilter) ([]api.RunRecord, error) {
	query := `
		SELECT run_id, flow_name, state, started_at, duration_ms, error
		FROM runs`
	var args []any
	var clauses []string

	if filter.FlowName != "" {
		clauses = append(clauses, fmt.Sprintf("flow_name = $%d", len(args)+1))
		args = append(args, filter.FlowName)
	}
	if filter.State != "" {
		clauses = append(clauses, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, string(filter.State))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " ORDER BY started_at"

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.RunRecord

	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func scanRun(scan func(...any) error) (api.RunRecord, error) {
	var rec api.RunRecord
	var stateStr string
	var startedAt int64
	var errStr sql.NullString

	if err := scan(&rec.RunID, &rec.FlowName, &stateStr, &startedAt, &rec.DurationMs, &errStr); err != nil {
		return api.RunRecord{}, err
	}

	rec.State = api.TaskState(stateStr)
	rec.StartedAt = time.Unix(0, startedAt)
	if errStr.Valid {
		rec.Error = errStr.String
	}

	return rec, nil
}
