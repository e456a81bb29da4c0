package catalog

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/flowlinehq/flowline/pkg/api"
)

// SQLiteStore is a JournalStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements JournalStore.
var _ api.JournalStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS flows (
			name TEXT PRIMARY KEY,
			backend_id TEXT NOT NULL,
			registered_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			flow_name TEXT NOT NULL,
			state TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			error TEXT
		);`,
	}
	for _, stmt := range schemas {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) SaveFlow(rec api.FlowRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO flows (name, backend_id, registered_at)
		VALUES (?, ?, ?)`,
		rec.Name,
		rec.BackendID,
		rec.RegisteredAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) GetFlow(name string) (api.FlowRecord, error) {
	row := s.db.QueryRow(`
		SELECT name, backend_id, registered_at
		FROM flows
		WHERE name = ?`,
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

func (s *SQLiteStore) ListFlows() ([]api.FlowRecord, error) {
	rows, err := s.db.Query(`
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

func (s *SQLiteStore) SaveRun(rec api.RunRecord) error {
	errStr := sql.NullString{String: rec.Error, Valid: rec.Error != ""}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs (run_id, flow_name, state, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.FlowName,
		string(rec.State),
		rec.StartedAt.UnixNano(),
		rec.DurationMs,
		errStr,
	)
	return err
}

func (s *SQLiteStore) UpdateRun(rec api.RunRecord) error {
	errStr := sql.NullString{String: rec.Error, Valid: rec.Error != ""}

	res, err := s.db.Exec(`
		UPDATE runs
		SET flow_name = ?, state = ?, started_at = ?, duration_ms = ?, error = ?
		WHERE run_id = ?`,
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

func (s *SQLiteStore) GetRun(runID string) (api.RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT run_id, flow_name, state, started_at, duration_ms, error
		FROM runs
		WHERE run_id = ?`,
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

func (s *SQLiteStore) ListRuns(filter api.RunFilter) ([]api.RunRecord, error) {
	query := `
		SELECT run_id, flow_name, state, started_at, duration_ms, error
		FROM runs`
	var args []any
	var clauses []string

	if filter.FlowName != "" {
		clauses = append(clauses, "flow_name = ?")
		args = append(args, filter.FlowName)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query = query + " ORDER BY started_at"

	rows, err := s.db.Query(query, args...)
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
