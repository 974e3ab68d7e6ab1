package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danshapiro/epic/internal/epic/runtime"
)

// SQLiteStore appends every checkpoint of a run to a SQLite table, keeping the
// full step history. Load returns the most recent row.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
	runID string
}

var _ Store = (*SQLiteStore)(nil)

// HistoryEntry summarises one saved checkpoint.
type HistoryEntry struct {
	Seq           int64
	StepCount     int
	Status        runtime.ProgramStatus
	CurrentNodeID *int
	Digest        string
	SavedAt       time.Time
}

// NewSQLiteStore initialises the schema in db and scopes the store to runID.
// The caller owns db.
func NewSQLiteStore(db *sql.DB, runID string) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, runID: runID}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database at path. Close releases it.
func OpenSQLiteStore(path, runID string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(db, runID)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			step_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			current_node_id INTEGER,
			digest TEXT NOT NULL,
			body BLOB NOT NULL,
			saved_at TEXT NOT NULL
		);`,
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS checkpoints_run ON checkpoints (run_id, seq);`)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, cp *runtime.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint is nil")
	}
	body, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	var current any
	if id := cp.Execution.CurrentNodeID; id != nil {
		current = int(*id)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, step_count, status, current_node_id, digest, body, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.runID,
		cp.Execution.StepCount,
		string(cp.Status),
		current,
		runtime.Digest(body),
		body,
		cp.SavedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (*runtime.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT body FROM checkpoints
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1`,
		s.runID,
	)
	var body []byte
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoCheckpoint
		}
		return nil, err
	}
	return runtime.DecodeCheckpoint(body)
}

// History lists the run's checkpoints oldest first.
func (s *SQLiteStore) History(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, step_count, status, current_node_id, digest, saved_at
		FROM checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC`,
		s.runID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []HistoryEntry
	for rows.Next() {
		var (
			e       HistoryEntry
			status  string
			current sql.NullInt64
			savedAt string
		)
		if err := rows.Scan(&e.Seq, &e.StepCount, &status, &current, &e.Digest, &savedAt); err != nil {
			return nil, err
		}
		e.Status = runtime.ProgramStatus(status)
		if current.Valid {
			id := int(current.Int64)
			e.CurrentNodeID = &id
		}
		if ts, err := time.Parse(time.RFC3339Nano, savedAt); err == nil {
			e.SavedAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}
