package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/schoolrun/internal/model"
)

// ErrRecordNotFound is returned when no journal record has the requested ID
var ErrRecordNotFound = errors.New("execution record not found")

// ExecutionRecord is one journal entry for an execution of a run
type ExecutionRecord struct {
	ID             string               `json:"id"`
	RunID          string               `json:"run_id"`
	RunName        string               `json:"run_name"`
	State          model.ExecutionState `json:"state"`
	StopsCompleted int                  `json:"stops_completed"`
	StopsTotal     int                  `json:"stops_total"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     *time.Time           `json:"finished_at,omitempty"`
	Duration       time.Duration        `json:"duration,omitempty"`
	Metadata       json.RawMessage      `json:"metadata,omitempty"`
}

// Journal defines the interface for execution journal storage
type Journal interface {
	// Store stores a new execution record
	Store(ctx context.Context, record *ExecutionRecord) error

	// Update updates an existing execution record
	Update(ctx context.Context, record *ExecutionRecord) error

	// Get retrieves an execution record by ID
	Get(ctx context.Context, id string) (*ExecutionRecord, error)

	// List retrieves execution records, most recent first
	List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*ExecutionRecord, error)

	// Count returns the number of records matching the filters
	Count(ctx context.Context, filters map[string]interface{}) (int, error)

	// DeleteBefore deletes records started before the given time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// filterColumns lists the columns List and Count may filter on
var filterColumns = map[string]bool{
	"run_id":   true,
	"run_name": true,
	"state":    true,
}

// SQLiteJournal implements Journal using SQLite
type SQLiteJournal struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteJournal creates a journal backed by a fresh SQLite database at
// dbPath. Any existing file is removed first.
func NewSQLiteJournal(logger *zap.Logger, dbPath string) (*SQLiteJournal, error) {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove old database: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	journal := &SQLiteJournal{
		logger: logger.Named("journal"),
		db:     db,
	}

	if err := journal.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return journal, nil
}

func (s *SQLiteJournal) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS execution_journal (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			run_name TEXT NOT NULL,
			state TEXT NOT NULL,
			stops_completed INTEGER NOT NULL DEFAULT 0,
			stops_total INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			duration INTEGER,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_execution_journal_run_id ON execution_journal(run_id);
		CREATE INDEX IF NOT EXISTS idx_execution_journal_state ON execution_journal(state);
		CREATE INDEX IF NOT EXISTS idx_execution_journal_started_at ON execution_journal(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Store implements Journal.Store
func (s *SQLiteJournal) Store(ctx context.Context, record *ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_journal (
			id, run_id, run_name, state, stops_completed, stops_total, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.RunID,
		record.RunName,
		string(record.State),
		record.StopsCompleted,
		record.StopsTotal,
		record.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store execution record: %w", err)
	}
	return nil
}

// Update implements Journal.Update
func (s *SQLiteJournal) Update(ctx context.Context, record *ExecutionRecord) error {
	var finishedAt sql.NullTime
	if record.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *record.FinishedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE execution_journal SET
			state = ?,
			stops_completed = ?,
			finished_at = ?,
			duration = ?,
			metadata = ?
		WHERE id = ?`,
		string(record.State),
		record.StopsCompleted,
		finishedAt,
		sql.NullInt64{Int64: int64(record.Duration), Valid: record.Duration != 0},
		sql.NullString{String: string(record.Metadata), Valid: len(record.Metadata) > 0},
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, record.ID)
	}
	return nil
}

const selectColumns = `id, run_id, run_name, state, stops_completed, stops_total,
	started_at, finished_at, duration, metadata`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*ExecutionRecord, error) {
	record := &ExecutionRecord{}
	var state string
	var finishedAt sql.NullTime
	var durationNanos sql.NullInt64
	var metadata sql.NullString

	err := row.Scan(
		&record.ID,
		&record.RunID,
		&record.RunName,
		&state,
		&record.StopsCompleted,
		&record.StopsTotal,
		&record.StartedAt,
		&finishedAt,
		&durationNanos,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	record.State = model.ExecutionState(state)
	if finishedAt.Valid {
		record.FinishedAt = &finishedAt.Time
	}
	if durationNanos.Valid {
		record.Duration = time.Duration(durationNanos.Int64)
	}
	if metadata.Valid && metadata.String != "" {
		record.Metadata = json.RawMessage(metadata.String)
	}
	return record, nil
}

// Get implements Journal.Get
func (s *SQLiteJournal) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM execution_journal WHERE id = ?", id)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan execution record: %w", err)
	}
	return record, nil
}

// whereClause builds a WHERE clause from filters in a stable column order
func whereClause(filters map[string]interface{}) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filters))
	for key := range filters {
		if !filterColumns[key] {
			return "", nil, fmt.Errorf("unsupported filter column: %s", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		conditions[i] = key + " = ?"
		value := filters[key]
		if state, ok := value.(model.ExecutionState); ok {
			value = string(state)
		}
		args[i] = value
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// List implements Journal.List
func (s *SQLiteJournal) List(ctx context.Context, filters map[string]interface{}, offset, limit int) ([]*ExecutionRecord, error) {
	where, args, err := whereClause(filters)
	if err != nil {
		return nil, err
	}

	query := "SELECT " + selectColumns + " FROM execution_journal" + where +
		" ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution records: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return records, nil
}

// Count implements Journal.Count
func (s *SQLiteJournal) Count(ctx context.Context, filters map[string]interface{}) (int, error) {
	where, args, err := whereClause(filters)
	if err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM execution_journal"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count execution records: %w", err)
	}
	return count, nil
}

// DeleteBefore implements Journal.DeleteBefore
func (s *SQLiteJournal) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM execution_journal WHERE started_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete execution records: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old execution records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}
