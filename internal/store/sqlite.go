package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/modelrunner/internal/model"

	_ "modernc.org/sqlite"
)

const createRunsTable = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL,
    status       TEXT NOT NULL,
    framework    TEXT NOT NULL,
    engine_dir   TEXT NOT NULL,
    model_folder TEXT NOT NULL,
    inputs       TEXT,
    outputs      TEXT,
    error        TEXT,
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

const createDownloadsTable = `
CREATE TABLE IF NOT EXISTS downloads (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    dest        TEXT NOT NULL,
    urls        TEXT NOT NULL,
    failed      TEXT,
    error       TEXT,
    progress    TEXT,
    created_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const runColumns = `id, session_id, status, framework, engine_dir, model_folder,
	inputs, outputs, error, duration_ms, created_at, started_at, finished_at`

const downloadColumns = `id, status, dest, urls, failed, error, progress, created_at, finished_at`

// ErrNotFound is returned when a run or download is not found.
var ErrNotFound = errors.New("not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createRunsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec(createDownloadsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create downloads table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func encodeList(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeProgress(p map[string]float64) (sql.NullString, error) {
	if len(p) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// CreateRun inserts a new run record.
func (s *SQLiteStore) CreateRun(ctx context.Context, r *model.Run) error {
	inputs, err := encodeList(r.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	outputs, err := encodeList(r.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Status, r.Framework, r.EngineDir, r.ModelFolder,
		inputs, outputs, r.Error, r.DurationMS, r.CreatedAt, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func scanRun(row scanner) (*model.Run, error) {
	r := &model.Run{}
	var inputs, outputs, errText sql.NullString
	if err := row.Scan(
		&r.ID, &r.SessionID, &r.Status, &r.Framework, &r.EngineDir, &r.ModelFolder,
		&inputs, &outputs, &errText, &r.DurationMS, &r.CreatedAt, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if r.Inputs, err = decodeList(inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if r.Outputs, err = decodeList(outputs); err != nil {
		return nil, fmt.Errorf("decode outputs: %w", err)
	}
	r.Error = errText.String
	return r, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns a paginated list of runs ordered by created_at DESC,
// along with the total count of all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, total, nil
}

// currentStatus reads the status of a row inside tx.
func currentStatus(ctx context.Context, tx *sql.Tx, table, id string) (string, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM "+table+" WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read status: %w", err)
	}
	return status, nil
}

// UpdateRunStatus moves a run to a new status. Entering running sets
// started_at; entering a terminal status sets finished_at.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, "runs", id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(from, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	now := time.Now().UTC()
	switch {
	case status == model.StatusRunning:
		_, err = tx.ExecContext(ctx, "UPDATE runs SET status = ?, started_at = ? WHERE id = ?", status, now, id)
	case model.Terminal(status):
		_, err = tx.ExecContext(ctx, "UPDATE runs SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
	default:
		_, err = tx.ExecContext(ctx, "UPDATE runs SET status = ? WHERE id = ?", status, id)
	}
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}

	return tx.Commit()
}

// UpdateRun writes the final state of a run: status, error, duration and
// timestamps. The status change must be a valid transition.
func (s *SQLiteStore) UpdateRun(ctx context.Context, r *model.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, "runs", r.ID)
	if err != nil {
		return err
	}
	if from != r.Status && !model.ValidTransition(from, r.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, r.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, duration_ms = ?,
			started_at = COALESCE(?, started_at), finished_at = ?
		WHERE id = ?`,
		r.Status, r.Error, r.DurationMS, r.StartedAt, r.FinishedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	return tx.Commit()
}

// GetRunStats returns aggregate statistics over every recorded run.
func (s *SQLiteStore) GetRunStats(ctx context.Context) (*RunStats, error) {
	stats := &RunStats{
		CountByStatus:    make(map[string]int),
		CountByFramework: make(map[string]int),
	}

	if err := s.countBy(ctx, "status", stats.CountByStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "framework", stats.CountByFramework); err != nil {
		return nil, err
	}
	for _, n := range stats.CountByStatus {
		stats.Total += n
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM runs WHERE status = ? AND duration_ms IS NOT NULL",
		model.StatusCompleted,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	stats.AvgDurationMS = avg.Float64

	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM runs GROUP BY "+column)
	if err != nil {
		return fmt.Errorf("count runs by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s count: %w", column, err)
		}
		into[key] = n
	}
	return rows.Err()
}

// CreateDownload inserts a new download record.
func (s *SQLiteStore) CreateDownload(ctx context.Context, d *model.Download) error {
	urls, err := json.Marshal(d.URLs)
	if err != nil {
		return fmt.Errorf("encode urls: %w", err)
	}
	failed, err := encodeList(d.Failed)
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}

	progress, err := encodeProgress(d.Progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO downloads (`+downloadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Status, d.Dest, string(urls), failed, d.Error, progress, d.CreatedAt, d.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	return nil
}

func scanDownload(row scanner) (*model.Download, error) {
	d := &model.Download{}
	var urls, failed, errText, progress sql.NullString
	if err := row.Scan(&d.ID, &d.Status, &d.Dest, &urls, &failed, &errText, &progress, &d.CreatedAt, &d.FinishedAt); err != nil {
		return nil, err
	}
	var err error
	if d.URLs, err = decodeList(urls); err != nil {
		return nil, fmt.Errorf("decode urls: %w", err)
	}
	if d.Failed, err = decodeList(failed); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}
	if progress.Valid && progress.String != "" {
		if err := json.Unmarshal([]byte(progress.String), &d.Progress); err != nil {
			return nil, fmt.Errorf("decode progress: %w", err)
		}
	}
	d.Error = errText.String
	return d, nil
}

// GetDownload retrieves a download by ID.
func (s *SQLiteStore) GetDownload(ctx context.Context, id string) (*model.Download, error) {
	d, err := scanDownload(s.db.QueryRowContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get download: %w", err)
	}
	return d, nil
}

// ListDownloads returns a paginated list of downloads, newest first, along
// with the total count.
func (s *SQLiteStore) ListDownloads(ctx context.Context, limit, offset int) ([]*model.Download, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM downloads").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count downloads: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var downloads []*model.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan download: %w", err)
		}
		downloads = append(downloads, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate downloads: %w", err)
	}

	return downloads, total, nil
}

// UpdateDownload writes the status, failures, progress and finish time of a
// download.
func (s *SQLiteStore) UpdateDownload(ctx context.Context, d *model.Download) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	from, err := currentStatus(ctx, tx, "downloads", d.ID)
	if err != nil {
		return err
	}
	if from != d.Status && !model.ValidTransition(from, d.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, d.Status)
	}

	failed, err := encodeList(d.Failed)
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}
	progress, err := encodeProgress(d.Progress)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE downloads SET status = ?, failed = ?, error = ?, progress = ?, finished_at = ? WHERE id = ?",
		d.Status, failed, d.Error, progress, d.FinishedAt, d.ID,
	); err != nil {
		return fmt.Errorf("update download: %w", err)
	}

	return tx.Commit()
}
