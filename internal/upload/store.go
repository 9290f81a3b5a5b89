// Package upload owns the file-upload lifecycle: the intake.file_uploads
// ledger and the orchestrator that drives one upload through
// pending -> processing -> completed | failed.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
)

var (
	// ErrNotFound is returned when no upload has the given id.
	ErrNotFound = eris.New("upload: not found")

	// ErrProcessing is returned when a claim races an in-flight run. The
	// HTTP layer maps it to a 409.
	ErrProcessing = eris.New("upload: already processing")
)

const uploadColumns = `id::text, source_system, source_table, file_name, stored_path,
       size_bytes, status, error, progress, result, created_at,
       processing_started_at, completed_at`

// Store provides read/write access to the intake.file_uploads ledger and
// the per-source coverage ledger fed from completed uploads.
type Store struct {
	pool db.Pool
}

// NewStore creates an upload store backed by the given connection pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// Create records a received file as a pending upload and returns it with
// its assigned id. The id is generated here rather than by the database so
// callers can log and reference the upload even if the insert fails midway.
func (s *Store) Create(ctx context.Context, up model.Upload) (*model.Upload, error) {
	up.ID = uuid.NewString()

	var status string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO intake.file_uploads
		   (id, source_system, source_table, file_name, stored_path, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING status, created_at`,
		up.ID, up.SourceSystem, up.SourceTable, up.FileName, up.StoredPath, up.SizeBytes,
	).Scan(&status, &up.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "upload: create %s/%s", up.SourceSystem, up.SourceTable)
	}
	up.Status = model.UploadStatus(status)
	return &up, nil
}

// Get returns one upload by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.Upload, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+`
		 FROM intake.file_uploads WHERE id = $1`,
		id,
	)
	up, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "upload: get %s", id)
	}
	return up, nil
}

// List returns the most recent uploads, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]model.Upload, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadColumns+`
		 FROM intake.file_uploads
		 ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "upload: list")
	}
	defer rows.Close()
	return scanUploads(rows)
}

// ListByStatus returns uploads in one lifecycle state, oldest first, so a
// sweep works through a backlog in arrival order.
func (s *Store) ListByStatus(ctx context.Context, status model.UploadStatus, limit int) ([]model.Upload, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadColumns+`
		 FROM intake.file_uploads
		 WHERE status = $1
		 ORDER BY created_at LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "upload: list %s", status)
	}
	defer rows.Close()
	return scanUploads(rows)
}

// Claim moves an upload into processing, stamping processing_started_at
// and clearing the outcome of any prior run. Exactly one concurrent caller
// wins; the guard on status makes the losers see ErrProcessing. Completed
// and failed uploads may be claimed again: re-processing is idempotent all
// the way down, so a re-run is the recovery path.
func (s *Store) Claim(ctx context.Context, id string) (*model.Upload, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE intake.file_uploads
		 SET status = 'processing', processing_started_at = now(),
		     error = '', progress = NULL, result = NULL, completed_at = NULL
		 WHERE id = $1 AND status <> 'processing'
		 RETURNING `+uploadColumns,
		id,
	)
	up, err := scanUpload(row)
	if err == nil {
		return up, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "upload: claim %s", id)
	}

	// Nothing matched: either the id is unknown or another run holds it.
	var status string
	err = s.pool.QueryRow(ctx,
		`SELECT status FROM intake.file_uploads WHERE id = $1`, id,
	).Scan(&status)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, eris.Wrapf(err, "upload: claim %s", id)
	}
	return nil, ErrProcessing
}

// SetProgress persists the current processing step. Best effort from the
// orchestrator's point of view; a poller reads it, nothing here does.
func (s *Store) SetProgress(ctx context.Context, id string, p model.UploadProgress) error {
	progressJSON, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "upload: marshal progress")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE intake.file_uploads SET progress = $1 WHERE id = $2`,
		progressJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "upload: set progress %s", id)
	}
	return nil
}

// Complete marks an upload processed and stores its report.
func (s *Store) Complete(ctx context.Context, id string, rep *model.IngestReport) error {
	resultJSON, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "upload: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE intake.file_uploads
		 SET status = 'completed', result = $1, completed_at = now()
		 WHERE id = $2`,
		resultJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "upload: complete %s", id)
	}
	return nil
}

// Fail marks an upload failed with a user-facing message.
func (s *Store) Fail(ctx context.Context, id, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE intake.file_uploads
		 SET status = 'failed', error = $1, completed_at = now()
		 WHERE id = $2`,
		errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "upload: fail %s", id)
	}
	return nil
}

// Coverage is one source table's observed data window.
type Coverage struct {
	SourceSystem string    `json:"source_system"`
	SourceTable  string    `json:"source_table"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// RecordCoverage appends one upload's observed date range to the coverage
// ledger. The ledger is append-only; staleness checks read the aggregate.
func (s *Store) RecordCoverage(ctx context.Context, system, table, uploadID string, dr model.DateRange) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intake.source_coverage
		   (source_system, source_table, coverage_start, coverage_end, upload_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		system, table, dr.Start, dr.End, uploadID,
	)
	if err != nil {
		return eris.Wrapf(err, "upload: record coverage %s/%s", system, table)
	}
	return nil
}

// LatestCoverage returns, per source table, the union of all recorded
// coverage windows and when coverage was last extended.
func (s *Store) LatestCoverage(ctx context.Context) ([]Coverage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_system, source_table,
		        min(coverage_start), max(coverage_end), max(recorded_at)
		 FROM intake.source_coverage
		 GROUP BY source_system, source_table
		 ORDER BY source_system, source_table`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "upload: latest coverage")
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		if err := rows.Scan(&c.SourceSystem, &c.SourceTable, &c.Start, &c.End, &c.RecordedAt); err != nil {
			return nil, eris.Wrap(err, "upload: scan coverage")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanUpload(row pgx.Row) (*model.Upload, error) {
	var up model.Upload
	var status string
	var progressJSON, resultJSON []byte
	err := row.Scan(
		&up.ID, &up.SourceSystem, &up.SourceTable, &up.FileName, &up.StoredPath,
		&up.SizeBytes, &status, &up.Error, &progressJSON, &resultJSON,
		&up.CreatedAt, &up.ProcessingStartedAt, &up.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	up.Status = model.UploadStatus(status)
	if progressJSON != nil {
		_ = json.Unmarshal(progressJSON, &up.Progress)
	}
	if resultJSON != nil {
		_ = json.Unmarshal(resultJSON, &up.Result)
	}
	return &up, nil
}

func scanUploads(rows pgx.Rows) ([]model.Upload, error) {
	var out []model.Upload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, eris.Wrap(err, "upload: scan upload")
		}
		out = append(out, *up)
	}
	return out, rows.Err()
}
