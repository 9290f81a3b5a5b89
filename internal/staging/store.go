// Package staging persists raw source rows ahead of entity resolution.
//
// Every ingested row lands here verbatim before anything touches the
// canonical graph, so a bad resolution pass can always be re-derived from
// what the source actually said.
package staging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
)

// Store reads and writes staged rows in intake.staged_records.
type Store struct {
	pool db.Pool
}

// NewStore returns a staging store backed by pool.
func NewStore(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// RowHash fingerprints a payload: SHA-256 over its JSON encoding (map keys
// marshal sorted), hex, truncated to 32 chars. Collisions across different
// (system, table) pairs are harmless; the uniqueness constraint is scoped.
func RowHash(payload map[string]string) string {
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

// Row is one raw source row headed for the staging table.
type Row struct {
	SourceSystem string
	SourceTable  string
	SourceRowID  string
	UploadID     string
	Payload      map[string]string
}

// Stage writes one row and reports what happened:
//
//   - skipped:  identical content already staged (the existing record is
//     claimed for this upload if no upload owns it yet), or an insert race
//     lost to a concurrent writer.
//   - updated:  a record with the same logical id exists with different
//     content; payload and hash are overwritten in place.
//   - inserted: first sighting of this logical row.
func (s *Store) Stage(ctx context.Context, row Row) (model.StageOutcome, error) {
	hash := RowHash(row.Payload)

	payloadJSON, err := json.Marshal(row.Payload)
	if err != nil {
		return "", eris.Wrap(err, "staging: marshal payload")
	}

	// Same content already staged?
	var existingID int64
	var claimedBy *string
	err = s.pool.QueryRow(ctx,
		`SELECT id, upload_id::text FROM intake.staged_records
		 WHERE source_system = $1 AND source_table = $2 AND row_hash = $3`,
		row.SourceSystem, row.SourceTable, hash,
	).Scan(&existingID, &claimedBy)
	switch {
	case err == nil:
		if claimedBy == nil && row.UploadID != "" {
			if _, err := s.pool.Exec(ctx,
				`UPDATE intake.staged_records SET upload_id = $1 WHERE id = $2`,
				row.UploadID, existingID,
			); err != nil {
				return "", eris.Wrap(err, "staging: claim staged record")
			}
		}
		return model.StageSkipped, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return "", eris.Wrap(err, "staging: lookup by hash")
	}

	// Same logical row with different content: overwrite in place.
	tag, err := s.pool.Exec(ctx,
		`UPDATE intake.staged_records
		 SET payload = $4, row_hash = $5, upload_id = COALESCE(NULLIF($6, '')::uuid, upload_id), updated_at = now()
		 WHERE source_system = $1 AND source_table = $2 AND source_row_id = $3`,
		row.SourceSystem, row.SourceTable, row.SourceRowID,
		payloadJSON, hash, row.UploadID,
	)
	if err != nil {
		return "", eris.Wrap(err, "staging: update staged record")
	}
	if tag.RowsAffected() > 0 {
		return model.StageUpdated, nil
	}

	// New logical row. ON CONFLICT covers a concurrent insert of the same
	// hash or logical id between our lookup and here.
	tag, err = s.pool.Exec(ctx,
		`INSERT INTO intake.staged_records
		   (source_system, source_table, source_row_id, row_hash, upload_id, payload)
		 VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6)
		 ON CONFLICT DO NOTHING`,
		row.SourceSystem, row.SourceTable, row.SourceRowID, hash, row.UploadID, payloadJSON,
	)
	if err != nil {
		return "", eris.Wrap(err, "staging: insert staged record")
	}
	if tag.RowsAffected() == 0 {
		return model.StageSkipped, nil
	}
	return model.StageInserted, nil
}

// ListByTable returns all staged rows for one source table, oldest first.
// Backfill and match-candidate generation read the staging layer through
// this instead of re-parsing source files.
func (s *Store) ListByTable(ctx context.Context, system, table string) ([]model.StagedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_system, source_table, source_row_id, row_hash,
		        COALESCE(upload_id::text, ''), payload, created_at, updated_at
		 FROM intake.staged_records
		 WHERE source_system = $1 AND source_table = $2
		 ORDER BY id`,
		system, table,
	)
	if err != nil {
		return nil, eris.Wrap(err, "staging: list by table")
	}
	defer rows.Close()
	return scanStagedRecords(rows)
}

// ListByUpload returns all staged rows claimed by one upload, oldest first.
func (s *Store) ListByUpload(ctx context.Context, uploadID string) ([]model.StagedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_system, source_table, source_row_id, row_hash,
		        COALESCE(upload_id::text, ''), payload, created_at, updated_at
		 FROM intake.staged_records
		 WHERE upload_id = $1
		 ORDER BY id`,
		uploadID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "staging: list by upload")
	}
	defer rows.Close()
	return scanStagedRecords(rows)
}

func scanStagedRecords(rows pgx.Rows) ([]model.StagedRecord, error) {
	var out []model.StagedRecord
	for rows.Next() {
		var rec model.StagedRecord
		var payloadJSON []byte
		if err := rows.Scan(
			&rec.ID, &rec.SourceSystem, &rec.SourceTable, &rec.SourceRowID,
			&rec.RowHash, &rec.UploadID, &payloadJSON, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "staging: scan staged record")
		}
		if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
			return nil, eris.Wrap(err, "staging: decode payload")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
