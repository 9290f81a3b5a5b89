// Package ingest defines the per-source extract and post-processing logic
// the upload orchestrator drives. Each source owns one (system, table)
// pair: it parses the drop file into logical rows for staging, then
// promotes the staged rows into the canonical entity graph.
package ingest

import (
	"context"
	"time"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// ExtractedRow is one logical row ready for staging. Date is the row's
// recognized data date, zero when the table has none; it feeds the
// upload's coverage window.
type ExtractedRow struct {
	LogicalID string
	Date      time.Time
	Payload   map[string]string
}

// Extraction is the parsed content of one source file. Dropped counts
// rows consumed before staging: merged continuation lines, rows missing
// their logical key, rows with no usable date where one is required.
type Extraction struct {
	Rows    []ExtractedRow
	Dropped int
}

// Deps carries the shared stores a source's post-processing runs against.
type Deps struct {
	Pool     db.Pool
	Resolver *resolve.Resolver
}

// Source is one ingestable (system, table) pair.
type Source interface {
	// System returns the source system name (e.g. "clinic").
	System() string

	// Table returns the source table name (e.g. "cat_info").
	Table() string

	// Extract parses the file at path into logical rows. Input errors
	// (unreadable file, no rows, no placemarks) fail the upload.
	Extract(ctx context.Context, path string) (*Extraction, error)

	// PostProcess promotes this upload's staged rows into canonical
	// entities, tallying outcomes into rep.
	PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error
}
