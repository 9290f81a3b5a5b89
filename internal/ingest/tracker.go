package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/fetcher"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// TrackerRequests ingests the trapping-request CSV the volunteer tracker
// exports. The export is denormalized and hand-edited: free-text status
// labels, renamed columns between revisions, duplicate rows, and merge
// pointers entered as record-id lookups. Everything here is defensive
// coercion toward the canonical request vocabulary.
type TrackerRequests struct{}

func (s *TrackerRequests) System() string { return "tracker" }
func (s *TrackerRequests) Table() string  { return "requests" }

func (s *TrackerRequests) Extract(ctx context.Context, path string) (*Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open tracker export")
	}
	defer f.Close()

	rows, err := fetcher.ReadCSV(ctx, f, fetcher.CSVOptions{})
	if err != nil {
		return nil, err
	}
	cols := columns(s.System(), s.Table())

	ex := &Extraction{}
	seenCases := make(map[string]bool)
	for _, row := range rows {
		caseNum := cols.get(row, "case_number")
		if caseNum == "" {
			ex.Dropped++
			continue
		}
		// The tracker duplicates rows when volunteers copy a case to a
		// new view; first occurrence wins.
		if seenCases[caseNum] {
			ex.Dropped++
			continue
		}
		seenCases[caseNum] = true

		// Record ids survive export renames, so they key the staged row;
		// rows predating the record-id column fall back to the case.
		id := cols.get(row, "record_id")
		if id == "" {
			id = "case:" + caseNum
		}

		var date time.Time
		if t, ok := normalize.ParseDate(cols.get(row, "opened")); ok {
			date = t
		}
		ex.Rows = append(ex.Rows, ExtractedRow{
			LogicalID: id,
			Date:      date,
			Payload:   row,
		})
	}
	return ex, nil
}

// statusMap coerces tracker case-status labels onto the request status
// vocabulary. Archived labels map to terminal states; the archive reason
// is derived separately.
var statusMap = map[string]string{
	"new":                "new",
	"requested":          "new",
	"needs attention":    "needs_review",
	"need to re-book":    "needs_review",
	"need to re book":    "needs_review",
	"in progress":        "in_progress",
	"partially complete": "in_progress",
	"revisit":            "active",
	"complete/closed":    "closed",
	"complete / closed":  "closed",
	"complete":           "closed",
	"closed":             "closed",
	"hold":               "paused",
	"referred elsewhere": "resolved",
	"duplicate request":  "closed",
	"duplicate":          "closed",
	"denied":             "closed",
}

// allowedStatuses guards the snake_case fallback for labels the map has
// never seen.
var allowedStatuses = map[string]bool{
	"new": true, "needs_review": true, "active": true, "scheduled": true,
	"in_progress": true, "paused": true, "resolved": true, "closed": true,
}

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// coerceStatus maps a raw status label to the canonical vocabulary, empty
// when nothing matches.
func coerceStatus(raw string) string {
	s := normalize.Text(raw)
	if s == "" {
		return ""
	}
	if mapped, ok := statusMap[s]; ok {
		return mapped
	}
	candidate := strings.Trim(nonAlnumRe.ReplaceAllString(s, "_"), "_")
	if allowedStatuses[candidate] {
		return candidate
	}
	return ""
}

// coerceArchiveReason derives the archive bucket from the raw status
// label, empty for active statuses.
func coerceArchiveReason(raw string) string {
	switch normalize.Text(raw) {
	case "duplicate request", "duplicate", "dup":
		return "duplicate"
	case "denied":
		return "denied"
	case "referred elsewhere", "referred", "refer elsewhere":
		return "referred_elsewhere"
	}
	return ""
}

var digitsRe = regexp.MustCompile(`\d+`)

// priorityWords ranks the label vocabulary.
var priorityWords = map[string]int{
	"low": 1, "medium": 2, "med": 2, "high": 3, "urgent": 4, "critical": 5,
}

// coercePriority reads "2", "2 - Medium", or a bare word. Unknown but
// non-empty labels rank medium so they sort with the bulk of the queue
// instead of disappearing; the raw label rides along for reference.
func coercePriority(raw string) *int {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if m := digitsRe.FindString(s); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return &n
		}
	}
	if n, ok := priorityWords[normalize.Text(s)]; ok {
		return &n
	}
	n := 2
	return &n
}

func (s *TrackerRequests) PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error {
	cols := columns(s.System(), s.Table())

	// Record id → case number, so merge pointers between rows of the
	// same export resolve without a database round trip.
	ridToCase := make(map[string]string, len(recs))
	for _, rec := range recs {
		rid := cols.get(rec.Payload, "record_id")
		caseNum := cols.get(rec.Payload, "case_number")
		if rid != "" && caseNum != "" {
			ridToCase[rid] = caseNum
		}
	}

	for _, rec := range recs {
		if err := s.processRequest(ctx, d, rec, cols, ridToCase, rep); err != nil {
			return err
		}
	}
	return nil
}

func (s *TrackerRequests) processRequest(ctx context.Context, d Deps, rec model.StagedRecord, cols aliasTable, ridToCase map[string]string, rep *model.IngestReport) error {
	caseNum := cols.get(rec.Payload, "case_number")
	if caseNum == "" {
		return nil
	}

	rawStatus := cols.get(rec.Payload, "status")
	status := coerceStatus(rawStatus)
	archiveReason := coerceArchiveReason(rawStatus)

	// A merge pointer is authoritative: the row is a duplicate of the
	// surviving request no matter what its status text says.
	mergedRID := cols.get(rec.Payload, "merge_target")
	var mergedCase string
	if mergedRID != "" {
		archiveReason = "duplicate"
		status = "closed"

		mergedCase = ridToCase[mergedRID]
		if mergedCase == "" {
			found, err := s.caseNumberByRecordID(ctx, d, mergedRID)
			if err != nil {
				return eris.Wrapf(err, "ingest: request %s", caseNum)
			}
			mergedCase = found
		}
		if mergedCase == "" {
			rep.Warn(fmt.Sprintf("request %s: merge target %s not found in file or database", caseNum, mergedRID))
		}
	}

	// An archive label implies a terminal status even when the status
	// text itself did not map.
	if archiveReason != "" && status == "" {
		if archiveReason == "referred_elsewhere" {
			status = "resolved"
		} else {
			status = "closed"
		}
	}
	if rawStatus != "" && status == "" {
		rep.Warn(fmt.Sprintf("request %s: unmapped status %q left unchanged", caseNum, rawStatus))
	}

	personID, err := s.resolveReporter(ctx, d, rec, cols, rep)
	if err != nil {
		return eris.Wrapf(err, "ingest: request %s", caseNum)
	}
	placeID, err := s.resolveRequestPlace(ctx, d, rec, cols, rep)
	if err != nil {
		return eris.Wrapf(err, "ingest: request %s", caseNum)
	}

	var openedAt, resolvedAt *time.Time
	if t, ok := normalize.ParseDate(cols.get(rec.Payload, "opened")); ok {
		openedAt = &t
	}
	if t, ok := normalize.ParseDate(cols.get(rec.Payload, "closed")); ok {
		resolvedAt = &t
	}

	requestID, inserted, err := s.upsertRequest(ctx, d, requestRow{
		caseNumber:     caseNum,
		sourceRecordID: cols.get(rec.Payload, "record_id"),
		status:         status,
		priority:       coercePriority(cols.get(rec.Payload, "priority")),
		priorityLabel:  cols.get(rec.Payload, "priority"),
		notes:          cols.get(rec.Payload, "notes"),
		placeID:        placeID,
		personID:       personID,
		archiveReason:  archiveReason,
		mergedCase:     mergedCase,
		mergedRID:      mergedRID,
		openedAt:       openedAt,
		resolvedAt:     resolvedAt,
	})
	if err != nil {
		return eris.Wrapf(err, "ingest: request %s", caseNum)
	}

	requests := rep.Entity("requests")
	if inserted {
		requests.Created++
	} else {
		requests.Updated++
	}

	if personID != nil {
		tag, err := d.Pool.Exec(ctx, `
			INSERT INTO canon.request_parties (request_id, person_id, role)
			VALUES ($1, $2, 'reporter')
			ON CONFLICT DO NOTHING`,
			requestID, *personID)
		if err != nil {
			return eris.Wrapf(err, "ingest: request %s: attach reporter", caseNum)
		}
		requests.Linked += int(tag.RowsAffected())
	}

	if err := s.upsertNote(ctx, d, requestID, caseNum, "case_info", cols.get(rec.Payload, "case_info"), rep); err != nil {
		return eris.Wrapf(err, "ingest: request %s", caseNum)
	}
	if err := s.upsertNote(ctx, d, requestID, caseNum, "internal", cols.get(rec.Payload, "internal_notes"), rep); err != nil {
		return eris.Wrapf(err, "ingest: request %s", caseNum)
	}
	return nil
}

// resolveReporter finds or creates the person who filed the request.
// Rows with no usable contact identity leave the request reporterless.
func (s *TrackerRequests) resolveReporter(ctx context.Context, d Deps, rec model.StagedRecord, cols aliasTable, rep *model.IngestReport) (*int64, error) {
	attrs := resolve.PersonAttrs{
		FirstName: cols.get(rec.Payload, "first_name"),
		LastName:  cols.get(rec.Payload, "last_name"),
		Email:     cols.get(rec.Payload, "email"),
		Phone:     cols.get(rec.Payload, "phone"),
	}

	id, created, err := d.Resolver.FindOrCreatePerson(ctx, attrs)
	if errors.Is(err, resolve.ErrNoIdentity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	people := rep.Entity("people")
	if created {
		people.Created++
	} else {
		people.Updated++
		if err := d.Resolver.EnrichPerson(ctx, id, attrs); err != nil {
			return nil, err
		}
	}
	return &id, nil
}

// resolveRequestPlace resolves the request's location from whatever the
// row carries: a named site, a street address, coordinates, or any mix.
func (s *TrackerRequests) resolveRequestPlace(ctx context.Context, d Deps, rec model.StagedRecord, cols aliasTable, rep *model.IngestReport) (*int64, error) {
	addr := cols.get(rec.Payload, "address")
	name := cols.get(rec.Payload, "place_name")
	if addr == "" && name == "" {
		return nil, nil
	}

	attrs := resolve.PlaceAttrs{
		Name:       name,
		RawAddress: addr,
		Kind:       classifyPlaceName(name),
	}
	lat := normalize.ParseFloat(cols.get(rec.Payload, "latitude"))
	lng := normalize.ParseFloat(cols.get(rec.Payload, "longitude"))
	if lat != nil && lng != nil {
		attrs.Lat, attrs.Lng = lat, lng
		attrs.Location = ewkbPoint(*lng, *lat)
	}

	id, created, err := d.Resolver.FindOrCreatePlace(ctx, attrs)
	if errors.Is(err, resolve.ErrNoIdentity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	places := rep.Entity("places")
	if created {
		places.Created++
	} else {
		places.Updated++
	}
	return &id, nil
}

// caseNumberByRecordID looks up the surviving request for a merge pointer
// that references an earlier export. Empty when unknown.
func (s *TrackerRequests) caseNumberByRecordID(ctx context.Context, d Deps, rid string) (string, error) {
	var caseNum string
	err := d.Pool.QueryRow(ctx,
		"SELECT case_number FROM canon.requests WHERE source_record_id = $1 LIMIT 1",
		rid).Scan(&caseNum)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "merge target lookup")
	}
	return caseNum, nil
}

// requestRow is the coerced form of one tracker row.
type requestRow struct {
	caseNumber     string
	sourceRecordID string
	status         string
	priority       *int
	priorityLabel  string
	notes          string
	placeID        *int64
	personID       *int64
	archiveReason  string
	mergedCase     string
	mergedRID      string
	openedAt       *time.Time
	resolvedAt     *time.Time
}

// upsertRequest writes one canonical request keyed by case number.
// Updates fill blanks and never null anything out: the tracker is the
// request system of record, but a sparse re-export must not erase what a
// fuller one recorded. An empty coerced status leaves the stored status
// alone, which is why the status expression references the parameter
// instead of EXCLUDED (the inserted value falls back to 'new').
// opened_at is pinned by the first import; archived_at and resolved_at
// set once and stick.
func (s *TrackerRequests) upsertRequest(ctx context.Context, d Deps, row requestRow) (int64, bool, error) {
	var id int64
	var inserted bool
	err := d.Pool.QueryRow(ctx, `
		INSERT INTO canon.requests
		    (case_number, source_record_id, status, priority, priority_label,
		     notes, place_id, reporter_person_id, archive_reason,
		     merged_into_case_number, merged_into_source_record_id,
		     archived_at, opened_at, resolved_at)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'new'), $4, $5, $6, $7, $8, $9,
		        $10, $11,
		        CASE WHEN $9 <> '' THEN now() END, COALESCE($12, now()), $13)
		ON CONFLICT (case_number) DO UPDATE SET
		    source_record_id = COALESCE(NULLIF(EXCLUDED.source_record_id, ''), canon.requests.source_record_id),
		    status           = COALESCE(NULLIF($3, ''), canon.requests.status),
		    priority         = COALESCE(EXCLUDED.priority, canon.requests.priority),
		    priority_label   = COALESCE(NULLIF(EXCLUDED.priority_label, ''), canon.requests.priority_label),
		    notes            = COALESCE(NULLIF(EXCLUDED.notes, ''), canon.requests.notes),
		    place_id         = COALESCE(EXCLUDED.place_id, canon.requests.place_id),
		    reporter_person_id = COALESCE(EXCLUDED.reporter_person_id, canon.requests.reporter_person_id),
		    archive_reason   = COALESCE(NULLIF(EXCLUDED.archive_reason, ''), canon.requests.archive_reason),
		    merged_into_case_number = COALESCE(NULLIF(EXCLUDED.merged_into_case_number, ''), canon.requests.merged_into_case_number),
		    merged_into_source_record_id = COALESCE(NULLIF(EXCLUDED.merged_into_source_record_id, ''), canon.requests.merged_into_source_record_id),
		    archived_at      = COALESCE(canon.requests.archived_at, CASE WHEN EXCLUDED.archive_reason <> '' THEN now() END),
		    resolved_at      = COALESCE(canon.requests.resolved_at, EXCLUDED.resolved_at),
		    updated_at       = now()
		RETURNING id, (xmax = 0) AS inserted`,
		row.caseNumber, row.sourceRecordID, row.status, row.priority,
		row.priorityLabel, row.notes, row.placeID, row.personID,
		row.archiveReason, row.mergedCase, row.mergedRID,
		row.openedAt, row.resolvedAt,
	).Scan(&id, &inserted)
	if err != nil {
		return 0, false, eris.Wrap(err, "upsert request")
	}
	return id, inserted, nil
}

// trackerNoteKey namespaces journal notes per case and kind so
// re-ingesting an export updates bodies in place.
func trackerNoteKey(caseNum, kind string) string {
	return "tracker_requests::" + caseNum + "::" + kind
}

func (s *TrackerRequests) upsertNote(ctx context.Context, d Deps, requestID int64, caseNum, kind, body string, rep *model.IngestReport) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	var inserted bool
	err := d.Pool.QueryRow(ctx, `
		INSERT INTO canon.request_notes
		    (request_id, note_kind, note_body, note_key, source_system)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (note_key) DO UPDATE SET
		    note_body  = EXCLUDED.note_body,
		    updated_at = now()
		RETURNING (xmax = 0) AS inserted`,
		requestID, kind, body, trackerNoteKey(caseNum, kind), s.System(),
	).Scan(&inserted)
	if err != nil {
		return eris.Wrapf(err, "upsert %s note", kind)
	}

	notes := rep.Entity("notes")
	if inserted {
		notes.Created++
	} else {
		notes.Updated++
	}
	return nil
}
