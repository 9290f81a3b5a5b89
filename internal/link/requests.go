package link

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// LinkRequestTrappers turns the trapper named on a staged tracker row into
// a request party. Tracker exports disagree on the column name, so the
// usual variants are coalesced.
func (l *Linker) LinkRequestTrappers(ctx context.Context) (int64, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT r.id,
		       COALESCE(NULLIF(sr.payload->>'Assigned Trapper', ''),
		                NULLIF(sr.payload->>'Trapper Name', ''),
		                NULLIF(sr.payload->>'Trapper', '')),
		       COALESCE(sr.payload->>'Trapper Email', ''),
		       COALESCE(sr.payload->>'Trapper Phone', '')
		FROM canon.requests r
		JOIN intake.staged_records sr
		  ON sr.source_system = 'tracker'
		 AND sr.source_table = 'requests'
		 AND sr.source_row_id = r.source_record_id
		WHERE r.source_record_id <> ''
		  AND COALESCE(NULLIF(sr.payload->>'Assigned Trapper', ''),
		               NULLIF(sr.payload->>'Trapper Name', ''),
		               NULLIF(sr.payload->>'Trapper', '')) IS NOT NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM canon.request_parties rp
		      WHERE rp.request_id = r.id AND rp.role = 'trapper')
		ORDER BY r.id`)
	if err != nil {
		return 0, eris.Wrap(err, "link: query trapper evidence")
	}

	type candidate struct {
		requestID int64
		name      string
		email     string
		phone     string
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.requestID, &c.name, &c.email, &c.phone); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "link: scan trapper evidence")
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "link: iterate trapper evidence")
	}

	var linked int64
	for _, c := range cands {
		first, last := splitName(c.name)
		personID, _, err := l.resolver.FindOrCreatePerson(ctx, resolve.PersonAttrs{
			FirstName: first,
			LastName:  last,
			Email:     c.email,
			Phone:     c.phone,
		})
		if errors.Is(err, resolve.ErrNoIdentity) {
			continue
		}
		if err != nil {
			return linked, eris.Wrapf(err, "link: resolve trapper for request %d", c.requestID)
		}
		tag, err := l.pool.Exec(ctx, `
			INSERT INTO canon.request_parties (request_id, person_id, role)
			VALUES ($1, $2, 'trapper')
			ON CONFLICT DO NOTHING`,
			c.requestID, personID)
		if err != nil {
			return linked, eris.Wrapf(err, "link: attach trapper to request %d", c.requestID)
		}
		linked += tag.RowsAffected()
	}
	return linked, nil
}

// splitName breaks a display name into first and last on the first space.
func splitName(name string) (first, last string) {
	name = normalize.Name(name)
	if i := strings.IndexByte(name, ' '); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// RequestLinkCount is one request's outcome from an attribution run.
type RequestLinkCount struct {
	RequestID  int64
	CaseNumber string
	Linked     int64
}

// AttributeCatsToRequests runs attribution and reports the total number
// of links created, which is what the pass battery records.
func (l *Linker) AttributeCatsToRequests(ctx context.Context) (int64, error) {
	counts, err := l.AttributeCatsByRequest(ctx)
	var total int64
	for _, c := range counts {
		total += c.Linked
	}
	return total, err
}

// AttributeCatsByRequest links animals to trapping requests at the same
// place when the appointment date falls inside the request's attribution
// window, reporting links per request in first-linked order. Candidates
// come from appointments because only the appointment carries all three
// of animal, place, and date; both sides resolve through the canonical
// mappings so a merged animal or place still attributes to the survivor.
// The horizon guard keeps a routine run from linking deep history;
// backfill runs with it disabled.
func (l *Linker) AttributeCatsByRequest(ctx context.Context) ([]RequestLinkCount, error) {
	rows, err := l.pool.Query(ctx, withCanon(`
		SELECT ac.canonical_id, a.date, r.id, r.case_number,
		       r.status, r.opened_at, r.resolved_at, r.updated_at
		FROM canon.appointments a
		JOIN animal_canon ac ON ac.source_id = a.animal_id
		JOIN place_canon apc ON apc.source_id = a.place_id
		JOIN place_canon rpc ON rpc.canonical_id = apc.canonical_id
		JOIN canon.requests r ON r.place_id = rpc.source_id
		WHERE NOT EXISTS (
		      SELECT 1 FROM canon.request_animals ra
		      WHERE ra.request_id = r.id AND ra.animal_id = ac.canonical_id)
		ORDER BY a.date, r.id`, animalCanon(), placeCanon()))
	if err != nil {
		return nil, eris.Wrap(err, "link: query attribution candidates")
	}

	type candidate struct {
		animalID   int64
		date       time.Time
		requestID  int64
		caseNumber string
		req        model.Request
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.animalID, &c.date, &c.requestID, &c.caseNumber,
			&c.req.Status, &c.req.OpenedAt, &c.req.ResolvedAt, &c.req.UpdatedAt); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "link: scan attribution candidate")
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "link: iterate attribution candidates")
	}

	var counts []RequestLinkCount
	index := make(map[int64]int)
	for _, c := range cands {
		if !l.withinWindow(c.date, c.req) {
			continue
		}
		tag, err := l.pool.Exec(ctx, `
			INSERT INTO canon.request_animals (request_id, animal_id, via)
			VALUES ($1, $2, 'place_window')
			ON CONFLICT DO NOTHING`,
			c.requestID, c.animalID)
		if err != nil {
			return counts, eris.Wrapf(err, "link: attribute animal %d to request %d", c.animalID, c.requestID)
		}
		n := tag.RowsAffected()
		if n == 0 {
			continue
		}
		i, ok := index[c.requestID]
		if !ok {
			i = len(counts)
			index[c.requestID] = i
			counts = append(counts, RequestLinkCount{RequestID: c.requestID, CaseNumber: c.caseNumber})
		}
		counts[i].Linked += n
	}
	return counts, nil
}
