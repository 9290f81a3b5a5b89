package link

import (
	"context"
	"regexp"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/model"
)

// Only completed-action phrasing creates an event; "euthanasia discussed"
// and the like stay in the note queue for the downstream consumer to
// interpret.
var (
	euthanizedRe = regexp.MustCompile(`(?i)\beuthani[sz]ed\b`)
	deceasedRe   = regexp.MustCompile(`(?i)\b(?:deceased|passed away|died|dead on arrival|doa)\b`)
)

// classifyNote returns the life event a clinical note states, if any.
func classifyNote(note string) (model.LifeEventType, bool) {
	switch {
	case euthanizedRe.MatchString(note):
		return model.EventEuthanized, true
	case deceasedRe.MatchString(note):
		return model.EventDeceased, true
	}
	return "", false
}

const noteDetailMax = 240

// InferLifeEvents scans clinical notes for stated deaths, recording a life
// event per animal, and feeds every medical note into the note queue for
// the external consumer. The queue key hashes the note body, so an edited
// note re-enqueues while reprocessing an unchanged one is a no-op.
func (l *Linker) InferLifeEvents(ctx context.Context) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO intake.note_queue
		    (note_key, source_system, source_table, source_row_id, note_kind, body)
		SELECT sr.source_system || ':' || sr.source_row_id || ':medical:' ||
		           md5(sr.payload->>'Internal Medical Notes'),
		       sr.source_system, sr.source_table, sr.source_row_id, 'medical',
		       sr.payload->>'Internal Medical Notes'
		FROM intake.staged_records sr
		WHERE sr.source_system = 'clinic'
		  AND sr.source_table IN ('appointment_info', 'cat_info')
		  AND COALESCE(sr.payload->>'Internal Medical Notes', '') <> ''
		ON CONFLICT (note_key) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "link: enqueue medical notes")
	}
	enqueued := tag.RowsAffected()

	rows, err := l.pool.Query(ctx, withCanon(`
		SELECT ac.canonical_id, a.date, sr.payload->>'Internal Medical Notes'
		FROM canon.appointments a
		JOIN animal_canon ac ON ac.source_id = a.animal_id
		JOIN intake.staged_records sr
		  ON sr.source_system = a.source_system
		 AND sr.source_row_id = a.source_pk
		 AND sr.source_table IN ('appointment_info', 'cat_info')
		WHERE COALESCE(sr.payload->>'Internal Medical Notes', '') <> ''
		ORDER BY a.date, a.id`, animalCanon()))
	if err != nil {
		return enqueued, eris.Wrap(err, "link: query clinical notes")
	}

	type candidate struct {
		animalID int64
		date     time.Time
		note     string
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.animalID, &c.date, &c.note); err != nil {
			rows.Close()
			return enqueued, eris.Wrap(err, "link: scan clinical note")
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return enqueued, eris.Wrap(err, "link: iterate clinical notes")
	}

	events := enqueued
	for _, c := range cands {
		event, ok := classifyNote(c.note)
		if !ok {
			continue
		}
		detail := c.note
		if len(detail) > noteDetailMax {
			detail = detail[:noteDetailMax]
		}
		tag, err := l.pool.Exec(ctx, `
			INSERT INTO canon.life_events (animal_id, event_type, event_date, detail)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (animal_id, event_type) DO NOTHING`,
			c.animalID, string(event), c.date, detail)
		if err != nil {
			return events, eris.Wrapf(err, "link: record %s event for animal %d", event, c.animalID)
		}
		events += tag.RowsAffected()
	}
	return events, nil
}
