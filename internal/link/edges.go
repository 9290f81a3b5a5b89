package link

import (
	"context"

	"github.com/rotisserie/eris"
)

// execCount runs one set-based statement and reports rows affected.
func (l *Linker) execCount(ctx context.Context, name, sql string) (int64, error) {
	tag, err := l.pool.Exec(ctx, sql)
	if err != nil {
		return 0, eris.Wrapf(err, "link: %s", name)
	}
	return tag.RowsAffected(), nil
}

// The edge passes join the canonical mappings rather than the raw
// foreign keys: an appointment may still reference an animal or place
// that was later merged away, and the edge belongs on the survivor.

// LinkPersonPlaces derives resident edges from appointments that carry
// both an owner and an inferred place.
func (l *Linker) LinkPersonPlaces(ctx context.Context) (int64, error) {
	return l.execCount(ctx, "person_places", withCanon(`
		INSERT INTO canon.person_places (person_id, place_id, role)
		SELECT DISTINCT a.person_id, pc.canonical_id, 'resident'
		FROM canon.appointments a
		JOIN place_canon pc ON pc.source_id = a.place_id
		WHERE a.person_id IS NOT NULL
		ON CONFLICT DO NOTHING`, placeCanon()))
}

// LinkPersonAnimals derives owner edges from appointments that resolved
// both sides.
func (l *Linker) LinkPersonAnimals(ctx context.Context) (int64, error) {
	return l.execCount(ctx, "person_animals", withCanon(`
		INSERT INTO canon.person_animals (person_id, animal_id, relation)
		SELECT DISTINCT a.person_id, ac.canonical_id, 'owner'
		FROM canon.appointments a
		JOIN animal_canon ac ON ac.source_id = a.animal_id
		WHERE a.person_id IS NOT NULL
		ON CONFLICT DO NOTHING`, animalCanon()))
}

// LinkAnimalPlaces ties an animal to the place inferred on its own
// appointments only. Blanket-linking a cat to every address its person has
// ever used would poison request attribution, so the appointment is the
// sole source of these edges.
func (l *Linker) LinkAnimalPlaces(ctx context.Context) (int64, error) {
	return l.execCount(ctx, "animal_places", withCanon(`
		INSERT INTO canon.animal_places (animal_id, place_id, relation)
		SELECT DISTINCT ac.canonical_id, pc.canonical_id, 'seen_at'
		FROM canon.appointments a
		JOIN animal_canon ac ON ac.source_id = a.animal_id
		JOIN place_canon pc ON pc.source_id = a.place_id
		ON CONFLICT DO NOTHING`, animalCanon(), placeCanon()))
}

// BackfillVisitAnimals copies a late-resolved appointment animal down onto
// its procedures and vitals rows, already resolved to the survivor.
func (l *Linker) BackfillVisitAnimals(ctx context.Context) (int64, error) {
	n1, err := l.execCount(ctx, "procedure_animal_backfill", withCanon(`
		UPDATE canon.procedures p
		SET animal_id = ac.canonical_id
		FROM canon.appointments a
		JOIN animal_canon ac ON ac.source_id = a.animal_id
		WHERE p.appointment_id = a.id
		  AND p.animal_id IS NULL`, animalCanon()))
	if err != nil {
		return 0, err
	}
	n2, err := l.execCount(ctx, "vitals_animal_backfill", withCanon(`
		UPDATE canon.vitals_observations v
		SET animal_id = ac.canonical_id
		FROM canon.appointments a
		JOIN animal_canon ac ON ac.source_id = a.animal_id
		WHERE v.appointment_id = a.id
		  AND v.animal_id IS NULL`, animalCanon()))
	if err != nil {
		return n1, err
	}
	return n1 + n2, nil
}
