package link

import (
	"context"
)

// CorrectProcedureSex repairs procedures whose kind contradicts the
// animal's recorded sex. Clinic sheets carry separate Spay and Neuter
// columns and staff sometimes tick the wrong one; the animal's sex, when
// known, is the stronger signal. The sex is read off the merge survivor,
// since that row carries the reconciled value. The flip is guarded so it
// cannot collide with an existing procedure of the correct kind on the
// same appointment.
func (l *Linker) CorrectProcedureSex(ctx context.Context) (int64, error) {
	n1, err := l.execCount(ctx, "spay_on_male", withCanon(`
		UPDATE canon.procedures p
		SET kind = 'neuter'
		FROM animal_canon ac
		JOIN canon.animals an ON an.id = ac.canonical_id
		WHERE ac.source_id = p.animal_id
		  AND p.kind = 'spay'
		  AND lower(an.sex) = 'male'
		  AND NOT EXISTS (
		      SELECT 1 FROM canon.procedures x
		      WHERE x.appointment_id = p.appointment_id AND x.kind = 'neuter')`,
		animalCanon()))
	if err != nil {
		return 0, err
	}
	n2, err := l.execCount(ctx, "neuter_on_female", withCanon(`
		UPDATE canon.procedures p
		SET kind = 'spay'
		FROM animal_canon ac
		JOIN canon.animals an ON an.id = ac.canonical_id
		WHERE ac.source_id = p.animal_id
		  AND p.kind = 'neuter'
		  AND lower(an.sex) = 'female'
		  AND NOT EXISTS (
		      SELECT 1 FROM canon.procedures x
		      WHERE x.appointment_id = p.appointment_id AND x.kind = 'spay')`,
		animalCanon()))
	if err != nil {
		return n1, err
	}
	return n1 + n2, nil
}

// RecomputeAltered marks animals altered when a spay or neuter procedure
// exists for them, counting procedures recorded against any animal that
// merged into them. The flag only ever moves to true here: a missing
// procedure record is not evidence the animal is intact, since alteration
// may predate our data.
func (l *Linker) RecomputeAltered(ctx context.Context) (int64, error) {
	return l.execCount(ctx, "altered_recompute", withCanon(`
		UPDATE canon.animals an
		SET altered = true, updated_at = now()
		WHERE NOT an.altered
		  AND EXISTS (
		      SELECT 1 FROM canon.procedures p
		      JOIN animal_canon ac ON ac.source_id = p.animal_id
		      WHERE ac.canonical_id = an.id AND p.kind IN ('spay', 'neuter'))`,
		animalCanon()))
}
