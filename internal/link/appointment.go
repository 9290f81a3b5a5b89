package link

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// Clinic staged rows keep the appointment number as their row id, so every
// clinic table joins back to its appointment on source_pk. Owner and cat
// rows both repeat the appointment's chip column, which is what lets these
// passes repair appointments that staged before their animal existed.

// LinkAppointmentAnimals attaches animals to appointments that have none,
// using the microchip recorded on any staged clinic row for the same
// appointment. Chips that resolve to nothing stay unlinked for a later run.
func (l *Linker) LinkAppointmentAnimals(ctx context.Context) (int64, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT DISTINCT ON (a.id) a.id, sr.payload->>'Microchip Number'
		FROM canon.appointments a
		JOIN intake.staged_records sr
		  ON sr.source_system = a.source_system
		 AND sr.source_row_id = a.source_pk
		 AND sr.source_table IN ('appointment_info', 'cat_info', 'owner_info')
		WHERE a.animal_id IS NULL
		  AND COALESCE(sr.payload->>'Microchip Number', '') <> ''
		ORDER BY a.id, sr.source_table`)
	if err != nil {
		return 0, eris.Wrap(err, "link: query chipped appointments")
	}

	type candidate struct {
		apptID int64
		chip   string
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.apptID, &c.chip); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "link: scan chipped appointment")
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "link: iterate chipped appointments")
	}

	var linked int64
	for _, c := range cands {
		animalID, err := l.resolver.AnimalByMicrochip(ctx, c.chip)
		if err != nil {
			return linked, eris.Wrapf(err, "link: chip lookup for appointment %d", c.apptID)
		}
		if animalID == nil {
			continue
		}
		tag, err := l.pool.Exec(ctx, `
			UPDATE canon.appointments
			SET animal_id = $1, updated_at = now()
			WHERE id = $2 AND animal_id IS NULL`,
			*animalID, c.apptID)
		if err != nil {
			return linked, eris.Wrapf(err, "link: attach animal to appointment %d", c.apptID)
		}
		linked += tag.RowsAffected()
	}
	return linked, nil
}

// ownerEvidence is one staged owner row matched to an unowned appointment.
type ownerEvidence struct {
	apptID    int64
	first     string
	last      string
	email     string
	cellPhone string
	landline  string
	address   string
}

func (l *Linker) unownedAppointments(ctx context.Context) ([]ownerEvidence, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT a.id,
		       COALESCE(sr.payload->>'Owner First Name', ''),
		       COALESCE(sr.payload->>'Owner Last Name', ''),
		       COALESCE(sr.payload->>'Owner Email', ''),
		       COALESCE(sr.payload->>'Owner Cell Phone', ''),
		       COALESCE(sr.payload->>'Owner Phone', ''),
		       COALESCE(sr.payload->>'Owner Address', '')
		FROM canon.appointments a
		JOIN intake.staged_records sr
		  ON sr.source_system = a.source_system
		 AND sr.source_table = 'owner_info'
		 AND sr.source_row_id = a.source_pk
		WHERE a.person_id IS NULL AND a.account_id IS NULL
		ORDER BY a.id`)
	if err != nil {
		return nil, eris.Wrap(err, "link: query unowned appointments")
	}
	defer rows.Close()

	var out []ownerEvidence
	for rows.Next() {
		var ev ownerEvidence
		if err := rows.Scan(&ev.apptID, &ev.first, &ev.last, &ev.email,
			&ev.cellPhone, &ev.landline, &ev.address); err != nil {
			return nil, eris.Wrap(err, "link: scan owner evidence")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LinkAppointmentOwners resolves the staged owner row of each still-unowned
// appointment into a person or organizational account and attaches it. The
// cell phone is preferred; the landline rides along as a secondary
// identifier.
func (l *Linker) LinkAppointmentOwners(ctx context.Context) (int64, error) {
	evidence, err := l.unownedAppointments(ctx)
	if err != nil {
		return 0, err
	}

	var linked int64
	for _, ev := range evidence {
		ref, err := l.resolver.ResolveOwner(ctx, resolve.PersonAttrs{
			FirstName:      ev.first,
			LastName:       ev.last,
			Email:          ev.email,
			Phone:          ev.cellPhone,
			SecondaryPhone: ev.landline,
		})
		if errors.Is(err, resolve.ErrNoIdentity) {
			continue
		}
		if err != nil {
			return linked, eris.Wrapf(err, "link: resolve owner for appointment %d", ev.apptID)
		}

		tag, err := l.pool.Exec(ctx, `
			UPDATE canon.appointments
			SET person_id = $1, account_id = $2, updated_at = now()
			WHERE id = $3 AND person_id IS NULL AND account_id IS NULL`,
			ref.PersonID, ref.AccountID, ev.apptID)
		if err != nil {
			return linked, eris.Wrapf(err, "link: attach owner to appointment %d", ev.apptID)
		}
		linked += tag.RowsAffected()
	}
	return linked, nil
}

// DeriveInferredPlaces turns the owner address on a staged owner row into a
// place and attaches it to the appointment. These inferred places are what
// animal-place linking later keys off, so a cat is tied to where its people
// actually are rather than to every address in their history.
func (l *Linker) DeriveInferredPlaces(ctx context.Context) (int64, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT a.id, sr.payload->>'Owner Address'
		FROM canon.appointments a
		JOIN intake.staged_records sr
		  ON sr.source_system = a.source_system
		 AND sr.source_table = 'owner_info'
		 AND sr.source_row_id = a.source_pk
		WHERE a.place_id IS NULL
		  AND COALESCE(sr.payload->>'Owner Address', '') <> ''
		ORDER BY a.id`)
	if err != nil {
		return 0, eris.Wrap(err, "link: query address evidence")
	}

	type candidate struct {
		apptID  int64
		address string
	}
	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.apptID, &c.address); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "link: scan address evidence")
		}
		cands = append(cands, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "link: iterate address evidence")
	}

	var linked int64
	for _, c := range cands {
		placeID, _, err := l.resolver.FindOrCreatePlace(ctx, resolve.PlaceAttrs{
			RawAddress: c.address,
			Kind:       model.PlaceResidence,
		})
		if errors.Is(err, resolve.ErrNoIdentity) {
			continue
		}
		if err != nil {
			return linked, eris.Wrapf(err, "link: resolve place for appointment %d", c.apptID)
		}
		tag, err := l.pool.Exec(ctx, `
			UPDATE canon.appointments
			SET place_id = $1, updated_at = now()
			WHERE id = $2 AND place_id IS NULL`,
			placeID, c.apptID)
		if err != nil {
			return linked, eris.Wrapf(err, "link: attach place to appointment %d", c.apptID)
		}
		linked += tag.RowsAffected()
	}
	return linked, nil
}
