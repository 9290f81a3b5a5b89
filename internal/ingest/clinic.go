package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/fetcher"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// Clinic history arrives as three XLSX reports cut from the same visit
// data: appointment_info carries the visit and its outcomes, cat_info the
// patient, owner_info the client. Every table repeats the appointment
// number and date, and the pair is the shared logical key (numbers
// restart, so neither column alone is stable across years). Whichever
// table stages first creates the canonical appointment; the others fill
// it in, and the link passes repair anything that arrived out of order.

const systemClinic = "clinic"

// clinicRowID is the logical id shared by all clinic projections of one
// visit. Empty when the row has no usable key.
func clinicRowID(number string, date time.Time) string {
	if number == "" || date.IsZero() {
		return ""
	}
	return number + "|" + date.Format("2006-01-02")
}

// appointmentRow is the appointment-level slice of one clinic row.
type appointmentRow struct {
	sourcePK   string
	number     string
	date       time.Time
	animalName string
	vetName    string
	upcoming   bool
}

// upsertAppointment writes one canonical appointment keyed by
// (source_system, source_pk). Name columns only fill blanks so a sparse
// projection never erases what a richer one recorded; re-seeing a row
// revives it if a snapshot sweep had marked it stale. Returns the
// appointment's current animal id for chipless-cat dedup.
func upsertAppointment(ctx context.Context, d Deps, row appointmentRow) (id int64, inserted bool, animalID *int64, err error) {
	err = d.Pool.QueryRow(ctx, `
		INSERT INTO canon.appointments
		    (source_system, source_pk, number, date, animal_name, vet_name, upcoming, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		ON CONFLICT (source_system, source_pk) DO UPDATE SET
		    number      = COALESCE(NULLIF(EXCLUDED.number, ''), canon.appointments.number),
		    date        = EXCLUDED.date,
		    animal_name = COALESCE(NULLIF(EXCLUDED.animal_name, ''), canon.appointments.animal_name),
		    vet_name    = COALESCE(NULLIF(EXCLUDED.vet_name, ''), canon.appointments.vet_name),
		    is_current  = true,
		    stale_at    = NULL,
		    updated_at  = now()
		RETURNING id, (xmax = 0) AS inserted, animal_id`,
		systemClinic, row.sourcePK, row.number, row.date,
		normalize.Name(row.animalName), normalize.Name(row.vetName), row.upcoming,
	).Scan(&id, &inserted, &animalID)
	if err != nil {
		return 0, false, nil, eris.Wrap(err, "ingest: upsert appointment")
	}
	return id, inserted, animalID, nil
}

// attachAppointmentAnimal sets the appointment's animal if none is set.
func attachAppointmentAnimal(ctx context.Context, d Deps, apptID, animalID int64) (bool, error) {
	tag, err := d.Pool.Exec(ctx, `
		UPDATE canon.appointments
		SET animal_id = $1, updated_at = now()
		WHERE id = $2 AND animal_id IS NULL`,
		animalID, apptID)
	if err != nil {
		return false, eris.Wrap(err, "ingest: attach animal to appointment")
	}
	return tag.RowsAffected() > 0, nil
}

// extractClinicTable reads a clinic report whose rows are independent:
// one logical row per physical row, keyed by number and date.
func extractClinicTable(path string, cols aliasTable) (*Extraction, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, err
	}

	ex := &Extraction{}
	for _, row := range rows {
		number := normalize.CleanNumber(cols.get(row, "number"))
		date, ok := normalize.ParseDate(cols.get(row, "date"))
		if number == "" || !ok {
			ex.Dropped++
			continue
		}
		ex.Rows = append(ex.Rows, ExtractedRow{
			LogicalID: clinicRowID(number, date),
			Date:      date,
			Payload:   row,
		})
	}
	return ex, nil
}

// ClinicAppointments ingests the appointment_info report. Rows with a
// number start a visit; keyless rows underneath are overflow service
// lines merged into the visit above them.
type ClinicAppointments struct{}

func (s *ClinicAppointments) System() string { return systemClinic }
func (s *ClinicAppointments) Table() string  { return "appointment_info" }

// serviceColumn is where merged service lines land in the payload. The
// alias table lists it first, so the merged value shadows whatever header
// the export used without destroying the original cell.
const serviceColumn = "Service"

func (s *ClinicAppointments) Extract(ctx context.Context, path string) (*Extraction, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, err
	}
	cols := columns(s.System(), s.Table())

	ex := &Extraction{}
	var current *ExtractedRow
	var services []string

	flush := func() {
		if current == nil {
			return
		}
		if len(services) > 0 {
			current.Payload[serviceColumn] = strings.Join(services, "; ")
		}
		ex.Rows = append(ex.Rows, *current)
		current, services = nil, nil
	}

	for _, row := range rows {
		number := normalize.CleanNumber(cols.get(row, "number"))
		if number == "" {
			// Continuation line. One seen before any keyed row has no
			// owner and is dropped.
			if current != nil {
				if svc := cols.get(row, "service"); svc != "" {
					services = append(services, svc)
				}
			}
			ex.Dropped++
			continue
		}

		flush()

		date, ok := normalize.ParseDate(cols.get(row, "date"))
		if !ok {
			ex.Dropped++
			continue
		}
		if svc := cols.get(row, "service"); svc != "" {
			services = append(services, svc)
		}
		current = &ExtractedRow{
			LogicalID: clinicRowID(number, date),
			Date:      date,
			Payload:   row,
		}
	}
	flush()
	return ex, nil
}

// surgeryKinds are the procedure checkboxes on an appointment row.
var surgeryKinds = []string{"neuter", "spay", "cryptorchid"}

// conditionMetrics are the checkbox observations kept as vitals. Only
// affirmative checks are stored: an unchecked box means "not noted", not
// "absent".
var conditionMetrics = []string{
	"pregnant", "pyometra", "in_heat", "uri", "fleas",
	"ticks", "ear_mites", "tapeworms", "lactating",
}

func (s *ClinicAppointments) PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error {
	cols := columns(s.System(), s.Table())
	appts := rep.Entity("appointments")

	for _, rec := range recs {
		date, ok := normalize.ParseDate(cols.get(rec.Payload, "date"))
		if !ok {
			rep.Warn(fmt.Sprintf("appointment %s: unparseable date %q",
				rec.SourceRowID, cols.get(rec.Payload, "date")))
			continue
		}

		apptID, inserted, animalID, err := upsertAppointment(ctx, d, appointmentRow{
			sourcePK:   rec.SourceRowID,
			number:     normalize.CleanNumber(cols.get(rec.Payload, "number")),
			date:       date,
			animalName: cols.get(rec.Payload, "animal_name"),
			vetName:    cols.get(rec.Payload, "vet_name"),
		})
		if err != nil {
			return eris.Wrapf(err, "ingest: appointment %s", rec.SourceRowID)
		}
		if inserted {
			appts.Created++
		} else {
			appts.Updated++
		}

		// A chip already in the index attaches the animal now; anything
		// else waits for the cat projection or a link pass.
		if animalID == nil {
			if chipped, err := d.Resolver.AnimalByMicrochip(ctx, cols.get(rec.Payload, "microchip")); err != nil {
				return eris.Wrapf(err, "ingest: appointment %s", rec.SourceRowID)
			} else if chipped != nil {
				attached, err := attachAppointmentAnimal(ctx, d, apptID, *chipped)
				if err != nil {
					return eris.Wrapf(err, "ingest: appointment %s", rec.SourceRowID)
				}
				if attached {
					appts.Linked++
					animalID = chipped
				}
			}
		}

		if err := s.recordProcedures(ctx, d, rec, apptID, animalID, date, cols, rep); err != nil {
			return eris.Wrapf(err, "ingest: appointment %s", rec.SourceRowID)
		}
		if err := s.recordConditions(ctx, d, rec, apptID, animalID, date, cols, rep); err != nil {
			return eris.Wrapf(err, "ingest: appointment %s", rec.SourceRowID)
		}
	}
	return nil
}

// recordProcedures derives procedure rows from the surgery checkboxes. A
// visit with no surgery but a stated reason gets a no_surgery row so the
// reason survives into the canonical layer.
func (s *ClinicAppointments) recordProcedures(ctx context.Context, d Deps, rec model.StagedRecord, apptID int64, animalID *int64, date time.Time, cols aliasTable, rep *model.IngestReport) error {
	procs := rep.Entity("procedures")
	performed := false

	for _, kind := range surgeryKinds {
		if v, ok := normalize.ParseBool(cols.get(rec.Payload, kind)); !ok || !v {
			continue
		}
		performed = true
		tag, err := d.Pool.Exec(ctx, `
			INSERT INTO canon.procedures
			    (appointment_id, animal_id, kind, no_surgery_reason, performed_at)
			VALUES ($1, $2, $3, '', $4)
			ON CONFLICT (appointment_id, kind) DO NOTHING`,
			apptID, animalID, kind, date)
		if err != nil {
			return eris.Wrapf(err, "record %s procedure", kind)
		}
		procs.Created += int(tag.RowsAffected())
	}

	reason := cols.get(rec.Payload, "no_surgery_reason")
	if !performed && reason != "" {
		tag, err := d.Pool.Exec(ctx, `
			INSERT INTO canon.procedures
			    (appointment_id, animal_id, kind, no_surgery_reason, performed_at)
			VALUES ($1, $2, 'no_surgery', $3, $4)
			ON CONFLICT (appointment_id, kind) DO NOTHING`,
			apptID, animalID, reason, date)
		if err != nil {
			return eris.Wrap(err, "record no-surgery visit")
		}
		procs.Created += int(tag.RowsAffected())
	}
	return nil
}

// recordConditions stores the checked condition flags as boolean vitals.
func (s *ClinicAppointments) recordConditions(ctx context.Context, d Deps, rec model.StagedRecord, apptID int64, animalID *int64, date time.Time, cols aliasTable, rep *model.IngestReport) error {
	vitals := rep.Entity("vitals")

	for _, metric := range conditionMetrics {
		if v, ok := normalize.ParseBool(cols.get(rec.Payload, metric)); !ok || !v {
			continue
		}
		tag, err := d.Pool.Exec(ctx, `
			INSERT INTO canon.vitals_observations
			    (appointment_id, animal_id, metric, value_bool, observed_at)
			VALUES ($1, $2, $3, true, $4)
			ON CONFLICT (appointment_id, metric) DO NOTHING`,
			apptID, animalID, metric, date)
		if err != nil {
			return eris.Wrapf(err, "record %s observation", metric)
		}
		vitals.Created += int(tag.RowsAffected())
	}
	return nil
}

// ClinicCats ingests the cat_info report: one descriptive row per patient
// keyed by the same number and date as appointment_info.
type ClinicCats struct{}

func (s *ClinicCats) System() string { return systemClinic }
func (s *ClinicCats) Table() string  { return "cat_info" }

func (s *ClinicCats) Extract(ctx context.Context, path string) (*Extraction, error) {
	return extractClinicTable(path, columns(s.System(), s.Table()))
}

// Cats should never be anywhere near 60 lbs; values outside the range are
// phone numbers or reference ids that landed in the weight column.
const maxPlausibleWeightLbs = 60

func (s *ClinicCats) PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error {
	cols := columns(s.System(), s.Table())
	appts := rep.Entity("appointments")
	animals := rep.Entity("animals")
	badWeights := 0

	for _, rec := range recs {
		date, ok := normalize.ParseDate(cols.get(rec.Payload, "date"))
		if !ok {
			rep.Warn(fmt.Sprintf("cat %s: unparseable date %q",
				rec.SourceRowID, cols.get(rec.Payload, "date")))
			continue
		}

		apptID, inserted, existing, err := upsertAppointment(ctx, d, appointmentRow{
			sourcePK:   rec.SourceRowID,
			number:     normalize.CleanNumber(cols.get(rec.Payload, "number")),
			date:       date,
			animalName: cols.get(rec.Payload, "animal_name"),
		})
		if err != nil {
			return eris.Wrapf(err, "ingest: cat %s", rec.SourceRowID)
		}
		if inserted {
			appts.Created++
		} else {
			appts.Updated++
		}

		attrs := resolve.AnimalAttrs{
			Name:           cols.get(rec.Payload, "animal_name"),
			Microchip:      cols.get(rec.Payload, "microchip"),
			Sex:            cols.get(rec.Payload, "sex"),
			Breed:          cols.get(rec.Payload, "breed"),
			PrimaryColor:   cols.get(rec.Payload, "primary_color"),
			SecondaryColor: cols.get(rec.Payload, "secondary_color"),
			Altered:        parseAlteredStatus(cols.get(rec.Payload, "altered_status")),
		}

		// A chip resolves through the identifier index. Chipless cats
		// dedupe through their appointment: reprocessing finds the
		// animal already attached instead of minting another.
		var animalID int64
		if normalize.Microchip(attrs.Microchip) == "" && existing != nil {
			animalID = *existing
			if err := d.Resolver.UpdateAnimalFacts(ctx, animalID, attrs); err != nil {
				return eris.Wrapf(err, "ingest: cat %s", rec.SourceRowID)
			}
			animals.Updated++
		} else {
			id, created, err := d.Resolver.FindOrCreateAnimal(ctx, attrs)
			if err != nil {
				return eris.Wrapf(err, "ingest: cat %s", rec.SourceRowID)
			}
			animalID = id
			if created {
				animals.Created++
			} else {
				animals.Updated++
			}
		}

		attached, err := attachAppointmentAnimal(ctx, d, apptID, animalID)
		if err != nil {
			return eris.Wrapf(err, "ingest: cat %s", rec.SourceRowID)
		}
		if attached {
			appts.Linked++
		}

		discarded, err := s.recordWeight(ctx, d, rec, apptID, animalID, date, cols, rep)
		if err != nil {
			return eris.Wrapf(err, "ingest: cat %s", rec.SourceRowID)
		}
		if discarded {
			badWeights++
		}
	}

	if badWeights > 0 {
		rep.Warn(fmt.Sprintf("discarded %d weights outside (0, %d] lbs", badWeights, maxPlausibleWeightLbs))
	}
	return nil
}

// recordWeight stores a plausible weight as a numeric vital. Corrected
// weights overwrite on re-ingest; the raw cell stays in the payload either
// way. Returns true when the value was discarded by the guardrail.
func (s *ClinicCats) recordWeight(ctx context.Context, d Deps, rec model.StagedRecord, apptID, animalID int64, date time.Time, cols aliasTable, rep *model.IngestReport) (bool, error) {
	weight := normalize.ParseFloat(cols.get(rec.Payload, "weight"))
	if weight == nil {
		return false, nil
	}
	if *weight <= 0 || *weight > maxPlausibleWeightLbs {
		return true, nil
	}

	var inserted bool
	err := d.Pool.QueryRow(ctx, `
		INSERT INTO canon.vitals_observations
		    (appointment_id, animal_id, metric, value_num, observed_at)
		VALUES ($1, $2, 'weight', $3, $4)
		ON CONFLICT (appointment_id, metric) DO UPDATE SET
		    value_num = EXCLUDED.value_num,
		    animal_id = COALESCE(canon.vitals_observations.animal_id, EXCLUDED.animal_id)
		RETURNING (xmax = 0) AS inserted`,
		apptID, animalID, *weight, date,
	).Scan(&inserted)
	if err != nil {
		return false, eris.Wrap(err, "record weight")
	}

	vitals := rep.Entity("vitals")
	if inserted {
		vitals.Created++
	} else {
		vitals.Updated++
	}
	return false, nil
}

// parseAlteredStatus reads the free-text spay/neuter status column.
// Unknown phrasings return nil rather than guessing; negations are
// checked first because "not yet neutered" contains "neuter".
func parseAlteredStatus(s string) *bool {
	v := normalize.Text(s)
	if v == "" {
		return nil
	}
	t, f := true, false
	switch {
	case strings.Contains(v, "not"), strings.Contains(v, "intact"), v == "no":
		return &f
	case strings.Contains(v, "spay"), strings.Contains(v, "neuter"),
		strings.Contains(v, "altered"), v == "yes":
		return &t
	}
	return nil
}

// ClinicOwners ingests the owner_info report: one client row per visit,
// keyed like the other clinic tables.
type ClinicOwners struct{}

func (s *ClinicOwners) System() string { return systemClinic }
func (s *ClinicOwners) Table() string  { return "owner_info" }

func (s *ClinicOwners) Extract(ctx context.Context, path string) (*Extraction, error) {
	return extractClinicTable(path, columns(s.System(), s.Table()))
}

func (s *ClinicOwners) PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error {
	cols := columns(s.System(), s.Table())
	appts := rep.Entity("appointments")

	for _, rec := range recs {
		date, ok := normalize.ParseDate(cols.get(rec.Payload, "date"))
		if !ok {
			rep.Warn(fmt.Sprintf("owner %s: unparseable date %q",
				rec.SourceRowID, cols.get(rec.Payload, "date")))
			continue
		}

		apptID, inserted, _, err := upsertAppointment(ctx, d, appointmentRow{
			sourcePK:   rec.SourceRowID,
			number:     normalize.CleanNumber(cols.get(rec.Payload, "number")),
			date:       date,
			animalName: cols.get(rec.Payload, "animal_name"),
		})
		if err != nil {
			return eris.Wrapf(err, "ingest: owner %s", rec.SourceRowID)
		}
		if inserted {
			appts.Created++
		} else {
			appts.Updated++
		}

		if err := resolveAppointmentOwner(ctx, d, rec, apptID, cols, rep); err != nil {
			return eris.Wrapf(err, "ingest: owner %s", rec.SourceRowID)
		}
		if err := resolveAppointmentPlace(ctx, d, rec, apptID, cols, rep); err != nil {
			return eris.Wrapf(err, "ingest: owner %s", rec.SourceRowID)
		}
	}
	return nil
}

// resolveAppointmentOwner routes a client row to a person or
// organizational account and attaches whichever the appointment still
// lacks. Shared by the historical owner table and the upcoming snapshots,
// which carry the same client columns.
func resolveAppointmentOwner(ctx context.Context, d Deps, rec model.StagedRecord, apptID int64, cols aliasTable, rep *model.IngestReport) error {
	attrs := resolve.PersonAttrs{
		FirstName:      cols.get(rec.Payload, "first_name"),
		LastName:       cols.get(rec.Payload, "last_name"),
		Email:          cols.get(rec.Payload, "email"),
		Phone:          cols.get(rec.Payload, "cell_phone"),
		SecondaryPhone: cols.get(rec.Payload, "phone"),
	}

	ref, err := d.Resolver.ResolveOwner(ctx, attrs)
	if errors.Is(err, resolve.ErrNoIdentity) {
		// Nothing identifying on the row; the visit stays unowned.
		return nil
	}
	if err != nil {
		return err
	}

	switch {
	case ref.PersonID != nil:
		people := rep.Entity("people")
		if ref.Created {
			people.Created++
		} else {
			people.Updated++
			if err := d.Resolver.EnrichPerson(ctx, *ref.PersonID, attrs); err != nil {
				return err
			}
		}
	case ref.AccountID != nil:
		accounts := rep.Entity("accounts")
		if ref.Created {
			accounts.Created++
		} else {
			accounts.Updated++
		}
	}

	tag, err := d.Pool.Exec(ctx, `
		UPDATE canon.appointments
		SET person_id = $1, account_id = $2, updated_at = now()
		WHERE id = $3 AND person_id IS NULL AND account_id IS NULL`,
		ref.PersonID, ref.AccountID, apptID)
	if err != nil {
		return eris.Wrap(err, "attach owner")
	}
	rep.Entity("appointments").Linked += int(tag.RowsAffected())
	return nil
}

// resolveAppointmentPlace turns the client address into a residence place
// and attaches it to the appointment.
func resolveAppointmentPlace(ctx context.Context, d Deps, rec model.StagedRecord, apptID int64, cols aliasTable, rep *model.IngestReport) error {
	addr := cols.get(rec.Payload, "address")
	if addr == "" {
		return nil
	}

	placeID, created, err := d.Resolver.FindOrCreatePlace(ctx, resolve.PlaceAttrs{
		RawAddress: addr,
		Kind:       model.PlaceResidence,
	})
	if errors.Is(err, resolve.ErrNoIdentity) {
		return nil
	}
	if err != nil {
		return err
	}

	places := rep.Entity("places")
	if created {
		places.Created++
	} else {
		places.Updated++
	}

	tag, err := d.Pool.Exec(ctx, `
		UPDATE canon.appointments
		SET place_id = $1, updated_at = now()
		WHERE id = $2 AND place_id IS NULL`,
		placeID, apptID)
	if err != nil {
		return eris.Wrap(err, "attach place")
	}
	rep.Entity("appointments").Linked += int(tag.RowsAffected())
	return nil
}
