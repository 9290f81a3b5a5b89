package ingest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/fetcher"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
)

// UpcomingAppointments ingests the clinic's forward-booking snapshot. Each
// export is the authoritative view of its own date window: appointments
// inside the window that stop appearing were cancelled and get swept
// stale, while anything outside the window is left untouched (windowed
// snapshot semantics, since a Tuesday export says nothing about next
// month).
type UpcomingAppointments struct{}

func (s *UpcomingAppointments) System() string { return systemClinic }
func (s *UpcomingAppointments) Table() string  { return "upcoming_appointments" }

// upcomingSourcePK derives the stable id for one booking. Real
// appointment numbers win; unnumbered bookings fall back to a hash of the
// fields the clinic cannot change without it being a different booking.
func upcomingSourcePK(cols aliasTable, row map[string]string, date time.Time) string {
	if n := normalize.ParseInt(cols.get(row, "number")); n != nil && *n > 0 {
		return strconv.Itoa(*n)
	}

	name := strings.ToLower(normalize.Space(
		cols.get(row, "first_name") + " " + cols.get(row, "last_name")))
	addr := strings.ToLower(normalize.Space(cols.get(row, "address")))
	animal := strings.ToLower(normalize.Space(cols.get(row, "animal_name")))

	return "hash:" + hashKey(date.Format("2006-01-02")+"|"+name+"|"+addr+"|"+animal)
}

func (s *UpcomingAppointments) Extract(ctx context.Context, path string) (*Extraction, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, err
	}
	cols := columns(s.System(), s.Table())

	ex := &Extraction{}
	for _, row := range rows {
		// A booking without a date cannot be placed in the window.
		date, ok := normalize.ParseDate(cols.get(row, "date"))
		if !ok {
			ex.Dropped++
			continue
		}
		ex.Rows = append(ex.Rows, ExtractedRow{
			LogicalID: upcomingSourcePK(cols, row, date),
			Date:      date,
			Payload:   row,
		})
	}
	return ex, nil
}

func (s *UpcomingAppointments) PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error {
	cols := columns(s.System(), s.Table())
	appts := rep.Entity("appointments")

	var window model.DateRange
	seen := make([]string, 0, len(recs))

	for _, rec := range recs {
		date, ok := normalize.ParseDate(cols.get(rec.Payload, "date"))
		if !ok {
			rep.Warn(fmt.Sprintf("upcoming %s: unparseable date %q",
				rec.SourceRowID, cols.get(rec.Payload, "date")))
			continue
		}
		window.Extend(date)
		seen = append(seen, rec.SourceRowID)

		apptID, inserted, _, err := upsertAppointment(ctx, d, appointmentRow{
			sourcePK:   rec.SourceRowID,
			number:     normalize.CleanNumber(cols.get(rec.Payload, "number")),
			date:       date,
			animalName: cols.get(rec.Payload, "animal_name"),
			upcoming:   true,
		})
		if err != nil {
			return eris.Wrapf(err, "ingest: upcoming %s", rec.SourceRowID)
		}
		if inserted {
			appts.Created++
		} else {
			appts.Updated++
		}

		if err := resolveAppointmentOwner(ctx, d, rec, apptID, cols, rep); err != nil {
			return eris.Wrapf(err, "ingest: upcoming %s", rec.SourceRowID)
		}
		if err := resolveAppointmentPlace(ctx, d, rec, apptID, cols, rep); err != nil {
			return eris.Wrapf(err, "ingest: upcoming %s", rec.SourceRowID)
		}
	}

	staled, err := s.sweepStale(ctx, d, window, seen)
	if err != nil {
		return err
	}
	rep.Post.Passes = append(rep.Post.Passes, model.PassResult{
		Name:     "upcoming_stale_sweep",
		Affected: staled,
	})
	return nil
}

// sweepStale expires current bookings inside the snapshot window that the
// snapshot no longer contains. Membership is checked against the pks seen
// in this upload rather than a timestamp cutoff, so clock skew between
// export and import cannot mis-expire rows.
func (s *UpcomingAppointments) sweepStale(ctx context.Context, d Deps, window model.DateRange, seen []string) (int64, error) {
	if window.Start.IsZero() || len(seen) == 0 {
		return 0, nil
	}
	tag, err := d.Pool.Exec(ctx, `
		UPDATE canon.appointments
		SET is_current = false, stale_at = now(), updated_at = now()
		WHERE source_system = $1
		  AND upcoming
		  AND is_current
		  AND date BETWEEN $2 AND $3
		  AND NOT (source_pk = ANY($4))`,
		systemClinic, window.Start, window.End, seen)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: sweep stale upcoming appointments")
	}
	return tag.RowsAffected(), nil
}
