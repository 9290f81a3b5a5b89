package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harborcats/intake-cli/internal/fetcher"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// FieldmapPlacemarks ingests the shared field map volunteers maintain:
// colony sites, feeding stations, and trapping locations exported as
// KML or KMZ. Placemarks carry no stable ids, so the logical id hashes
// coordinates plus name.
type FieldmapPlacemarks struct{}

func (s *FieldmapPlacemarks) System() string { return "fieldmap" }
func (s *FieldmapPlacemarks) Table() string  { return "placemarks" }

func (s *FieldmapPlacemarks) Extract(ctx context.Context, path string) (*Extraction, error) {
	marks, err := fetcher.ExtractPlacemarks(path)
	if err != nil {
		return nil, err
	}

	ex := &Extraction{}
	for _, m := range marks {
		if m.Name == "" {
			ex.Dropped++
			continue
		}
		ex.Rows = append(ex.Rows, ExtractedRow{
			LogicalID: placemarkID(m),
			Payload: map[string]string{
				"Name":        m.Name,
				"Description": m.Description,
				"Category":    m.Category,
				"Style":       m.StyleURL,
				"Latitude":    fmt.Sprintf("%.6f", m.Lat),
				"Longitude":   fmt.Sprintf("%.6f", m.Lng),
			},
		})
	}
	return ex, nil
}

// placemarkID keys a placemark by position and name. Six decimal places
// is roughly 10cm, tight enough that a nudged pin re-stages as a new row
// while an untouched export stays deduplicated.
func placemarkID(m fetcher.Placemark) string {
	return hashKey(fmt.Sprintf("%.6f,%.6f|%s", m.Lat, m.Lng, strings.ToLower(normalize.Space(m.Name))))
}

func (s *FieldmapPlacemarks) PostProcess(ctx context.Context, d Deps, recs []model.StagedRecord, rep *model.IngestReport) error {
	cols := columns(s.System(), s.Table())

	for _, rec := range recs {
		name := cols.get(rec.Payload, "name")
		lat := normalize.ParseFloat(cols.get(rec.Payload, "latitude"))
		lng := normalize.ParseFloat(cols.get(rec.Payload, "longitude"))

		attrs := resolve.PlaceAttrs{
			Name: name,
			Kind: classifyPlaceKind(name,
				cols.get(rec.Payload, "category"),
				cols.get(rec.Payload, "style")),
		}
		if lat != nil && lng != nil {
			attrs.Lat, attrs.Lng = lat, lng
			attrs.Location = ewkbPoint(*lng, *lat)
		}

		_, created, err := d.Resolver.FindOrCreatePlace(ctx, attrs)
		if errors.Is(err, resolve.ErrNoIdentity) {
			continue
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

		// Site names that read as organizations ("Desert Winds RV Park",
		// "Main St Colony") also get an account so appointment owners
		// booked under the site name resolve to it.
		if normalize.IsLikelyAccount(name, "", "") {
			_, accCreated, err := d.Resolver.FindOrCreateAccount(ctx, name, "colony")
			if errors.Is(err, resolve.ErrNoIdentity) {
				continue
			}
			if err != nil {
				return err
			}
			accounts := rep.Entity("accounts")
			if accCreated {
				accounts.Created++
				places.Linked++
			} else {
				accounts.Updated++
			}
		}
	}
	return nil
}

// colonyWords mark a site as a managed cat colony or feeding station.
var colonyWords = []string{"colony", "feeding", "feeder", "cats"}

// classifyPlaceKind buckets a map site by its name, folder label, and
// pin style. Named styles ("feeding-station") rank with folder labels;
// the generated icon ids most exports use contain no words and simply
// never match.
func classifyPlaceKind(name, category, style string) model.PlaceKind {
	text := normalize.Text(name + " " + category + " " + style)
	for _, w := range colonyWords {
		if strings.Contains(text, w) {
			return model.PlaceColony
		}
	}
	if normalize.IsLikelyAccount(name, "", "") {
		return model.PlaceBusiness
	}
	return model.PlaceUnknown
}

// classifyPlaceName buckets a named site with no map context.
func classifyPlaceName(name string) model.PlaceKind {
	return classifyPlaceKind(name, "", "")
}
