package resolve

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
)

// PlaceAttrs carries the identifying attributes of a place. Location holds
// an EWKB-encoded point when the source supplied coordinates.
type PlaceAttrs struct {
	Name       string
	RawAddress string
	Kind       model.PlaceKind
	Lat        *float64
	Lng        *float64
	Location   []byte
}

// FindOrCreatePlace resolves attrs to a canonical place id keyed by the
// normalized place key. All place creation in the pipeline funnels through
// here so placemark, clinic, and tracker addresses dedupe identically.
func (r *Resolver) FindOrCreatePlace(ctx context.Context, attrs PlaceAttrs) (int64, bool, error) {
	key := normalize.PlaceKey(attrs.Name, attrs.RawAddress)
	if normalize.Text(attrs.Name) == "" && normalize.Text(attrs.RawAddress) == "" {
		return 0, false, ErrNoIdentity
	}

	kind := attrs.Kind
	if kind == "" {
		kind = model.PlaceUnknown
	}

	var id int64
	created := true
	err := r.pool.QueryRow(ctx,
		`INSERT INTO canon.places
		   (place_key, display_name, raw_address, kind, lat, lng, location)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (place_key) DO NOTHING
		 RETURNING id`,
		key, normalize.Name(attrs.Name), normalize.Space(attrs.RawAddress),
		string(kind), attrs.Lat, attrs.Lng, attrs.Location,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		if err := r.pool.QueryRow(ctx,
			"SELECT id FROM canon.places WHERE place_key = $1", key,
		).Scan(&id); err != nil {
			return 0, false, eris.Wrap(err, "resolve: place by key")
		}
		if err := r.enrichPlace(ctx, id, attrs); err != nil {
			return 0, false, err
		}
		id, err = r.CanonicalPlaceID(ctx, id)
		if err != nil {
			return 0, false, err
		}
	} else if err != nil {
		return 0, false, eris.Wrap(err, "resolve: insert place")
	}

	return id, created, nil
}

// enrichPlace fills blank columns on an existing place from a later
// sighting. Coordinates only land when the place has none; the geocoder
// owns refinement.
func (r *Resolver) enrichPlace(ctx context.Context, placeID int64, attrs PlaceAttrs) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE canon.places SET
		   display_name = COALESCE(NULLIF(display_name, ''), $2),
		   raw_address  = COALESCE(NULLIF(raw_address, ''), $3),
		   kind         = CASE WHEN kind = 'unknown' AND $4 NOT IN ('', 'unknown') THEN $4 ELSE kind END,
		   lat          = COALESCE(lat, $5),
		   lng          = COALESCE(lng, $6),
		   location     = COALESCE(location, $7),
		   updated_at   = now()
		 WHERE id = $1`,
		placeID,
		normalize.Name(attrs.Name), normalize.Space(attrs.RawAddress),
		string(attrs.Kind), attrs.Lat, attrs.Lng, attrs.Location,
	)
	if err != nil {
		return eris.Wrap(err, "resolve: enrich place")
	}
	return nil
}

// CanonicalPlaceID follows merge pointers to the surviving place.
func (r *Resolver) CanonicalPlaceID(ctx context.Context, id int64) (int64, error) {
	return r.followMergeChain(ctx, "canon.places", "merged_into_place_id", id)
}
