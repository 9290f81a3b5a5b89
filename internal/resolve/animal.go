package resolve

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
)

// AnimalAttrs carries the identifying and descriptive attributes of an
// animal from one source row.
type AnimalAttrs struct {
	Name           string
	Microchip      string
	Sex            string
	Breed          string
	PrimaryColor   string
	SecondaryColor string
	Altered        *bool
}

// FindOrCreateAnimal resolves attrs to a canonical animal id. A microchip
// is the only cross-upload animal identifier; chipless animals always
// create a new row, and callers dedupe those through the appointment they
// arrived on.
func (r *Resolver) FindOrCreateAnimal(ctx context.Context, attrs AnimalAttrs) (int64, bool, error) {
	chip := normalize.Microchip(attrs.Microchip)

	if chip != "" {
		_, animalID, err := r.lookupIdentifier(ctx, model.IdentMicrochip, chip)
		if err != nil {
			return 0, false, err
		}
		if animalID != nil {
			id, err := r.CanonicalAnimalID(ctx, *animalID)
			if err != nil {
				return 0, false, err
			}
			if err := r.UpdateAnimalFacts(ctx, id, attrs); err != nil {
				return 0, false, err
			}
			return id, false, nil
		}
	}

	var altered bool
	if attrs.Altered != nil {
		altered = *attrs.Altered
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO canon.animals
		   (name, microchip, sex, breed, primary_color, secondary_color, altered)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		normalize.Name(attrs.Name), chip, normalize.Text(attrs.Sex),
		normalize.Name(attrs.Breed), normalize.Name(attrs.PrimaryColor),
		normalize.Name(attrs.SecondaryColor), altered,
	).Scan(&id)
	if err != nil {
		return 0, false, eris.Wrap(err, "resolve: insert animal")
	}

	if chip != "" {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO canon.identifiers (id_type, id_value, animal_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id_type, id_value) DO NOTHING`,
			string(model.IdentMicrochip), chip, id,
		); err != nil {
			return 0, false, eris.Wrap(err, "resolve: insert microchip identifier")
		}
	}

	return id, true, nil
}

// UpdateAnimalFacts fills blank descriptive columns from a later sighting.
// Populated columns are never overwritten; sex correction is the procedure
// linker's job, not the resolver's.
func (r *Resolver) UpdateAnimalFacts(ctx context.Context, animalID int64, attrs AnimalAttrs) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE canon.animals SET
		   name            = COALESCE(NULLIF(name, ''), $2),
		   sex             = COALESCE(NULLIF(sex, ''), $3),
		   breed           = COALESCE(NULLIF(breed, ''), $4),
		   primary_color   = COALESCE(NULLIF(primary_color, ''), $5),
		   secondary_color = COALESCE(NULLIF(secondary_color, ''), $6),
		   altered         = altered OR $7,
		   updated_at      = now()
		 WHERE id = $1`,
		animalID,
		normalize.Name(attrs.Name), normalize.Text(attrs.Sex),
		normalize.Name(attrs.Breed), normalize.Name(attrs.PrimaryColor),
		normalize.Name(attrs.SecondaryColor),
		attrs.Altered != nil && *attrs.Altered,
	)
	if err != nil {
		return eris.Wrap(err, "resolve: update animal facts")
	}
	return nil
}

// CanonicalAnimalID follows merge pointers to the surviving animal.
func (r *Resolver) CanonicalAnimalID(ctx context.Context, id int64) (int64, error) {
	return r.followMergeChain(ctx, "canon.animals", "merged_into_animal_id", id)
}

// AnimalByMicrochip returns the canonical animal owning a microchip, or nil.
func (r *Resolver) AnimalByMicrochip(ctx context.Context, chip string) (*int64, error) {
	chip = normalize.Microchip(chip)
	if chip == "" {
		return nil, nil
	}
	_, animalID, err := r.lookupIdentifier(ctx, model.IdentMicrochip, chip)
	if err != nil || animalID == nil {
		return nil, err
	}
	id, err := r.CanonicalAnimalID(ctx, *animalID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
