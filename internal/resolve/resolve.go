// Package resolve maps raw source attributes onto canonical entities.
//
// Every find-or-create goes through the identifier index first: a known
// email, phone, or microchip wins over any name/key match. Creation is
// conflict-tolerant, so two concurrent ingests of the same identity
// converge on one row.
package resolve

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
)

// ErrNoIdentity marks a record with nothing usable to dedupe on. Callers
// skip the row and count it rather than fail the upload.
var ErrNoIdentity = eris.New("resolve: record has no identifying attributes")

// maxMergeHops bounds merge-pointer chains. Operator merges are shallow in
// practice; anything deeper is a data defect worth failing loudly on.
const maxMergeHops = 10

// Resolver performs find-or-create resolution against the canon schema.
type Resolver struct {
	pool      db.Pool
	blacklist *Blacklist
}

// New returns a resolver. A nil blacklist blocks nothing.
func New(pool db.Pool, blacklist *Blacklist) *Resolver {
	return &Resolver{pool: pool, blacklist: blacklist}
}

// lookupIdentifier returns the entity currently owning an identifier value,
// or nils when the value is unknown.
func (r *Resolver) lookupIdentifier(ctx context.Context, idType model.IdentifierType, value string) (personID, animalID *int64, err error) {
	err = r.pool.QueryRow(ctx,
		`SELECT person_id, animal_id FROM canon.identifiers
		 WHERE id_type = $1 AND id_value = $2`,
		string(idType), value,
	).Scan(&personID, &animalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "resolve: lookup identifier")
	}
	return personID, animalID, nil
}

// followMergeChain walks merged_into pointers in table until it reaches a
// surviving row.
func (r *Resolver) followMergeChain(ctx context.Context, table, column string, id int64) (int64, error) {
	for hop := 0; hop < maxMergeHops; hop++ {
		var next *int64
		err := r.pool.QueryRow(ctx,
			"SELECT "+column+" FROM "+table+" WHERE id = $1", id,
		).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			// Dangling reference; treat the id itself as canonical.
			return id, nil
		}
		if err != nil {
			return 0, eris.Wrapf(err, "resolve: follow merge chain %s", table)
		}
		if next == nil {
			return id, nil
		}
		id = *next
	}
	return 0, eris.Errorf("resolve: merge chain exceeds %d hops in %s (id %d)", maxMergeHops, table, id)
}
