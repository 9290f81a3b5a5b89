package resolve

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/normalize"
)

// PersonAttrs carries the identifying attributes of a person as the source
// reported them. Normalization happens inside the resolver.
type PersonAttrs struct {
	FirstName      string
	LastName       string
	Email          string
	Phone          string
	SecondaryPhone string
}

type identCandidate struct {
	Type  model.IdentifierType
	Value string
}

// identCandidates returns the non-empty, non-blacklisted identifier values
// for attrs, in lookup-precedence order (email beats phone).
func (r *Resolver) identCandidates(attrs PersonAttrs) (email, phone, phone2 string, idents []identCandidate) {
	email = normalize.Email(attrs.Email)
	phone = normalize.Phone(attrs.Phone)
	phone2 = normalize.Phone(attrs.SecondaryPhone)

	if r.blacklist.Blocked(model.IdentEmail, email) {
		email = ""
	}
	if r.blacklist.Blocked(model.IdentPhone, phone) {
		phone = ""
	}
	if r.blacklist.Blocked(model.IdentPhone, phone2) {
		phone2 = ""
	}

	if email != "" {
		idents = append(idents, identCandidate{model.IdentEmail, email})
	}
	// Phone fragments shorter than 7 digits are too ambiguous to index.
	if len(phone) >= 7 {
		idents = append(idents, identCandidate{model.IdentPhone, phone})
	}
	if len(phone2) >= 7 && phone2 != phone {
		idents = append(idents, identCandidate{model.IdentPhone, phone2})
	}
	return email, phone, phone2, idents
}

// FindOrCreatePerson resolves attrs to a canonical person id, creating the
// person on first sight. The bool result reports whether a new row was
// created.
func (r *Resolver) FindOrCreatePerson(ctx context.Context, attrs PersonAttrs) (int64, bool, error) {
	email, phone, phone2, idents := r.identCandidates(attrs)

	// Any known identifier resolves immediately; missing identifiers are
	// backfilled onto the existing person.
	for _, ident := range idents {
		personID, _, err := r.lookupIdentifier(ctx, ident.Type, ident.Value)
		if err != nil {
			return 0, false, err
		}
		if personID != nil {
			if err := r.insertPersonIdentifiers(ctx, *personID, idents); err != nil {
				return 0, false, err
			}
			return *personID, false, nil
		}
	}

	key := normalize.PersonKey(attrs.FirstName, attrs.LastName, email, phone)
	if key == "" {
		return 0, false, ErrNoIdentity
	}

	first := normalize.Name(attrs.FirstName)
	last := normalize.Name(attrs.LastName)
	display := strings.TrimSpace(first + " " + last)

	var id int64
	created := true
	err := r.pool.QueryRow(ctx,
		`INSERT INTO canon.people
		   (person_key, first_name, last_name, display_name, email, phone, secondary_phone)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (person_key) DO NOTHING
		 RETURNING id`,
		key, first, last, display, email, phone, phone2,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the insert race or the key already existed; fetch the winner.
		created = false
		if err := r.pool.QueryRow(ctx,
			"SELECT id FROM canon.people WHERE person_key = $1", key,
		).Scan(&id); err != nil {
			return 0, false, eris.Wrap(err, "resolve: person by key")
		}
	} else if err != nil {
		return 0, false, eris.Wrap(err, "resolve: insert person")
	}

	if err := r.insertPersonIdentifiers(ctx, id, idents); err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// insertPersonIdentifiers indexes idents for a person. Values already owned
// elsewhere are left alone; the index records first-writer-wins.
func (r *Resolver) insertPersonIdentifiers(ctx context.Context, personID int64, idents []identCandidate) error {
	for _, ident := range idents {
		if _, err := r.pool.Exec(ctx,
			`INSERT INTO canon.identifiers (id_type, id_value, person_id)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id_type, id_value) DO NOTHING`,
			string(ident.Type), ident.Value, personID,
		); err != nil {
			return eris.Wrap(err, "resolve: insert person identifier")
		}
	}
	return nil
}

// EnrichPerson fills blank contact columns on an existing person from a
// later sighting. Populated columns are never overwritten.
func (r *Resolver) EnrichPerson(ctx context.Context, personID int64, attrs PersonAttrs) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE canon.people SET
		   first_name      = COALESCE(NULLIF(first_name, ''), $2),
		   last_name       = COALESCE(NULLIF(last_name, ''), $3),
		   display_name    = COALESCE(NULLIF(display_name, ''), $4),
		   email           = COALESCE(NULLIF(email, ''), $5),
		   phone           = COALESCE(NULLIF(phone, ''), $6),
		   secondary_phone = COALESCE(NULLIF(secondary_phone, ''), $7),
		   updated_at      = now()
		 WHERE id = $1`,
		personID,
		normalize.Name(attrs.FirstName),
		normalize.Name(attrs.LastName),
		strings.TrimSpace(normalize.Name(attrs.FirstName)+" "+normalize.Name(attrs.LastName)),
		normalize.Email(attrs.Email),
		normalize.Phone(attrs.Phone),
		normalize.Phone(attrs.SecondaryPhone),
	)
	if err != nil {
		return eris.Wrap(err, "resolve: enrich person")
	}
	return nil
}
