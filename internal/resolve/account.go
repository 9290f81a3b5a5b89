package resolve

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/normalize"
)

// FindOrCreateAccount resolves an organizational account by its normalized
// display name. Alternate spellings of an existing account accumulate as
// aliases so later name-based linking still finds it.
func (r *Resolver) FindOrCreateAccount(ctx context.Context, name, kind string) (int64, bool, error) {
	key := normalize.AccountKey(name)
	if key == "" {
		return 0, false, ErrNoIdentity
	}
	display := normalize.Name(name)

	var id int64
	created := true
	err := r.pool.QueryRow(ctx,
		`INSERT INTO canon.org_accounts (account_key, name, kind)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_key) DO NOTHING
		 RETURNING id`,
		key, display, kind,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		created = false
		if err := r.pool.QueryRow(ctx,
			"SELECT id FROM canon.org_accounts WHERE account_key = $1", key,
		).Scan(&id); err != nil {
			return 0, false, eris.Wrap(err, "resolve: account by key")
		}
		// Record the sighting's spelling when it differs from what we keep.
		if _, err := r.pool.Exec(ctx,
			`UPDATE canon.org_accounts
			 SET aliases = array_append(aliases, $2), updated_at = now()
			 WHERE id = $1 AND name <> $2 AND NOT ($2 = ANY(aliases))`,
			id, display,
		); err != nil {
			return 0, false, eris.Wrap(err, "resolve: append account alias")
		}
	} else if err != nil {
		return 0, false, eris.Wrap(err, "resolve: insert account")
	}

	return id, created, nil
}

// FindAccountByName matches a display name against account names and
// accumulated aliases. Returns nil when nothing matches.
func (r *Resolver) FindAccountByName(ctx context.Context, name string) (*int64, error) {
	key := normalize.AccountKey(name)
	if key == "" {
		return nil, nil
	}
	display := normalize.Name(name)

	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM canon.org_accounts
		 WHERE account_key = $1 OR $2 = ANY(aliases)
		 LIMIT 1`,
		key, display,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "resolve: account by name")
	}
	return &id, nil
}
