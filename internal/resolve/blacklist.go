package resolve

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
)

// Blacklist holds identifier values that must never resolve to a single
// person: clinic front-desk phones, shared rescue inboxes. A blacklisted
// value is ignored during lookup and never inserted into the index, so
// profiles carrying only a shared value fall back to name-keyed identity.
type Blacklist struct {
	values map[string]struct{}
}

// LoadBlacklist reads canon.identifier_blacklist once per run.
func LoadBlacklist(ctx context.Context, pool db.Pool) (*Blacklist, error) {
	rows, err := pool.Query(ctx, "SELECT id_type, id_value FROM canon.identifier_blacklist")
	if err != nil {
		return nil, eris.Wrap(err, "resolve: load identifier blacklist")
	}
	defer rows.Close()

	bl := &Blacklist{values: make(map[string]struct{})}
	for rows.Next() {
		var idType, idValue string
		if err := rows.Scan(&idType, &idValue); err != nil {
			return nil, eris.Wrap(err, "resolve: scan blacklist row")
		}
		bl.values[idType+":"+idValue] = struct{}{}
	}
	return bl, rows.Err()
}

// Blocked reports whether value is blacklisted for idType. Nil-safe; empty
// values are never blocked.
func (b *Blacklist) Blocked(idType model.IdentifierType, value string) bool {
	if b == nil || value == "" {
		return false
	}
	_, ok := b.values[string(idType)+":"+value]
	return ok
}

// Len returns the number of blacklisted values.
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.values)
}
