package resolve

import (
	"context"
	"strings"

	"github.com/harborcats/intake-cli/internal/normalize"
)

// OwnerRef points at whichever entity owns an appointment. Exactly one of
// the two ids is set.
type OwnerRef struct {
	PersonID  *int64
	AccountID *int64
	Created   bool
}

// ResolveOwner routes an owner record to a person or an organizational
// account. Pseudo-profiles (colony sites, partner orgs, bare addresses)
// never enter the person space; everything with real contact info does.
func (r *Resolver) ResolveOwner(ctx context.Context, attrs PersonAttrs) (OwnerRef, error) {
	display := strings.TrimSpace(attrs.FirstName + " " + attrs.LastName)

	if normalize.IsLikelyAccount(display, attrs.Email, attrs.Phone) {
		id, created, err := r.FindOrCreateAccount(ctx, display, "")
		if err != nil {
			return OwnerRef{}, err
		}
		return OwnerRef{AccountID: &id, Created: created}, nil
	}

	id, created, err := r.FindOrCreatePerson(ctx, attrs)
	if err != nil {
		return OwnerRef{}, err
	}
	return OwnerRef{PersonID: &id, Created: created}, nil
}
