// Package attribution decides whether a clinic visit counts toward a
// trapping request. The rules are pure time arithmetic; every linking pass
// funnels through here so the policy lives in exactly one place.
package attribution

import (
	"time"

	"github.com/harborcats/intake-cli/internal/model"
)

const (
	// LeadMonths extends the window before a request was opened: a cat
	// fixed shortly before the request was filed usually belongs to it
	// (the caller trapped first, called second).
	LeadMonths = 1

	// TailMonths extends the window past resolution: stragglers from an
	// otherwise-finished site still count toward the request.
	TailMonths = 3

	// DefaultHorizonDays is the trailing eligibility horizon for new
	// links. Appointments older than this only link during explicit
	// backfill, so routine uploads cannot silently rewrite history.
	DefaultHorizonDays = 30
)

// Attributable reports whether an appointment dated date falls inside the
// attribution window of req.
func Attributable(date time.Time, req model.Request) bool {
	if date.IsZero() || req.OpenedAt.IsZero() {
		return false
	}

	earliest := req.OpenedAt.AddDate(0, -LeadMonths, 0)
	if date.Before(earliest) {
		return false
	}

	if req.Status.Open() {
		return true
	}

	// Closed request: bound the window at resolution + tail. A closed
	// request missing its resolution timestamp anchors on last update.
	anchor := req.UpdatedAt
	if req.ResolvedAt != nil {
		anchor = *req.ResolvedAt
	}
	if anchor.IsZero() {
		return false
	}
	return !date.After(anchor.AddDate(0, TailMonths, 0))
}

// WithinHorizon reports whether date is recent enough for a routine pass
// to create new links. horizonDays <= 0 disables the guard (backfill).
func WithinHorizon(date, now time.Time, horizonDays int) bool {
	if horizonDays <= 0 {
		return true
	}
	return !date.Before(now.AddDate(0, 0, -horizonDays))
}
