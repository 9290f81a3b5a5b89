// Package match generates duplicate-person review candidates.
//
// Resolution only unifies identities that share an indexed identifier, so
// separate person rows for the same human still accumulate: records that
// arrived with disjoint contact info, name-only rows, or values the
// blacklist keeps out of the index. This package finds those pairs in
// tiers, strongest evidence first, and queues them in
// canon.person_match_candidates for an operator to review. Nothing here
// merges anything.
package match

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/db"
)

// Confidence assigned per tier-0 rule. A shared phone line is the
// strongest household signal; a shared inbox is slightly weaker.
const (
	exactPhoneConfidence = 1.0
	exactEmailConfidence = 0.98
)

// defaultPairLimit caps the shared-place pairs one run scores when the
// caller passes no limit.
const defaultPairLimit = 1000

// Builder generates match candidates over the canonical people graph.
type Builder struct {
	pool     db.Pool
	limit    int
	minScore float64
}

// New returns a builder. limit caps how many shared-place pairs a single
// run scores (non-positive means the default); minScore is the floor below
// which candidates are not queued.
func New(pool db.Pool, limit int, minScore float64) *Builder {
	if limit <= 0 {
		limit = defaultPairLimit
	}
	return &Builder{pool: pool, limit: limit, minScore: minScore}
}

// Generate runs every tier and returns the number of newly queued
// candidates. Pairs already queued are skipped regardless of status, so an
// operator's accept/reject verdicts survive reruns.
func (b *Builder) Generate(ctx context.Context) (int64, error) {
	log := zap.L().With(zap.String("component", "matchgen"))

	var total int64

	// Tier 0 confidences are fixed per rule, so a floor above a rule's
	// confidence disables that rule outright.
	if exactPhoneConfidence >= b.minScore {
		log.Info("match tier 0: exact phone collisions")
		n, err := b.tier0Phone(ctx)
		if err != nil {
			return total, eris.Wrap(err, "match: tier 0 (exact phone)")
		}
		total += n
		log.Info("match tier 0 phone complete", zap.Int64("queued", n))
	}

	if exactEmailConfidence >= b.minScore {
		log.Info("match tier 0: exact email collisions")
		n, err := b.tier0Email(ctx)
		if err != nil {
			return total, eris.Wrap(err, "match: tier 0 (exact email)")
		}
		total += n
		log.Info("match tier 0 email complete", zap.Int64("queued", n))
	}

	log.Info("match tier 1: fuzzy names at shared places")
	n, err := b.tier1FuzzyNames(ctx)
	if err != nil {
		return total, eris.Wrap(err, "match: tier 1 (fuzzy name)")
	}
	total += n
	log.Info("match tier 1 complete", zap.Int64("queued", n))

	return total, nil
}

// tier0Phone queues pairs of people storing the same phone number of ten
// or more digits. Contact columns already hold normalized digits, but the
// join re-normalizes so hand-entered rows still collide. Blacklisted
// shared lines never count as evidence.
func (b *Builder) tier0Phone(ctx context.Context) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		WITH phones AS (
			SELECT id, regexp_replace(phone, '\D', '', 'g') AS digits
			FROM canon.people
			WHERE phone <> ''
			UNION
			SELECT id, regexp_replace(secondary_phone, '\D', '', 'g')
			FROM canon.people
			WHERE secondary_phone <> ''
		)
		INSERT INTO canon.person_match_candidates
			(person_id, candidate_person_id, confidence, evidence)
		SELECT a.id, b.id, $1,
			jsonb_build_object('tier', 0, 'rule', 'exact_phone', 'value', a.digits)
		FROM phones a
		JOIN phones b ON a.digits = b.digits AND a.id < b.id
		WHERE length(a.digits) >= 10
		  AND NOT EXISTS (
			SELECT 1 FROM canon.identifier_blacklist bl
			WHERE bl.id_type = 'phone' AND bl.id_value = a.digits)
		ON CONFLICT (person_id, candidate_person_id) DO NOTHING`,
		exactPhoneConfidence)
	if err != nil {
		return 0, eris.Wrap(err, "match: exec exact phone")
	}
	return tag.RowsAffected(), nil
}

// tier0Email queues pairs of people storing the same email address.
func (b *Builder) tier0Email(ctx context.Context) (int64, error) {
	tag, err := b.pool.Exec(ctx, `
		INSERT INTO canon.person_match_candidates
			(person_id, candidate_person_id, confidence, evidence)
		SELECT a.id, b.id, $1,
			jsonb_build_object('tier', 0, 'rule', 'exact_email', 'value', lower(a.email))
		FROM canon.people a
		JOIN canon.people b ON lower(a.email) = lower(b.email) AND a.id < b.id
		WHERE a.email <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM canon.identifier_blacklist bl
			WHERE bl.id_type = 'email' AND bl.id_value = lower(a.email))
		ON CONFLICT (person_id, candidate_person_id) DO NOTHING`,
		exactEmailConfidence)
	if err != nil {
		return 0, eris.Wrap(err, "match: exec exact email")
	}
	return tag.RowsAffected(), nil
}
