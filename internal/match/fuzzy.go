package match

import (
	"context"
	"encoding/json"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/normalize"
)

// fuzzyNameThreshold is the minimum full-name similarity for a
// shared-place pair to become a candidate. Similarity is Levenshtein
// distance scaled by the longer name; 0.85 tolerates a typo or two in a
// typical name without pairing unrelated neighbors.
const fuzzyNameThreshold = 0.85

type namePair struct {
	aID, bID     int64
	aName, bName string
}

// fuzzyEvidence is what the reviewer sees: the display names as the
// sources reported them, not the normalized forms the score ran on.
type fuzzyEvidence struct {
	Tier  int    `json:"tier"`
	Rule  string `json:"rule"`
	NameA string `json:"name_a"`
	NameB string `json:"name_b"`
}

// tier1FuzzyNames scores name similarity between people who share a place
// edge and queues pairs at or above the threshold in one bulk write.
// Pairs already queued by an earlier tier or a prior run are excluded in
// SQL, and the bulk insert conflicts the rest away, so reruns report only
// genuinely new work.
func (b *Builder) tier1FuzzyNames(ctx context.Context) (int64, error) {
	pairs, err := b.sharedPlacePairs(ctx)
	if err != nil {
		return 0, err
	}

	rows, err := b.scorePairs(pairs)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	return db.BulkUpsert(ctx, b.pool, db.UpsertConfig{
		Table:        "canon.person_match_candidates",
		Columns:      []string{"person_id", "candidate_person_id", "confidence", "evidence"},
		ConflictKeys: []string{"person_id", "candidate_person_id"},
		SkipUpdate:   true,
	}, rows)
}

// scorePairs keeps the pairs at or above both the name threshold and the
// run's floor, shaped as candidate rows for the bulk queue write.
func (b *Builder) scorePairs(pairs []namePair) ([][]any, error) {
	var rows [][]any
	for _, p := range pairs {
		na := normalize.Text(p.aName)
		nb := normalize.Text(p.bName)
		if na == "" || nb == "" {
			continue
		}

		score := levenshtein.Similarity(na, nb, nil)
		if score < fuzzyNameThreshold || score < b.minScore {
			continue
		}

		ev, err := json.Marshal(fuzzyEvidence{
			Tier:  1,
			Rule:  "fuzzy_name",
			NameA: p.aName,
			NameB: p.bName,
		})
		if err != nil {
			return nil, eris.Wrap(err, "match: marshal evidence")
		}
		rows = append(rows, []any{p.aID, p.bID, score, ev})
	}
	return rows, nil
}

// sharedPlacePairs returns distinct person pairs linked to a common place,
// skipping pairs already queued. Ordered by id so a capped scan pages
// stably across runs.
func (b *Builder) sharedPlacePairs(ctx context.Context) ([]namePair, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT DISTINCT a.person_id, pa.display_name, b.person_id, pb.display_name
		FROM canon.person_places a
		JOIN canon.person_places b
			ON a.place_id = b.place_id AND a.person_id < b.person_id
		JOIN canon.people pa ON pa.id = a.person_id
		JOIN canon.people pb ON pb.id = b.person_id
		WHERE pa.display_name <> '' AND pb.display_name <> ''
		  AND NOT EXISTS (
			SELECT 1 FROM canon.person_match_candidates c
			WHERE c.person_id = a.person_id
			  AND c.candidate_person_id = b.person_id)
		ORDER BY a.person_id, b.person_id
		LIMIT $1`,
		b.limit)
	if err != nil {
		return nil, eris.Wrap(err, "match: query shared-place pairs")
	}
	defer rows.Close()

	var pairs []namePair
	for rows.Next() {
		var p namePair
		if err := rows.Scan(&p.aID, &p.aName, &p.bID, &p.bName); err != nil {
			return nil, eris.Wrap(err, "match: scan shared-place pair")
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
