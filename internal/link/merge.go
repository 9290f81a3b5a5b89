package link

import "strconv"

// maxMergeDepth bounds the canonical-mapping walk. It matches the hop
// limit the resolver tolerates when following merge pointers, so any
// chain the graph can legally contain collapses within it.
const maxMergeDepth = 10

// canonMapCTE builds the WITH members that map every row of an entity
// table to its merge-chain survivor. Unmerged rows map to themselves;
// merged rows walk the pointer chain until it ends. The result member
// is <name>(source_id, canonical_id), meant to be joined wherever a
// stored reference could point at a merged-away entity. The mapping is
// read-only: historical foreign keys on appointments, requests,
// procedures, and vitals are never rewritten, and a merge stays
// reversible by clearing the pointer.
//
// A chain deeper than maxMergeDepth never terminates inside the walk,
// so its rows fall out of the mapping and an inner join skips them,
// the same way the resolver refuses such chains at lookup time.
func canonMapCTE(name, table, mergeCol string) string {
	walk := name + "_walk"
	return walk + `(source_id, id, next_id, depth) AS (
			SELECT e.id, e.id, e.` + mergeCol + `, 0
			FROM ` + table + ` e
		UNION ALL
			SELECT w.source_id, e.id, e.` + mergeCol + `, w.depth + 1
			FROM ` + walk + ` w
			JOIN ` + table + ` e ON e.id = w.next_id
			WHERE w.depth < ` + strconv.Itoa(maxMergeDepth) + `
	),
	` + name + `(source_id, canonical_id) AS (
		SELECT w.source_id, w.id FROM ` + walk + ` w WHERE w.next_id IS NULL
	)`
}

// animalCanon and placeCanon are the mapping members the set-based
// passes join so derived edges and links always land on the survivor.
func animalCanon() string {
	return canonMapCTE("animal_canon", "canon.animals", "merged_into_animal_id")
}

func placeCanon() string {
	return canonMapCTE("place_canon", "canon.places", "merged_into_place_id")
}

// withCanon prefixes a statement with the canonical-mapping members it
// joins.
func withCanon(body string, members ...string) string {
	sql := "WITH RECURSIVE "
	for i, m := range members {
		if i > 0 {
			sql += ",\n\t"
		}
		sql += m
	}
	return sql + "\n" + body
}
