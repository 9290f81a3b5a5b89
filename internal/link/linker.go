// Package link runs the relationship-linking pass battery over the
// canonical graph.
//
// Every pass is independent and idempotent: "link X to Y where evidence
// exists and no such edge already exists." Passes read evidence from the
// staging layer and the graph itself, so ingestion order never matters:
// whichever side of a relationship arrives first, a later pass completes
// the edge. Set-based passes resolve animal and place references through
// the canonical merge mappings at read time, so merged-away entities
// contribute their evidence to the survivor while the historical rows
// keep the ids they were recorded with. A failing pass records a warning
// and the battery keeps going.
package link

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/attribution"
	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/resolve"
)

// Linker owns the pass battery.
type Linker struct {
	pool        db.Pool
	resolver    *resolve.Resolver
	horizonDays int
	now         func() time.Time
}

// New returns a linker. horizonDays bounds how far back routine passes may
// create new request links; pass 0 to disable (backfill).
func New(pool db.Pool, resolver *resolve.Resolver, horizonDays int) *Linker {
	return &Linker{
		pool:        pool,
		resolver:    resolver,
		horizonDays: horizonDays,
		now:         time.Now,
	}
}

type pass struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// passes returns the battery in declared order. Attribution runs twice:
// once after owners and inferred places land, and again at the end for
// animals that only gained a place edge mid-battery.
func (l *Linker) passes() []pass {
	return []pass{
		{"appointment_animals", l.LinkAppointmentAnimals},
		{"appointment_owners", l.LinkAppointmentOwners},
		{"inferred_places", l.DeriveInferredPlaces},
		{"person_places", l.LinkPersonPlaces},
		{"person_animals", l.LinkPersonAnimals},
		{"animal_places", l.LinkAnimalPlaces},
		{"visit_animal_backfill", l.BackfillVisitAnimals},
		{"procedure_sex_fix", l.CorrectProcedureSex},
		{"altered_recompute", l.RecomputeAltered},
		{"request_trappers", l.LinkRequestTrappers},
		{"request_animals", l.AttributeCatsToRequests},
		{"life_events", l.InferLifeEvents},
		{"request_animals_recheck", l.AttributeCatsToRequests},
	}
}

// RunAll executes the full battery. Pass failures become warnings on the
// result, never errors; a cancelled context stops the battery early.
func (l *Linker) RunAll(ctx context.Context) []model.PassResult {
	log := zap.L().With(zap.String("component", "link"))

	passes := l.passes()
	results := make([]model.PassResult, 0, len(passes))

	for i, p := range passes {
		if ctx.Err() != nil {
			results = append(results, model.PassResult{
				Name:    p.name,
				Warning: "skipped: " + ctx.Err().Error(),
			})
			continue
		}

		log.Info(fmt.Sprintf("link pass %d/%d: %s", i+1, len(passes), p.name))

		n, err := p.run(ctx)
		res := model.PassResult{Name: p.name, Affected: n}
		if err != nil {
			res.Warning = err.Error()
			log.Warn("link pass failed",
				zap.String("pass", p.name),
				zap.Error(err),
			)
		} else {
			log.Info("link pass complete",
				zap.String("pass", p.name),
				zap.Int64("affected", n),
			)
		}
		results = append(results, res)
	}

	return results
}

// withinWindow gates one appointment date against a request and the
// trailing horizon.
func (l *Linker) withinWindow(date time.Time, req model.Request) bool {
	return attribution.Attributable(date, req) &&
		attribution.WithinHorizon(date, l.now(), l.horizonDays)
}
