package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/ingest"
	"github.com/harborcats/intake-cli/internal/link"
	"github.com/harborcats/intake-cli/internal/migrate"
	"github.com/harborcats/intake-cli/internal/resolve"
	"github.com/harborcats/intake-cli/internal/staging"
	"github.com/harborcats/intake-cli/internal/upload"
	"github.com/harborcats/intake-cli/pkg/geocode"
)

// intakeEnv holds the shared stores and pipeline components the process,
// ingest, and serve commands run against.
type intakeEnv struct {
	Pool         *pgxpool.Pool
	Uploads      *upload.Store
	Staging      *staging.Store
	Registry     *ingest.Registry
	Resolver     *resolve.Resolver
	Linker       *link.Linker
	Orchestrator *upload.Orchestrator
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	e.Pool.Close()
}

// openPool validates config for mode, connects, and brings the schema
// current. Commands that only need a pool use this directly.
func openPool(ctx context.Context, mode string) (*pgxpool.Pool, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := migrate.Run(ctx, pool); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "apply migrations")
	}

	return pool, nil
}

// initIntake builds the full pipeline environment. Callers should defer
// env.Close().
func initIntake(ctx context.Context, mode string) (*intakeEnv, error) {
	pool, err := openPool(ctx, mode)
	if err != nil {
		return nil, err
	}

	blacklist, err := resolve.LoadBlacklist(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if n := blacklist.Len(); n > 0 {
		zap.L().Info("identifier blacklist loaded", zap.Int("values", n))
	}

	resolver := resolve.New(pool, blacklist)
	linker := link.New(pool, resolver, cfg.Pipeline.BackfillHorizonDays)
	uploads := upload.NewStore(pool)
	stage := staging.NewStore(pool)
	reg := ingest.NewRegistry()

	// The geocode trigger is optional; without a URL the orchestrator
	// simply never pokes the collaborator.
	var geocoder upload.Geocoder
	if cfg.Geocode.URL != "" {
		geocoder = geocode.NewClient(cfg.Geocode.URL, cfg.Geocode.Token,
			geocode.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second,
			}))
		zap.L().Info("geocode trigger enabled", zap.String("url", cfg.Geocode.URL))
	}

	orch := upload.NewOrchestrator(pool, uploads, stage, reg, resolver, linker, geocoder,
		time.Duration(cfg.Uploads.BudgetSecs)*time.Second)

	return &intakeEnv{
		Pool:         pool,
		Uploads:      uploads,
		Staging:      stage,
		Registry:     reg,
		Resolver:     resolver,
		Linker:       linker,
		Orchestrator: orch,
	}, nil
}
