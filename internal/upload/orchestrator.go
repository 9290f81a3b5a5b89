package upload

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harborcats/intake-cli/internal/db"
	"github.com/harborcats/intake-cli/internal/ingest"
	"github.com/harborcats/intake-cli/internal/model"
	"github.com/harborcats/intake-cli/internal/resolve"
	"github.com/harborcats/intake-cli/internal/staging"
)

// Geocoder triggers the external geocoding collaborator after an upload
// lands new places. Fire and forget: implementations return immediately
// and no result is ever awaited here.
type Geocoder interface {
	Trigger(ctx context.Context)
}

// Linker runs the cross-upload relationship passes after staging and
// resolution. *link.Linker is the production implementation.
type Linker interface {
	RunAll(ctx context.Context) []model.PassResult
}

// Orchestrator drives one upload through extract, stage, resolve and link.
type Orchestrator struct {
	pool     db.Pool
	uploads  *Store
	stage    *staging.Store
	registry *ingest.Registry
	resolver *resolve.Resolver
	linker   Linker
	geocoder Geocoder // nil disables the trigger
	budget   time.Duration
}

// NewOrchestrator creates an orchestrator. budget bounds one run's wall
// clock; zero means unbounded. geocoder may be nil.
func NewOrchestrator(pool db.Pool, uploads *Store, stage *staging.Store, reg *ingest.Registry,
	resolver *resolve.Resolver, linker Linker, geocoder Geocoder, budget time.Duration) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		uploads:  uploads,
		stage:    stage,
		registry: reg,
		resolver: resolver,
		linker:   linker,
		geocoder: geocoder,
		budget:   budget,
	}
}

// The fixed step sequence every upload walks through. Progress is persisted
// before each step so a poller always sees what the run is doing now.
var processSteps = []string{"extract", "stage", "resolve", "link", "finalize"}

// Process claims the upload and runs it to a terminal state. The returned
// report is also persisted on the upload row. Claim conflicts surface as
// ErrProcessing / ErrNotFound; a staging-phase error fails the upload and
// is returned. Linker-pass failures never fail the run — they land in the
// report as warnings.
//
// Bookkeeping writes (progress, the terminal status) go through the parent
// context so an expired budget cannot strand the upload in processing.
func (o *Orchestrator) Process(parent context.Context, uploadID string) (*model.IngestReport, error) {
	log := zap.L().With(
		zap.String("component", "upload"),
		zap.String("upload_id", uploadID),
	)

	up, err := o.uploads.Claim(parent, uploadID)
	if err != nil {
		return nil, err
	}
	log.Info("processing upload",
		zap.String("source", up.SourceSystem+"/"+up.SourceTable),
		zap.String("file", up.FileName),
	)

	ctx := parent
	if o.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, o.budget)
		defer cancel()
	}

	start := time.Now()
	rep := &model.IngestReport{
		UploadID:     up.ID,
		SourceSystem: up.SourceSystem,
		SourceTable:  up.SourceTable,
	}

	src, err := o.registry.Get(up.SourceSystem, up.SourceTable)
	if err != nil {
		return nil, o.fail(parent, log, up.ID, err)
	}

	o.step(parent, log, up.ID, 1)
	ext, err := src.Extract(ctx, up.StoredPath)
	if err != nil {
		return nil, o.fail(parent, log, up.ID, err)
	}
	rep.RowsDropped = ext.Dropped

	o.step(parent, log, up.ID, 2)
	var window model.DateRange
	for _, row := range ext.Rows {
		outcome, err := o.stage.Stage(ctx, staging.Row{
			SourceSystem: up.SourceSystem,
			SourceTable:  up.SourceTable,
			SourceRowID:  row.LogicalID,
			UploadID:     up.ID,
			Payload:      row.Payload,
		})
		if err != nil {
			return nil, o.fail(parent, log, up.ID, err)
		}
		rep.CountStage(outcome)
		window.Extend(row.Date)
	}
	if !window.Start.IsZero() {
		rep.DateRange = &window
	}

	o.step(parent, log, up.ID, 3)
	recs, err := o.stage.ListByUpload(ctx, up.ID)
	if err != nil {
		return nil, o.fail(parent, log, up.ID, err)
	}
	deps := ingest.Deps{Pool: o.pool, Resolver: o.resolver}
	if err := src.PostProcess(ctx, deps, recs, rep); err != nil {
		return nil, o.fail(parent, log, up.ID, err)
	}

	o.step(parent, log, up.ID, 4)
	rep.Post.Passes = append(rep.Post.Passes, o.linker.RunAll(ctx)...)

	o.step(parent, log, up.ID, 5)
	if rep.DateRange != nil {
		if err := o.uploads.RecordCoverage(parent, up.SourceSystem, up.SourceTable, up.ID, *rep.DateRange); err != nil {
			rep.Warn(err.Error())
			log.Warn("failed to record coverage", zap.Error(err))
		}
	}
	if o.geocoder != nil {
		o.geocoder.Trigger(parent)
	}

	rep.DurationMS = time.Since(start).Milliseconds()
	if err := o.uploads.Complete(parent, up.ID, rep); err != nil {
		return nil, err
	}

	log.Info("upload processed",
		zap.Int("rows", rep.RowsTotal),
		zap.Int("inserted", rep.RowsInserted),
		zap.Int("updated", rep.RowsUpdated),
		zap.Int("skipped", rep.RowsSkipped),
		zap.Int("warnings", len(rep.Post.Warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rep, nil
}

// step persists and logs entry into one processing step. Progress is a
// courtesy to pollers; losing a write never aborts the run.
func (o *Orchestrator) step(ctx context.Context, log *zap.Logger, id string, num int) {
	name := processSteps[num-1]
	log.Info("step "+name, zap.Int("step", num), zap.Int("steps", len(processSteps)))
	p := model.UploadProgress{Step: name, StepNum: num, Steps: len(processSteps)}
	if err := o.uploads.SetProgress(ctx, id, p); err != nil {
		log.Warn("failed to persist progress", zap.Error(err))
	}
}

// fail records the terminal failure and hands the original error back.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, id string, cause error) error {
	log.Error("upload failed", zap.Error(cause))
	if err := o.uploads.Fail(ctx, id, cause.Error()); err != nil {
		log.Error("failed to record upload failure", zap.Error(err))
	}
	return cause
}
