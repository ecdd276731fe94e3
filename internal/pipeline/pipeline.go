// Package pipeline orchestrates a full refresh: registry ingest,
// classification, enrichment, scoring, and change detection.
package pipeline

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pharmacy-intel/internal/change"
	"github.com/sells-group/pharmacy-intel/internal/classify"
	"github.com/sells-group/pharmacy-intel/internal/config"
	"github.com/sells-group/pharmacy-intel/internal/fetcher"
	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/resilience"
	"github.com/sells-group/pharmacy-intel/internal/scorer"
	"github.com/sells-group/pharmacy-intel/internal/source"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

// ErrRunActive is returned when a run is triggered while another is still
// executing. At most one run mutates the store at a time.
var ErrRunActive = eris.New("pipeline: a run is already in progress")

// Pipeline executes refresh runs against a single store.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	fetcher fetcher.Fetcher
	tables  *classify.Tables
	profile scorer.Profile

	running atomic.Bool
}

// New builds a Pipeline, resolving the classification tables and scoring
// profile from configuration.
func New(cfg *config.Config, st store.Store, f fetcher.Fetcher) (*Pipeline, error) {
	tables := classify.Default()
	if cfg.Classify.PatternsFile != "" {
		var err error
		tables, err = classify.LoadFile(cfg.Classify.PatternsFile)
		if err != nil {
			return nil, err
		}
	}

	profile, err := scorer.SelectProfile(cfg.Scoring.Profile, cfg.Scoring.ProfilesFile)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		store:   st,
		fetcher: f,
		tables:  tables,
		profile: profile,
	}, nil
}

// Running reports whether a run is currently executing.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run executes one refresh synchronously and returns the finished run
// record. Returns ErrRunActive when another run holds the store.
func (p *Pipeline) Run(ctx context.Context) (*model.Run, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}
	defer p.running.Store(false)

	run, err := p.store.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	if err := p.execute(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// Start begins a refresh in the background and returns the created run
// record immediately. The run outlives the caller's context; only its
// values (deadlines aside) are carried over.
func (p *Pipeline) Start(ctx context.Context) (*model.Run, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunActive
	}

	run, err := p.store.CreateRun(ctx)
	if err != nil {
		p.running.Store(false)
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer p.running.Store(false)
		if execErr := p.execute(bgCtx, run); execErr != nil {
			zap.L().Error("pipeline: background run failed",
				zap.String("run_id", run.ID),
				zap.Error(execErr),
			)
		}
	}()

	return run, nil
}

// execute walks the run through every stage. Ingest failures are fatal and
// fail the run; enrichment, scoring, and change-detection failures are
// logged and the run still completes, since a partial refresh is more
// useful than none.
func (p *Pipeline) execute(ctx context.Context, run *model.Run) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", run.ID),
	)
	start := time.Now()
	log.Info("run started")

	fail := func(err error) error {
		run.Status = model.RunFailed
		run.ErrorLog = err.Error()
		if failErr := p.store.FailRun(ctx, run.ID, err.Error()); failErr != nil {
			log.Warn("failed to record run failure", zap.Error(failErr))
		}
		return err
	}

	before, err := p.store.Snapshot(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: snapshot before load"))
	}

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("nppes", "locate registry")
	registryPath, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (string, error) {
		return source.LocateRegistry(ctx, p.cfg.Sources.DataDir, p.cfg.Sources.RegistryURL, p.fetcher)
	})
	if err != nil {
		return fail(err)
	}
	log.Info("registry located", zap.String("path", registryPath))

	now := time.Now().UTC()
	seen := make(map[string]bool)
	var added, updated []string
	var processed int64

	batches, errCh := source.StreamRegistry(ctx, registryPath, p.cfg.Pipeline.BatchSize)
	for batch := range batches {
		pharmacies := make([]model.Pharmacy, 0, len(batch))
		for i := range batch {
			ph := buildPharmacy(&batch[i], p.tables, now)
			seen[ph.NPI] = true
			pharmacies = append(pharmacies, ph)
		}

		stats, upsertErr := p.store.UpsertBatch(ctx, pharmacies)
		if upsertErr != nil {
			cancel()
			return fail(eris.Wrap(upsertErr, "pipeline: load batch"))
		}
		processed += int64(len(batch))
		added = append(added, stats.Added...)
		updated = append(updated, stats.Updated...)

		log.Debug("batch loaded",
			zap.Int("records", len(batch)),
			zap.Int("added", len(stats.Added)),
			zap.Int("updated", len(stats.Updated)),
		)
	}
	if err := <-errCh; err != nil {
		return fail(err)
	}
	log.Info("registry loaded",
		zap.Int64("processed", processed),
		zap.Int("added", len(added)),
		zap.Int("updated", len(updated)),
	)

	reclassified, err := p.store.ReclassifyMultiLocation(ctx, p.cfg.Pipeline.MultiLocationThreshold)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: multi-location pass"))
	}
	if reclassified > 0 {
		log.Info("multi-location operators reclassified", zap.Int64("pharmacies", reclassified))
	}

	claims, demo := p.loadEnrichment(ctx, log)
	p.applyEnrichment(ctx, log, claims, demo)

	if n, scoreErr := scorer.Rescore(ctx, p.store, p.profile); scoreErr != nil {
		log.Warn("scoring skipped", zap.Error(scoreErr))
	} else {
		log.Info("scores refreshed", zap.Int("pharmacies", n), zap.String("profile", p.profile.Name))
	}

	var changes []model.Change
	after, err := p.store.Snapshot(ctx)
	if err != nil {
		log.Warn("change detection skipped", zap.Error(err))
	} else {
		changes = change.Detect(change.Inputs{
			Before:  before,
			After:   after,
			Added:   added,
			Updated: updated,
			Seen:    seen,
		}, p.cfg.Pipeline.EmitDeactivations, time.Now().UTC())
		if len(changes) > 0 {
			if insErr := p.store.InsertChanges(ctx, changes); insErr != nil {
				log.Warn("failed to persist changes", zap.Error(insErr))
				changes = nil
			}
		}
	}

	if err := p.store.CompleteRun(ctx, run.ID, processed, int64(len(added)), int64(len(updated)), int64(len(changes))); err != nil {
		return fail(eris.Wrap(err, "pipeline: complete run"))
	}

	run.Status = model.RunCompleted
	run.RecordsProcessed = processed
	run.RecordsAdded = int64(len(added))
	run.RecordsUpdated = int64(len(updated))
	run.ChangesDetected = int64(len(changes))

	log.Info("run completed",
		zap.Int64("processed", processed),
		zap.Int64("added", run.RecordsAdded),
		zap.Int64("updated", run.RecordsUpdated),
		zap.Int64("changes", run.ChangesDetected),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// loadEnrichment reads the claims and demographics extracts concurrently.
// Either extract may be absent; a failed load yields a nil map.
func (p *Pipeline) loadEnrichment(ctx context.Context, log *zap.Logger) (map[string]model.ClaimsMetrics, map[string]model.ZipDemographics) {
	var claims map[string]model.ClaimsMetrics
	var demo map[string]model.ZipDemographics

	g, gCtx := errgroup.WithContext(ctx)

	if path := p.sourcePath(p.cfg.Sources.ClaimsFile); path != "" {
		g.Go(func() error {
			m, err := source.LoadClaims(gCtx, path)
			if err != nil {
				log.Warn("claims extract unavailable", zap.String("path", path), zap.Error(err))
				return nil
			}
			claims = m
			return nil
		})
	}

	if path := p.sourcePath(p.cfg.Sources.GeographyFile); path != "" {
		g.Go(func() error {
			m, err := source.LoadGeography(gCtx, path)
			if err != nil {
				log.Warn("geography extract unavailable", zap.String("path", path), zap.Error(err))
				return nil
			}
			demo = m
			return nil
		})
	}

	_ = g.Wait()
	return claims, demo
}

// applyEnrichment writes the loaded extracts into the store and refreshes
// the per-ZIP aggregates. Every step here is best-effort.
func (p *Pipeline) applyEnrichment(ctx context.Context, log *zap.Logger, claims map[string]model.ClaimsMetrics, demo map[string]model.ZipDemographics) {
	if claims != nil {
		if matched, err := p.store.ApplyClaims(ctx, claims); err != nil {
			log.Warn("claims enrichment failed", zap.Error(err))
		} else {
			log.Info("claims applied", zap.Int("loaded", len(claims)), zap.Int64("matched", matched))
		}
	}

	if demo != nil {
		if matched, err := p.store.ApplyZipDemographics(ctx, demo); err != nil {
			log.Warn("demographics enrichment failed", zap.Error(err))
		} else {
			log.Info("demographics applied", zap.Int("zips", len(demo)), zap.Int64("matched", matched))
		}
	}

	if err := p.store.RefreshZipAggregates(ctx); err != nil {
		log.Warn("zip aggregate refresh failed", zap.Error(err))
	}
}

// sourcePath resolves a configured extract path relative to the data dir.
func (p *Pipeline) sourcePath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.cfg.Sources.DataDir, name)
}
