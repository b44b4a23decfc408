// Package pipeline holds the batch entry points: feature derivation,
// segmentation with training, and the snapshot refresh that publishes
// their results to the recommendation server.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"orderrec/internal/apperr"
	"orderrec/internal/config"
	"orderrec/internal/features"
	"orderrec/internal/ledger"
	"orderrec/internal/metrics"
	"orderrec/internal/recommend"
	"orderrec/internal/segment"
)

// Store is the storage the runner needs.
type Store interface {
	ledger.Store
	CustomerFeatures(ctx context.Context) ([]ledger.CustomerFeatures, error)
	TrainingInputs(ctx context.Context) ([]ledger.CustomerFeatures, []ledger.OrderLine, error)
	ItemUniverse(ctx context.Context) ([]string, error)
	SaveGeneration(ctx context.Context, gen *recommend.Generation) error
	ActiveGeneration(ctx context.Context) (*recommend.Generation, error)
	ActiveGenerationID(ctx context.Context) (string, error)
	PruneGenerations(ctx context.Context, keep int) (int64, error)
}

// DerivationReport summarises one derivation run.
type DerivationReport struct {
	BatchRows  int
	Accepted   int
	Duplicates int
	Dropped    map[string]int
	LedgerRows int
	Customers  int
}

// Runner runs the batch jobs. Jobs that mutate the ledger take the store's
// write lock; training works from committed data and activates its result
// atomically.
type Runner struct {
	store   Store
	cfg     *config.Config
	deriver *features.Deriver
	trainer *recommend.Trainer
	server  *recommend.Server
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRunner creates a Runner. server may be nil for processes that do not
// serve recommendations; now may be nil for time.Now.
//
//nolint:gocritic // zerolog.Logger is passed by value
func NewRunner(store Store, cfg *config.Config, server *recommend.Server, now func() time.Time, logger zerolog.Logger) *Runner {
	if now == nil {
		now = time.Now
	}
	fc := recommend.FactorConfig{
		Factors:        cfg.Factorization.Factors,
		Epochs:         cfg.Factorization.Epochs,
		LearningRate:   cfg.Factorization.LearningRate,
		Regularization: cfg.Factorization.Regularization,
		InitStdDev:     cfg.Factorization.InitStdDev,
		Seed:           cfg.Segmentation.Seed,
	}
	return &Runner{
		store:   store,
		cfg:     cfg,
		deriver: features.NewDeriver(now, logger.With().Str("component", "deriver").Logger()),
		trainer: recommend.NewTrainer(fc, logger.With().Str("component", "trainer").Logger()),
		server:  server,
		now:     now,
		logger:  logger,
	}
}

// RunFeatureDerivation merges the pending batch file into the ledger and
// rebuilds the projections and the customer feature table. Everything is
// written in one transaction.
func (r *Runner) RunFeatureDerivation(ctx context.Context) (rep *DerivationReport, err error) {
	start := time.Now()
	defer func() { metrics.RecordJob("derive", err, time.Since(start)) }()

	rep = &DerivationReport{Dropped: map[string]int{}}
	incoming, err := r.readBatch(rep)
	if err != nil {
		return nil, err
	}

	err = r.store.WithWriteLock(ctx, func(tx ledger.Tx) error {
		existing, err := tx.Load(ctx)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}
		fresh := ledger.NewLines(existing, incoming)
		rep.Accepted = len(fresh)
		rep.Duplicates = len(incoming) - len(fresh)

		merged, _ := ledger.Merge(existing, fresh)
		derived := r.deriver.Derive(merged)
		for reason, n := range rep.Dropped {
			derived.Dropped[reason] += n
		}

		if err := tx.Append(ctx, fresh...); err != nil {
			return fmt.Errorf("append batch: %w", err)
		}
		if len(derived.Removed) > 0 {
			if err := tx.Remove(ctx, derived.Removed...); err != nil {
				return fmt.Errorf("remove malformed rows: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tx.ReplaceDerived(ctx, derived); err != nil {
			return fmt.Errorf("replace derived tables: %w", err)
		}

		rep.Dropped = derived.Dropped
		rep.LedgerRows = len(derived.Facts)
		rep.Customers = len(derived.Customers)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for reason, n := range rep.Dropped {
		metrics.RowsDropped.WithLabelValues(reason).Add(float64(n))
	}
	metrics.LedgerRows.Set(float64(rep.LedgerRows))
	metrics.Customers.Set(float64(rep.Customers))

	r.logger.Info().
		Int("batch_rows", rep.BatchRows).
		Int("accepted", rep.Accepted).
		Int("duplicates", rep.Duplicates).
		Interface("dropped", rep.Dropped).
		Int("ledger_rows", rep.LedgerRows).
		Int("customers", rep.Customers).
		Dur("took", time.Since(start)).
		Msg("feature derivation complete")

	r.refreshAfterJob(ctx)
	return rep, nil
}

// readBatch reads and coerces the pending batch file. Rows that fail
// coercion are counted in rep.Dropped.
func (r *Runner) readBatch(rep *DerivationReport) ([]ledger.OrderLine, error) {
	if r.cfg.PendingBatchPath == "" {
		return nil, nil
	}
	raw, err := ledger.ReadCSVFile(r.cfg.PendingBatchPath)
	if errors.Is(err, apperr.ErrPrecondition) {
		return nil, fmt.Errorf("pending batch %s: %w", r.cfg.PendingBatchPath, err)
	}
	if err != nil {
		return nil, apperr.Configuration("read pending batch %s: %v", r.cfg.PendingBatchPath, err)
	}
	rep.BatchRows = len(raw)

	lines := make([]ledger.OrderLine, 0, len(raw))
	for i, row := range raw {
		line, err := ledger.Coerce(row)
		if err != nil {
			var rowErr *ledger.RowError
			reason := "invalid"
			if errors.As(err, &rowErr) {
				reason = rowErr.Field
			}
			rep.Dropped[reason]++
			r.logger.Warn().Int("row", i+1).Err(err).Msg("dropping malformed batch row")
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// RunSegmentationAndTraining fits a new segmentation over the customer
// feature table, trains a model per cluster and activates the result. On
// any failure the previously active generation stays in place.
func (r *Runner) RunSegmentationAndTraining(ctx context.Context) (gen *recommend.Generation, err error) {
	start := time.Now()
	defer func() { metrics.RecordJob("retrain", err, time.Since(start)) }()

	customers, lines, err := r.store.TrainingInputs(ctx)
	if err != nil {
		return nil, err
	}
	valid := lines[:0:0]
	for _, l := range lines {
		if ledger.Validate(l) == nil {
			valid = append(valid, l)
		}
	}

	segCfg := segment.Config{
		Clusters:      r.cfg.Segmentation.ClusterNumber,
		Seed:          r.cfg.Segmentation.Seed,
		Restarts:      r.cfg.Segmentation.Restarts,
		MaxIterations: r.cfg.Segmentation.MaxIterations,
	}
	seg, assignments, err := segment.Fit(customers, segCfg)
	if err != nil {
		return nil, fmt.Errorf("segmentation: %w", err)
	}

	trained, err := r.trainer.Train(ctx, assignments, valid, seg.Clusters())
	if err != nil {
		return nil, fmt.Errorf("training: %w", err)
	}

	gen = recommend.NewGeneration(seg, assignments, trained, segCfg.Seed, r.now())
	if !gen.Complete() {
		return nil, fmt.Errorf("generation %s is incomplete", gen.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.store.SaveGeneration(ctx, gen); err != nil {
		return nil, fmt.Errorf("activate generation: %w", err)
	}

	for c, n := range gen.ClusterSizes() {
		metrics.ClusterSize.WithLabelValues(strconv.Itoa(c)).Set(float64(n))
	}
	metrics.GenerationActivated.Set(float64(gen.CreatedAt.Unix()))

	r.logger.Info().
		Str("generation", gen.ID.String()).
		Int("customers", len(customers)).
		Int("clusters", gen.ClusterCount).
		Ints("model_less", gen.ModelLess).
		Float64("inertia", seg.Inertia).
		Dur("took", time.Since(start)).
		Msg("activated model generation")

	if keep := r.cfg.GenerationsToKeep; keep > 0 {
		if _, err := r.store.PruneGenerations(ctx, keep); err != nil {
			r.logger.Warn().Err(err).Msg("pruning old generations failed")
		}
	}

	r.refreshAfterJob(ctx)
	return gen, nil
}

// RefreshSnapshot loads the active generation, the customer table and the
// item universe and publishes them to the server as one snapshot.
func (r *Runner) RefreshSnapshot(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	gen, err := r.activeGeneration(ctx)
	if err != nil {
		return err
	}
	customers, err := r.store.CustomerFeatures(ctx)
	if err != nil {
		return fmt.Errorf("load customer features: %w", err)
	}
	items, err := r.store.ItemUniverse(ctx)
	if err != nil {
		return fmt.Errorf("load item universe: %w", err)
	}
	r.server.Swap(recommend.NewSnapshot(gen, customers, items))
	return nil
}

// activeGeneration reuses the published generation when it is still the
// active one, so a refresh only decodes a bundle after an activation.
func (r *Runner) activeGeneration(ctx context.Context) (*recommend.Generation, error) {
	id, err := r.store.ActiveGenerationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active generation id: %w", err)
	}
	if id == "" {
		return nil, nil
	}
	if cur := r.server.Snapshot(); cur != nil && cur.Generation != nil && cur.Generation.ID.String() == id {
		return cur.Generation, nil
	}
	gen, err := r.store.ActiveGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active generation: %w", err)
	}
	return gen, nil
}

func (r *Runner) refreshAfterJob(ctx context.Context) {
	if err := r.RefreshSnapshot(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("snapshot refresh after job failed")
	}
}
