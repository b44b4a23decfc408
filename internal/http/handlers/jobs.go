package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"orderrec/internal/apperr"
	"orderrec/internal/pipeline"
	"orderrec/internal/recommend"
)

// JobRunner is what the admin routes need from pipeline.Runner.
type JobRunner interface {
	RunFeatureDerivation(ctx context.Context) (*pipeline.DerivationReport, error)
	RunSegmentationAndTraining(ctx context.Context) (*recommend.Generation, error)
}

type generationResponse struct {
	ID           string      `json:"id"`
	CreatedAt    time.Time   `json:"created_at"`
	ClusterCount int         `json:"cluster_count"`
	ClusterSizes map[int]int `json:"cluster_sizes"`
	ModelLess    []int       `json:"model_less"`
}

// RunDerive handles POST /admin/jobs/derive.
//
//nolint:gocritic // zerolog.Logger is passed by value
func RunDerive(jobs JobRunner, timeout time.Duration, logger zerolog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext(timeout)
		defer cancel()
		rep, err := jobs.RunFeatureDerivation(rctx)
		if err != nil {
			jobError(ctx, logger, "derive", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, map[string]any{
			"batch_rows":  rep.BatchRows,
			"accepted":    rep.Accepted,
			"duplicates":  rep.Duplicates,
			"dropped":     rep.Dropped,
			"ledger_rows": rep.LedgerRows,
			"customers":   rep.Customers,
		})
	}
}

// RunRetrain handles POST /admin/jobs/retrain.
//
//nolint:gocritic // zerolog.Logger is passed by value
func RunRetrain(jobs JobRunner, timeout time.Duration, logger zerolog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		rctx, cancel := requestContext(timeout)
		defer cancel()
		gen, err := jobs.RunSegmentationAndTraining(rctx)
		if err != nil {
			jobError(ctx, logger, "retrain", err)
			return
		}
		jsonResponse(ctx, fasthttp.StatusOK, generationResponse{
			ID:           gen.ID.String(),
			CreatedAt:    gen.CreatedAt,
			ClusterCount: gen.ClusterCount,
			ClusterSizes: gen.ClusterSizes(),
			ModelLess:    gen.ModelLess,
		})
	}
}

// jobError maps a job failure onto a status: 409 when the data does not
// allow the run, 504 on timeout, 500 otherwise.
//
//nolint:gocritic // zerolog.Logger is passed by value
func jobError(ctx *fasthttp.RequestCtx, logger zerolog.Logger, job string, err error) {
	logger.Error().Err(err).Str("job", job).Msg("job failed")
	switch {
	case errors.Is(err, apperr.ErrPrecondition):
		errResponse(ctx, fasthttp.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		errResponse(ctx, fasthttp.StatusGatewayTimeout, job+" timed out")
	default:
		errResponse(ctx, fasthttp.StatusInternalServerError, job+" failed")
	}
}
