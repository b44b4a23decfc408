package handlers

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"orderrec/internal/metrics"
	"orderrec/internal/recommend"
)

// Recommender is what the recommendation routes need from recommend.Server.
type Recommender interface {
	Recommend(ctx context.Context, customerID string, k int) (recommend.Result, error)
}

type recommendationResponse struct {
	RecommendedProducts []string `json:"recommended_products"`
	GenerationID        string   `json:"generation_id"`
	Cluster             int      `json:"cluster"`
}

// Recommendations handles POST /users?customer_id= and
// GET /v1/recommendations/{customer_id}?k=. A missing k means the server's
// configured default.
//
//nolint:gocritic // zerolog.Logger is passed by value
func Recommendations(rec Recommender, logger zerolog.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		customerID, _ := ctx.UserValue("customer_id").(string)
		if customerID == "" {
			customerID = string(ctx.QueryArgs().Peek("customer_id"))
		}
		if customerID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "customer_id is required")
			return
		}

		k := 0
		if raw := ctx.QueryArgs().Peek("k"); len(raw) > 0 {
			n, err := strconv.Atoi(string(raw))
			if err != nil || n < 1 {
				errResponse(ctx, fasthttp.StatusBadRequest, "k must be a positive integer")
				return
			}
			k = n
		}

		rctx, cancel := requestContext(0)
		defer cancel()
		res, err := rec.Recommend(rctx, customerID, k)
		if err != nil {
			logger.Error().Err(err).Str("customer_id", customerID).Msg("recommendation failed")
			errResponse(ctx, fasthttp.StatusInternalServerError, "recommendation failed")
			return
		}
		metrics.Recommendations.WithLabelValues(res.Status.String()).Inc()

		switch res.Status {
		case recommend.StatusCustomerNotFound:
			logger.Warn().Str("customer_id", customerID).Msg("customer not found")
			errResponse(ctx, fasthttp.StatusNotFound, "Customer not found")
		case recommend.StatusModelUnavailable:
			errResponse(ctx, fasthttp.StatusServiceUnavailable, "Model unavailable")
		default:
			ids := res.ItemIDs()
			logger.Info().
				Str("customer_id", customerID).
				Int("cluster", res.Cluster).
				Strs("recommended", ids).
				Msg("generated recommendations")
			jsonResponse(ctx, fasthttp.StatusOK, recommendationResponse{
				RecommendedProducts: ids,
				GenerationID:        res.GenerationID,
				Cluster:             res.Cluster,
			})
		}
	}
}
