package middleware

import (
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	httpctx "orderrec/internal/http/ctx"
	"orderrec/internal/metrics"
)

// unmatchedRoute labels requests the router did not match, keeping the
// route label's cardinality bounded.
const unmatchedRoute = "unmatched"

// RequestLogger returns fasthttp middleware that tags each request with an
// ID, logs method, path, status and duration, and records the request
// metrics. The router must have SaveMatchedRoutePath enabled for the route
// label to carry the route pattern.
//
//nolint:gocritic // zerolog.Logger is passed by value
func RequestLogger(logger zerolog.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			id := string(ctx.Request.Header.Peek("X-Request-ID"))
			if id == "" {
				id = uuid.NewString()
			}
			httpctx.SetRequestID(ctx, id)
			ctx.Response.Header.Set("X-Request-ID", id)

			next(ctx)

			took := time.Since(start)
			status := ctx.Response.StatusCode()
			route := unmatchedRoute
			if v, ok := ctx.UserValue(router.MatchedRoutePathParam).(string); ok && v != "" {
				route = v
			}
			metrics.RecordHTTPRequest(route, string(ctx.Method()), strconv.Itoa(status), took)

			ev := logger.Info()
			if status >= fasthttp.StatusInternalServerError {
				ev = logger.Error()
			}
			if name, ok := httpctx.APIKeyNameFromCtx(ctx); ok {
				ev = ev.Str("api_key", name)
			}
			ev.Str("request_id", id).
				Bytes("method", ctx.Method()).
				Bytes("path", ctx.Path()).
				Int("status", status).
				Dur("took", took).
				Str("ip", ctx.RemoteIP().String()).
				Msg("request")
		}
	}
}
