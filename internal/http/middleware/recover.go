package middleware

import (
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	httpctx "orderrec/internal/http/ctx"
)

// PanicHandler returns a router.PanicHandler that logs the panic and
// answers 500, leaving the server running.
//
//nolint:gocritic // zerolog.Logger is passed by value
func PanicHandler(logger zerolog.Logger) func(*fasthttp.RequestCtx, interface{}) {
	return func(ctx *fasthttp.RequestCtx, rcv interface{}) {
		id, _ := httpctx.RequestIDFromCtx(ctx)
		logger.Error().
			Str("request_id", id).
			Bytes("method", ctx.Method()).
			Bytes("path", ctx.Path()).
			Interface("panic", rcv).
			Msg("recovered from panic in handler")
		ctx.ResetBody()
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "internal error")
	}
}
