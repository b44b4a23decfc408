package middleware

import (
	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

// RateLimit enforces a token-bucket limit shared by every request through
// the wrapped handler. A non-positive reqPerSec disables the limit.
func RateLimit(reqPerSec float64, burst int) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if reqPerSec <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(reqPerSec), burst)
		return func(ctx *fasthttp.RequestCtx) {
			if !limiter.Allow() {
				ctx.Response.Header.Set("Retry-After", "1")
				writeJSONError(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next(ctx)
		}
	}
}

func writeJSONError(ctx *fasthttp.RequestCtx, code int, msg string) {
	body, _ := json.Marshal(map[string]string{"message": msg})
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
