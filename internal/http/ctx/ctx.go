package ctx

import (
	"github.com/valyala/fasthttp"
)

const (
	APIKeyNameKey = "apiKeyName"
	RequestIDKey  = "requestID"
)

// SetAPIKeyName records which API key authenticated the request.
func SetAPIKeyName(ctx *fasthttp.RequestCtx, name string) {
	ctx.SetUserValue(APIKeyNameKey, name)
}

func APIKeyNameFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(APIKeyNameKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func SetRequestID(ctx *fasthttp.RequestCtx, id string) {
	ctx.SetUserValue(RequestIDKey, id)
}

func RequestIDFromCtx(ctx *fasthttp.RequestCtx) (string, bool) {
	v := ctx.UserValue(RequestIDKey)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
