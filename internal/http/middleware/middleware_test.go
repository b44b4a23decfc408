package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	httpctx "orderrec/internal/http/ctx"
)

type countingVerifier struct {
	calls      atomic.Int32
	err        error
	version    string
	versionErr error
}

func (v *countingVerifier) APIKeysVersion(context.Context) (string, error) {
	return v.version, v.versionErr
}

func (v *countingVerifier) VerifyAPIKey(_ context.Context, token string) (string, bool, error) {
	v.calls.Add(1)
	if v.err != nil {
		return "", false, v.err
	}
	return "feed", token == "secret", nil
}

func call(h fasthttp.RequestHandler, authorization string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI("/orders")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	h(&ctx)
	return &ctx
}

func ok(ctx *fasthttp.RequestCtx) {
	name, _ := httpctx.APIKeyNameFromCtx(ctx)
	ctx.SetBodyString(name)
}

func TestBearerAuth_CachesVerifiedTokens(t *testing.T) {
	v := &countingVerifier{}
	h := BearerAuth(v, true)(ok)

	ctx := call(h, "Bearer secret")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "feed", string(ctx.Response.Body()))
	call(h, "Bearer secret")
	assert.EqualValues(t, 1, v.calls.Load(), "second request is served from the cache")

	call(h, "Bearer wrong")
	call(h, "Bearer wrong")
	assert.EqualValues(t, 3, v.calls.Load(), "failures are never cached")
}

func TestBearerAuth_KeySetChangeDropsCache(t *testing.T) {
	v := &countingVerifier{version: "1"}
	h := BearerAuth(v, true)(ok)

	call(h, "Bearer secret")
	call(h, "Bearer secret")
	assert.EqualValues(t, 1, v.calls.Load())

	// The key was deactivated or re-hashed elsewhere.
	v.version = "2"
	v.err = errors.New("must re-verify")
	ctx := call(h, "Bearer secret")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.EqualValues(t, 2, v.calls.Load(), "cached token is checked again")

	v.err = nil
	v.version = "3"
	ctx = call(h, "Bearer secret")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.EqualValues(t, 3, v.calls.Load())
}

func TestBearerAuth_Rejections(t *testing.T) {
	v := &countingVerifier{}
	h := BearerAuth(v, true)(ok)

	for _, header := range []string{"", "Basic abc", "Bearer ", "Bearer wrong"} {
		ctx := call(h, header)
		assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode(), header)
		assert.Equal(t, "Bearer", string(ctx.Response.Header.Peek("WWW-Authenticate")))
	}

	v.err = errors.New("db down")
	ctx := call(h, "Bearer other")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())

	v.err = nil
	v.versionErr = errors.New("db down")
	ctx = call(h, "Bearer secret")
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
}

func TestBearerAuth_Disabled(t *testing.T) {
	v := &countingVerifier{}
	ctx := call(BearerAuth(v, false)(ok), "")
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Zero(t, v.calls.Load())
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(0.001, 2)(ok)
	assert.Equal(t, fasthttp.StatusOK, call(h, "").Response.StatusCode())
	assert.Equal(t, fasthttp.StatusOK, call(h, "").Response.StatusCode())
	ctx := call(h, "")
	assert.Equal(t, fasthttp.StatusTooManyRequests, ctx.Response.StatusCode())
	assert.Equal(t, "1", string(ctx.Response.Header.Peek("Retry-After")))

	unlimited := RateLimit(0, 0)(ok)
	for i := 0; i < 10; i++ {
		assert.Equal(t, fasthttp.StatusOK, call(unlimited, "").Response.StatusCode())
	}
}
