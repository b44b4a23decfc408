package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	httpctx "orderrec/internal/http/ctx"
)

// KeyVerifier checks a bearer token against the stored API keys and
// returns the name of the matching key. APIKeysVersion changes whenever a
// key is added, re-hashed, activated or deactivated.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, token string) (string, bool, error)
	APIKeysVersion(ctx context.Context) (string, error)
}

// verifiedTTL bounds how long a verified token skips the bcrypt check.
// Entries are dropped earlier when the key set version changes.
const verifiedTTL = 5 * time.Minute

const verifyTimeout = 5 * time.Second

type verifiedKey struct {
	name    string
	expires time.Time
}

// keyCache remembers recently verified tokens by their SHA-256 digest for
// one version of the key set.
type keyCache struct {
	mu      sync.Mutex
	version string
	entries map[[sha256.Size]byte]verifiedKey
}

// syncVersion empties the cache when the key set changed. Callers hold mu.
func (c *keyCache) syncVersion(version string) {
	if c.version != version {
		c.version = version
		clear(c.entries)
	}
}

func (c *keyCache) get(version string, digest [sha256.Size]byte, now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncVersion(version)
	e, ok := c.entries[digest]
	if !ok {
		return "", false
	}
	if now.After(e.expires) {
		delete(c.entries, digest)
		return "", false
	}
	return e.name, true
}

func (c *keyCache) put(version string, digest [sha256.Size]byte, name string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncVersion(version)
	c.entries[digest] = verifiedKey{name: name, expires: now.Add(verifiedTTL)}
}

// BearerAuth validates Bearer tokens against the stored API keys. When
// enabled is false every request passes through untouched.
func BearerAuth(verifier KeyVerifier, enabled bool) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	cache := &keyCache{entries: make(map[[sha256.Size]byte]verifiedKey)}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if !enabled {
			return next
		}
		return func(ctx *fasthttp.RequestCtx) {
			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				unauthorized(ctx, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				unauthorized(ctx, "invalid Authorization header")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token == "" {
				unauthorized(ctx, "empty bearer token")
				return
			}

			reqCtx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
			defer cancel()
			version, err := verifier.APIKeysVersion(reqCtx)
			if err != nil {
				writeJSONError(ctx, fasthttp.StatusInternalServerError, "database error")
				return
			}

			now := time.Now()
			digest := sha256.Sum256([]byte(token))
			name, ok := cache.get(version, digest, now)
			if !ok {
				name, ok, err = verifier.VerifyAPIKey(reqCtx, token)
				if err != nil {
					writeJSONError(ctx, fasthttp.StatusInternalServerError, "database error")
					return
				}
				if !ok {
					unauthorized(ctx, "invalid API key")
					return
				}
				cache.put(version, digest, name, now)
			}

			httpctx.SetAPIKeyName(ctx, name)
			next(ctx)
		}
	}
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.Response.Header.Set("WWW-Authenticate", "Bearer")
	writeJSONError(ctx, fasthttp.StatusUnauthorized, msg)
}
