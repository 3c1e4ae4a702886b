// Package middleware holds the Echo middleware used by the attendance
// server.
package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/rollcall-app/rollcall/internal/config"
)

// captureWriter captures the response body and status while forwarding
// both to the client, so a successful roster response can be stored
// after the handler ran.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.buf.Write(b)
	return cw.ResponseWriter.Write(b)
}

// RosterCache caches successful GET responses in Redis for a short TTL.
// It exists to absorb fetch bursts — many kiosks reconnecting after an
// outage refresh the same occurrence at once — not to serve stale data:
// correctness comes from the clients' own snapshot policy, so the TTL is
// seconds, and anything but a 200 bypasses the cache.
func RosterCache(cfg config.CacheConfig, client *redis.Client) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Enabled || client == nil || c.Request().Method != http.MethodGet {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cfg.Prefix + ":" + c.Request().URL.Path

			if cached, err := client.Get(ctx, key).Bytes(); err == nil {
				c.Response().Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
				c.Response().Header().Set("X-Cache", "HIT")
				return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, cached)
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = cw
			if err := next(c); err != nil {
				return err
			}
			if cw.status == http.StatusOK && cw.buf.Len() > 0 {
				ttl := cfg.TTL
				if ttl <= 0 {
					ttl = 5 * time.Second
				}
				// Best effort: a failed cache write only costs the next
				// request a database read.
				_ = client.Set(ctx, key, cw.buf.Bytes(), ttl).Err()
			}
			return nil
		}
	}
}
