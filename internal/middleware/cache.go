package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/carryconnect/carryconnect/internal/config"
)

// captureWriter keeps a copy of the response body while forwarding it.
type captureWriter struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if !cw.overflow {
		if cw.limit > 0 && cw.buf.Len()+len(b) > cw.limit {
			cw.overflow = true
			cw.buf.Reset()
		} else {
			cw.buf.Write(b)
		}
	}
	return cw.ResponseWriter.Write(b)
}

// cacheKeyFrom names the entry for c within generation gen.
func cacheKeyFrom(cfg config.CacheConfig, c echo.Context, gen int64) string {
	r := c.Request()
	var tail string
	switch strings.ToLower(cfg.KeyStrategy) {
	case "full_url":
		tail = "url:" + r.URL.String()
	default: // route_query
		tail = "route:" + c.Path() + ":q:" + r.URL.Query().Encode()
	}
	sum := sha1.Sum([]byte(r.Method + ":" + tail))
	return fmt.Sprintf("%s:g%d:%x", cfg.Prefix, gen, sum[:])
}

// encodePayload packs [4 bytes status][4 bytes headerLen][headerJSON][body].
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

// ResponseCache caches successful responses in Redis, headers included.
// Entries are keyed under a generation counter; Invalidate bumps the
// counter so every earlier entry, including one written by a request that
// was already in flight, is never served again.  Old generations expire
// after cfg.TTL.  A nil *ResponseCache is a disabled cache.
type ResponseCache struct {
	cfg config.CacheConfig
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache returns nil when caching is disabled or Redis is missing.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client) *ResponseCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ResponseCache{cfg: cfg, rdb: rdb, ttl: ttl}
}

func (rc *ResponseCache) genKey() string { return rc.cfg.Prefix + ":gen" }

func (rc *ResponseCache) generation(ctx context.Context) (int64, error) {
	n, err := rc.rdb.Get(ctx, rc.genKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Invalidate makes every cached response stale.  Writers call it before
// they reply.
func (rc *ResponseCache) Invalidate(ctx context.Context) error {
	if rc == nil {
		return nil
	}
	return rc.rdb.Incr(ctx, rc.genKey()).Err()
}

// Middleware serves and fills the cache for the configured methods.
func (rc *ResponseCache) Middleware() echo.MiddlewareFunc {
	if rc == nil {
		return passthrough
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rc.cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			// read before the handler touches the database
			gen, err := rc.generation(ctx)
			if err != nil {
				c.Logger().Warnf("[cache] generation lookup failed: %v", err)
				return next(c)
			}
			key := cacheKeyFrom(rc.cfg, c, gen)

			if bs, err := rc.rdb.Get(ctx, key).Bytes(); err == nil {
				if status, hdr, body, ok := decodePayload(bs); ok {
					for k, vals := range hdr {
						if strings.EqualFold(k, "Content-Length") {
							continue
						}
						for _, v := range vals {
							c.Response().Header().Add(k, v)
						}
					}
					c.Response().Header().Set("X-Cache", "HIT")
					c.Response().WriteHeader(status)
					_, _ = c.Response().Write(body)
					return nil
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: rc.cfg.MaxBodyBytes}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK || cw.overflow {
				return nil
			}
			hdr := c.Response().Header().Clone()
			hdr.Del("X-Cache")
			if payload, err := encodePayload(cw.status, hdr, cw.buf.Bytes()); err == nil {
				_ = rc.rdb.SetEx(context.WithoutCancel(ctx), key, payload, rc.ttl).Err()
			}
			return nil
		}
	}
}
