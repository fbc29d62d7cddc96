package api

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/vmoraes/event-harvester/internal/logger"
)

const cachePrefix = "event-harvester:http"

// Cache stores rendered responses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	rdb *redis.Client
}

// RedisOptions locates the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection with a short ping.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	return &RedisCache{rdb: rdb}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.SetEx(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// captureWriter records the response body while forwarding it to the client.
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

func cacheKey(c echo.Context) string {
	sum := sha1.Sum([]byte(c.Request().URL.Path + "?" + c.Request().URL.RawQuery))
	return fmt.Sprintf("%s:%x", cachePrefix, sum[:])
}

// encodeEntry packs [4 bytes status][4 bytes content-type length][content-type][body].
func encodeEntry(status int, contentType string, body []byte) []byte {
	out := make([]byte, 8+len(contentType)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(contentType)))
	copy(out[8:], contentType)
	copy(out[8+len(contentType):], body)
	return out
}

func decodeEntry(b []byte) (status int, contentType string, body []byte, err error) {
	if len(b) < 8 {
		return 0, "", nil, errors.New("cache entry too short")
	}
	status = int(binary.BigEndian.Uint32(b[0:4]))
	n := int(binary.BigEndian.Uint32(b[4:8]))
	if 8+n > len(b) {
		return 0, "", nil, errors.New("cache entry truncated")
	}
	return status, string(b[8 : 8+n]), b[8+n:], nil
}

// cacheMiddleware serves GET responses from cache and stores 200 responses for ttl. A nil
// cache disables it.
func cacheMiddleware(cache Cache, ttl time.Duration, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if cache == nil {
			return next
		}
		return func(c echo.Context) error {
			if c.Request().Method != http.MethodGet {
				return next(c)
			}

			ctx := c.Request().Context()
			key := cacheKey(c)
			if b, ok := cache.Get(ctx, key); ok {
				if status, contentType, body, err := decodeEntry(b); err == nil {
					c.Response().Header().Set("X-Cache", "HIT")
					return c.Blob(status, contentType, body)
				}
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK}
			c.Response().Writer = cw
			c.Response().Header().Set("X-Cache", "MISS")

			if err := next(c); err != nil {
				return err
			}
			if cw.status != http.StatusOK {
				return nil
			}

			entry := encodeEntry(cw.status, c.Response().Header().Get(echo.HeaderContentType), cw.buf.Bytes())
			if err := cache.Set(context.WithoutCancel(ctx), key, entry, ttl); err != nil {
				log.Warn("Caching response failed", logger.Fields{"path": c.Request().URL.Path, "error": err.Error()})
			}
			return nil
		}
	}
}
