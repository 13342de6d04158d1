package config

import (
	"context"
	"crypto/tls"
	"os"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// RedisOptions builds client options from the environment.  REDIS_URL
// (redis:// or rediss://) wins; otherwise REDIS_HOST and REDIS_PORT, or
// REDIS_ADDR, plus REDIS_PASSWORD, REDIS_DB and REDIS_TLS are used.
func RedisOptions() (*redis.Options, error) {
	if u := os.Getenv("REDIS_URL"); u != "" {
		return redis.ParseURL(u)
	}
	addr := os.Getenv("REDIS_ADDR")
	if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	opt := &redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       envInt("REDIS_DB", 0),
	}
	if v := os.Getenv("REDIS_TLS"); strings.EqualFold(v, "true") || v == "1" {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt, nil
}

// NewRedisClient connects using RedisOptions.  It returns nil when the
// options are invalid or the server cannot be reached; callers then run
// without caching and rate limiting.
func NewRedisClient() *redis.Client {
	opt, err := RedisOptions()
	if err != nil {
		log.Warnf("redis config: %v", err)
		return nil
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
