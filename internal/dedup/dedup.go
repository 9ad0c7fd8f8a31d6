package dedup

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a delivery is remembered. It only needs to
// outlive the window in which a failed deactivation is retried.
const DefaultTTL = 7 * 24 * time.Hour

// Deduplicator records which alert notifications were already delivered so
// a retried trigger does not message the owner twice.
type Deduplicator struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a Deduplicator backed by Redis.
func New(redisURL, password string, ttl time.Duration, logger *slog.Logger) (*Deduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{rdb: rdb, ttl: ttl, logger: logger.With("component", "dedup")}, nil
}

// Close shuts down the Redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

// AlreadySent reports whether key was recorded. When Redis cannot answer it
// reports false: a possible duplicate is preferred over a lost alert.
func (d *Deduplicator) AlreadySent(ctx context.Context, key string) bool {
	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		d.logger.Warn("dedup lookup failed, sending anyway", "key", key, "error", err)
		return false
	}
	return exists > 0
}

// Record marks key as delivered for the configured TTL.
func (d *Deduplicator) Record(ctx context.Context, key string) {
	if err := d.rdb.Set(ctx, key, "1", d.ttl).Err(); err != nil {
		d.logger.Warn("dedup record failed", "key", key, "error", err)
	}
}

// ClearByPattern removes every key matching a glob pattern.
func (d *Deduplicator) ClearByPattern(ctx context.Context, pattern string) {
	iter := d.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		d.rdb.Del(ctx, iter.Val()) //nolint:errcheck
	}
	if err := iter.Err(); err != nil {
		d.logger.Warn("dedup clear failed", "pattern", pattern, "error", err)
	}
}

// ForgetAlert drops every delivery record of one alert.
func (d *Deduplicator) ForgetAlert(ctx context.Context, alertID int64) {
	d.ClearByPattern(ctx, "alert:"+strconv.FormatInt(alertID, 10)+":*")
}
