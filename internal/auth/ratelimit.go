package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter throttles credential endpoints with a redis fixed-window
// counter keyed by identifier and client IP. It fails open when redis is
// unreachable; throttling is a hardening layer, not a correctness one.
type LoginLimiter struct {
	logger *slog.Logger
	client *redis.Client
	limit  int
	window time.Duration
}

// NewLoginLimiter constructs a limiter allowing limit attempts per window.
func NewLoginLimiter(logger *slog.Logger, client *redis.Client, limit int, window time.Duration) *LoginLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &LoginLimiter{logger: logger, client: client, limit: limit, window: window}
}

// Allow reports whether another attempt is permitted and, when it is not, how
// long the caller should wait.
func (l *LoginLimiter) Allow(ctx context.Context, scope, ident, ip string) (bool, time.Duration) {
	if l.client == nil {
		return true, 0
	}

	key := l.key(scope, ident, ip)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, failing open", slog.Any("error", err))
		return true, 0
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn("rate limiter expire", slog.Any("error", err))
		}
	}
	if count <= int64(l.limit) {
		return true, 0
	}

	retryAfter, err := l.client.TTL(ctx, key).Result()
	if err != nil || retryAfter <= 0 {
		// The key has no expiry, which happens when the Expire after the
		// first Incr failed. Re-arm it so the block cannot become permanent.
		if expErr := l.client.Expire(ctx, key, l.window).Err(); expErr != nil {
			l.logger.Warn("rate limiter expire re-arm", slog.Any("error", expErr))
		}
		retryAfter = l.window
	}
	return false, retryAfter
}

func (l *LoginLimiter) key(scope, ident, ip string) string {
	ident = strings.ToLower(strings.TrimSpace(ident))
	return fmt.Sprintf("authgate:rl:%s:%s:%s", scope, ident, ip)
}
