// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. Submissions are throttled per author and draft checks per
// gateway session, so one client cannot monopolize the remote classifier.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/whisper/contentguard/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:check:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleCheck allows 30 submission reviews per minute per author.
	RuleCheck = Rule{Key: "rl:check:", Limit: 30, Window: time.Minute}

	// RuleDraft allows 20 explicit draft checks per 10 seconds per gateway
	// session. Debouncing keeps honest typists far below it.
	RuleDraft = Rule{Key: "rl:draft:", Limit: 20, Window: 10 * time.Second}

	// RuleConnect allows 10 gateway connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client, log: logging.Named("ratelimit")}
}

// Allow checks whether identifier is within the limit of rule. It increments
// the counter and sets the expiry on first access.
//
// On Redis errors it fails open (returns true) so an outage does not block
// legitimate traffic; the error is still returned.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns how many requests identifier has left in the current
// window. On Redis errors it returns the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn("redis GET failed, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}

	if remaining := rule.Limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}
