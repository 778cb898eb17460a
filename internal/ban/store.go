// Package ban tracks author suspensions issued after flagged submissions.
// Records live in Redis with TTL-based expiry:
//
//	Key:   suspend:<author_id>     Value: <category>   TTL: suspension length
//	Key:   offenses:<author_id>    Value: <count>      TTL: OffenseWindow
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SuspendPrefix is the Redis key prefix for suspension records.
	SuspendPrefix = "suspend:"

	// OffensesPrefix is the Redis key prefix for offense counters.
	OffensesPrefix = "offenses:"

	// Escalating suspension lengths.
	Suspend15Min  = 15 * time.Minute // 1st offense
	Suspend1Hour  = 1 * time.Hour    // 2nd offense
	Suspend24Hour = 24 * time.Hour   // 3rd+ offense

	// OffenseWindow is how long the offense counter lives. After 24h without
	// a new offense the counter starts over.
	OffenseWindow = 24 * time.Hour
)

// Suspension describes an active suspension.
type Suspension struct {
	Suspended bool
	Remaining time.Duration
	Reason    string
}

// Store manages suspension records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new suspension store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsSuspended reports whether author is currently suspended. Redis errors are
// returned so the caller picks the policy; the review service fails open.
func (s *Store) IsSuspended(ctx context.Context, author string) (Suspension, error) {
	key := SuspendPrefix + author

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Suspension{}, nil
	}
	if err != nil {
		return Suspension{}, fmt.Errorf("ban: get suspension: %w", err)
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The record exists; report it rather than swallow it.
		return Suspension{Suspended: true, Reason: reason}, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return Suspension{Suspended: true, Remaining: ttl, Reason: reason}, nil
}

// Suspend suspends author for d.
func (s *Store) Suspend(ctx context.Context, author string, d time.Duration, reason string) error {
	return s.client.Set(ctx, SuspendPrefix+author, reason, d).Err()
}

// Lift ends a suspension immediately.
func (s *Store) Lift(ctx context.Context, author string) error {
	return s.client.Del(ctx, SuspendPrefix+author).Err()
}

// suspensionFor returns the suspension length for an offense count.
func suspensionFor(offenses int) time.Duration {
	switch {
	case offenses <= 1:
		return Suspend15Min
	case offenses == 2:
		return Suspend1Hour
	default:
		return Suspend24Hour
	}
}

// OffenseCount returns the offenses recorded for author in the current window.
func (s *Store) OffenseCount(ctx context.Context, author string) (int, error) {
	n, err := s.client.Get(ctx, OffensesPrefix+author).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: offense count: %w", err)
	}
	return n, nil
}

// RecordOffense counts a blocked submission against author and suspends
// them for a length that escalates with the offenses in the window:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
//
// The window is fixed at the first offense and does not slide.
func (s *Store) RecordOffense(ctx context.Context, author, category string) (time.Duration, error) {
	key := OffensesPrefix + author

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: offense incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffenseWindow).Err(); err != nil {
			return 0, fmt.Errorf("ban: offense expire: %w", err)
		}
	}

	d := suspensionFor(int(count))
	if err := s.Suspend(ctx, author, d, category); err != nil {
		return 0, fmt.Errorf("ban: suspend: %w", err)
	}
	return d, nil
}
