// Package ratelimit provides Redis-based rate limiting for the RPC
// surface: submission limits keyed by sender, target, and source IP.
// Unlike a flat per-endpoint limit, a submission's Class decides which
// limit profile applies — mint/issue_token calls move total supply and
// get a much tighter sender budget than an ordinary transfer does,
// since a runaway minter is a supply-integrity incident and a runaway
// sender of transfers is merely spending its own balance faster.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRateLimited is returned when a rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTargetedAttack is returned when a single address is receiving
	// submissions from an unusual number of distinct sources.
	ErrTargetedAttack = errors.New("targeted attack detected")
)

// Limiter rate-limits RPC submissions using Redis counters.
type Limiter struct {
	redis *redis.Client
}

// NewLimiter builds a Limiter over an existing Redis client, the same
// one the gossip bus uses, so a node with no bridge/gossip Redis
// connection configured never starts a second one just for limiting.
func NewLimiter(redis *redis.Client) *Limiter {
	return &Limiter{redis: redis}
}

// SubmissionClass distinguishes transaction kinds that warrant
// different rate budgets: a mint or token issuance changes total
// supply and is gated far tighter than an ordinary transfer.
type SubmissionClass int

const (
	ClassTransfer SubmissionClass = iota
	ClassSupplyChange
)

func (c SubmissionClass) String() string {
	if c == ClassSupplyChange {
		return "supply_change"
	}
	return "transfer"
}

// SubmissionLimits is one class's rate budget.
type SubmissionLimits struct {
	SenderLimit  int
	SenderWindow time.Duration

	// TargetLimit bounds how many submissions a single address can be
	// on the receiving end of; an address spiking here is being probed
	// or drained from many senders at once.
	TargetLimit  int
	TargetWindow time.Duration

	IPLimit  int
	IPWindow time.Duration
}

// limitsFor returns the budget for a submission class. Supply-changing
// submissions get a sender budget an order of magnitude tighter than
// transfers; target and IP budgets stay shared since both classes
// pass through the same RPC transport.
func limitsFor(class SubmissionClass) SubmissionLimits {
	base := SubmissionLimits{
		TargetLimit:  50,
		TargetWindow: time.Minute,
		IPLimit:      100,
		IPWindow:     time.Minute,
	}
	switch class {
	case ClassSupplyChange:
		base.SenderLimit = 3
		base.SenderWindow = time.Minute
	default:
		base.SenderLimit = 10
		base.SenderWindow = time.Minute
	}
	return base
}

// CheckSubmission enforces the sender/target/IP limits for one RPC
// submission. Returns nil if allowed, ErrRateLimited or
// ErrTargetedAttack otherwise.
func (l *Limiter) CheckSubmission(ctx context.Context, class SubmissionClass, senderAddr, targetAddr, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}

	limits := limitsFor(class)

	senderKey := fmt.Sprintf("ratelimit:tx:%s:sender:%s", class, senderAddr)
	if exceeded, err := l.incrAndCheck(ctx, senderKey, limits.SenderLimit, limits.SenderWindow); err != nil {
		return nil
	} else if exceeded {
		log.Info().Str("sender", senderAddr).Str("class", class.String()).Msg("[RATELIMIT] sender exceeded submission limit")
		return ErrRateLimited
	}

	if targetAddr != "" {
		targetKey := fmt.Sprintf("ratelimit:tx:target:%s", targetAddr)
		if exceeded, err := l.incrAndCheck(ctx, targetKey, limits.TargetLimit, limits.TargetWindow); err != nil {
			return nil
		} else if exceeded {
			log.Warn().Str("target", targetAddr).Msg("[RATELIMIT] target receiving unusual submission volume")
			return ErrTargetedAttack
		}
	}

	if ip != "" {
		ipKey := fmt.Sprintf("ratelimit:tx:ip:%s", ip)
		if exceeded, err := l.incrAndCheck(ctx, ipKey, limits.IPLimit, limits.IPWindow); err != nil {
			return nil
		} else if exceeded {
			return ErrRateLimited
		}
	}

	return nil
}

// incrAndCheck bumps key's counter and reports whether it now exceeds
// limit, setting the window expiry on the counter's first increment.
// Redis errors fail open: a limiter outage degrades to no limiting
// rather than rejecting legitimate traffic.
func (l *Limiter) incrAndCheck(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.redis.Expire(ctx, key, window)
	}
	return int(count) > limit, nil
}

// GetRemainingRequests reports how much of a limit an identifier has
// left in the current window, for surfacing in a status/health response.
func (l *Limiter) GetRemainingRequests(ctx context.Context, keyPrefix, identifier string, limit int) (int, error) {
	if l == nil || l.redis == nil {
		return limit, nil
	}

	key := fmt.Sprintf("%s:%s", keyPrefix, identifier)
	count, err := l.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return limit, nil
	}
	if err != nil {
		return limit, err
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
