package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Budgets for the bank-to-bank endpoint. The address budget is charged for
// every request; the sender budget only once the token signature proves
// which bank sent it.
const (
	ScopeB2BAddress = "b2b_addr"
	ScopeB2BSender  = "b2b_sender"
)

// INCR + PEXPIRE in one round trip; returns {count, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter counts requests per subject in fixed windows.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisRateLimiter keeps one counter per scope and subject, shared by every
// instance pointing at the same Redis.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	trimmed := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmed == "" {
		trimmed = "interbank"
	}
	return &RedisRateLimiter{client: client, prefix: trimmed + ":rate_limit"}
}

// counterKey builds "<prefix>:rate_limit:<scope>:<subject>". Sender subjects
// are bank prefixes and are upper-cased so "snd" and "SND" share a budget.
func (r *RedisRateLimiter) counterKey(scope, subject string) (string, bool) {
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return "", false
	}
	if scope == ScopeB2BSender {
		subject = strings.ToUpper(subject)
	}
	return r.prefix + ":" + scope + ":" + subject, true
}

func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	key, ok := r.counterKey(scope, subject)
	if !ok {
		return 0, 0, nil
	}

	windowMs := max(window.Milliseconds(), 1000)
	raw, err := fixedWindowScript.Run(ctx, r.client, []string{key}, windowMs).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script failed for %s: %w", key, err)
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply for %s: %v", key, raw)
	}

	count, ttlMs := raw[0], raw[1]
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := max(int(math.Ceil(float64(ttlMs)/1000.0)), 1)
	return int(count), retryAfter, nil
}

// SenderLimiter applies the per-minute bank-to-bank budget.
type SenderLimiter struct {
	limiter RateLimiter
	limit   int
	logger  *slog.Logger
}

func NewSenderLimiter(limiter RateLimiter, perMinute int, logger *slog.Logger) *SenderLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SenderLimiter{limiter: limiter, limit: perMinute, logger: logger.With("component", "b2b_rate_limiter")}
}

// AllowAddress charges the budget of the calling network address. It runs
// before the token is trusted.
func (s *SenderLimiter) AllowAddress(ctx context.Context, addr string) error {
	return s.allow(ctx, ScopeB2BAddress, addr)
}

// AllowSender charges the budget of a sender bank whose signature has been
// verified.
func (s *SenderLimiter) AllowSender(ctx context.Context, senderPrefix string) error {
	return s.allow(ctx, ScopeB2BSender, senderPrefix)
}

// allow returns a RateLimited error carrying the retry delay once subject
// exceeds its budget. Limiter failures let the request through.
func (s *SenderLimiter) allow(ctx context.Context, scope, subject string) error {
	if s == nil || s.limiter == nil || s.limit <= 0 || subject == "" {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject, s.limit, time.Minute)
	if err != nil {
		s.logger.Warn("rate limiter unavailable; allowing request", "scope", scope, "subject", subject, "error", err)
		return nil
	}
	if count > s.limit {
		rateErr := newError(ErrRateLimited, "Too many transfer requests", nil)
		rateErr.RetryAfter = retryAfter
		return rateErr
	}
	return nil
}
