package otp

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/go-otp-auth/internal/domain"
)

// recordIssuanceScript reads the hourly request count and either trips the
// spam lock or bumps the counter, in one atomic step. Check-then-set must not
// interleave across concurrent requests for the same identity.
var recordIssuanceScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
  redis.call("SET", KEYS[2], "locked", "EX", ARGV[2])
  return -1
end
redis.call("SET", KEYS[1], count + 1, "EX", ARGV[3])
return count + 1
`)

// Gate decides, per identity, whether an OTP may be issued right now.
type Gate struct {
	rdb *redis.Client
}

func NewGate(rdb *redis.Client) *Gate {
	return &Gate{rdb: rdb}
}

// CheckIssuance is a pure read. The check order is fixed — lock, then spam
// lock, then cooldown — so the most specific block always wins.
func (g *Gate) CheckIssuance(ctx context.Context, email string) error {
	checks := []struct {
		key    string
		reason domain.ThrottleReason
	}{
		{lockKey(email), domain.ThrottleLocked},
		{spamLockKey(email), domain.ThrottleSpamLocked},
		{cooldownKey(email), domain.ThrottleCooldown},
	}
	for _, c := range checks {
		ttl, err := g.rdb.TTL(ctx, c.key).Result()
		if err != nil {
			return fmt.Errorf("throttle check %s: %w", c.reason, err)
		}
		if ttl > 0 {
			return &domain.ThrottleError{Reason: c.reason, RetryAfter: ttl}
		}
	}
	return nil
}

// RecordIssuance counts this issuance attempt against the hourly window.
// The 3rd attempt within the window trips the one-hour spam lock.
func (g *Gate) RecordIssuance(ctx context.Context, email string) error {
	keys := []string{requestCountKey(email), spamLockKey(email)}
	n, err := recordIssuanceScript.Run(ctx, g.rdb, keys,
		maxRequests,
		int(spamLockTTL.Seconds()),
		int(requestWindow.Seconds()),
	).Int64()
	if err != nil {
		return fmt.Errorf("record issuance attempt: %w", err)
	}
	if n < 0 {
		return &domain.ThrottleError{Reason: domain.ThrottleSpamLocked, RetryAfter: spamLockTTL}
	}
	return nil
}
