package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/go-otp-auth/internal/domain"
)

// Purpose selects the email template for an issued code.
type Purpose string

const (
	PurposeActivation    Purpose = "activation"
	PurposePasswordReset Purpose = "password_reset"
)

// verifyScript runs the whole verification procedure as one atomic step:
// two racing submissions for the same identity must never both observe the
// same wrong-attempt count.
//
// KEYS: code, attempts, lock. ARGV: submitted code, max wrong attempts,
// lock TTL seconds, attempts TTL seconds.
var verifyScript = redis.NewScript(`
local code = redis.call("GET", KEYS[1])
if not code then
  return {"missing", 0}
end
if code == ARGV[1] then
  redis.call("DEL", KEYS[1], KEYS[2])
  return {"ok", 0}
end
local attempts = tonumber(redis.call("GET", KEYS[2]) or "0")
if attempts >= tonumber(ARGV[2]) then
  redis.call("SET", KEYS[3], "locked", "EX", ARGV[3])
  redis.call("DEL", KEYS[1], KEYS[2])
  return {"locked", 0}
end
redis.call("SET", KEYS[2], attempts + 1, "EX", ARGV[4])
return {"wrong", tonumber(ARGV[2]) - attempts - 1}
`)

type mailer interface {
	SendEmail(to, subject, body string) error
}

// Service issues, stores, and verifies OTP codes. Callers must pass the
// throttle Gate before issuing; the service itself does not re-check it.
type Service struct {
	rdb    *redis.Client
	mailer mailer
}

func NewService(rdb *redis.Client, m mailer) *Service {
	return &Service{rdb: rdb, mailer: m}
}

// Issue generates a random 4-digit code, dispatches it by email, stores it
// for 5 minutes, and starts the 60-second issuance cooldown. A delivery
// failure is returned before any state is written.
func (s *Service) Issue(ctx context.Context, name, email string, purpose Purpose) error {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	code := strconv.FormatInt(n.Int64()+1000, 10)

	subject, body := composeEmail(name, code, purpose)
	if err := s.mailer.SendEmail(email, subject, body); err != nil {
		return fmt.Errorf("dispatch otp: %w", err)
	}

	if err := s.rdb.Set(ctx, codeKey(email), code, codeTTL).Err(); err != nil {
		return fmt.Errorf("store otp: %w", err)
	}
	if err := s.rdb.Set(ctx, cooldownKey(email), "true", cooldownTTL).Err(); err != nil {
		return fmt.Errorf("set otp cooldown: %w", err)
	}
	return nil
}

// Verify checks a submitted code. A matching code is consumed before the
// caller runs any downstream side effect, so a code verifies at most once.
// The 3rd consecutive wrong attempt trips the 30-minute lock and clears the
// code, starting a fresh cycle once the lock itself expires.
func (s *Service) Verify(ctx context.Context, email, submitted string) error {
	keys := []string{codeKey(email), attemptsKey(email), lockKey(email)}
	res, err := verifyScript.Run(ctx, s.rdb, keys,
		submitted,
		maxWrongAttempts,
		int(lockTTL.Seconds()),
		int(attemptsTTL.Seconds()),
	).Slice()
	if err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("verify otp: unexpected script reply %v", res)
	}

	status, _ := res[0].(string)
	switch status {
	case "ok":
		return nil
	case "missing":
		return &domain.OTPError{Kind: domain.OTPInvalidOrExpired}
	case "locked":
		return &domain.OTPError{Kind: domain.OTPLockedOut}
	case "wrong":
		remaining, _ := res[1].(int64)
		return &domain.OTPError{Kind: domain.OTPIncorrect, Remaining: int(remaining)}
	default:
		return fmt.Errorf("verify otp: unexpected script status %q", status)
	}
}

func composeEmail(name, code string, purpose Purpose) (subject, body string) {
	switch purpose {
	case PurposePasswordReset:
		subject = "Reset your password"
		body = fmt.Sprintf("Hi %s,\r\n\r\nYour password reset code is %s. It expires in 5 minutes.\r\n", name, code)
	default:
		subject = "Verify your email"
		body = fmt.Sprintf("Hi %s,\r\n\r\nYour verification code is %s. It expires in 5 minutes.\r\n", name, code)
	}
	return subject, body
}
