package otp

import "time"

// All throttle and OTP state lives in Redis as independent expiring entries
// keyed by identity email. Each throttle dimension expires on its own clock,
// so e.g. waiting out the 60s cooldown never resets the hourly request count.
const (
	codeTTL       = 5 * time.Minute
	cooldownTTL   = time.Minute
	lockTTL       = 30 * time.Minute
	spamLockTTL   = time.Hour
	requestWindow = time.Hour
	attemptsTTL   = 5 * time.Minute

	// A 3rd issuance request spam-locks; a 3rd wrong code locks out.
	maxRequests      = 2
	maxWrongAttempts = 2
)

func codeKey(email string) string         { return "otp:" + email }
func lockKey(email string) string         { return "otp_lock:" + email }
func spamLockKey(email string) string     { return "otp_spam_lock:" + email }
func cooldownKey(email string) string     { return "otp_cooldown:" + email }
func requestCountKey(email string) string { return "otp_request_count:" + email }
func attemptsKey(email string) string     { return "otp_attempts:" + email }
