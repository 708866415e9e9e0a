package otp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-otp-auth/internal/domain"
)

type fakeMailer struct {
	to      []string
	subject []string
	body    []string
	err     error
}

func (m *fakeMailer) SendEmail(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.to = append(m.to, to)
	m.subject = append(m.subject, subject)
	m.body = append(m.body, body)
	return nil
}

func otpErr(t *testing.T, err error) *domain.OTPError {
	t.Helper()
	require.Error(t, err)
	oe, ok := err.(*domain.OTPError)
	require.True(t, ok, "expected *domain.OTPError, got %T", err)
	return oe
}

func TestIssue_StoresCodeAndCooldown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mailer := &fakeMailer{}
	svc := NewService(rdb, mailer)

	require.NoError(t, svc.Issue(context.Background(), "Ana", "a@x.com", PurposeActivation))

	code, err := mr.Get(codeKey("a@x.com"))
	require.NoError(t, err)
	n, err := strconv.Atoi(code)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1000)
	assert.LessOrEqual(t, n, 9999)
	assert.InDelta(t, (5 * time.Minute).Seconds(), mr.TTL(codeKey("a@x.com")).Seconds(), 1)

	assert.True(t, mr.Exists(cooldownKey("a@x.com")))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL(cooldownKey("a@x.com")).Seconds(), 1)

	require.Len(t, mailer.to, 1)
	assert.Equal(t, "a@x.com", mailer.to[0])
	assert.Contains(t, mailer.body[0], code)
}

func TestIssue_PasswordResetUsesResetTemplate(t *testing.T) {
	_, rdb := newTestRedis(t)
	mailer := &fakeMailer{}
	svc := NewService(rdb, mailer)

	require.NoError(t, svc.Issue(context.Background(), "Ana", "a@x.com", PurposePasswordReset))
	require.Len(t, mailer.subject, 1)
	assert.True(t, strings.Contains(mailer.subject[0], "Reset"))
}

func TestIssue_DeliveryFailureWritesNoState(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mailer := &fakeMailer{err: errors.New("smtp down")}
	svc := NewService(rdb, mailer)

	err := svc.Issue(context.Background(), "Ana", "a@x.com", PurposeActivation)
	require.Error(t, err)

	// No orphaned code or cooldown: the caller can retry immediately.
	assert.False(t, mr.Exists(codeKey("a@x.com")))
	assert.False(t, mr.Exists(cooldownKey("a@x.com")))
}

func TestVerify_MatchConsumesCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	mailer := &fakeMailer{}
	svc := NewService(rdb, mailer)
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "Ana", "a@x.com", PurposeActivation))
	code, err := mr.Get(codeKey("a@x.com"))
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, "a@x.com", code))
	assert.False(t, mr.Exists(codeKey("a@x.com")))

	// A consumed code never verifies twice.
	oe := otpErr(t, svc.Verify(ctx, "a@x.com", code))
	assert.Equal(t, domain.OTPInvalidOrExpired, oe.Kind)
}

func TestVerify_NoCodeStored(t *testing.T) {
	_, rdb := newTestRedis(t)
	svc := NewService(rdb, &fakeMailer{})

	oe := otpErr(t, svc.Verify(context.Background(), "a@x.com", "1234"))
	assert.Equal(t, domain.OTPInvalidOrExpired, oe.Kind)
	assert.ErrorIs(t, oe, domain.ErrBadRequest)
}

func TestVerify_ExpiredCode(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewService(rdb, &fakeMailer{})
	ctx := context.Background()

	require.NoError(t, svc.Issue(ctx, "Ana", "a@x.com", PurposeActivation))
	code, err := mr.Get(codeKey("a@x.com"))
	require.NoError(t, err)

	mr.FastForward(5*time.Minute + time.Second)

	oe := otpErr(t, svc.Verify(ctx, "a@x.com", code))
	assert.Equal(t, domain.OTPInvalidOrExpired, oe.Kind)
}

func TestVerify_WrongAttemptsCountDownThenLock(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewService(rdb, &fakeMailer{})
	ctx := context.Background()
	email := "a@x.com"

	mr.Set(codeKey(email), "1234")
	mr.SetTTL(codeKey(email), 5*time.Minute)

	oe := otpErr(t, svc.Verify(ctx, email, "0000"))
	assert.Equal(t, domain.OTPIncorrect, oe.Kind)
	assert.Equal(t, 1, oe.Remaining)
	assert.True(t, mr.Exists(codeKey(email)), "code survives a wrong attempt")

	oe = otpErr(t, svc.Verify(ctx, email, "0000"))
	assert.Equal(t, domain.OTPIncorrect, oe.Kind)
	assert.Equal(t, 0, oe.Remaining)
	assert.True(t, mr.Exists(codeKey(email)))

	// Third wrong attempt trips the 30-minute lock and clears all OTP state.
	oe = otpErr(t, svc.Verify(ctx, email, "0000"))
	assert.Equal(t, domain.OTPLockedOut, oe.Kind)
	assert.ErrorIs(t, oe, domain.ErrLocked)
	assert.False(t, mr.Exists(codeKey(email)))
	assert.False(t, mr.Exists(attemptsKey(email)))
	assert.True(t, mr.Exists(lockKey(email)))
	assert.InDelta(t, (30 * time.Minute).Seconds(), mr.TTL(lockKey(email)).Seconds(), 1)
}

func TestVerify_CorrectCodeAfterWrongAttempts(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewService(rdb, &fakeMailer{})
	ctx := context.Background()
	email := "a@x.com"

	mr.Set(codeKey(email), "1234")
	mr.SetTTL(codeKey(email), 5*time.Minute)

	otpErr(t, svc.Verify(ctx, email, "0000"))
	otpErr(t, svc.Verify(ctx, email, "0001"))

	// The attempt counter does not block a correct code below the ceiling.
	require.NoError(t, svc.Verify(ctx, email, "1234"))
	assert.False(t, mr.Exists(attemptsKey(email)))
}

func TestVerify_LockStartsFreshCycleAfterExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	svc := NewService(rdb, &fakeMailer{})
	gate := NewGate(rdb)
	ctx := context.Background()
	email := "a@x.com"

	mr.Set(codeKey(email), "1234")
	mr.SetTTL(codeKey(email), 5*time.Minute)
	for i := 0; i < 3; i++ {
		otpErr(t, svc.Verify(ctx, email, "0000"))
	}
	require.Error(t, gate.CheckIssuance(ctx, email))

	mr.FastForward(30*time.Minute + time.Second)
	assert.NoError(t, gate.CheckIssuance(ctx, email))
}
