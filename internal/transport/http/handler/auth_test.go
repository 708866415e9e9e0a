package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/go-otp-auth/internal/application/auth"
	"github.com/go-otp-auth/internal/config"
	"github.com/go-otp-auth/internal/domain"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
)

type mockAuthService struct{ mock.Mock }

func (m *mockAuthService) Register(ctx context.Context, req auth.RegisterRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockAuthService) VerifyRegistration(ctx context.Context, req auth.VerifyRequest) (*domain.User, error) {
	args := m.Called(ctx, req)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthService) Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*auth.LoginResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	args := m.Called(ctx, refreshToken)
	return args.String(0), args.Error(1)
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthService) ForgotPassword(ctx context.Context, email string) error {
	return m.Called(ctx, email).Error(0)
}

func (m *mockAuthService) VerifyForgotPasswordOTP(ctx context.Context, email, code string) error {
	return m.Called(ctx, email, code).Error(0)
}

func (m *mockAuthService) ResetPassword(ctx context.Context, req auth.ResetPasswordRequest) error {
	return m.Called(ctx, req).Error(0)
}

func testHandler(svc auth.Service) *AuthHandler {
	return NewAuthHandler(svc, &config.Config{
		AppEnv:          "development",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
}

func postReq(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) MessageEnvelope {
	t.Helper()
	var env MessageEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegister_OK(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Register", mock.Anything, auth.RegisterRequest{
		Name: "Ana", Email: "a@x.com", Password: "password1",
	}).Return(nil)

	rec := httptest.NewRecorder()
	testHandler(svc).Register(rec, postReq(`{"name":"Ana","email":"a@x.com","password":"password1"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OTP sent to email, please verify your account", decodeEnvelope(t, rec).Message)
}

func TestRegister_ValidationFailure(t *testing.T) {
	svc := &mockAuthService{}

	rec := httptest.NewRecorder()
	testHandler(svc).Register(rec, postReq(`{"name":"Ana","email":"not-an-email","password":"password1"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestRegister_ThrottledMapsTo429WithRetryAfter(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Register", mock.Anything, mock.Anything).
		Return(&domain.ThrottleError{Reason: domain.ThrottleCooldown, RetryAfter: 42 * time.Second})

	rec := httptest.NewRecorder()
	testHandler(svc).Register(rec, postReq(`{"name":"Ana","email":"a@x.com","password":"password1"}`))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "42", rec.Header().Get("Retry-After"))
}

func TestRegister_LockedMapsTo423(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Register", mock.Anything, mock.Anything).
		Return(&domain.ThrottleError{Reason: domain.ThrottleLocked, RetryAfter: 30 * time.Minute})

	rec := httptest.NewRecorder()
	testHandler(svc).Register(rec, postReq(`{"name":"Ana","email":"a@x.com","password":"password1"}`))

	assert.Equal(t, http.StatusLocked, rec.Code)
}

func TestVerify_Created(t *testing.T) {
	svc := &mockAuthService{}
	u := &domain.User{UserID: "u1", Name: "Ana", Email: "a@x.com", Role: "user"}
	svc.On("VerifyRegistration", mock.Anything, mock.Anything).Return(u, nil)

	rec := httptest.NewRecorder()
	testHandler(svc).Verify(rec, postReq(`{"name":"Ana","email":"a@x.com","password":"password1","otp":"1234"}`))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var env UserEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.User)
	assert.Equal(t, "u1", env.User.UserID)
}

func TestVerify_RejectsNonNumericOTP(t *testing.T) {
	svc := &mockAuthService{}

	rec := httptest.NewRecorder()
	testHandler(svc).Verify(rec, postReq(`{"name":"Ana","email":"a@x.com","password":"password1","otp":"12ab"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "VerifyRegistration", mock.Anything, mock.Anything)
}

func TestVerify_WrongOTPSurfacesRemaining(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("VerifyRegistration", mock.Anything, mock.Anything).
		Return(nil, &domain.OTPError{Kind: domain.OTPIncorrect, Remaining: 1})

	rec := httptest.NewRecorder()
	testHandler(svc).Verify(rec, postReq(`{"name":"Ana","email":"a@x.com","password":"password1","otp":"0000"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "incorrect OTP, 1 attempts left", decodeEnvelope(t, rec).Error)
}

func TestLogin_SetsBothCookies(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Login", mock.Anything, auth.LoginRequest{Email: "a@x.com", Password: "password1"}).
		Return(&auth.LoginResult{
			User:   &domain.User{UserID: "u1", Email: "a@x.com"},
			Tokens: &jwtinfra.TokenPair{AccessToken: "at", RefreshToken: "rt"},
		}, nil)

	rec := httptest.NewRecorder()
	testHandler(svc).Login(rec, postReq(`{"email":"a@x.com","password":"password1"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()

	access := cookieByName(cookies, "access_token")
	require.NotNil(t, access)
	assert.Equal(t, "at", access.Value)
	assert.Equal(t, "/api", access.Path)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, int((15 * time.Minute).Seconds()), access.MaxAge)

	refresh := cookieByName(cookies, "refresh_token")
	require.NotNil(t, refresh)
	assert.Equal(t, "rt", refresh.Value)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), refresh.MaxAge)
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Login", mock.Anything, mock.Anything).
		Return(nil, domain.ErrBadRequest)

	rec := httptest.NewRecorder()
	testHandler(svc).Login(rec, postReq(`{"email":"a@x.com","password":"wrong-pass"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestRefresh_ReadsCookieAndSetsNewAccessCookie(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Refresh", mock.Anything, "rt").Return("new-at", nil)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "rt"})
	rec := httptest.NewRecorder()
	testHandler(svc).Refresh(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	access := cookieByName(rec.Result().Cookies(), "access_token")
	require.NotNil(t, access)
	assert.Equal(t, "new-at", access.Value)
}

func TestRefresh_MissingCookie(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("Refresh", mock.Anything, "").Return("", domain.ErrUnauthorized)

	rec := httptest.NewRecorder()
	testHandler(svc).Refresh(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgotPassword_UnknownEmailMapsTo404(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("ForgotPassword", mock.Anything, "a@x.com").Return(domain.ErrNotFound)

	rec := httptest.NewRecorder()
	testHandler(svc).ForgotPassword(rec, postReq(`{"email":"a@x.com"}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetPassword_SamePasswordMapsTo400(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("ResetPassword", mock.Anything, mock.Anything).Return(domain.ErrSamePassword)

	rec := httptest.NewRecorder()
	testHandler(svc).ResetPassword(rec, postReq(`{"email":"a@x.com","newPassword":"password1"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec).Error, "same as the old password")
}

func TestHTTPError_UnknownErrorIsOpaque(t *testing.T) {
	svc := &mockAuthService{}
	svc.On("ForgotPassword", mock.Anything, "a@x.com").Return(assert.AnError)

	rec := httptest.NewRecorder()
	testHandler(svc).ForgotPassword(rec, postReq(`{"email":"a@x.com"}`))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeEnvelope(t, rec).Error)
}
