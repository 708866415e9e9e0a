package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-otp-auth/internal/application/otp"
	"github.com/go-otp-auth/internal/domain"
	jwtinfra "github.com/go-otp-auth/internal/infrastructure/jwt"
	"github.com/go-otp-auth/internal/pkg/id"
)

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type VerifyRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	OTP      string `json:"otp" validate:"required,len=4,numeric"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=72"`
}

type LoginResult struct {
	User   *domain.User
	Tokens *jwtinfra.TokenPair
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) error
	VerifyRegistration(ctx context.Context, req VerifyRequest) (*domain.User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (newAccessToken string, err error)
	CurrentUser(ctx context.Context, userID string) (*domain.User, error)
	ForgotPassword(ctx context.Context, email string) error
	VerifyForgotPasswordOTP(ctx context.Context, email, code string) error
	ResetPassword(ctx context.Context, req ResetPasswordRequest) error
}

type userStore interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Get(ctx context.Context, userID string) (*domain.User, error)
	Put(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

type throttleGate interface {
	CheckIssuance(ctx context.Context, email string) error
	RecordIssuance(ctx context.Context, email string) error
}

type otpManager interface {
	Issue(ctx context.Context, name, email string, purpose otp.Purpose) error
	Verify(ctx context.Context, email, code string) error
}

type tokenIssuer interface {
	IssuePair(userID, role string) (*jwtinfra.TokenPair, error)
	VerifyRefresh(token string) (*jwtinfra.Claims, error)
	RotateAccess(refreshToken string) (string, error)
}

type smsSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

type service struct {
	users  userStore
	gate   throttleGate
	otp    otpManager
	tokens tokenIssuer
	sms    smsSender
}

type ServiceDeps struct {
	UserRepo  userStore
	Gate      throttleGate
	OTP       otpManager
	Tokens    tokenIssuer
	SMSSender smsSender // optional, security alerts after password resets
}

func NewService(deps ServiceDeps) Service {
	return &service{
		users:  deps.UserRepo,
		gate:   deps.Gate,
		otp:    deps.OTP,
		tokens: deps.Tokens,
		sms:    deps.SMSSender,
	}
}

// Register starts the OTP-gated registration flow. The user record is not
// created until the code is verified.
func (s *service) Register(ctx context.Context, req RegisterRequest) error {
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return fmt.Errorf("user already exists with this email: %w", domain.ErrConflict)
	}
	if err := s.gate.CheckIssuance(ctx, req.Email); err != nil {
		return err
	}
	if err := s.gate.RecordIssuance(ctx, req.Email); err != nil {
		return err
	}
	return s.otp.Issue(ctx, req.Name, req.Email, otp.PurposeActivation)
}

// VerifyRegistration consumes the OTP and creates the user record. The code
// is deleted before the account is created, so it verifies at most once.
func (s *service) VerifyRegistration(ctx context.Context, req VerifyRequest) (*domain.User, error) {
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("user already exists with this email: %w", domain.ErrConflict)
	}
	if err := s.otp.Verify(ctx, req.Email, req.OTP); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		UserID:       id.New(),
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Put(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", domain.ErrBadRequest)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", domain.ErrBadRequest)
	}
	pair, err := s.tokens.IssuePair(u.UserID, u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: u, Tokens: pair}, nil
}

// Refresh validates the refresh token, confirms the account still exists, and
// mints a new access token. The role claim is carried over opaquely.
func (s *service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", fmt.Errorf("no refresh token: %w", domain.ErrUnauthorized)
	}
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", domain.ErrUnauthorized)
	}
	if _, err := s.users.Get(ctx, claims.UserID); err != nil {
		return "", fmt.Errorf("user not found: %w", domain.ErrUnauthorized)
	}
	access, err := s.tokens.RotateAccess(refreshToken)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", domain.ErrUnauthorized)
	}
	return access, nil
}

func (s *service) CurrentUser(ctx context.Context, userID string) (*domain.User, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrUnauthorized)
	}
	return u, nil
}

// ForgotPassword starts the OTP-gated reset flow. Every failure propagates to
// the caller; throttle refusals included.
func (s *service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	if err := s.gate.CheckIssuance(ctx, email); err != nil {
		return err
	}
	if err := s.gate.RecordIssuance(ctx, email); err != nil {
		return err
	}
	return s.otp.Issue(ctx, u.Name, u.Email, otp.PurposePasswordReset)
}

func (s *service) VerifyForgotPasswordOTP(ctx context.Context, email, code string) error {
	return s.otp.Verify(ctx, email, code)
}

func (s *service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		return fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.NewPassword)) == nil {
		return domain.ErrSamePassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.users.Update(ctx, u.UserID, map[string]interface{}{"password_hash": string(hash)}); err != nil {
		return err
	}
	if u.Phone != nil && s.sms != nil {
		msg := "Your password was just changed. If this wasn't you, contact support immediately."
		if err := s.sms.SendSMS(ctx, *u.Phone, msg); err != nil {
			slog.Warn("failed to send password-change alert", "user_id", u.UserID, "err", err)
		}
	}
	return nil
}
