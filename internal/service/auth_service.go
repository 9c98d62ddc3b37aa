package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/allo-oral/clinicaflow-api/internal/models"
	appErrors "github.com/allo-oral/clinicaflow-api/pkg/errors"
)

// passwordCost matches the cost factor used by the legacy backend, so
// existing hashes keep verifying.
const passwordCost = 10

type sessionUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	SetRefreshTokenHash(ctx context.Context, userID, hash string) error
	RotateRefreshTokenHash(ctx context.Context, userID, oldHash, newHash string) (bool, error)
	ClearRefreshTokenHash(ctx context.Context, userID string) error
	SetResetToken(ctx context.Context, userID, hash string, expiry time.Time) error
	CompletePasswordReset(ctx context.Context, userID, passwordHash string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type resetThrottle interface {
	IncrResetRequests(ctx context.Context, email string) (int64, error)
}

type resetMailer interface {
	SendPasswordResetCode(to, code string) error
}

// SessionConfig defines configuration for the session flows.
type SessionConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	ResetCodeExpiry    time.Duration
	ResetMaxPerWindow  int
	Issuer             string
	LogResetCodes      bool
}

// SessionService owns token issuance, refresh rotation, and the password
// reset flow. Exactly one refresh token is valid per user at any time; its
// SHA-256 digest on the user row is the single source of truth.
type SessionService struct {
	repo      sessionUserRepository
	throttle  resetThrottle
	mailer    resetMailer
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	config    SessionConfig
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(repo sessionUserRepository, throttle resetThrottle, mailer resetMailer, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService, config SessionConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SessionService{
		repo:      repo,
		throttle:  throttle,
		mailer:    mailer,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// IssueTokens creates an access/refresh pair for the given identity. Pure
// construction; nothing is persisted here.
func (s *SessionService) IssueTokens(userID, tenantID string) (*models.TokenPair, error) {
	access, err := s.signToken(userID, tenantID, "", s.config.AccessTokenSecret, s.config.AccessTokenExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(userID, tenantID, models.TokenTypeRefresh, s.config.RefreshTokenSecret, s.config.RefreshTokenExpiry)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Login authenticates a user and starts a fresh session, replacing any
// session that was active before.
func (s *SessionService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordAuth("login", false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordAuth("login", false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	pair, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &user.ID, models.AuditActionLogin, req.IP, req.UserAgent, nil)
	s.recordAuth("login", true)

	return &models.AuthResponse{
		User:         user.Sanitized(),
		Token:        pair.AccessToken,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Register creates a new clinic account and logs it in. The account's
// tenant defaults to its own id.
func (s *SessionService) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	if _, err := s.repo.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrEmailTaken, "")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	id := uuid.NewString()
	user := &models.User{
		ID:           id,
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		FullName:     req.Name,
		ClinicName:   req.ClinicName,
		TenantID:     id,
	}
	if req.AvatarURL != "" {
		user.AvatarURL = &req.AvatarURL
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	pair, err := s.startSession(ctx, user)
	if err != nil {
		return nil, err
	}

	s.audit(ctx, &user.ID, models.AuditActionRegister, req.IP, req.UserAgent, nil)
	s.recordAuth("register", true)

	return &models.AuthResponse{
		User:         user.Sanitized(),
		Token:        pair.AccessToken,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}, nil
}

// Refresh exchanges a refresh token for a new pair, rotating the stored
// hash. A token that no longer matches the hash on file has been superseded
// or revoked and is rejected, whoever presents it.
func (s *SessionService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPair, error) {
	if req.RefreshToken == "" {
		return nil, appErrors.Clone(appErrors.ErrMissingToken, "")
	}

	claims, err := s.parseToken(req.RefreshToken, s.config.RefreshTokenSecret)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}

	if claims.TokenType != models.TokenTypeRefresh {
		return nil, appErrors.Clone(appErrors.ErrWrongTokenType, "")
	}

	user, err := s.repo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	presentedHash := hashToken(req.RefreshToken)
	if user.RefreshTokenHash == nil || *user.RefreshTokenHash != presentedHash {
		s.logger.Warn("refresh token reuse detected",
			zap.String("user_id", user.ID),
			zap.String("ip", req.IP),
		)
		s.recordAuth("refresh", false)
		return nil, appErrors.Clone(appErrors.ErrTokenReused, "")
	}

	pair, err := s.IssueTokens(user.ID, user.TenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	// Conditional swap: if another request rotated the hash between our
	// read and this write, zero rows match and the token counts as reused.
	rotated, err := s.repo.RotateRefreshTokenHash(ctx, user.ID, presentedHash, hashToken(pair.RefreshToken))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}
	if !rotated {
		s.recordAuth("refresh", false)
		return nil, appErrors.Clone(appErrors.ErrTokenReused, "")
	}

	s.audit(ctx, &user.ID, models.AuditActionRefresh, req.IP, req.UserAgent, nil)
	s.recordAuth("refresh", true)

	return pair, nil
}

// Logout unconditionally revokes the user's refresh capability. Safe to
// call when no session is active.
func (s *SessionService) Logout(ctx context.Context, userID, ip, userAgent string) error {
	if err := s.repo.ClearRefreshTokenHash(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear refresh token")
	}
	s.audit(ctx, &userID, models.AuditActionLogout, ip, userAgent, nil)
	return nil
}

// RequestPasswordReset issues a one-time 6-digit code and emails it. The
// caller always gets the same answer whether or not the account exists;
// anything noteworthy is logged server-side only.
func (s *SessionService) RequestPasswordReset(ctx context.Context, req models.RequestPasswordResetRequest, ip, userAgent string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset request payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("password reset requested for unknown email", zap.String("ip", ip))
			s.audit(ctx, nil, models.AuditActionSuspiciousReset, ip, userAgent, nil)
			return nil
		}
		s.logger.Error("failed to load user for password reset", zap.Error(err))
		return nil
	}

	if s.throttle != nil && s.config.ResetMaxPerWindow > 0 {
		count, terr := s.throttle.IncrResetRequests(ctx, req.Email)
		if terr != nil {
			s.logger.Warn("reset request throttle unavailable", zap.Error(terr))
		} else if count > int64(s.config.ResetMaxPerWindow) {
			s.logger.Warn("password reset requests throttled", zap.String("user_id", user.ID))
			return nil
		}
	}

	code, err := generateResetCode()
	if err != nil {
		s.logger.Error("failed to generate reset code", zap.Error(err))
		return nil
	}

	expiry := time.Now().UTC().Add(s.config.ResetCodeExpiry)
	if err := s.repo.SetResetToken(ctx, user.ID, hashToken(code), expiry); err != nil {
		s.logger.Error("failed to store reset code", zap.String("user_id", user.ID), zap.Error(err))
		return nil
	}

	if s.config.LogResetCodes {
		s.logger.Debug("issued password reset code", zap.String("user_id", user.ID), zap.String("code", code))
	}

	if s.mailer != nil {
		if err := s.mailer.SendPasswordResetCode(user.Email, code); err != nil {
			s.logger.Error("failed to send reset email", zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	s.audit(ctx, &user.ID, models.AuditActionResetRequested, ip, userAgent, nil)
	return nil
}

// ResetPassword verifies a reset code and replaces the password. Success
// also revokes the user's refresh token, ending every open session.
func (s *SessionService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest, ip, userAgent string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset payload")
	}

	user, err := s.repo.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrInvalidReset, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	now := time.Now().UTC()
	if user.ResetTokenHash == nil || user.ResetTokenExpiry == nil || !now.Before(*user.ResetTokenExpiry) {
		return appErrors.Clone(appErrors.ErrResetExpired, "")
	}

	if hashToken(req.ResetToken) != *user.ResetTokenHash {
		return appErrors.Clone(appErrors.ErrInvalidResetCode, "")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), passwordCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	if err := s.repo.CompletePasswordReset(ctx, user.ID, string(passwordHash)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	s.audit(ctx, &user.ID, models.AuditActionResetCompleted, ip, userAgent, nil)
	return nil
}

// ValidateToken parses and validates an access token returning the claims.
func (s *SessionService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	claims, err := s.parseToken(tokenString, s.config.AccessTokenSecret)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}
	if claims.TokenType != "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// startSession issues a pair and persists the refresh hash. The tokens are
// only returned once the hash write succeeds, since that hash is what
// future refresh calls validate against.
func (s *SessionService) startSession(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	pair, err := s.IssueTokens(user.ID, user.TenantID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}
	if err := s.repo.SetRefreshTokenHash(ctx, user.ID, hashToken(pair.RefreshToken)); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	return pair, nil
}

func (s *SessionService) signToken(userID, tenantID, tokenType, secret string, expiry time.Duration) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.JWTClaims{
		UserID:    userID,
		TenantID:  tenantID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// The jti makes every issuance unique; without it two tokens
			// minted within the same second are byte-identical and rotation
			// cannot distinguish old from new.
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func (s *SessionService) parseToken(tokenString, secret string) (*models.JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

func (s *SessionService) audit(ctx context.Context, userID *string, action models.AuditAction, ip, userAgent string, detail []byte) {
	entry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", string(action)), zap.Error(err))
	}
}

func (s *SessionService) recordAuth(operation string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(operation, success)
	}
}

// hashToken returns the SHA-256 hex digest persisted in place of secrets.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateResetCode draws a 6-digit code from a CSPRNG.
func generateResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
