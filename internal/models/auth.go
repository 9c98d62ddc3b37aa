package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeRefresh tags refresh tokens so an access token can never be
// replayed against the refresh endpoint.
const TokenTypeRefresh = "refresh"

// LoginRequest holds credentials for authenticating a user. Email is not
// format-validated here: a malformed address must fail the same way as a
// wrong password, through the credentials path.
type LoginRequest struct {
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RegisterRequest creates a new clinic account.
type RegisterRequest struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	ClinicName string `json:"clinicName" validate:"required"`
	AvatarURL  string `json:"avatarUrl" validate:"omitempty,url"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RequestPasswordResetRequest initiates the reset flow.
type RequestPasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the reset flow with a one-time code.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	ResetToken  string `json:"resetToken" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6"`
}

// TokenPair bundles a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is the login/register payload. The duplicate Token field
// mirrors AccessToken for older clients that still read `token`.
type AuthResponse struct {
	User         UserInfo `json:"user"`
	Token        string   `json:"token"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
}

// JWTClaims is the signed claim set carried by both token kinds. TokenType
// is empty on access tokens and "refresh" on refresh tokens.
type JWTClaims struct {
	UserID    string `json:"userId"`
	TenantID  string `json:"tenantId"`
	TokenType string `json:"type,omitempty"`
	jwt.RegisteredClaims
}
