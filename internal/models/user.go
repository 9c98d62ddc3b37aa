package models

import "time"

// User represents a clinic account stored in the users table. A user's
// tenant defaults to their own id until they are attached to a shared
// clinic tenant.
type User struct {
	ID               string     `db:"id" json:"id"`
	Email            string     `db:"email" json:"email"`
	PasswordHash     string     `db:"password_hash" json:"-"`
	FullName         string     `db:"full_name" json:"name"`
	ClinicName       string     `db:"clinic_name" json:"clinicName"`
	AvatarURL        *string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	TenantID         string     `db:"tenant_id" json:"tenantId"`
	RefreshTokenHash *string    `db:"refresh_token_hash" json:"-"`
	ResetTokenHash   *string    `db:"reset_token_hash" json:"-"`
	ResetTokenExpiry *time.Time `db:"reset_token_expiry" json:"-"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// Sanitized strips credential material for API responses.
func (u *User) Sanitized() UserInfo {
	info := UserInfo{
		ID:         u.ID,
		Email:      u.Email,
		FullName:   u.FullName,
		ClinicName: u.ClinicName,
		TenantID:   u.TenantID,
		CreatedAt:  u.CreatedAt,
	}
	if u.AvatarURL != nil {
		info.AvatarURL = *u.AvatarURL
	}
	return info
}

// UserInfo describes a user in responses; no hashes ever leave the server.
type UserInfo struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"name"`
	ClinicName string    `json:"clinicName"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	TenantID   string    `json:"tenantId"`
	CreatedAt  time.Time `json:"createdAt"`
}
