package models

import "time"

// AuditAction enumerates recorded session events.
type AuditAction string

const (
	AuditActionLogin           AuditAction = "auth.login"
	AuditActionRegister        AuditAction = "auth.register"
	AuditActionRefresh         AuditAction = "auth.refresh"
	AuditActionLogout          AuditAction = "auth.logout"
	AuditActionResetRequested  AuditAction = "auth.reset_requested"
	AuditActionResetCompleted  AuditAction = "auth.reset_completed"
	AuditActionSuspiciousReset AuditAction = "auth.reset_unknown_email"
)

// AuditLog records a session event for server-side forensics. UserID is
// nil for events that could not be tied to an account.
type AuditLog struct {
	ID        string      `db:"id" json:"id"`
	UserID    *string     `db:"user_id" json:"user_id,omitempty"`
	Action    AuditAction `db:"action" json:"action"`
	Detail    []byte      `db:"detail" json:"detail,omitempty"`
	IPAddress string      `db:"ip_address" json:"ip_address"`
	UserAgent string      `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
