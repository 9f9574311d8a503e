package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account model
type User struct {
	bun.BaseModel        `bun:"table:users,alias:usr"`
	ID                   uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email                string     `bun:"email,notnull" json:"email,omitempty"`
	PasswordHash         string     `bun:"password_hash,notnull" json:"-"`
	Role                 UserRole   `bun:"role,notnull" json:"role,omitempty"`
	FirstName            string     `bun:"first_name,notnull" json:"first_name,omitempty"`
	LastName             string     `bun:"last_name,notnull" json:"last_name,omitempty"`
	IsActive             bool       `bun:"is_active,notnull" json:"is_active"`
	FailedLoginAttempts  int        `bun:"failed_login_attempts,notnull" json:"failed_login_attempts"`
	LockedUntil          *time.Time `bun:"locked_until,nullzero" json:"locked_until,omitempty"`
	RefreshTokenHash     *string    `bun:"refresh_token_hash,nullzero" json:"-"`
	LastLoginAt          *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	PasswordResetToken   *string    `bun:"password_reset_token,nullzero" json:"-"`
	PasswordResetExpires *time.Time `bun:"password_reset_expires,nullzero" json:"-"`
	CreatedAt            *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt            *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt            *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the account was soft deleted
func (u *User) IsDeleted() bool {
	return u != nil && u.DeletedAt != nil
}

// Sanitize returns the account without the password digest, the refresh
// fingerprint and the reset token.
func (u *User) Sanitize() *UserView {
	if u == nil {
		return nil
	}
	return &UserView{
		ID:                   u.ID,
		Email:                u.Email,
		Role:                 u.Role,
		FirstName:            u.FirstName,
		LastName:             u.LastName,
		IsActive:             u.IsActive,
		FailedLoginAttempts:  u.FailedLoginAttempts,
		LockedUntil:          u.LockedUntil,
		LastLoginAt:          u.LastLoginAt,
		PasswordResetExpires: u.PasswordResetExpires,
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
		DeletedAt:            u.DeletedAt,
	}
}

// UserView is the sanitized account returned to clients
type UserView struct {
	ID                   uuid.UUID  `json:"id"`
	Email                string     `json:"email"`
	Role                 UserRole   `json:"role"`
	FirstName            string     `json:"firstName"`
	LastName             string     `json:"lastName"`
	IsActive             bool       `json:"isActive"`
	FailedLoginAttempts  int        `json:"failedLoginAttempts"`
	LockedUntil          *time.Time `json:"lockedUntil"`
	LastLoginAt          *time.Time `json:"lastLoginAt"`
	PasswordResetExpires *time.Time `json:"passwordResetExpires"`
	CreatedAt            *time.Time `json:"createdAt,omitempty"`
	UpdatedAt            *time.Time `json:"updatedAt,omitempty"`
	DeletedAt            *time.Time `json:"deletedAt"`
}

// AuditLog is an append only record of a security relevant action
type AuditLog struct {
	bun.BaseModel `bun:"table:audit_logs,alias:adt"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EntityType    string         `bun:"entity_type,notnull" json:"entity_type"`
	EntityID      string         `bun:"entity_id,notnull" json:"entity_id"`
	Action        string         `bun:"action,notnull" json:"action"`
	UserID        *uuid.UUID     `bun:"user_id,type:uuid" json:"user_id,omitempty"`
	IPAddress     string         `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent     string         `bun:"user_agent" json:"user_agent,omitempty"`
	Metadata      map[string]any `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email before lookups and storage
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
