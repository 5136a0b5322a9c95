package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PrincipalRole is the role stored on a principal
type PrincipalRole = string

const (
	// RoleOwner is the staff owner role
	RoleOwner PrincipalRole = "owner"
	// RoleAdmin is the staff admin role
	RoleAdmin PrincipalRole = "admin"
	// RoleClient is an external client account
	RoleClient PrincipalRole = "client"
)

// DefaultStaffRole is applied when an upstream provisioning call
// omits the role. Kept explicit so call sites never default ad hoc.
const DefaultStaffRole = RoleAdmin

// ValidRole reports whether role is one of the enumerated roles.
func ValidRole(role PrincipalRole) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleClient:
		return true
	}
	return false
}

// PrincipalType disambiguates staff from client accounts
type PrincipalType = string

const (
	// TypeStaff covers owner and admin principals
	TypeStaff PrincipalType = "staff"
	// TypeClient covers client principals
	TypeClient PrincipalType = "client"
)

// Principal is a staff member or client account with a password credential
type Principal struct {
	bun.BaseModel      `bun:"table:principals,alias:prn"`
	ID                 uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role               PrincipalRole `bun:"role,notnull" json:"role,omitempty"`
	FirstName          string        `bun:"first_name" json:"first_name,omitempty"`
	LastName           string        `bun:"last_name" json:"last_name,omitempty"`
	Email              string        `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone              string        `bun:"phone_number" json:"phone_number,omitempty"`
	Location           string        `bun:"location" json:"location,omitempty"`
	PasswordHash       string        `bun:"password_hash" json:"-"`
	MustChangePassword bool          `bun:"must_change_password" json:"must_change_password,omitempty"`
	CreatedAt          *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Type maps the stored role to the staff/client split
func (p *Principal) Type() PrincipalType {
	if p.Role == RoleClient {
		return TypeClient
	}
	return TypeStaff
}

// PendingKind is the purpose a pending action was created for
type PendingKind = string

const (
	// KindRegistration is a pending client registration
	KindRegistration PendingKind = "registration"
	// KindPasswordReset is a pending password reset
	KindPasswordReset PendingKind = "password_reset"
)

// PendingAction tracks an in-flight registration or reset awaiting a code.
// The plaintext code is never stored; only its hash survives issuance.
type PendingAction struct {
	Kind              PendingKind `json:"kind"`
	CodeHash          string      `json:"code_hash"`
	ExpiresAt         int64       `json:"expires_at"`
	AttemptsRemaining int         `json:"attempts_remaining"`
	Payload           []byte      `json:"payload,omitempty"`
}

// RegistrationPayload is the staged data applied when a registration
// code verifies
type RegistrationPayload struct {
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone_number"`
	Location     string `json:"location,omitempty"`
	PasswordHash string `json:"password_hash"`
}

// ResetPayload pins a pending reset to the principal it was requested for
type ResetPayload struct {
	PrincipalID uuid.UUID `json:"principal_id"`
}
