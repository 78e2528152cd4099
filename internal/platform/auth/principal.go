package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is the single role held by an account.
type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleAdmin      Role = "admin"
	RoleUnassigned Role = "unassigned"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleUnassigned:
		return true
	}
	return false
}

// HasProfile reports whether accounts of this role own a profile record.
func (r Role) HasProfile() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

// Principal is the authenticated caller. ProfileID is the id of the
// role-specific profile (patient, doctor or admin) owned by the account.
type Principal struct {
	UserID    uuid.UUID
	Username  string
	Role      Role
	ProfileID uuid.UUID
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

type contextKey string

const principalKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller, or nil for anonymous requests.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
