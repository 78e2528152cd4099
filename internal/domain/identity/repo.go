package identity

import (
	"context"

	"github.com/google/uuid"

	"github.com/hospital/portal/internal/platform/auth"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// Taken reports which of username and email already belong to an
	// account, ignoring the account excludeID.
	Taken(ctx context.Context, username, email string, excludeID uuid.UUID) (usernameTaken, emailTaken bool, err error)
	Update(ctx context.Context, u *User) error
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	TouchLogin(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *PatientProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
	Update(ctx context.Context, p *PatientProfile) error
	List(ctx context.Context, limit, offset int) ([]*PatientProfile, int, error)
	Contact(ctx context.Context, id uuid.UUID) (*Contact, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *DoctorProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error)
	Update(ctx context.Context, d *DoctorProfile) error
	// List filters by case-insensitive specialization when it is non-empty.
	List(ctx context.Context, specialization string, limit, offset int) ([]*DoctorProfile, int, error)
	Contact(ctx context.Context, id uuid.UUID) (*Contact, error)
}

type AdminRepository interface {
	Create(ctx context.Context, a *AdminProfile) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*AdminProfile, error)
}
