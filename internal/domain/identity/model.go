package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/hospital/portal/internal/platform/auth"
)

// User is an account. Role is a single enum column, so an account can never
// hold zero or several roles at once.
type User struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Username     string     `db:"username" json:"username"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         auth.Role  `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Demographics are the fields shared by every profile variant.
type Demographics struct {
	FullName string `db:"full_name" json:"full_name"`
	Age      *int   `db:"age" json:"age,omitempty"`
	Gender   string `db:"gender" json:"gender"`
	Phone    string `db:"phone" json:"phone,omitempty"`
	Address  string `db:"address" json:"address,omitempty"`
}

type PatientProfile struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	Demographics
	MedicalHistory string    `db:"medical_history" json:"medical_history,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type DoctorProfile struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	Demographics
	Specialization string    `db:"specialization" json:"specialization"`
	AvailableDays  string    `db:"available_days" json:"available_days,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type AdminProfile struct {
	ID     uuid.UUID `db:"id" json:"id"`
	UserID uuid.UUID `db:"user_id" json:"user_id"`
	Demographics
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Contact is the name and address used to reach the owner of a profile.
type Contact struct {
	ProfileID uuid.UUID `json:"profile_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
}

// Gender values accepted on every profile.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

var validGenders = map[string]bool{
	GenderMale: true, GenderFemale: true, GenderOther: true,
}

// AccountInput carries the account half of a provisioning request.
type AccountInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

// ProfileInput carries the profile half. Fields that do not apply to the
// requested role are ignored.
type ProfileInput struct {
	FullName       string `json:"full_name"`
	Age            *int   `json:"age,omitempty"`
	Gender         string `json:"gender"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
	MedicalHistory string `json:"medical_history"`
	Specialization string `json:"specialization"`
	AvailableDays  string `json:"available_days"`
}

func (in ProfileInput) demographics() Demographics {
	return Demographics{
		FullName: in.FullName,
		Age:      in.Age,
		Gender:   in.Gender,
		Phone:    in.Phone,
		Address:  in.Address,
	}
}

// ProvisionRequest creates an account together with its role profile.
type ProvisionRequest struct {
	Role    auth.Role    `json:"role"`
	Account AccountInput `json:"account"`
	Profile ProfileInput `json:"profile"`
}

// Account is a provisioned user and the id of the profile created with it.
type Account struct {
	User      *User     `json:"user"`
	ProfileID uuid.UUID `json:"profile_id"`
}

// UserUpdate lists the account fields an admin may change. Nil leaves the
// field as is.
type UserUpdate struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
	Active   *bool   `json:"active,omitempty"`
}
