package identity

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/hospital/portal/internal/platform/auth"
)

const (
	minPasswordLength = 8
	maxUsernameLength = 150
	maxNameLength     = 100
	maxAge            = 150
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@+-]+$`)

// fieldErrors collects per-field problems for a single validation error.
type fieldErrors map[string]string

func (f fieldErrors) add(field, problem string) {
	if _, exists := f[field]; !exists {
		f[field] = problem
	}
}

func validateUsername(f fieldErrors, username string) {
	switch {
	case username == "":
		f.add("username", "is required")
	case len(username) > maxUsernameLength:
		f.add("username", "must be at most 150 characters")
	case !usernamePattern.MatchString(username):
		f.add("username", "may contain only letters, digits and @.+-_")
	}
}

func validateEmail(f fieldErrors, email string) {
	if email == "" {
		f.add("email", "is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		f.add("email", "is not a valid address")
	}
}

// validateAccount checks the account half of a provisioning request.
// Confirmation is only enforced for self-registration.
func validateAccount(f fieldErrors, in *AccountInput, requireConfirm bool) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	validateUsername(f, in.Username)
	validateEmail(f, in.Email)

	if len(in.Password) < minPasswordLength {
		f.add("password", "must be at least 8 characters")
	}
	if requireConfirm && in.Password != in.PasswordConfirm {
		f.add("password_confirm", "does not match password")
	}
}

// validateProfile checks and normalizes profile fields for role. The phone
// number is rewritten to E.164 using region as the default country.
func validateProfile(f fieldErrors, in *ProfileInput, role auth.Role, region string) {
	in.FullName = strings.TrimSpace(in.FullName)
	switch {
	case in.FullName == "":
		f.add("full_name", "is required")
	case len(in.FullName) > maxNameLength:
		f.add("full_name", "must be at most 100 characters")
	}

	// administrators are bootstrapped from the command line with a name only
	if role == auth.RoleAdmin && in.Gender == "" {
		in.Gender = GenderOther
	}
	if !validGenders[in.Gender] {
		f.add("gender", "must be one of Male, Female, Other")
	}

	if in.Age != nil && (*in.Age < 0 || *in.Age > maxAge) {
		f.add("age", "must be between 0 and 150")
	}
	if role == auth.RoleDoctor && in.Age == nil {
		f.add("age", "is required")
	}

	if in.Phone != "" {
		phone, ok := normalizePhone(in.Phone, region)
		if !ok {
			f.add("phone", "is not a valid phone number")
		} else {
			in.Phone = phone
		}
	}

	if role == auth.RoleDoctor {
		in.Specialization = strings.TrimSpace(in.Specialization)
		if in.Specialization == "" {
			f.add("specialization", "is required")
		}
	}
}

func normalizePhone(raw, region string) (string, bool) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
