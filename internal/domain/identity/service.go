package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
	"github.com/hospital/portal/internal/platform/notification"
	"github.com/hospital/portal/internal/platform/password"
)

// PasswordHasher is satisfied by *password.Hasher.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(encoded, plain string) error
	NeedsRehash(encoded string) bool
}

type Notifier interface {
	Notify(ctx context.Context, ev notification.Event)
}

// SessionRevoker ends the tokens already issued to an account.
type SessionRevoker interface {
	RevokeUser(ctx context.Context, userID uuid.UUID, issuedBefore, expiresAt time.Time) error
}

// ProvisionObserver counts provisioning outcomes.
type ProvisionObserver interface {
	ObserveProvisioning(role, outcome string)
}

// Provisioning outcomes reported to the observer.
const (
	OutcomeCreated  = "created"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

const defaultPhoneRegion = "IN"

// systemActor provisions the first administrator from the command line.
var systemActor = &auth.Principal{Username: "system", Role: auth.RoleAdmin}

type Service struct {
	tx       db.Transactor
	users    UserRepository
	patients PatientRepository
	doctors  DoctorRepository
	admins   AdminRepository
	hasher   PasswordHasher
	policy   *auth.Engine
	logger   zerolog.Logger

	phoneRegion string
	notifier    Notifier
	observer    ProvisionObserver
	sessions    SessionRevoker
	sessionTTL  time.Duration

	dummyOnce sync.Once
	dummyHash string
}

func NewService(tx db.Transactor, users UserRepository, patients PatientRepository, doctors DoctorRepository,
	admins AdminRepository, hasher PasswordHasher, policy *auth.Engine, logger zerolog.Logger) *Service {
	return &Service{
		tx:          tx,
		users:       users,
		patients:    patients,
		doctors:     doctors,
		admins:      admins,
		hasher:      hasher,
		policy:      policy,
		logger:      logger.With().Str("component", "identity").Logger(),
		phoneRegion: defaultPhoneRegion,
	}
}

// SetPhoneRegion sets the country assumed for phone numbers written
// without an international prefix.
func (s *Service) SetPhoneRegion(region string) {
	if region != "" {
		s.phoneRegion = strings.ToUpper(region)
	}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) SetObserver(o ProvisionObserver) { s.observer = o }

// SetSessionRevoker makes deactivation end live sessions. tokenTTL bounds
// how long an issued token stays valid.
func (s *Service) SetSessionRevoker(r SessionRevoker, tokenTTL time.Duration) {
	s.sessions = r
	s.sessionTTL = tokenTTL
}

func (s *Service) endSessions(ctx context.Context, userID uuid.UUID) error {
	if s.sessions == nil {
		return nil
	}
	now := time.Now()
	if err := s.sessions.RevokeUser(ctx, userID, now, now.Add(s.sessionTTL)); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("sessions not revoked")
		return apperr.Unavailable("session store", err)
	}
	return nil
}

// -- Provisioning --

// Provision creates an account and its role profile in one transaction.
// A nil actor is a self-registration and may only create patients.
func (s *Service) Provision(ctx context.Context, actor *auth.Principal, req ProvisionRequest) (*Account, error) {
	selfRegistration := actor == nil
	if selfRegistration {
		if req.Role == "" {
			req.Role = auth.RolePatient
		}
		if req.Role != auth.RolePatient {
			return nil, apperr.Denied(string(auth.ReasonRoleNotPermitted))
		}
	} else if err := s.policy.Check(actor, auth.OpCreate, auth.Target{Type: auth.RecordPrincipal}); err != nil {
		return nil, err
	}
	if !req.Role.HasProfile() {
		return nil, apperr.FieldError("role", "must be one of patient, doctor, admin")
	}

	f := fieldErrors{}
	validateAccount(f, &req.Account, selfRegistration)
	validateProfile(f, &req.Profile, req.Role, s.phoneRegion)
	if len(f) > 0 {
		s.observe(req.Role, OutcomeRejected)
		return nil, apperr.Validation("invalid account details", f)
	}

	usernameTaken, emailTaken, err := s.users.Taken(ctx, req.Account.Username, req.Account.Email, uuid.Nil)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if usernameTaken {
		f.add("username", "is already taken")
	}
	if emailTaken {
		f.add("email", "is already registered")
	}
	if len(f) > 0 {
		s.observe(req.Role, OutcomeRejected)
		return nil, apperr.Validation("account already exists", f)
	}

	hash, err := s.hasher.Hash(req.Account.Password)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	user := &User{
		Username:     req.Account.Username,
		Email:        req.Account.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
	}
	var profileID uuid.UUID
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, user); err != nil {
			return accountConflict(err)
		}
		id, err := s.createProfile(ctx, user, req.Profile)
		if err != nil {
			return apperr.ProvisioningFailure(err)
		}
		profileID = id
		return nil
	})
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			// the commit itself failed after both writes
			err = apperr.ProvisioningFailure(err)
		}
		switch apperr.KindOf(err) {
		case apperr.KindValidation:
			s.observe(req.Role, OutcomeRejected)
		default:
			s.observe(req.Role, OutcomeFailed)
			s.logger.Error().Err(err).
				Str("role", string(req.Role)).
				Str("username", req.Account.Username).
				Msg("account provisioning rolled back")
		}
		return nil, err
	}

	s.observe(req.Role, OutcomeCreated)
	s.logger.Info().
		Str("user_id", user.ID.String()).
		Str("role", string(user.Role)).
		Msg("account provisioned")

	s.notify(ctx, notification.Event{
		Type: notification.EventAccountProvisioned,
		To:   user.Email,
		Data: map[string]string{
			"full_name": req.Profile.FullName,
			"role":      string(user.Role),
			"username":  user.Username,
		},
	})
	return &Account{User: user, ProfileID: profileID}, nil
}

// CreateAdmin provisions an administrator without an acting principal. It
// backs the command line bootstrap and is not reachable over HTTP.
func (s *Service) CreateAdmin(ctx context.Context, account AccountInput, profile ProfileInput) (*Account, error) {
	return s.Provision(ctx, systemActor, ProvisionRequest{Role: auth.RoleAdmin, Account: account, Profile: profile})
}

func (s *Service) createProfile(ctx context.Context, u *User, in ProfileInput) (uuid.UUID, error) {
	switch u.Role {
	case auth.RolePatient:
		p := &PatientProfile{UserID: u.ID, Demographics: in.demographics(), MedicalHistory: in.MedicalHistory}
		if err := s.patients.Create(ctx, p); err != nil {
			return uuid.Nil, err
		}
		return p.ID, nil
	case auth.RoleDoctor:
		d := &DoctorProfile{UserID: u.ID, Demographics: in.demographics(),
			Specialization: in.Specialization, AvailableDays: in.AvailableDays}
		if err := s.doctors.Create(ctx, d); err != nil {
			return uuid.Nil, err
		}
		return d.ID, nil
	case auth.RoleAdmin:
		a := &AdminProfile{UserID: u.ID, Demographics: in.demographics()}
		if err := s.admins.Create(ctx, a); err != nil {
			return uuid.Nil, err
		}
		return a.ID, nil
	}
	return uuid.Nil, errors.New("role " + string(u.Role) + " has no profile")
}

// accountConflict turns a unique violation on users into a field error.
func accountConflict(err error) error {
	constraint, ok := db.IsUniqueViolation(err)
	if !ok {
		return apperr.Internal(err)
	}
	if strings.Contains(constraint, "email") {
		return apperr.FieldError("email", "is already registered")
	}
	return apperr.FieldError("username", "is already taken")
}

func (s *Service) observe(role auth.Role, outcome string) {
	if s.observer != nil {
		s.observer.ObserveProvisioning(string(role), outcome)
	}
}

func (s *Service) notify(ctx context.Context, ev notification.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, ev)
	}
}

// -- Authentication --

var errInvalidCredentials = apperr.Unauthenticated("INVALID_CREDENTIALS", "invalid username or password")

// Authenticate verifies credentials and returns the principal for a new
// session. Accounts without a usable role are refused so the client signs
// in again.
func (s *Service) Authenticate(ctx context.Context, username, plain string) (*auth.Principal, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if db.IsNoRows(err) {
			// equalize timing with the found-user path
			_ = s.hasher.Verify(s.dummy(), plain)
			return nil, errInvalidCredentials
		}
		return nil, apperr.Internal(err)
	}

	if err := s.hasher.Verify(u.PasswordHash, plain); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("stored password hash is unreadable")
		}
		return nil, errInvalidCredentials
	}
	if !u.Active {
		return nil, apperr.Unauthenticated("ACCOUNT_INACTIVE", "account is deactivated")
	}
	if !u.Role.HasProfile() {
		return nil, apperr.Unauthenticated(string(auth.ReasonReauthenticate), "user role undefined")
	}

	profileID, err := s.profileIDFor(ctx, u)
	if err != nil {
		if db.IsNoRows(err) {
			s.logger.Warn().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("account has no profile")
			return nil, apperr.Unauthenticated(string(auth.ReasonReauthenticate), "user role undefined")
		}
		return nil, apperr.Internal(err)
	}

	if s.hasher.NeedsRehash(u.PasswordHash) {
		if hash, err := s.hasher.Hash(plain); err == nil {
			if err := s.users.SetPasswordHash(ctx, u.ID, hash); err != nil {
				s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("password rehash not saved")
			}
		}
	}
	if err := s.users.TouchLogin(ctx, u.ID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID.String()).Msg("last login not recorded")
	}

	return &auth.Principal{
		UserID:    u.ID,
		Username:  u.Username,
		Role:      u.Role,
		ProfileID: profileID,
	}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	return s.dummyHash
}

func (s *Service) profileIDFor(ctx context.Context, u *User) (uuid.UUID, error) {
	switch u.Role {
	case auth.RolePatient:
		p, err := s.patients.GetByUserID(ctx, u.ID)
		if err != nil {
			return uuid.Nil, err
		}
		return p.ID, nil
	case auth.RoleDoctor:
		d, err := s.doctors.GetByUserID(ctx, u.ID)
		if err != nil {
			return uuid.Nil, err
		}
		return d.ID, nil
	case auth.RoleAdmin:
		a, err := s.admins.GetByUserID(ctx, u.ID)
		if err != nil {
			return uuid.Nil, err
		}
		return a.ID, nil
	}
	return uuid.Nil, errors.New("role " + string(u.Role) + " has no profile")
}

// Identity is the signed-in account with its profile.
type Identity struct {
	User    *User       `json:"user"`
	Profile interface{} `json:"profile,omitempty"`
}

// Me returns the caller's own account and profile.
func (s *Service) Me(ctx context.Context, actor *auth.Principal) (*Identity, error) {
	if actor == nil {
		return nil, auth.Decision{Reason: auth.ReasonUnauthenticated}.Err()
	}
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordPrincipal, OwnerUserID: actor.UserID}); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, actor.UserID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.Unauthenticated(string(auth.ReasonReauthenticate), "account no longer exists")
		}
		return nil, apperr.Internal(err)
	}

	out := &Identity{User: u}
	var profileErr error
	switch u.Role {
	case auth.RolePatient:
		out.Profile, profileErr = s.patients.GetByUserID(ctx, u.ID)
	case auth.RoleDoctor:
		out.Profile, profileErr = s.doctors.GetByUserID(ctx, u.ID)
	case auth.RoleAdmin:
		out.Profile, profileErr = s.admins.GetByUserID(ctx, u.ID)
	}
	if profileErr != nil && !db.IsNoRows(profileErr) {
		return nil, apperr.Internal(profileErr)
	}
	if profileErr != nil {
		out.Profile = nil
	}
	return out, nil
}

// -- User administration --

func (s *Service) ListUsers(ctx context.Context, actor *auth.Principal, role auth.Role, limit, offset int) ([]*User, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordPrincipal}); err != nil {
		return nil, 0, err
	}
	if role != "" && !role.Valid() {
		return nil, 0, apperr.FieldError("role", "is not a known role")
	}
	items, total, err := s.users.List(ctx, role, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) GetUser(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, s.policy.Missing(actor, auth.OpRead, auth.RecordPrincipal, "user")
		}
		return nil, apperr.Internal(err)
	}
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordPrincipal, OwnerUserID: u.ID}); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUser changes username, email or the active flag.
func (s *Service) UpdateUser(ctx context.Context, actor *auth.Principal, id uuid.UUID, upd UserUpdate) (*User, error) {
	if err := s.policy.Check(actor, auth.OpUpdate, auth.Target{Type: auth.RecordPrincipal, OwnerUserID: id}); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("user")
		}
		return nil, apperr.Internal(err)
	}

	wasActive := u.Active
	f := fieldErrors{}
	if upd.Username != nil {
		u.Username = strings.TrimSpace(*upd.Username)
		validateUsername(f, u.Username)
	}
	if upd.Email != nil {
		u.Email = strings.TrimSpace(*upd.Email)
		validateEmail(f, u.Email)
	}
	if upd.Active != nil {
		if !*upd.Active && actor.UserID == u.ID {
			f.add("active", "cannot deactivate your own account")
		}
		u.Active = *upd.Active
	}
	if len(f) > 0 {
		return nil, apperr.Validation("invalid account details", f)
	}

	usernameTaken, emailTaken, err := s.users.Taken(ctx, u.Username, u.Email, u.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if usernameTaken {
		f.add("username", "is already taken")
	}
	if emailTaken {
		f.add("email", "is already registered")
	}
	if len(f) > 0 {
		return nil, apperr.Validation("account already exists", f)
	}

	if wasActive && !u.Active {
		if err := s.endSessions(ctx, u.ID); err != nil {
			return nil, err
		}
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, accountConflict(err)
	}
	return u, nil
}

// DeactivateUser disables sign-in for an account and ends its live
// sessions. Records that reference the account's profile are kept.
func (s *Service) DeactivateUser(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	if err := s.policy.Check(actor, auth.OpDelete, auth.Target{Type: auth.RecordPrincipal, OwnerUserID: id}); err != nil {
		return err
	}
	if actor.UserID == id {
		return apperr.FieldError("id", "cannot deactivate your own account")
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("user")
		}
		return apperr.Internal(err)
	}
	if !u.Active {
		return nil
	}
	if err := s.endSessions(ctx, id); err != nil {
		return err
	}
	u.Active = false
	if err := s.users.Update(ctx, u); err != nil {
		return apperr.Internal(err)
	}
	s.logger.Info().Str("user_id", id.String()).Str("by", actor.UserID.String()).Msg("account deactivated")
	return nil
}

// -- Profiles --

func (s *Service) ListPatients(ctx context.Context, actor *auth.Principal, limit, offset int) ([]*PatientProfile, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordPatientProfile}); err != nil {
		return nil, 0, err
	}
	// patients may list only themselves
	if actor.Role == auth.RolePatient {
		p, err := s.patients.GetByID(ctx, actor.ProfileID)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, 0, nil
			}
			return nil, 0, apperr.Internal(err)
		}
		if offset > 0 {
			return nil, 1, nil
		}
		return []*PatientProfile{p}, 1, nil
	}
	items, total, err := s.patients.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) GetPatient(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*PatientProfile, error) {
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordPatientProfile, PatientID: id}); err != nil {
		return nil, err
	}
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient")
		}
		return nil, apperr.Internal(err)
	}
	return p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, actor *auth.Principal, id uuid.UUID, in ProfileInput) (*PatientProfile, error) {
	if err := s.policy.Check(actor, auth.OpUpdate, auth.Target{Type: auth.RecordPatientProfile, PatientID: id}); err != nil {
		return nil, err
	}
	f := fieldErrors{}
	validateProfile(f, &in, auth.RolePatient, s.phoneRegion)
	if len(f) > 0 {
		return nil, apperr.Validation("invalid profile", f)
	}

	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient")
		}
		return nil, apperr.Internal(err)
	}
	p.Demographics = in.demographics()
	p.MedicalHistory = in.MedicalHistory
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, apperr.Internal(err)
	}
	return p, nil
}

func (s *Service) ListDoctors(ctx context.Context, actor *auth.Principal, specialization string, limit, offset int) ([]*DoctorProfile, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordDoctorProfile}); err != nil {
		return nil, 0, err
	}
	items, total, err := s.doctors.List(ctx, strings.TrimSpace(specialization), limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) GetDoctor(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*DoctorProfile, error) {
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordDoctorProfile, DoctorID: id}); err != nil {
		return nil, err
	}
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("doctor")
		}
		return nil, apperr.Internal(err)
	}
	return d, nil
}

func (s *Service) UpdateDoctor(ctx context.Context, actor *auth.Principal, id uuid.UUID, in ProfileInput) (*DoctorProfile, error) {
	if err := s.policy.Check(actor, auth.OpUpdate, auth.Target{Type: auth.RecordDoctorProfile, DoctorID: id}); err != nil {
		return nil, err
	}
	f := fieldErrors{}
	validateProfile(f, &in, auth.RoleDoctor, s.phoneRegion)
	if len(f) > 0 {
		return nil, apperr.Validation("invalid profile", f)
	}

	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("doctor")
		}
		return nil, apperr.Internal(err)
	}
	d.Demographics = in.demographics()
	d.Specialization = in.Specialization
	d.AvailableDays = in.AvailableDays
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, apperr.Internal(err)
	}
	return d, nil
}

// -- Directory --

// PatientContact resolves a patient profile id to a name and address.
func (s *Service) PatientContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	c, err := s.patients.Contact(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("patient")
		}
		return nil, apperr.Internal(err)
	}
	return c, nil
}

// DoctorContact resolves a doctor profile id to a name and address.
func (s *Service) DoctorContact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	c, err := s.doctors.Contact(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("doctor")
		}
		return nil, apperr.Internal(err)
	}
	return c, nil
}
