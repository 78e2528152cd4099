package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/notification"
	"github.com/hospital/portal/internal/platform/password"
)

// -- In-memory store shared by the mock repositories --

type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*User
	patients map[uuid.UUID]*PatientProfile
	doctors  map[uuid.UUID]*DoctorProfile
	admins   map[uuid.UUID]*AdminProfile

	createUserErr error
	profileErr    error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uuid.UUID]*User),
		patients: make(map[uuid.UUID]*PatientProfile),
		doctors:  make(map[uuid.UUID]*DoctorProfile),
		admins:   make(map[uuid.UUID]*AdminProfile),
	}
}

type memSnapshot struct {
	users    map[uuid.UUID]*User
	patients map[uuid.UUID]*PatientProfile
	doctors  map[uuid.UUID]*DoctorProfile
	admins   map[uuid.UUID]*AdminProfile
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{copyMap(s.users), copyMap(s.patients), copyMap(s.doctors), copyMap(s.admins)}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.patients, s.doctors, s.admins = snap.users, snap.patients, snap.doctors, snap.admins
}

// fakeTx discards every write made inside a failed unit of work.
type fakeTx struct {
	store     *memStore
	commits   int
	rollbacks int
}

func (t *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.store.snapshot()
	if err := fn(ctx); err != nil {
		t.store.restore(snap)
		t.rollbacks++
		return err
	}
	t.commits++
	return nil
}

func notFound(what string) error {
	return fmt.Errorf("get %s: %w", what, pgx.ErrNoRows)
}

type mockUserRepo struct{ s *memStore }

func (m mockUserRepo) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.createUserErr != nil {
		return m.s.createUserErr
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.s.users[u.ID] = u
	return nil
}

func (m mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, notFound("user")
	}
	cp := *u
	return &cp, nil
}

func (m mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, u := range m.s.users {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user")
}

func (m mockUserRepo) Taken(_ context.Context, username, email string, excludeID uuid.UUID) (bool, bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var un, em bool
	for _, u := range m.s.users {
		if u.ID == excludeID {
			continue
		}
		un = un || strings.EqualFold(u.Username, username)
		em = em || strings.EqualFold(u.Email, email)
	}
	return un, em, nil
}

func (m mockUserRepo) Update(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[u.ID]; !ok {
		return notFound("user")
	}
	cp := *u
	m.s.users[u.ID] = &cp
	return nil
}

func (m mockUserRepo) SetPasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.users[id].PasswordHash = hash
	return nil
}

func (m mockUserRepo) TouchLogin(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	now := time.Now()
	m.s.users[id].LastLoginAt = &now
	return nil
}

func (m mockUserRepo) List(_ context.Context, role auth.Role, limit, offset int) ([]*User, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var result []*User
	for _, u := range m.s.users {
		if role == "" || u.Role == role {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, len(result), nil
}

type mockPatientRepo struct{ s *memStore }

func (m mockPatientRepo) Create(_ context.Context, p *PatientProfile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.profileErr != nil {
		return m.s.profileErr
	}
	p.ID = uuid.New()
	m.s.patients[p.ID] = p
	return nil
}

func (m mockPatientRepo) GetByID(_ context.Context, id uuid.UUID) (*PatientProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.patients[id]
	if !ok {
		return nil, notFound("patient")
	}
	return p, nil
}

func (m mockPatientRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*PatientProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.patients {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, notFound("patient")
}

func (m mockPatientRepo) Update(_ context.Context, p *PatientProfile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.patients[p.ID] = p
	return nil
}

func (m mockPatientRepo) List(_ context.Context, limit, offset int) ([]*PatientProfile, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var result []*PatientProfile
	for _, p := range m.s.patients {
		result = append(result, p)
	}
	return result, len(result), nil
}

func (m mockPatientRepo) Contact(_ context.Context, id uuid.UUID) (*Contact, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.patients[id]
	if !ok {
		return nil, notFound("patient")
	}
	return &Contact{ProfileID: p.ID, Name: p.FullName, Email: m.s.users[p.UserID].Email}, nil
}

type mockDoctorRepo struct{ s *memStore }

func (m mockDoctorRepo) Create(_ context.Context, d *DoctorProfile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.profileErr != nil {
		return m.s.profileErr
	}
	d.ID = uuid.New()
	m.s.doctors[d.ID] = d
	return nil
}

func (m mockDoctorRepo) GetByID(_ context.Context, id uuid.UUID) (*DoctorProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.doctors[id]
	if !ok {
		return nil, notFound("doctor")
	}
	return d, nil
}

func (m mockDoctorRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, d := range m.s.doctors {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, notFound("doctor")
}

func (m mockDoctorRepo) Update(_ context.Context, d *DoctorProfile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.doctors[d.ID] = d
	return nil
}

func (m mockDoctorRepo) List(_ context.Context, specialization string, limit, offset int) ([]*DoctorProfile, int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var result []*DoctorProfile
	for _, d := range m.s.doctors {
		if specialization == "" || strings.EqualFold(d.Specialization, specialization) {
			result = append(result, d)
		}
	}
	return result, len(result), nil
}

func (m mockDoctorRepo) Contact(_ context.Context, id uuid.UUID) (*Contact, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	d, ok := m.s.doctors[id]
	if !ok {
		return nil, notFound("doctor")
	}
	return &Contact{ProfileID: d.ID, Name: d.FullName, Email: m.s.users[d.UserID].Email}, nil
}

type mockAdminRepo struct{ s *memStore }

func (m mockAdminRepo) Create(_ context.Context, a *AdminProfile) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.profileErr != nil {
		return m.s.profileErr
	}
	a.ID = uuid.New()
	m.s.admins[a.ID] = a
	return nil
}

func (m mockAdminRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*AdminProfile, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, a := range m.s.admins {
		if a.UserID == userID {
			return a, nil
		}
	}
	return nil, notFound("admin")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notification.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

type countingObserver struct {
	counts map[string]int
}

func (o *countingObserver) ObserveProvisioning(role, outcome string) {
	o.counts[role+"/"+outcome]++
}

// -- Fixture --

type recordingRevoker struct {
	mu      sync.Mutex
	revoked map[uuid.UUID]time.Time
	err     error
}

func (r *recordingRevoker) RevokeUser(_ context.Context, userID uuid.UUID, issuedBefore, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.revoked[userID] = issuedBefore
	return nil
}

func (r *recordingRevoker) has(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.revoked[id]
	return ok
}

type fixture struct {
	svc      *Service
	store    *memStore
	tx       *fakeTx
	notifier *recordingNotifier
	observer *countingObserver
	sessions *recordingRevoker
}

func newFixture() *fixture {
	store := newMemStore()
	tx := &fakeTx{store: store}
	hasher := password.NewHasher(password.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16})
	svc := NewService(tx, mockUserRepo{store}, mockPatientRepo{store}, mockDoctorRepo{store}, mockAdminRepo{store},
		hasher, auth.NewEngine(), zerolog.Nop())
	f := &fixture{
		svc:      svc,
		store:    store,
		tx:       tx,
		notifier: &recordingNotifier{},
		observer: &countingObserver{counts: map[string]int{}},
		sessions: &recordingRevoker{revoked: map[uuid.UUID]time.Time{}},
	}
	svc.SetNotifier(f.notifier)
	svc.SetObserver(f.observer)
	svc.SetSessionRevoker(f.sessions, time.Hour)
	return f
}

func age(n int) *int { return &n }

func patientSignup(username string) ProvisionRequest {
	return ProvisionRequest{
		Account: AccountInput{
			Username:        username,
			Email:           username + "@example.com",
			Password:        "correct-horse",
			PasswordConfirm: "correct-horse",
		},
		Profile: ProfileInput{FullName: "Pat " + username, Age: age(34), Gender: GenderFemale},
	}
}

func doctorRequest(username string) ProvisionRequest {
	return ProvisionRequest{
		Role: auth.RoleDoctor,
		Account: AccountInput{
			Username: username,
			Email:    username + "@example.com",
			Password: "stethoscope",
		},
		Profile: ProfileInput{FullName: "Dr " + username, Age: age(45), Gender: GenderMale, Specialization: "Cardiology"},
	}
}

func (f *fixture) admin(t *testing.T) *auth.Principal {
	t.Helper()
	acct, err := f.svc.CreateAdmin(context.Background(),
		AccountInput{Username: "root", Email: "root@example.com", Password: "administrator"},
		ProfileInput{FullName: "Root Admin", Gender: GenderOther})
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	return &auth.Principal{UserID: acct.User.ID, Role: auth.RoleAdmin, ProfileID: acct.ProfileID}
}

func (f *fixture) patient(t *testing.T, username string) *auth.Principal {
	t.Helper()
	acct, err := f.svc.Provision(context.Background(), nil, patientSignup(username))
	if err != nil {
		t.Fatalf("Provision patient: %v", err)
	}
	return &auth.Principal{UserID: acct.User.ID, Role: auth.RolePatient, ProfileID: acct.ProfileID}
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

// -- Provisioning --

func TestCreateAdmin_NameOnly(t *testing.T) {
	f := newFixture()
	acct, err := f.svc.CreateAdmin(context.Background(),
		AccountInput{Username: "admin", Email: "admin@example.com", Password: "administrator", PasswordConfirm: "administrator"},
		ProfileInput{FullName: "Administrator"})
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if acct.User.Role != auth.RoleAdmin {
		t.Errorf("expected admin role, got %s", acct.User.Role)
	}
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	profile, ok := f.store.admins[acct.ProfileID]
	if !ok {
		t.Fatal("expected an admin profile")
	}
	if profile.Gender != GenderOther {
		t.Errorf("expected gender to default to Other, got %q", profile.Gender)
	}
}

func TestProvision_PatientStillRequiresGender(t *testing.T) {
	f := newFixture()
	req := patientSignup("alice")
	req.Profile.Gender = ""
	_, err := f.svc.Provision(context.Background(), nil, req)
	expectKind(t, err, apperr.KindValidation)
}

func TestProvision_SelfRegistrationCreatesPatient(t *testing.T) {
	f := newFixture()
	acct, err := f.svc.Provision(context.Background(), nil, patientSignup("alice"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acct.User.Role != auth.RolePatient {
		t.Errorf("expected patient role, got %s", acct.User.Role)
	}
	if !acct.User.Active {
		t.Error("expected new account to be active")
	}
	if acct.User.PasswordHash == "" || acct.User.PasswordHash == "correct-horse" {
		t.Error("expected password to be hashed")
	}
	p, ok := f.store.patients[acct.ProfileID]
	if !ok || p.UserID != acct.User.ID {
		t.Fatal("expected patient profile linked to the new user")
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0].Type != notification.EventAccountProvisioned {
		t.Errorf("expected one welcome notification, got %+v", f.notifier.events)
	}
	if f.observer.counts["patient/created"] != 1 {
		t.Errorf("expected created outcome, got %v", f.observer.counts)
	}
}

func TestProvision_SelfRegistrationOnlyPatients(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Provision(context.Background(), nil, doctorRequest("drwho"))
	expectKind(t, err, apperr.KindForbidden)
	if len(f.store.users) != 0 {
		t.Error("expected no account to be written")
	}
}

func TestProvision_NonAdminActorDenied(t *testing.T) {
	f := newFixture()
	p := f.patient(t, "alice")
	_, err := f.svc.Provision(context.Background(), p, doctorRequest("drwho"))
	expectKind(t, err, apperr.KindForbidden)
}

func TestProvision_Validation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*ProvisionRequest)
		field string
	}{
		{"confirmation mismatch", func(r *ProvisionRequest) { r.Account.PasswordConfirm = "other-horse" }, "password_confirm"},
		{"short password", func(r *ProvisionRequest) { r.Account.Password, r.Account.PasswordConfirm = "short", "short" }, "password"},
		{"bad username", func(r *ProvisionRequest) { r.Account.Username = "has space" }, "username"},
		{"bad email", func(r *ProvisionRequest) { r.Account.Email = "not-an-email" }, "email"},
		{"display name email", func(r *ProvisionRequest) { r.Account.Email = "Alice <alice@example.com>" }, "email"},
		{"missing name", func(r *ProvisionRequest) { r.Profile.FullName = "  " }, "full_name"},
		{"bad gender", func(r *ProvisionRequest) { r.Profile.Gender = "unknown" }, "gender"},
		{"negative age", func(r *ProvisionRequest) { r.Profile.Age = age(-1) }, "age"},
		{"bad phone", func(r *ProvisionRequest) { r.Profile.Phone = "12345" }, "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			req := patientSignup("alice")
			tt.edit(&req)
			_, err := f.svc.Provision(context.Background(), nil, req)
			expectKind(t, err, apperr.KindValidation)
			var ae *apperr.Error
			errors.As(err, &ae)
			if _, ok := ae.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, ae.Fields)
			}
			if len(f.store.users) != 0 {
				t.Error("expected no account to be written")
			}
		})
	}
}

func TestProvision_DoctorRequiresSpecialization(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	req := doctorRequest("drwho")
	req.Profile.Specialization = ""
	_, err := f.svc.Provision(context.Background(), admin, req)
	expectKind(t, err, apperr.KindValidation)
}

func TestProvision_PhoneNormalized(t *testing.T) {
	f := newFixture()
	req := patientSignup("alice")
	req.Profile.Phone = "+1 650-253-0000"
	acct, err := f.svc.Provision(context.Background(), nil, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.store.patients[acct.ProfileID].Phone; got != "+16502530000" {
		t.Errorf("expected E.164 phone, got %q", got)
	}
}

func TestProvision_AdminCreatesDoctor(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	acct, err := f.svc.Provision(context.Background(), admin, doctorRequest("drwho"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, ok := f.store.doctors[acct.ProfileID]
	if !ok || d.Specialization != "Cardiology" {
		t.Errorf("expected doctor profile, got %+v", d)
	}
}

func TestProvision_AdminDuplicateUsername(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	if _, err := f.svc.Provision(context.Background(), admin, doctorRequest("drwho")); err != nil {
		t.Fatalf("first provision: %v", err)
	}
	users, doctors := len(f.store.users), len(f.store.doctors)

	req := doctorRequest("DrWho")
	req.Account.Email = "someone-else@example.com"
	_, err := f.svc.Provision(context.Background(), admin, req)
	expectKind(t, err, apperr.KindValidation)

	if len(f.store.users) != users || len(f.store.doctors) != doctors {
		t.Error("expected no account or profile to be written")
	}
}

func TestProvision_UniqueViolationRace(t *testing.T) {
	f := newFixture()
	f.store.createUserErr = fmt.Errorf("insert user: %w",
		&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := f.svc.Provision(context.Background(), nil, patientSignup("alice"))
	expectKind(t, err, apperr.KindValidation)
	var ae *apperr.Error
	errors.As(err, &ae)
	if ae.Fields["email"] == "" {
		t.Errorf("expected email field error, got %v", ae.Fields)
	}
	if f.observer.counts["patient/rejected"] != 1 {
		t.Errorf("expected rejected outcome, got %v", f.observer.counts)
	}
}

func TestProvision_ProfileFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.store.profileErr = errors.New("disk full")

	_, err := f.svc.Provision(context.Background(), nil, patientSignup("alice"))
	expectKind(t, err, apperr.KindProvisioningFailure)

	if len(f.store.users) != 0 {
		t.Errorf("expected zero users after rollback, got %d", len(f.store.users))
	}
	if f.tx.rollbacks != 1 || f.tx.commits != 0 {
		t.Errorf("expected one rollback and no commit, got %d/%d", f.tx.rollbacks, f.tx.commits)
	}
	if len(f.notifier.events) != 0 {
		t.Error("expected no notification for a failed provisioning")
	}
	if f.observer.counts["patient/failed"] != 1 {
		t.Errorf("expected failed outcome, got %v", f.observer.counts)
	}
}

// -- Authentication --

func TestAuthenticate(t *testing.T) {
	f := newFixture()
	want := f.patient(t, "alice")

	p, err := f.svc.Authenticate(context.Background(), "Alice", "correct-horse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != want.UserID || p.ProfileID != want.ProfileID || p.Role != auth.RolePatient {
		t.Errorf("unexpected principal %+v", p)
	}
	if f.store.users[want.UserID].LastLoginAt == nil {
		t.Error("expected last login to be recorded")
	}
}

func TestAuthenticate_Failures(t *testing.T) {
	f := newFixture()
	f.patient(t, "alice")
	f.patient(t, "bob")
	f.store.users[f.mustUserID(t, "bob")].Active = false

	ghost := &User{ID: uuid.New(), Username: "ghost", Email: "ghost@example.com", Role: auth.RoleUnassigned, Active: true}
	ghost.PasswordHash, _ = f.svc.hasher.Hash("correct-horse")
	f.store.users[ghost.ID] = ghost

	tests := []struct {
		name     string
		username string
		password string
		code     string
	}{
		{"wrong password", "alice", "wrong-horse", "INVALID_CREDENTIALS"},
		{"unknown user", "nobody", "correct-horse", "INVALID_CREDENTIALS"},
		{"inactive", "bob", "correct-horse", "ACCOUNT_INACTIVE"},
		{"unassigned role", "ghost", "correct-horse", string(auth.ReasonReauthenticate)},
	}
	for _, tt := range tests {
		_, err := f.svc.Authenticate(context.Background(), tt.username, tt.password)
		expectKind(t, err, apperr.KindUnauthenticated)
		var ae *apperr.Error
		errors.As(err, &ae)
		if ae.Code != tt.code {
			t.Errorf("%s: expected code %s, got %s", tt.name, tt.code, ae.Code)
		}
	}
}

func (f *fixture) mustUserID(t *testing.T, username string) uuid.UUID {
	t.Helper()
	for id, u := range f.store.users {
		if u.Username == username {
			return id
		}
	}
	t.Fatalf("user %s not found", username)
	return uuid.Nil
}

func TestMe(t *testing.T) {
	f := newFixture()
	p := f.patient(t, "alice")
	me, err := f.svc.Me(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	profile, ok := me.Profile.(*PatientProfile)
	if !ok || profile.ID != p.ProfileID {
		t.Errorf("expected own patient profile, got %#v", me.Profile)
	}

	_, err = f.svc.Me(context.Background(), nil)
	expectKind(t, err, apperr.KindUnauthenticated)
}

// -- Administration --

func TestListUsers_AdminOnly(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	alice := f.patient(t, "alice")

	items, total, err := f.svc.ListUsers(context.Background(), admin, auth.RolePatient, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].ID != alice.UserID {
		t.Errorf("expected only alice, got %d users", total)
	}

	_, _, err = f.svc.ListUsers(context.Background(), alice, "", 20, 0)
	expectKind(t, err, apperr.KindForbidden)
}

func TestUpdateUser_DuplicateEmail(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	alice := f.patient(t, "alice")
	f.patient(t, "bob")

	email := "bob@example.com"
	_, err := f.svc.UpdateUser(context.Background(), admin, alice.UserID, UserUpdate{Email: &email})
	expectKind(t, err, apperr.KindValidation)

	email = "alice.new@example.com"
	u, err := f.svc.UpdateUser(context.Background(), admin, alice.UserID, UserUpdate{Email: &email})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Email != email {
		t.Errorf("expected updated email, got %s", u.Email)
	}
}

func TestDeactivateUser(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	alice := f.patient(t, "alice")

	if err := f.svc.DeactivateUser(context.Background(), admin, admin.UserID); err == nil {
		t.Error("expected admin not to deactivate own account")
	}
	if err := f.svc.DeactivateUser(context.Background(), admin, alice.UserID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.users[alice.UserID].Active {
		t.Error("expected alice to be inactive")
	}
	if _, ok := f.store.patients[alice.ProfileID]; !ok {
		t.Error("expected profile to be kept")
	}
	if !f.sessions.has(alice.UserID) {
		t.Error("expected alice's sessions to be revoked")
	}

	_, err := f.svc.Authenticate(context.Background(), "alice", "correct-horse")
	expectKind(t, err, apperr.KindUnauthenticated)

	err = f.svc.DeactivateUser(context.Background(), alice, admin.UserID)
	expectKind(t, err, apperr.KindForbidden)
}

func TestDeactivateUser_SessionStoreDown(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	alice := f.patient(t, "alice")
	f.sessions.err = errors.New("redis down")

	err := f.svc.DeactivateUser(context.Background(), admin, alice.UserID)
	expectKind(t, err, apperr.KindUnavailable)
	if !f.store.users[alice.UserID].Active {
		t.Error("account must stay active when its sessions could not be ended")
	}
}

func TestUpdateUser_DeactivationRevokesSessions(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	alice := f.patient(t, "alice")
	bob := f.patient(t, "bob")

	inactive, active := false, true
	if _, err := f.svc.UpdateUser(context.Background(), admin, bob.UserID, UserUpdate{Active: &active}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if f.sessions.has(bob.UserID) {
		t.Error("keeping an account active must not revoke its sessions")
	}

	if _, err := f.svc.UpdateUser(context.Background(), admin, alice.UserID, UserUpdate{Active: &inactive}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if !f.sessions.has(alice.UserID) {
		t.Error("expected alice's sessions to be revoked")
	}
}

// -- Profiles --

func TestGetPatient_Scoping(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	alice := f.patient(t, "alice")
	bob := f.patient(t, "bob")
	docAcct, err := f.svc.Provision(context.Background(), admin, doctorRequest("drwho"))
	if err != nil {
		t.Fatalf("Provision doctor: %v", err)
	}
	doctor := &auth.Principal{UserID: docAcct.User.ID, Role: auth.RoleDoctor, ProfileID: docAcct.ProfileID}

	if _, err := f.svc.GetPatient(context.Background(), alice, alice.ProfileID); err != nil {
		t.Errorf("expected patient to read own profile: %v", err)
	}
	_, err = f.svc.GetPatient(context.Background(), alice, bob.ProfileID)
	expectKind(t, err, apperr.KindForbidden)

	// a guessed id reads the same as someone else's record
	_, err = f.svc.GetPatient(context.Background(), alice, uuid.New())
	expectKind(t, err, apperr.KindForbidden)

	if _, err := f.svc.GetPatient(context.Background(), doctor, bob.ProfileID); err != nil {
		t.Errorf("expected doctor to read any patient: %v", err)
	}
	_, err = f.svc.GetPatient(context.Background(), admin, uuid.New())
	expectKind(t, err, apperr.KindNotFound)
}

func TestListPatients_PatientSeesSelf(t *testing.T) {
	f := newFixture()
	alice := f.patient(t, "alice")
	f.patient(t, "bob")

	items, total, err := f.svc.ListPatients(context.Background(), alice, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].ID != alice.ProfileID {
		t.Errorf("expected only own profile, got %d", total)
	}
}

func TestListDoctors_DoctorDenied(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	docAcct, err := f.svc.Provision(context.Background(), admin, doctorRequest("drwho"))
	if err != nil {
		t.Fatalf("Provision doctor: %v", err)
	}
	alice := f.patient(t, "alice")

	items, _, err := f.svc.ListDoctors(context.Background(), alice, "cardiology", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != docAcct.ProfileID {
		t.Errorf("expected the cardiologist, got %d doctors", len(items))
	}

	doctor := &auth.Principal{UserID: docAcct.User.ID, Role: auth.RoleDoctor, ProfileID: docAcct.ProfileID}
	_, _, err = f.svc.ListDoctors(context.Background(), doctor, "", 20, 0)
	expectKind(t, err, apperr.KindForbidden)
}

func TestUpdateDoctor_AdminOnly(t *testing.T) {
	f := newFixture()
	admin := f.admin(t)
	docAcct, err := f.svc.Provision(context.Background(), admin, doctorRequest("drwho"))
	if err != nil {
		t.Fatalf("Provision doctor: %v", err)
	}
	doctor := &auth.Principal{UserID: docAcct.User.ID, Role: auth.RoleDoctor, ProfileID: docAcct.ProfileID}

	in := ProfileInput{FullName: "Dr Who", Age: age(50), Gender: GenderMale, Specialization: "Neurology", AvailableDays: "Mon,Wed"}
	_, err = f.svc.UpdateDoctor(context.Background(), doctor, docAcct.ProfileID, in)
	expectKind(t, err, apperr.KindForbidden)

	d, err := f.svc.UpdateDoctor(context.Background(), admin, docAcct.ProfileID, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Specialization != "Neurology" || d.AvailableDays != "Mon,Wed" {
		t.Errorf("expected updated doctor, got %+v", d)
	}
}

func TestContacts(t *testing.T) {
	f := newFixture()
	alice := f.patient(t, "alice")

	c, err := f.svc.PatientContact(context.Background(), alice.ProfileID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Email != "alice@example.com" || c.Name != "Pat alice" {
		t.Errorf("unexpected contact %+v", c)
	}
	_, err = f.svc.DoctorContact(context.Background(), uuid.New())
	expectKind(t, err, apperr.KindNotFound)
}
