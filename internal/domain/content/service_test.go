package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/notification"
	"github.com/hospital/portal/pkg/pagination"
)

// -- Mocks --

// table is an in-memory stand-in for one content table.
type table[T any] struct {
	mu    sync.Mutex
	name  string
	items map[uuid.UUID]T
	order []uuid.UUID
}

func newTable[T any](name string) *table[T] {
	return &table[T]{name: name, items: make(map[uuid.UUID]T)}
}

func (t *table[T]) noRows(op string) error {
	return fmt.Errorf("%s %s: %w", op, t.name, pgx.ErrNoRows)
}

func (t *table[T]) insert(id uuid.UUID, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[id] = v
	t.order = append(t.order, id)
}

func (t *table[T]) get(id uuid.UUID) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.items[id]
	if !ok {
		var zero T
		return zero, t.noRows("get")
	}
	return v, nil
}

func (t *table[T]) replace(id uuid.UUID, v T) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return t.noRows("update")
	}
	t.items[id] = v
	return nil
}

func (t *table[T]) remove(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[id]; !ok {
		return t.noRows("delete")
	}
	delete(t.items, id)
	return nil
}

func (t *table[T]) list(keep func(T) bool, limit, offset int) ([]T, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []T
	for _, id := range t.order {
		v, ok := t.items[id]
		if ok && (keep == nil || keep(v)) {
			out = append(out, v)
		}
	}
	return pagination.Page(out, pagination.Params{Limit: limit, Offset: offset}), len(out)
}

type mockFacilityRepo struct{ *table[*Facility] }

func (m mockFacilityRepo) Create(_ context.Context, f *Facility) error {
	f.ID = uuid.New()
	f.CreatedAt, f.UpdatedAt = time.Now(), time.Now()
	cp := *f
	m.insert(f.ID, &cp)
	return nil
}

func (m mockFacilityRepo) GetByID(_ context.Context, id uuid.UUID) (*Facility, error) {
	f, err := m.get(id)
	if err != nil {
		return nil, err
	}
	cp := *f
	return &cp, nil
}

func (m mockFacilityRepo) Update(_ context.Context, f *Facility) error {
	cp := *f
	return m.replace(f.ID, &cp)
}

func (m mockFacilityRepo) Delete(_ context.Context, id uuid.UUID) error { return m.remove(id) }

func (m mockFacilityRepo) List(_ context.Context, limit, offset int) ([]*Facility, int, error) {
	items, total := m.list(nil, limit, offset)
	return items, total, nil
}

type mockEducationRepo struct{ *table[*EducationResource] }

func (m mockEducationRepo) Create(_ context.Context, r *EducationResource) error {
	r.ID = uuid.New()
	cp := *r
	m.insert(r.ID, &cp)
	return nil
}

func (m mockEducationRepo) GetByID(_ context.Context, id uuid.UUID) (*EducationResource, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (m mockEducationRepo) Update(_ context.Context, r *EducationResource) error {
	cp := *r
	return m.replace(r.ID, &cp)
}

func (m mockEducationRepo) Delete(_ context.Context, id uuid.UUID) error { return m.remove(id) }

func (m mockEducationRepo) List(_ context.Context, limit, offset int) ([]*EducationResource, int, error) {
	items, total := m.list(nil, limit, offset)
	return items, total, nil
}

type mockBulletinRepo struct{ *table[*Bulletin] }

func (m mockBulletinRepo) Create(_ context.Context, b *Bulletin) error {
	b.ID = uuid.New()
	cp := *b
	m.insert(b.ID, &cp)
	return nil
}

func (m mockBulletinRepo) GetByID(_ context.Context, id uuid.UUID) (*Bulletin, error) {
	b, err := m.get(id)
	if err != nil {
		return nil, err
	}
	cp := *b
	return &cp, nil
}

func (m mockBulletinRepo) Update(_ context.Context, b *Bulletin) error {
	cp := *b
	return m.replace(b.ID, &cp)
}

func (m mockBulletinRepo) Delete(_ context.Context, id uuid.UUID) error { return m.remove(id) }

func (m mockBulletinRepo) List(_ context.Context, kind BulletinKind, limit, offset int) ([]*Bulletin, int, error) {
	keep := func(b *Bulletin) bool { return kind == "" || b.Kind == kind }
	items, total := m.list(keep, limit, offset)
	sort.SliceStable(items, func(i, j int) bool { return items[i].PublishedOn.After(items[j].PublishedOn) })
	return items, total, nil
}

type recordingMailer struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
	block  bool
}

func (m *recordingMailer) Send(ctx context.Context, ev notification.Event) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

// -- Fixture --

var fixedNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	mailer *recordingMailer
	admin  *auth.Principal
	doctor *auth.Principal
}

func newFixture() *fixture {
	svc := NewService(
		mockFacilityRepo{newTable[*Facility]("facility")},
		mockEducationRepo{newTable[*EducationResource]("education resource")},
		mockBulletinRepo{newTable[*Bulletin]("bulletin")},
		auth.NewEngine(), zerolog.Nop(),
	)
	svc.now = func() time.Time { return fixedNow }
	mailer := &recordingMailer{}
	svc.SetContact(mailer, "desk@hospital.test", time.Second)
	return &fixture{
		svc:    svc,
		mailer: mailer,
		admin:  &auth.Principal{UserID: uuid.New(), Username: "root", Role: auth.RoleAdmin},
		doctor: &auth.Principal{UserID: uuid.New(), Username: "house", Role: auth.RoleDoctor, ProfileID: uuid.New()},
	}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	return ae.Fields
}

// -- Facilities --

func TestFacility_AdminLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.CreateFacility(ctx, f.admin, FacilityInput{
		Name: "  Main Campus ", Location: "North Wing", Departments: "Cardiology, Oncology",
	})
	if err != nil {
		t.Fatalf("CreateFacility: %v", err)
	}
	if created.Name != "Main Campus" {
		t.Errorf("expected trimmed name, got %q", created.Name)
	}

	got, err := f.svc.GetFacility(ctx, nil, created.ID)
	if err != nil {
		t.Fatalf("anonymous GetFacility: %v", err)
	}
	if got.Location != "North Wing" {
		t.Errorf("unexpected location %q", got.Location)
	}

	updated, err := f.svc.UpdateFacility(ctx, f.admin, created.ID, FacilityInput{Name: "Main Campus", Location: "South Wing"})
	if err != nil {
		t.Fatalf("UpdateFacility: %v", err)
	}
	if updated.Location != "South Wing" {
		t.Errorf("update not applied: %q", updated.Location)
	}

	if err := f.svc.DeleteFacility(ctx, f.admin, created.ID); err != nil {
		t.Fatalf("DeleteFacility: %v", err)
	}
	_, err = f.svc.GetFacility(ctx, nil, created.ID)
	requireKind(t, err, apperr.KindNotFound)
}

func TestFacility_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateFacility(context.Background(), f.admin, FacilityInput{Name: " "})
	requireKind(t, err, apperr.KindValidation)
	fields := fieldErrors(t, err)
	if fields["name"] == "" || fields["location"] == "" {
		t.Errorf("expected name and location errors, got %v", fields)
	}
}

func TestFacility_WritesAreAdminOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := FacilityInput{Name: "Clinic", Location: "Downtown"}

	_, err := f.svc.CreateFacility(ctx, f.doctor, in)
	requireKind(t, err, apperr.KindForbidden)

	_, err = f.svc.CreateFacility(ctx, nil, in)
	requireKind(t, err, apperr.KindUnauthenticated)

	created, _ := f.svc.CreateFacility(ctx, f.admin, in)
	err = f.svc.DeleteFacility(ctx, f.doctor, created.ID)
	requireKind(t, err, apperr.KindForbidden)
}

func TestFacility_UpdateMissing(t *testing.T) {
	f := newFixture()
	_, err := f.svc.UpdateFacility(context.Background(), f.admin, uuid.New(), FacilityInput{Name: "x", Location: "y"})
	requireKind(t, err, apperr.KindNotFound)
}

func TestFacility_PublicList(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.svc.CreateFacility(ctx, f.admin, FacilityInput{Name: fmt.Sprintf("Site %d", i), Location: "Town"})
	}
	items, total, err := f.svc.ListFacilities(ctx, nil, 2, 0)
	if err != nil {
		t.Fatalf("ListFacilities: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("expected 2 of 3, got %d of %d", len(items), total)
	}
}

// -- Education --

func TestEducation_LinkValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tests := []struct {
		link    string
		wantErr bool
	}{
		{"", false},
		{"https://who.int/health-topics", false},
		{"http://example.org/a?b=c", false},
		{"javascript:alert(1)", true},
		{"ftp://files.example.org/x", true},
		{"not a url", true},
		{"https://", true},
	}
	for _, tt := range tests {
		_, err := f.svc.CreateEducation(ctx, f.admin, EducationInput{Title: "Hand washing", Description: "Basics", Link: tt.link})
		if tt.wantErr {
			requireKind(t, err, apperr.KindValidation)
			if fieldErrors(t, err)["link"] == "" {
				t.Errorf("link %q: expected link error", tt.link)
			}
		} else if err != nil {
			t.Errorf("link %q: unexpected error %v", tt.link, err)
		}
	}
}

func TestEducation_CRUD(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.svc.CreateEducation(ctx, f.admin, EducationInput{Title: "Diabetes", Description: "Diet and exercise"})
	if err != nil {
		t.Fatalf("CreateEducation: %v", err)
	}
	if _, err := f.svc.UpdateEducation(ctx, f.admin, r.ID, EducationInput{Title: "Diabetes care", Description: "Updated"}); err != nil {
		t.Fatalf("UpdateEducation: %v", err)
	}
	got, err := f.svc.GetEducation(ctx, f.doctor, r.ID)
	if err != nil {
		t.Fatalf("GetEducation: %v", err)
	}
	if got.Title != "Diabetes care" {
		t.Errorf("unexpected title %q", got.Title)
	}
	if err := f.svc.DeleteEducation(ctx, f.admin, r.ID); err != nil {
		t.Fatalf("DeleteEducation: %v", err)
	}
	err = f.svc.DeleteEducation(ctx, f.admin, r.ID)
	requireKind(t, err, apperr.KindNotFound)
}

// -- Bulletins --

func TestBulletin_DefaultsPublishDate(t *testing.T) {
	f := newFixture()
	b, err := f.svc.CreateBulletin(context.Background(), f.admin, BulletinInput{
		Kind: KindAnnouncement, Title: "Visiting hours", Body: "Now 9 to 5",
	})
	if err != nil {
		t.Fatalf("CreateBulletin: %v", err)
	}
	if want := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC); !b.PublishedOn.Equal(want) {
		t.Errorf("expected %v, got %v", want, b.PublishedOn)
	}
}

func TestBulletin_Validation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateBulletin(context.Background(), f.admin, BulletinInput{
		Kind: "gossip", Title: "t", Body: "b", PublishedOn: "10/03/2026",
	})
	requireKind(t, err, apperr.KindValidation)
	fields := fieldErrors(t, err)
	if fields["kind"] == "" || fields["published_on"] == "" {
		t.Errorf("expected kind and published_on errors, got %v", fields)
	}
}

func TestBulletin_ListByKind(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	seed := []BulletinInput{
		{Kind: KindAnnouncement, Title: "a1", Body: "x", PublishedOn: "2026-01-01"},
		{Kind: KindMedicalResearch, Title: "r1", Body: "x", PublishedOn: "2026-02-01"},
		{Kind: KindAnnouncement, Title: "a2", Body: "x", PublishedOn: "2026-03-01"},
	}
	for _, in := range seed {
		if _, err := f.svc.CreateBulletin(ctx, f.admin, in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	items, total, err := f.svc.ListBulletins(ctx, nil, KindAnnouncement, 10, 0)
	if err != nil {
		t.Fatalf("ListBulletins: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 announcements, got %d", total)
	}
	if items[0].Title != "a2" {
		t.Errorf("expected newest first, got %q", items[0].Title)
	}

	_, total, _ = f.svc.ListBulletins(ctx, nil, "", 10, 0)
	if total != 3 {
		t.Errorf("expected 3 bulletins, got %d", total)
	}

	_, _, err = f.svc.ListBulletins(ctx, nil, "gossip", 10, 0)
	requireKind(t, err, apperr.KindValidation)
}

func TestBulletin_PatientCannotPublish(t *testing.T) {
	f := newFixture()
	patient := &auth.Principal{UserID: uuid.New(), Role: auth.RolePatient, ProfileID: uuid.New()}
	_, err := f.svc.CreateBulletin(context.Background(), patient, BulletinInput{Kind: KindPublication, Title: "t", Body: "b"})
	requireKind(t, err, apperr.KindForbidden)
}

// -- Contact --

func TestContact_Sends(t *testing.T) {
	f := newFixture()
	err := f.svc.Contact(context.Background(), ContactMessage{
		Name: "Ann", Email: "ann@example.com", Subject: "Parking", Message: "Is parking free?",
	})
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if len(f.mailer.events) != 1 {
		t.Fatalf("expected one message, got %d", len(f.mailer.events))
	}
	ev := f.mailer.events[0]
	if ev.To != "desk@hospital.test" || ev.Type != notification.EventContactMessage {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.Data["email"] != "ann@example.com" || ev.Data["subject"] != "Parking" {
		t.Errorf("unexpected data %v", ev.Data)
	}
}

func TestContact_Validation(t *testing.T) {
	f := newFixture()
	err := f.svc.Contact(context.Background(), ContactMessage{Name: "Ann", Email: "Ann <ann@example.com>", Subject: "", Message: "hi"})
	requireKind(t, err, apperr.KindValidation)
	fields := fieldErrors(t, err)
	if fields["email"] == "" || fields["subject"] == "" {
		t.Errorf("expected email and subject errors, got %v", fields)
	}
	if len(f.mailer.events) != 0 {
		t.Error("invalid message must not be sent")
	}
}

func TestContact_DeliveryFailure(t *testing.T) {
	f := newFixture()
	f.mailer.err = errors.New("smtp: connection refused")
	err := f.svc.Contact(context.Background(), ContactMessage{Name: "Ann", Email: "ann@example.com", Subject: "s", Message: "m"})
	requireKind(t, err, apperr.KindUnavailable)
}

func TestContact_Timeout(t *testing.T) {
	f := newFixture()
	f.mailer.block = true
	f.svc.SetContact(f.mailer, "desk@hospital.test", 20*time.Millisecond)

	start := time.Now()
	err := f.svc.Contact(context.Background(), ContactMessage{Name: "Ann", Email: "ann@example.com", Subject: "s", Message: "m"})
	requireKind(t, err, apperr.KindUnavailable)
	if time.Since(start) > time.Second {
		t.Error("contact send was not bounded by its timeout")
	}
}

func TestContact_NotConfigured(t *testing.T) {
	f := newFixture()
	f.svc.SetContact(nil, "", 0)
	err := f.svc.Contact(context.Background(), ContactMessage{Name: "Ann", Email: "ann@example.com", Subject: "s", Message: "m"})
	requireKind(t, err, apperr.KindUnavailable)
}
