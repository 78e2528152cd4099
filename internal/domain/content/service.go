package content

import (
	"context"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
	"github.com/hospital/portal/internal/platform/notification"
)

const (
	maxTitleLength   = 200
	maxTextLength    = 10000
	maxLinkLength    = 2048
	maxMessageLength = 5000
	dateLayout       = "2006-01-02"
)

// Mailer delivers a message synchronously.
type Mailer interface {
	Send(ctx context.Context, ev notification.Event) error
}

type Service struct {
	facilities FacilityRepository
	education  EducationRepository
	bulletins  BulletinRepository
	policy     *auth.Engine
	logger     zerolog.Logger

	mailer         Mailer
	contactAddress string
	contactTimeout time.Duration
	now            func() time.Time
}

func NewService(facilities FacilityRepository, education EducationRepository, bulletins BulletinRepository, policy *auth.Engine, logger zerolog.Logger) *Service {
	return &Service{
		facilities:     facilities,
		education:      education,
		bulletins:      bulletins,
		policy:         policy,
		logger:         logger.With().Str("component", "content").Logger(),
		contactTimeout: 10 * time.Second,
		now:            time.Now,
	}
}

// SetContact configures where contact form messages go. A zero timeout
// keeps the default.
func (s *Service) SetContact(m Mailer, address string, timeout time.Duration) {
	s.mailer = m
	s.contactAddress = address
	if timeout > 0 {
		s.contactTimeout = timeout
	}
}

func requireText(fields map[string]string, name, value string, max int) {
	switch {
	case value == "":
		fields[name] = "is required"
	case len(value) > max:
		fields[name] = "is too long"
	}
}

func checkLink(fields map[string]string, link string, required bool) {
	if link == "" {
		if required {
			fields["link"] = "is required"
		}
		return
	}
	if len(link) > maxLinkLength {
		fields["link"] = "is too long"
		return
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fields["link"] = "must be an http or https URL"
	}
}

// -- Facilities --

func normalizeFacility(in FacilityInput) (FacilityInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	in.Departments = strings.TrimSpace(in.Departments)
	in.Resources = strings.TrimSpace(in.Resources)

	fields := map[string]string{}
	requireText(fields, "name", in.Name, maxTitleLength)
	requireText(fields, "location", in.Location, maxTitleLength)
	if len(in.Departments) > maxTextLength {
		fields["departments"] = "is too long"
	}
	if len(in.Resources) > maxTextLength {
		fields["resources"] = "is too long"
	}
	if len(fields) > 0 {
		return in, apperr.Validation("invalid facility", fields)
	}
	return in, nil
}

func (s *Service) CreateFacility(ctx context.Context, actor *auth.Principal, in FacilityInput) (*Facility, error) {
	if err := s.policy.Check(actor, auth.OpCreate, auth.Target{Type: auth.RecordFacility}); err != nil {
		return nil, err
	}
	in, err := normalizeFacility(in)
	if err != nil {
		return nil, err
	}
	f := &Facility{Name: in.Name, Location: in.Location, Departments: in.Departments, Resources: in.Resources}
	if err := s.facilities.Create(ctx, f); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info().Str("facility_id", f.ID.String()).Msg("facility created")
	return f, nil
}

func (s *Service) GetFacility(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Facility, error) {
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordFacility}); err != nil {
		return nil, err
	}
	f, err := s.facilities.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(actor, auth.OpRead, auth.RecordFacility, "facility", err)
	}
	return f, nil
}

func (s *Service) ListFacilities(ctx context.Context, actor *auth.Principal, limit, offset int) ([]*Facility, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordFacility}); err != nil {
		return nil, 0, err
	}
	items, total, err := s.facilities.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) UpdateFacility(ctx context.Context, actor *auth.Principal, id uuid.UUID, in FacilityInput) (*Facility, error) {
	if err := s.policy.Check(actor, auth.OpUpdate, auth.Target{Type: auth.RecordFacility}); err != nil {
		return nil, err
	}
	in, err := normalizeFacility(in)
	if err != nil {
		return nil, err
	}
	f := &Facility{ID: id, Name: in.Name, Location: in.Location, Departments: in.Departments, Resources: in.Resources}
	if err := s.facilities.Update(ctx, f); err != nil {
		return nil, s.lookupError(actor, auth.OpUpdate, auth.RecordFacility, "facility", err)
	}
	s.logger.Info().Str("facility_id", f.ID.String()).Msg("facility updated")
	return f, nil
}

func (s *Service) DeleteFacility(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	if err := s.policy.Check(actor, auth.OpDelete, auth.Target{Type: auth.RecordFacility}); err != nil {
		return err
	}
	if err := s.facilities.Delete(ctx, id); err != nil {
		return s.lookupError(actor, auth.OpDelete, auth.RecordFacility, "facility", err)
	}
	s.logger.Info().Str("facility_id", id.String()).Msg("facility deleted")
	return nil
}

// -- Education --

func normalizeEducation(in EducationInput) (EducationInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Link = strings.TrimSpace(in.Link)

	fields := map[string]string{}
	requireText(fields, "title", in.Title, maxTitleLength)
	requireText(fields, "description", in.Description, maxTextLength)
	checkLink(fields, in.Link, false)
	if len(fields) > 0 {
		return in, apperr.Validation("invalid education resource", fields)
	}
	return in, nil
}

func (s *Service) CreateEducation(ctx context.Context, actor *auth.Principal, in EducationInput) (*EducationResource, error) {
	if err := s.policy.Check(actor, auth.OpCreate, auth.Target{Type: auth.RecordEducation}); err != nil {
		return nil, err
	}
	in, err := normalizeEducation(in)
	if err != nil {
		return nil, err
	}
	r := &EducationResource{Title: in.Title, Description: in.Description, Link: in.Link}
	if err := s.education.Create(ctx, r); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info().Str("education_id", r.ID.String()).Msg("education resource created")
	return r, nil
}

func (s *Service) GetEducation(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*EducationResource, error) {
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordEducation}); err != nil {
		return nil, err
	}
	r, err := s.education.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(actor, auth.OpRead, auth.RecordEducation, "education resource", err)
	}
	return r, nil
}

func (s *Service) ListEducation(ctx context.Context, actor *auth.Principal, limit, offset int) ([]*EducationResource, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordEducation}); err != nil {
		return nil, 0, err
	}
	items, total, err := s.education.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) UpdateEducation(ctx context.Context, actor *auth.Principal, id uuid.UUID, in EducationInput) (*EducationResource, error) {
	if err := s.policy.Check(actor, auth.OpUpdate, auth.Target{Type: auth.RecordEducation}); err != nil {
		return nil, err
	}
	in, err := normalizeEducation(in)
	if err != nil {
		return nil, err
	}
	r := &EducationResource{ID: id, Title: in.Title, Description: in.Description, Link: in.Link}
	if err := s.education.Update(ctx, r); err != nil {
		return nil, s.lookupError(actor, auth.OpUpdate, auth.RecordEducation, "education resource", err)
	}
	return r, nil
}

func (s *Service) DeleteEducation(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	if err := s.policy.Check(actor, auth.OpDelete, auth.Target{Type: auth.RecordEducation}); err != nil {
		return err
	}
	if err := s.education.Delete(ctx, id); err != nil {
		return s.lookupError(actor, auth.OpDelete, auth.RecordEducation, "education resource", err)
	}
	return nil
}

// -- Bulletins --

func (s *Service) normalizeBulletin(in BulletinInput) (BulletinInput, time.Time, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Body = strings.TrimSpace(in.Body)
	in.Link = strings.TrimSpace(in.Link)
	in.PublishedOn = strings.TrimSpace(in.PublishedOn)

	fields := map[string]string{}
	if !in.Kind.Valid() {
		fields["kind"] = "must be one of announcement, health_bulletin, medical_research, publication"
	}
	requireText(fields, "title", in.Title, maxTitleLength)
	requireText(fields, "body", in.Body, maxTextLength)
	checkLink(fields, in.Link, false)

	published := s.now().UTC().Truncate(24 * time.Hour)
	if in.PublishedOn != "" {
		d, err := time.Parse(dateLayout, in.PublishedOn)
		if err != nil {
			fields["published_on"] = "must be YYYY-MM-DD"
		} else {
			published = d
		}
	}
	if len(fields) > 0 {
		return in, published, apperr.Validation("invalid bulletin", fields)
	}
	return in, published, nil
}

func (s *Service) CreateBulletin(ctx context.Context, actor *auth.Principal, in BulletinInput) (*Bulletin, error) {
	if err := s.policy.Check(actor, auth.OpCreate, auth.Target{Type: auth.RecordBulletin}); err != nil {
		return nil, err
	}
	in, published, err := s.normalizeBulletin(in)
	if err != nil {
		return nil, err
	}
	b := &Bulletin{Kind: in.Kind, Title: in.Title, Body: in.Body, Link: in.Link, PublishedOn: published}
	if err := s.bulletins.Create(ctx, b); err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info().Str("bulletin_id", b.ID.String()).Str("kind", string(b.Kind)).Msg("bulletin published")
	return b, nil
}

func (s *Service) GetBulletin(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Bulletin, error) {
	if err := s.policy.Check(actor, auth.OpRead, auth.Target{Type: auth.RecordBulletin}); err != nil {
		return nil, err
	}
	b, err := s.bulletins.GetByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(actor, auth.OpRead, auth.RecordBulletin, "bulletin", err)
	}
	return b, nil
}

func (s *Service) ListBulletins(ctx context.Context, actor *auth.Principal, kind BulletinKind, limit, offset int) ([]*Bulletin, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordBulletin}); err != nil {
		return nil, 0, err
	}
	if kind != "" && !kind.Valid() {
		return nil, 0, apperr.FieldError("kind", "is not a bulletin kind")
	}
	items, total, err := s.bulletins.List(ctx, kind, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) UpdateBulletin(ctx context.Context, actor *auth.Principal, id uuid.UUID, in BulletinInput) (*Bulletin, error) {
	if err := s.policy.Check(actor, auth.OpUpdate, auth.Target{Type: auth.RecordBulletin}); err != nil {
		return nil, err
	}
	in, published, err := s.normalizeBulletin(in)
	if err != nil {
		return nil, err
	}
	b := &Bulletin{ID: id, Kind: in.Kind, Title: in.Title, Body: in.Body, Link: in.Link, PublishedOn: published}
	if err := s.bulletins.Update(ctx, b); err != nil {
		return nil, s.lookupError(actor, auth.OpUpdate, auth.RecordBulletin, "bulletin", err)
	}
	return b, nil
}

func (s *Service) DeleteBulletin(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	if err := s.policy.Check(actor, auth.OpDelete, auth.Target{Type: auth.RecordBulletin}); err != nil {
		return err
	}
	if err := s.bulletins.Delete(ctx, id); err != nil {
		return s.lookupError(actor, auth.OpDelete, auth.RecordBulletin, "bulletin", err)
	}
	return nil
}

func (s *Service) lookupError(actor *auth.Principal, op auth.Operation, rt auth.RecordType, resource string, err error) error {
	if db.IsNoRows(err) {
		return s.policy.Missing(actor, op, rt, resource)
	}
	return apperr.Internal(err)
}

// -- Contact --

// Contact mails a contact form message to the hospital. The sender learns
// whether delivery failed.
func (s *Service) Contact(ctx context.Context, msg ContactMessage) error {
	msg.Name = strings.TrimSpace(msg.Name)
	msg.Email = strings.TrimSpace(msg.Email)
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.Message = strings.TrimSpace(msg.Message)

	fields := map[string]string{}
	requireText(fields, "name", msg.Name, maxTitleLength)
	requireText(fields, "subject", msg.Subject, maxTitleLength)
	requireText(fields, "message", msg.Message, maxMessageLength)
	if msg.Email == "" {
		fields["email"] = "is required"
	} else if addr, err := mail.ParseAddress(msg.Email); err != nil || addr.Address != msg.Email {
		fields["email"] = "is not a valid address"
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid contact message", fields)
	}

	if s.mailer == nil || s.contactAddress == "" {
		return apperr.Unavailable("contact mail", nil)
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.contactTimeout)
	defer cancel()

	err := s.mailer.Send(sendCtx, notification.Event{
		Type: notification.EventContactMessage,
		To:   s.contactAddress,
		Data: map[string]string{
			"name":    msg.Name,
			"email":   msg.Email,
			"subject": msg.Subject,
			"message": msg.Message,
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("contact message not delivered")
		return apperr.Unavailable("contact mail", err)
	}
	s.logger.Info().Str("subject", msg.Subject).Msg("contact message sent")
	return nil
}
