package billing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/domain/identity"
	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
	"github.com/hospital/portal/internal/platform/notification"
	"github.com/hospital/portal/internal/platform/payment"
	"github.com/hospital/portal/internal/platform/websocket"
)

const maxDescriptionLength = 2000

// Directory resolves profile ids to contact details.
type Directory interface {
	PatientContact(ctx context.Context, id uuid.UUID) (*identity.Contact, error)
	DoctorContact(ctx context.Context, id uuid.UUID) (*identity.Contact, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notification.Event)
}

// Feed pushes bill changes to the connections of the given profiles.
type Feed interface {
	Publish(ctx context.Context, ev websocket.Event, profileIDs ...uuid.UUID)
}

type Service struct {
	bills     BillRepository
	directory Directory
	gateway   payment.Gateway
	policy    *auth.Engine
	logger    zerolog.Logger
	notifier  Notifier
	feed      Feed
}

func NewService(bills BillRepository, directory Directory, gateway payment.Gateway, policy *auth.Engine, logger zerolog.Logger) *Service {
	return &Service{
		bills:     bills,
		directory: directory,
		gateway:   gateway,
		policy:    policy,
		logger:    logger.With().Str("component", "billing").Logger(),
	}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) SetFeed(f Feed) { s.feed = f }

// Create issues a bill from the calling doctor. Nobody can bill on another
// doctor's behalf.
func (s *Service) Create(ctx context.Context, actor *auth.Principal, in BillInput) (*Bill, error) {
	var doctorID uuid.UUID
	if actor != nil {
		doctorID = actor.ProfileID
	}
	target := auth.Target{Type: auth.RecordBill, PatientID: in.PatientID, DoctorID: doctorID}
	if err := s.policy.Check(actor, auth.OpCreate, target); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if in.PatientID == uuid.Nil {
		fields["patient_id"] = "is required"
	}
	if in.AmountCents <= 0 {
		fields["amount_cents"] = "must be positive"
	}
	in.Description = strings.TrimSpace(in.Description)
	switch {
	case in.Description == "":
		fields["description"] = "is required"
	case len(in.Description) > maxDescriptionLength:
		fields["description"] = "is too long"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid bill", fields)
	}

	b := &Bill{PatientID: in.PatientID, DoctorID: doctorID, AmountCents: in.AmountCents, Description: in.Description}
	if err := s.bills.Create(ctx, b); err != nil {
		if _, ok := db.IsForeignKeyViolation(err); ok {
			return nil, apperr.FieldError("patient_id", "does not match a patient")
		}
		return nil, apperr.Internal(err)
	}
	s.logger.Info().
		Str("bill_id", b.ID.String()).
		Str("patient_id", b.PatientID.String()).
		Int64("amount_cents", b.AmountCents).
		Msg("bill issued")

	s.announce(ctx, b, notification.EventBillIssued)
	return b, nil
}

func (s *Service) Get(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Bill, error) {
	return s.load(ctx, actor, auth.OpRead, id)
}

// load fetches a bill and authorizes op on it.
func (s *Service) load(ctx context.Context, actor *auth.Principal, op auth.Operation, id uuid.UUID) (*Bill, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, s.policy.Missing(actor, op, auth.RecordBill, "bill")
		}
		return nil, apperr.Internal(err)
	}
	target := auth.Target{Type: auth.RecordBill, PatientID: b.PatientID, DoctorID: b.DoctorID}
	if err := s.policy.Check(actor, op, target); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, actor *auth.Principal, f Filter, limit, offset int) ([]*Bill, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordBill}); err != nil {
		return nil, 0, err
	}
	switch actor.Role {
	case auth.RolePatient:
		f.PatientID = actor.ProfileID
	case auth.RoleDoctor:
		f.DoctorID = actor.ProfileID
	}
	items, total, err := s.bills.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// CreatePaymentSession opens a gateway checkout for the calling patient's
// unpaid bill. The gateway call happens outside any transaction.
func (s *Service) CreatePaymentSession(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*PaymentSession, error) {
	b, err := s.load(ctx, actor, auth.OpPay, id)
	if err != nil {
		return nil, err
	}
	if b.Paid {
		return nil, apperr.Validation("bill is already paid", nil)
	}

	req := payment.SessionRequest{BillID: b.ID, AmountCents: b.AmountCents, Description: b.Description}
	if patient, err := s.directory.PatientContact(ctx, b.PatientID); err == nil {
		req.CustomerEmail = patient.Email
	}
	session, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Str("bill_id", b.ID.String()).Msg("payment session not created")
		return nil, apperr.Unavailable("payment gateway", err)
	}

	if err := s.bills.AttachSession(ctx, b.ID, session.Ref); err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.Validation("bill is already paid", nil)
		}
		return nil, apperr.Internal(err)
	}
	s.logger.Info().Str("bill_id", b.ID.String()).Str("session_ref", session.Ref).Msg("payment session created")
	return &PaymentSession{BillID: b.ID, SessionRef: session.Ref, CheckoutURL: session.CheckoutURL}, nil
}

// ConfirmPayment marks the bill paid online. It is driven by the verified
// gateway webhook, so it carries no principal. Repeated deliveries of the
// same confirmation return the already paid bill.
func (s *Service) ConfirmPayment(ctx context.Context, c Confirmation) (*Bill, error) {
	if c.SessionRef == "" {
		return nil, apperr.FieldError("session_ref", "is required")
	}
	b, err := s.bills.GetByID(ctx, c.BillID)
	if err != nil {
		if db.IsNoRows(err) {
			// older events may only carry the session reference
			b, err = s.bills.GetBySessionRef(ctx, c.SessionRef)
		}
		if err != nil {
			if db.IsNoRows(err) {
				return nil, apperr.NotFound("bill")
			}
			return nil, apperr.Internal(err)
		}
	}
	if c.AmountCents != 0 && c.AmountCents != b.AmountCents {
		s.logger.Warn().
			Str("bill_id", b.ID.String()).
			Int64("expected", b.AmountCents).
			Int64("received", c.AmountCents).
			Msg("payment amount mismatch")
		return nil, apperr.Validation("paid amount does not match bill", nil)
	}

	paid, err := s.bills.MarkPaid(ctx, b.ID, c.SessionRef)
	if err != nil {
		if !db.IsNoRows(err) {
			return nil, apperr.Internal(err)
		}
		current, gerr := s.bills.GetByID(ctx, b.ID)
		if gerr != nil {
			return nil, apperr.Internal(gerr)
		}
		if current.Paid {
			return current, nil
		}
		return nil, apperr.Validation("payment session does not match bill", nil)
	}

	s.logger.Info().Str("bill_id", paid.ID.String()).Str("session_ref", c.SessionRef).Msg("bill paid")
	s.announce(ctx, paid, notification.EventPaymentReceived)
	return paid, nil
}

func (s *Service) announce(ctx context.Context, b *Bill, ev notification.EventType) {
	if s.feed != nil {
		kind, status := "bill.issued", "unpaid"
		if b.Paid {
			kind, status = "bill.paid", "paid"
		}
		s.feed.Publish(ctx, websocket.Event{
			Type:       kind,
			RecordType: string(auth.RecordBill),
			RecordID:   b.ID.String(),
			Status:     status,
		}, b.PatientID, b.DoctorID)
	}
	if s.notifier == nil {
		return
	}
	patient, err := s.directory.PatientContact(ctx, b.PatientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("bill_id", b.ID.String()).Msg("patient contact unavailable")
		return
	}
	data := map[string]string{
		"patient_name": patient.Name,
		"amount":       b.Amount(),
		"issued_on":    b.IssuedOn.Format("2006-01-02"),
		"description":  b.Description,
	}
	if doctor, err := s.directory.DoctorContact(ctx, b.DoctorID); err == nil {
		data["doctor_name"] = doctor.Name
	}
	s.notifier.Notify(ctx, notification.Event{Type: ev, To: patient.Email, Data: data})
}
