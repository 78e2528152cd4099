package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/domain/identity"
	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
	"github.com/hospital/portal/internal/platform/notification"
	"github.com/hospital/portal/internal/platform/websocket"
)

const maxReasonLength = 1000

// Directory resolves profile ids to contact details.
type Directory interface {
	PatientContact(ctx context.Context, id uuid.UUID) (*identity.Contact, error)
	DoctorContact(ctx context.Context, id uuid.UUID) (*identity.Contact, error)
}

// HistoryDeriver records the medical history entry for a completed
// appointment. It must be idempotent per appointment id and run in the
// caller's transaction.
type HistoryDeriver interface {
	EnsureFromAppointment(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, doctorName string, date time.Time) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, ev notification.Event)
}

// Feed pushes appointment changes to the connections of the given profiles.
type Feed interface {
	Publish(ctx context.Context, ev websocket.Event, profileIDs ...uuid.UUID)
}

// TransitionObserver counts lifecycle outcomes per target status.
type TransitionObserver interface {
	ObserveTransition(status, outcome string)
}

type Service struct {
	tx        db.Transactor
	appts     AppointmentRepository
	directory Directory
	history   HistoryDeriver
	policy    *auth.Engine
	logger    zerolog.Logger

	notifier Notifier
	observer TransitionObserver
	feed     Feed
	now      func() time.Time
}

func NewService(tx db.Transactor, appts AppointmentRepository, directory Directory, history HistoryDeriver,
	policy *auth.Engine, logger zerolog.Logger) *Service {
	return &Service{
		tx:        tx,
		appts:     appts,
		directory: directory,
		history:   history,
		policy:    policy,
		logger:    logger.With().Str("component", "scheduling").Logger(),
		now:       time.Now,
	}
}

func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

func (s *Service) SetObserver(o TransitionObserver) { s.observer = o }

func (s *Service) SetFeed(f Feed) { s.feed = f }

func (s *Service) publish(ctx context.Context, eventType string, a *Appointment) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(ctx, websocket.Event{
		Type:       eventType,
		RecordType: string(auth.RecordAppointment),
		RecordID:   a.ID.String(),
		Status:     string(a.Status),
	}, a.PatientID, a.DoctorID)
}

// Book creates a Pending appointment for the calling patient.
func (s *Service) Book(ctx context.Context, actor *auth.Principal, req BookRequest) (*Appointment, error) {
	var patientID uuid.UUID
	if actor != nil {
		patientID = actor.ProfileID
	}
	if err := s.policy.Check(actor, auth.OpCreate, auth.Target{Type: auth.RecordAppointment, PatientID: patientID}); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	date, err := time.Parse(DateLayout, strings.TrimSpace(req.Date))
	if err != nil {
		fields["date"] = "must be a date in YYYY-MM-DD format"
	} else if date.Before(s.today()) {
		fields["date"] = "cannot be in the past"
	}
	clock, err := time.Parse(TimeLayout, strings.TrimSpace(req.Time))
	if err != nil {
		fields["time"] = "must be a time in HH:MM format"
	}
	req.Reason = strings.TrimSpace(req.Reason)
	switch {
	case req.Reason == "":
		fields["reason"] = "is required"
	case len(req.Reason) > maxReasonLength:
		fields["reason"] = "must be at most 1000 characters"
	}
	if req.DoctorID == uuid.Nil {
		fields["doctor_id"] = "is required"
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid appointment", fields)
	}

	doctor, err := s.directory.DoctorContact(ctx, req.DoctorID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.FieldError("doctor_id", "does not match a doctor")
		}
		return nil, err
	}

	a := &Appointment{
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		Date:      date,
		Time:      clock.Format(TimeLayout),
		Reason:    req.Reason,
		Status:    StatusPending,
	}
	if err := s.appts.Create(ctx, a); err != nil {
		if _, ok := db.IsForeignKeyViolation(err); ok {
			return nil, apperr.FieldError("doctor_id", "does not match a doctor")
		}
		return nil, apperr.Internal(err)
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Msg("appointment booked")
	s.publish(ctx, "appointment.booked", a)

	patientName := ""
	if patient, err := s.directory.PatientContact(ctx, patientID); err == nil {
		patientName = patient.Name
	}
	s.notify(ctx, notification.Event{
		Type: notification.EventAppointmentBooked,
		To:   doctor.Email,
		Data: map[string]string{
			"patient_name": patientName,
			"doctor_name":  doctor.Name,
			"date":         a.DateString(),
			"time":         a.Time,
			"reason":       a.Reason,
		},
	})
	return a, nil
}

// today is the current date at midnight UTC, comparable with parsed dates.
func (s *Service) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SetStatus moves an appointment to Confirmed, Declined or Completed on
// behalf of its doctor or an admin. Completing it derives a medical history
// entry in the same transaction.
func (s *Service) SetStatus(ctx context.Context, actor *auth.Principal, id uuid.UUID, to Status) (*Appointment, error) {
	switch to {
	case StatusConfirmed, StatusDeclined, StatusCompleted:
	default:
		return nil, apperr.FieldError("status", "must be one of Confirmed, Declined, Completed")
	}
	return s.transition(ctx, actor, auth.OpSetStatus, id, to)
}

// Cancel tombstones the calling patient's appointment.
func (s *Service) Cancel(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, actor, auth.OpCancel, id, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, actor *auth.Principal, op auth.Operation, id uuid.UUID, to Status) (*Appointment, error) {
	var (
		result     *Appointment
		doctorName string
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.appts.GetByID(ctx, id)
		if err != nil {
			if db.IsNoRows(err) {
				return s.policy.Missing(actor, op, auth.RecordAppointment, "appointment")
			}
			return apperr.Internal(err)
		}
		target := auth.Target{Type: auth.RecordAppointment, PatientID: current.PatientID, DoctorID: current.DoctorID}
		if err := s.policy.Check(actor, op, target); err != nil {
			return err
		}
		if !CanTransition(current.Status, to) {
			return apperr.InvalidTransition(string(current.Status), string(to))
		}

		updated, err := s.appts.Transition(ctx, id, SourcesFor(to), to)
		if err != nil {
			if !db.IsNoRows(err) {
				return apperr.Internal(err)
			}
			// another request moved it first
			latest, rerr := s.appts.GetByID(ctx, id)
			if rerr != nil {
				if db.IsNoRows(rerr) {
					return apperr.NotFound("appointment")
				}
				return apperr.Internal(rerr)
			}
			return apperr.InvalidTransition(string(latest.Status), string(to))
		}

		if to == StatusCompleted {
			doctor, err := s.directory.DoctorContact(ctx, updated.DoctorID)
			if err != nil {
				return err
			}
			doctorName = doctor.Name
			if _, err := s.history.EnsureFromAppointment(ctx, updated.ID, updated.PatientID, updated.DoctorID,
				doctorName, updated.Date); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindInvalidTransition) {
			s.observe(to, "rejected")
		}
		return nil, err
	}

	s.observe(to, "applied")
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("status", string(to)).
		Str("by", actor.UserID.String()).
		Msg("appointment status changed")

	s.announce(ctx, result, doctorName)
	return result, nil
}

// announce pushes a committed transition to both parties and mails the
// other one.
func (s *Service) announce(ctx context.Context, a *Appointment, doctorName string) {
	s.publish(ctx, "appointment.status", a)
	if s.notifier == nil {
		return
	}
	patient, err := s.directory.PatientContact(ctx, a.PatientID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("patient contact unavailable")
		return
	}
	doctor, err := s.directory.DoctorContact(ctx, a.DoctorID)
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("doctor contact unavailable")
		return
	}
	if doctorName == "" {
		doctorName = doctor.Name
	}

	data := map[string]string{
		"patient_name": patient.Name,
		"doctor_name":  doctorName,
		"date":         a.DateString(),
		"time":         a.Time,
		"status":       string(a.Status),
	}
	if a.Status == StatusCancelled {
		s.notifier.Notify(ctx, notification.Event{Type: notification.EventAppointmentCancel, To: doctor.Email, Data: data})
		return
	}
	s.notifier.Notify(ctx, notification.Event{Type: notification.EventAppointmentStatus, To: patient.Email, Data: data})
}

func (s *Service) Get(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, s.policy.Missing(actor, auth.OpRead, auth.RecordAppointment, "appointment")
		}
		return nil, apperr.Internal(err)
	}
	target := auth.Target{Type: auth.RecordAppointment, PatientID: a.PatientID, DoctorID: a.DoctorID}
	if err := s.policy.Check(actor, auth.OpRead, target); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns the caller's appointments, newest first. Patients and
// doctors only ever see their own; admins may filter freely.
func (s *Service) List(ctx context.Context, actor *auth.Principal, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordAppointment}); err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.FieldError("status", "is not a known status")
	}
	switch actor.Role {
	case auth.RolePatient:
		f.PatientID = actor.ProfileID
	case auth.RoleDoctor:
		f.DoctorID = actor.ProfileID
	}
	items, total, err := s.appts.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// Purge permanently removes appointments cancelled more than olderThan ago.
func (s *Service) Purge(ctx context.Context, actor *auth.Principal, olderThan time.Duration) (int64, error) {
	if err := s.policy.Check(actor, auth.OpDelete, auth.Target{Type: auth.RecordAppointment}); err != nil {
		return 0, err
	}
	if olderThan < 0 {
		return 0, apperr.FieldError("older_than_days", "cannot be negative")
	}
	n, err := s.appts.PurgeCancelled(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, apperr.Internal(err)
	}
	s.logger.Info().Int64("purged", n).Str("by", actor.UserID.String()).Msg("cancelled appointments purged")
	return n, nil
}

func (s *Service) observe(to Status, outcome string) {
	if s.observer != nil {
		s.observer.ObserveTransition(string(to), outcome)
	}
}

func (s *Service) notify(ctx context.Context, ev notification.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, ev)
	}
}
