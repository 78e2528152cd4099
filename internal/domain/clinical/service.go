package clinical

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/portal/internal/platform/apperr"
	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
)

type Service struct {
	history       HistoryRepository
	prescriptions PrescriptionRepository
	policy        *auth.Engine
	logger        zerolog.Logger
	now           func() time.Time
}

func NewService(history HistoryRepository, prescriptions PrescriptionRepository, policy *auth.Engine, logger zerolog.Logger) *Service {
	return &Service{
		history:       history,
		prescriptions: prescriptions,
		policy:        policy,
		logger:        logger.With().Str("component", "clinical").Logger(),
		now:           time.Now,
	}
}

// scopeFilter forces list filters onto the caller's own profile.
func scopeFilter(actor *auth.Principal, f Filter) Filter {
	switch actor.Role {
	case auth.RolePatient:
		f.PatientID = actor.ProfileID
	case auth.RoleDoctor:
		f.DoctorID = actor.ProfileID
	}
	return f
}

func actorProfile(actor *auth.Principal) uuid.UUID {
	if actor == nil {
		return uuid.Nil
	}
	return actor.ProfileID
}

// patientRefError turns a dangling patient_id into a field error.
func patientRefError(err error) error {
	if _, ok := db.IsForeignKeyViolation(err); ok {
		return apperr.FieldError("patient_id", "does not match a patient")
	}
	return apperr.Internal(err)
}

// -- Medical history --

// CreateHistory records an entry authored by the calling doctor.
func (s *Service) CreateHistory(ctx context.Context, actor *auth.Principal, in HistoryInput) (*MedicalHistory, error) {
	doctorID := actorProfile(actor)
	target := auth.Target{Type: auth.RecordMedicalHistory, PatientID: in.PatientID, DoctorID: doctorID}
	if err := s.policy.Check(actor, auth.OpCreate, target); err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if in.PatientID == uuid.Nil {
		fields["patient_id"] = "is required"
	}
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	if in.Diagnosis == "" {
		fields["diagnosis"] = "is required"
	}
	date := s.today()
	if strings.TrimSpace(in.Date) != "" {
		d, err := time.Parse(DateLayout, strings.TrimSpace(in.Date))
		if err != nil {
			fields["date"] = "must be a date in YYYY-MM-DD format"
		} else if d.After(date) {
			fields["date"] = "cannot be in the future"
		}
		date = d
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid medical history", fields)
	}

	h := &MedicalHistory{
		PatientID:        in.PatientID,
		DoctorID:         &doctorID,
		Diagnosis:        in.Diagnosis,
		TreatmentSummary: strings.TrimSpace(in.TreatmentSummary),
		Medications:      strings.TrimSpace(in.Medications),
		Allergies:        strings.TrimSpace(in.Allergies),
		Date:             date,
		Notes:            strings.TrimSpace(in.Notes),
	}
	if err := s.history.Create(ctx, h); err != nil {
		return nil, patientRefError(err)
	}
	s.logger.Info().
		Str("history_id", h.ID.String()).
		Str("patient_id", h.PatientID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("medical history recorded")
	return h, nil
}

// EnsureFromAppointment writes the entry for a completed appointment. A
// second call for the same appointment is a no-op and returns false. It
// joins the transaction carried by ctx.
func (s *Service) EnsureFromAppointment(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, doctorName string, date time.Time) (bool, error) {
	h := &MedicalHistory{
		PatientID:        patientID,
		DoctorID:         &doctorID,
		AppointmentID:    &appointmentID,
		Diagnosis:        "Dr. " + doctorName,
		TreatmentSummary: DerivedTreatment,
		Medications:      DerivedMedications,
		Allergies:        DerivedAllergies,
		Date:             date,
	}
	created, err := s.history.CreateForAppointment(ctx, h)
	if err != nil {
		return false, apperr.Internal(err)
	}
	if created {
		s.logger.Info().
			Str("history_id", h.ID.String()).
			Str("appointment_id", appointmentID.String()).
			Msg("medical history derived from appointment")
	}
	return created, nil
}

func (s *Service) GetHistory(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*MedicalHistory, error) {
	h, err := s.history.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, s.policy.Missing(actor, auth.OpRead, auth.RecordMedicalHistory, "medical history")
		}
		return nil, apperr.Internal(err)
	}
	target := auth.Target{Type: auth.RecordMedicalHistory, PatientID: h.PatientID, DoctorID: h.doctorRef()}
	if err := s.policy.Check(actor, auth.OpRead, target); err != nil {
		return nil, err
	}
	return h, nil
}

// ListHistory returns entries newest first. Patients see their own record,
// doctors the entries they authored.
func (s *Service) ListHistory(ctx context.Context, actor *auth.Principal, f Filter, limit, offset int) ([]*MedicalHistory, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordMedicalHistory}); err != nil {
		return nil, 0, err
	}
	items, total, err := s.history.List(ctx, scopeFilter(actor, f), limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// DeleteHistory tombstones one of the calling patient's entries.
func (s *Service) DeleteHistory(ctx context.Context, actor *auth.Principal, id uuid.UUID) error {
	h, err := s.history.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return s.policy.Missing(actor, auth.OpDelete, auth.RecordMedicalHistory, "medical history")
		}
		return apperr.Internal(err)
	}
	target := auth.Target{Type: auth.RecordMedicalHistory, PatientID: h.PatientID, DoctorID: h.doctorRef()}
	if err := s.policy.Check(actor, auth.OpDelete, target); err != nil {
		return err
	}
	if err := s.history.SoftDelete(ctx, id); err != nil {
		if db.IsNoRows(err) {
			return apperr.NotFound("medical history")
		}
		return apperr.Internal(err)
	}
	s.logger.Info().Str("history_id", id.String()).Str("by", actor.UserID.String()).Msg("medical history deleted")
	return nil
}

// -- Prescriptions --

func (s *Service) CreatePrescription(ctx context.Context, actor *auth.Principal, in PrescriptionInput) (*Prescription, error) {
	doctorID := actorProfile(actor)
	target := auth.Target{Type: auth.RecordPrescription, PatientID: in.PatientID, DoctorID: doctorID}
	if err := s.policy.Check(actor, auth.OpCreate, target); err != nil {
		return nil, err
	}

	p := &Prescription{
		PatientID:  in.PatientID,
		DoctorID:   doctorID,
		Medication: strings.TrimSpace(in.Medication),
		Dosage:     strings.TrimSpace(in.Dosage),
		Frequency:  strings.TrimSpace(in.Frequency),
		Duration:   strings.TrimSpace(in.Duration),
		Notes:      strings.TrimSpace(in.Notes),
	}
	fields := map[string]string{}
	if p.PatientID == uuid.Nil {
		fields["patient_id"] = "is required"
	}
	required := []struct {
		name, value string
		max         int
	}{
		{"medication", p.Medication, 255},
		{"dosage", p.Dosage, 100},
		{"frequency", p.Frequency, 100},
		{"duration", p.Duration, 100},
	}
	for _, r := range required {
		switch {
		case r.value == "":
			fields[r.name] = "is required"
		case len(r.value) > r.max:
			fields[r.name] = "is too long"
		}
	}
	if len(fields) > 0 {
		return nil, apperr.Validation("invalid prescription", fields)
	}

	if err := s.prescriptions.Create(ctx, p); err != nil {
		return nil, patientRefError(err)
	}
	s.logger.Info().
		Str("prescription_id", p.ID.String()).
		Str("patient_id", p.PatientID.String()).
		Str("doctor_id", doctorID.String()).
		Msg("prescription issued")
	return p, nil
}

func (s *Service) GetPrescription(ctx context.Context, actor *auth.Principal, id uuid.UUID) (*Prescription, error) {
	p, err := s.prescriptions.GetByID(ctx, id)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, s.policy.Missing(actor, auth.OpRead, auth.RecordPrescription, "prescription")
		}
		return nil, apperr.Internal(err)
	}
	target := auth.Target{Type: auth.RecordPrescription, PatientID: p.PatientID, DoctorID: p.DoctorID}
	if err := s.policy.Check(actor, auth.OpRead, target); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPrescriptions(ctx context.Context, actor *auth.Principal, f Filter, limit, offset int) ([]*Prescription, int, error) {
	if err := s.policy.Check(actor, auth.OpList, auth.Target{Type: auth.RecordPrescription}); err != nil {
		return nil, 0, err
	}
	items, total, err := s.prescriptions.List(ctx, scopeFilter(actor, f), limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

func (s *Service) today() time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
