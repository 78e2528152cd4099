package clinical

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/portal/internal/platform/db"
)

// whereFilter renders f as a WHERE clause starting at placeholder 1.
func whereFilter(base string, f Filter) (string, []interface{}, int) {
	where := ` WHERE ` + base
	var args []interface{}
	idx := 1
	if f.PatientID != uuid.Nil {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.DoctorID != uuid.Nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, f.DoctorID)
		idx++
	}
	return where, args, idx
}

// -- MedicalHistory --

type historyRepoPG struct{ pool *pgxpool.Pool }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const historyCols = `id, patient_id, doctor_id, appointment_id, diagnosis, treatment_summary,
	medications, allergies, date, notes, deleted_at, created_at`

func scanHistory(row pgx.Row) (*MedicalHistory, error) {
	var h MedicalHistory
	err := row.Scan(&h.ID, &h.PatientID, &h.DoctorID, &h.AppointmentID, &h.Diagnosis, &h.TreatmentSummary,
		&h.Medications, &h.Allergies, &h.Date, &h.Notes, &h.DeletedAt, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *historyRepoPG) Create(ctx context.Context, h *MedicalHistory) error {
	h.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_history (id, patient_id, doctor_id, appointment_id, diagnosis, treatment_summary,
			medications, allergies, date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		h.ID, h.PatientID, h.DoctorID, h.AppointmentID, h.Diagnosis, h.TreatmentSummary,
		h.Medications, h.Allergies, h.Date, h.Notes,
	).Scan(&h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert medical history: %w", err)
	}
	return nil
}

func (r *historyRepoPG) CreateForAppointment(ctx context.Context, h *MedicalHistory) (bool, error) {
	h.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medical_history (id, patient_id, doctor_id, appointment_id, diagnosis, treatment_summary,
			medications, allergies, date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING created_at`,
		h.ID, h.PatientID, h.DoctorID, h.AppointmentID, h.Diagnosis, h.TreatmentSummary,
		h.Medications, h.Allergies, h.Date, h.Notes,
	).Scan(&h.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("derive medical history: %w", err)
	}
	return true, nil
}

func (r *historyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalHistory, error) {
	h, err := scanHistory(r.conn(ctx).QueryRow(ctx,
		`SELECT `+historyCols+` FROM medical_history WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		return nil, fmt.Errorf("get medical history %s: %w", id, err)
	}
	return h, nil
}

func (r *historyRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*MedicalHistory, int, error) {
	where, args, idx := whereFilter(`deleted_at IS NULL`, f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM medical_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medical history: %w", err)
	}

	query := `SELECT ` + historyCols + ` FROM medical_history` + where +
		fmt.Sprintf(` ORDER BY date DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list medical history: %w", err)
	}
	defer rows.Close()

	var items []*MedicalHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, h)
	}
	return items, total, rows.Err()
}

func (r *historyRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE medical_history SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("delete medical history %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete medical history %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}

// -- Prescription --

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const rxCols = `id, patient_id, doctor_id, medication, dosage, frequency, duration, notes, issued_on, created_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.DoctorID, &p.Medication, &p.Dosage, &p.Frequency,
		&p.Duration, &p.Notes, &p.IssuedOn, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create lets the database stamp issued_on.
func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO prescription (id, patient_id, doctor_id, medication, dosage, frequency, duration, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING issued_on, created_at`,
		p.ID, p.PatientID, p.DoctorID, p.Medication, p.Dosage, p.Frequency, p.Duration, p.Notes,
	).Scan(&p.IssuedOn, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get prescription %s: %w", id, err)
	}
	return p, nil
}

func (r *prescriptionRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error) {
	where, args, idx := whereFilter(`TRUE`, f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescription`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prescriptions: %w", err)
	}

	query := `SELECT ` + rxCols + ` FROM prescription` + where +
		fmt.Sprintf(` ORDER BY issued_on DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list prescriptions: %w", err)
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}
