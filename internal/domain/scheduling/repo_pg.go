package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/portal/internal/platform/db"
)

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, date, time_of_day, reason, status, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.Date, &a.Time, &a.Reason, &a.Status,
		&a.CancelledAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, date, time_of_day, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.Time, a.Reason, string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return a, nil
}

// Transition is a single conditional UPDATE. Concurrent callers block on the
// row lock and re-check the status predicate, so only one of them matches.
func (r *appointmentRepoPG) Transition(ctx context.Context, id uuid.UUID, from []Status, to Status) (*Appointment, error) {
	sources := make([]string, len(from))
	for i, s := range from {
		sources[i] = string(s)
	}
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET status = $3,
			cancelled_at = CASE WHEN $3 = 'Cancelled' THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+apptCols,
		id, sources, string(to)))
	if err != nil {
		return nil, fmt.Errorf("transition appointment %s to %s: %w", id, to, err)
	}
	return a, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
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
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY date DESC, time_of_day DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) PurgeCancelled(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment WHERE status = 'Cancelled' AND cancelled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge cancelled appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}
