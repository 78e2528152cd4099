package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/portal/internal/platform/db"
)

type billRepoPG struct{ pool *pgxpool.Pool }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository {
	return &billRepoPG{pool: pool}
}

func (r *billRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const billCols = `id, patient_id, doctor_id, amount_cents, description, issued_on, paid,
	payment_method, payment_session_ref, paid_at, created_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.PatientID, &b.DoctorID, &b.AmountCents, &b.Description, &b.IssuedOn, &b.Paid,
		&b.PaymentMethod, &b.PaymentSessionRef, &b.PaidAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bill (id, patient_id, doctor_id, amount_cents, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING issued_on, paid, created_at`,
		b.ID, b.PatientID, b.DoctorID, b.AmountCents, b.Description,
	).Scan(&b.IssuedOn, &b.Paid, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM bill WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get bill %s: %w", id, err)
	}
	return b, nil
}

func (r *billRepoPG) GetBySessionRef(ctx context.Context, ref string) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `
		SELECT `+billCols+` FROM bill
		WHERE id = (SELECT bill_id FROM bill_payment_session WHERE session_ref = $1)`, ref))
	if err != nil {
		return nil, fmt.Errorf("get bill by session: %w", err)
	}
	return b, nil
}

func (r *billRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Bill, int, error) {
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
	if f.Paid != nil {
		where += fmt.Sprintf(` AND paid = $%d`, idx)
		args = append(args, *f.Paid)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bill`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}

	query := `SELECT ` + billCols + ` FROM bill` + where +
		fmt.Sprintf(` ORDER BY issued_on DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *billRepoPG) AttachSession(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bill_payment_session (session_ref, bill_id)
		SELECT $2, id FROM bill WHERE id = $1 AND paid = FALSE`, id, ref)
	if err != nil {
		return fmt.Errorf("attach payment session to bill %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attach payment session to bill %s: %w", id, pgx.ErrNoRows)
	}
	return nil
}

func (r *billRepoPG) MarkPaid(ctx context.Context, id uuid.UUID, ref string) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `
		UPDATE bill
		SET paid = TRUE, payment_method = 'Online', payment_session_ref = $2, paid_at = NOW()
		WHERE id = $1 AND paid = FALSE
		  AND EXISTS (SELECT 1 FROM bill_payment_session WHERE session_ref = $2 AND bill_id = $1)
		RETURNING `+billCols,
		id, ref))
	if err != nil {
		return nil, fmt.Errorf("mark bill %s paid: %w", id, err)
	}
	return b, nil
}
