package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/portal/internal/platform/auth"
	"github.com/hospital/portal/internal/platform/db"
)

// -- User Repository --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepo(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const userCols = `id, username, email, password_hash, role, active, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Active,
		&u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepoPG) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE LOWER(username) = LOWER($1)`, username))
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) Taken(ctx context.Context, username, email string, excludeID uuid.UUID) (bool, bool, error) {
	var usernameTaken, emailTaken bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1) AND id <> $3),
			EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($2) AND id <> $3)`,
		username, email, excludeID,
	).Scan(&usernameTaken, &emailTaken)
	if err != nil {
		return false, false, fmt.Errorf("check account uniqueness: %w", err)
	}
	return usernameTaken, emailTaken, nil
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE users SET username = $2, email = $3, active = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Username, u.Email, u.Active,
	).Scan(&u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID, err)
	}
	return nil
}

func (r *userRepoPG) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("set password hash for %s: %w", id, err)
	}
	return nil
}

func (r *userRepoPG) TouchLogin(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record login for %s: %w", id, err)
	}
	return nil
}

func (r *userRepoPG) List(ctx context.Context, role auth.Role, limit, offset int) ([]*User, int, error) {
	where := `WHERE ($1 = '' OR role = $1)`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users `+where, string(role)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userCols+` FROM users `+where+` ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		string(role), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

// -- Patient Profile Repository --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, user_id, full_name, age, gender, phone, address, medical_history, created_at, updated_at`

func scanPatient(row pgx.Row) (*PatientProfile, error) {
	var p PatientProfile
	err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.Age, &p.Gender, &p.Phone, &p.Address,
		&p.MedicalHistory, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *PatientProfile) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_profile (id, user_id, full_name, age, gender, phone, address, medical_history)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.UserID, p.FullName, p.Age, p.Gender, p.Phone, p.Address, p.MedicalHistory,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient profile: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientProfile, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient_profile WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get patient profile %s: %w", id, err)
	}
	return p, nil
}

func (r *patientRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*PatientProfile, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient_profile WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("get patient profile for user %s: %w", userID, err)
	}
	return p, nil
}

func (r *patientRepoPG) Update(ctx context.Context, p *PatientProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patient_profile SET full_name = $2, age = $3, gender = $4, phone = $5, address = $6,
			medical_history = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.Age, p.Gender, p.Phone, p.Address, p.MedicalHistory,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient profile %s: %w", p.ID, err)
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*PatientProfile, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_profile`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patient profiles: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientCols+` FROM patient_profile ORDER BY full_name, created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patient profiles: %w", err)
	}
	defer rows.Close()

	var items []*PatientProfile
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) Contact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	var c Contact
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.id, p.full_name, u.email
		FROM patient_profile p JOIN users u ON u.id = p.user_id
		WHERE p.id = $1`, id,
	).Scan(&c.ProfileID, &c.Name, &c.Email)
	if err != nil {
		return nil, fmt.Errorf("get patient contact %s: %w", id, err)
	}
	return &c, nil
}

// -- Doctor Profile Repository --

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const doctorCols = `id, user_id, full_name, age, gender, phone, address, specialization, available_days, created_at, updated_at`

func scanDoctor(row pgx.Row) (*DoctorProfile, error) {
	var d DoctorProfile
	err := row.Scan(&d.ID, &d.UserID, &d.FullName, &d.Age, &d.Gender, &d.Phone, &d.Address,
		&d.Specialization, &d.AvailableDays, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *DoctorProfile) error {
	d.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_profile (id, user_id, full_name, age, gender, phone, address, specialization, available_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.FullName, d.Age, d.Gender, d.Phone, d.Address, d.Specialization, d.AvailableDays,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor profile: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorProfile, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor_profile WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get doctor profile %s: %w", id, err)
	}
	return d, nil
}

func (r *doctorRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error) {
	d, err := scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor_profile WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("get doctor profile for user %s: %w", userID, err)
	}
	return d, nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *DoctorProfile) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctor_profile SET full_name = $2, age = $3, gender = $4, phone = $5, address = $6,
			specialization = $7, available_days = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.FullName, d.Age, d.Gender, d.Phone, d.Address, d.Specialization, d.AvailableDays,
	).Scan(&d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update doctor profile %s: %w", d.ID, err)
	}
	return nil
}

func (r *doctorRepoPG) List(ctx context.Context, specialization string, limit, offset int) ([]*DoctorProfile, int, error) {
	where := `WHERE ($1 = '' OR LOWER(specialization) = LOWER($1))`

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_profile `+where, specialization).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctor profiles: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+doctorCols+` FROM doctor_profile `+where+` ORDER BY full_name, created_at DESC LIMIT $2 OFFSET $3`,
		specialization, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctor profiles: %w", err)
	}
	defer rows.Close()

	var items []*DoctorProfile
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *doctorRepoPG) Contact(ctx context.Context, id uuid.UUID) (*Contact, error) {
	var c Contact
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT d.id, d.full_name, u.email
		FROM doctor_profile d JOIN users u ON u.id = d.user_id
		WHERE d.id = $1`, id,
	).Scan(&c.ProfileID, &c.Name, &c.Email)
	if err != nil {
		return nil, fmt.Errorf("get doctor contact %s: %w", id, err)
	}
	return &c, nil
}

// -- Admin Profile Repository --

type adminRepoPG struct{ pool *pgxpool.Pool }

func NewAdminRepo(pool *pgxpool.Pool) AdminRepository { return &adminRepoPG{pool: pool} }

func (r *adminRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *adminRepoPG) Create(ctx context.Context, a *AdminProfile) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admin_profile (id, user_id, full_name, age, gender, phone, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.UserID, a.FullName, a.Age, a.Gender, a.Phone, a.Address,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert admin profile: %w", err)
	}
	return nil
}

func (r *adminRepoPG) GetByUserID(ctx context.Context, userID uuid.UUID) (*AdminProfile, error) {
	var a AdminProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, full_name, age, gender, phone, address, created_at, updated_at
		FROM admin_profile WHERE user_id = $1`, userID,
	).Scan(&a.ID, &a.UserID, &a.FullName, &a.Age, &a.Gender, &a.Phone, &a.Address, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get admin profile for user %s: %w", userID, err)
	}
	return &a, nil
}
