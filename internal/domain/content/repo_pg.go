package content

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/portal/internal/platform/db"
)

// execOne runs a single-row write and reports pgx.ErrNoRows when it
// matched nothing.
func execOne(ctx context.Context, q db.Querier, what string, sql string, args ...interface{}) error {
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, pgx.ErrNoRows)
	}
	return nil
}

// -- Facility --

type facilityRepoPG struct{ pool *pgxpool.Pool }

func NewFacilityRepoPG(pool *pgxpool.Pool) FacilityRepository {
	return &facilityRepoPG{pool: pool}
}

func (r *facilityRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const facilityCols = `id, name, location, departments, resources, created_at, updated_at`

func scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	if err := row.Scan(&f.ID, &f.Name, &f.Location, &f.Departments, &f.Resources, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *facilityRepoPG) Create(ctx context.Context, f *Facility) error {
	f.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO facility (id, name, location, departments, resources)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Location, f.Departments, f.Resources,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert facility: %w", err)
	}
	return nil
}

func (r *facilityRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Facility, error) {
	f, err := scanFacility(r.conn(ctx).QueryRow(ctx, `SELECT `+facilityCols+` FROM facility WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get facility %s: %w", id, err)
	}
	return f, nil
}

func (r *facilityRepoPG) Update(ctx context.Context, f *Facility) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE facility SET name = $2, location = $3, departments = $4, resources = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		f.ID, f.Name, f.Location, f.Departments, f.Resources,
	).Scan(&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update facility %s: %w", f.ID, err)
	}
	return nil
}

func (r *facilityRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.conn(ctx), "delete facility", `DELETE FROM facility WHERE id = $1`, id)
}

func (r *facilityRepoPG) List(ctx context.Context, limit, offset int) ([]*Facility, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM facility`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count facilities: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+facilityCols+` FROM facility ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	var items []*Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, rows.Err()
}

// -- Education --

type educationRepoPG struct{ pool *pgxpool.Pool }

func NewEducationRepoPG(pool *pgxpool.Pool) EducationRepository {
	return &educationRepoPG{pool: pool}
}

func (r *educationRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const educationCols = `id, title, description, link, created_at, updated_at`

func scanEducation(row pgx.Row) (*EducationResource, error) {
	var e EducationResource
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Link, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *educationRepoPG) Create(ctx context.Context, e *EducationResource) error {
	e.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO education_resource (id, title, description, link)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		e.ID, e.Title, e.Description, e.Link,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert education resource: %w", err)
	}
	return nil
}

func (r *educationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*EducationResource, error) {
	e, err := scanEducation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+educationCols+` FROM education_resource WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get education resource %s: %w", id, err)
	}
	return e, nil
}

func (r *educationRepoPG) Update(ctx context.Context, e *EducationResource) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE education_resource SET title = $2, description = $3, link = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		e.ID, e.Title, e.Description, e.Link,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update education resource %s: %w", e.ID, err)
	}
	return nil
}

func (r *educationRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.conn(ctx), "delete education resource", `DELETE FROM education_resource WHERE id = $1`, id)
}

func (r *educationRepoPG) List(ctx context.Context, limit, offset int) ([]*EducationResource, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM education_resource`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count education resources: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+educationCols+` FROM education_resource ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list education resources: %w", err)
	}
	defer rows.Close()

	var items []*EducationResource
	for rows.Next() {
		e, err := scanEducation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// -- Bulletin --

type bulletinRepoPG struct{ pool *pgxpool.Pool }

func NewBulletinRepoPG(pool *pgxpool.Pool) BulletinRepository {
	return &bulletinRepoPG{pool: pool}
}

func (r *bulletinRepoPG) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const bulletinCols = `id, kind, title, body, link, published_on, created_at, updated_at`

func scanBulletin(row pgx.Row) (*Bulletin, error) {
	var b Bulletin
	if err := row.Scan(&b.ID, &b.Kind, &b.Title, &b.Body, &b.Link, &b.PublishedOn, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bulletinRepoPG) Create(ctx context.Context, b *Bulletin) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bulletin (id, kind, title, body, link, published_on)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		b.ID, string(b.Kind), b.Title, b.Body, b.Link, b.PublishedOn,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert bulletin: %w", err)
	}
	return nil
}

func (r *bulletinRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bulletin, error) {
	b, err := scanBulletin(r.conn(ctx).QueryRow(ctx, `SELECT `+bulletinCols+` FROM bulletin WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get bulletin %s: %w", id, err)
	}
	return b, nil
}

func (r *bulletinRepoPG) Update(ctx context.Context, b *Bulletin) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bulletin SET kind = $2, title = $3, body = $4, link = $5, published_on = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		b.ID, string(b.Kind), b.Title, b.Body, b.Link, b.PublishedOn,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update bulletin %s: %w", b.ID, err)
	}
	return nil
}

func (r *bulletinRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return execOne(ctx, r.conn(ctx), "delete bulletin", `DELETE FROM bulletin WHERE id = $1`, id)
}

func (r *bulletinRepoPG) List(ctx context.Context, kind BulletinKind, limit, offset int) ([]*Bulletin, int, error) {
	where := ``
	var args []interface{}
	idx := 1
	if kind != "" {
		where = fmt.Sprintf(` WHERE kind = $%d`, idx)
		args = append(args, string(kind))
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bulletin`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bulletins: %w", err)
	}

	query := `SELECT ` + bulletinCols + ` FROM bulletin` + where +
		fmt.Sprintf(` ORDER BY published_on DESC, created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list bulletins: %w", err)
	}
	defer rows.Close()

	var items []*Bulletin
	for rows.Next() {
		b, err := scanBulletin(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}
