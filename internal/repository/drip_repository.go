package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/model"
)

type DripRepositoryInterface interface {
	Create(ctx context.Context, d *model.Drip) error
	Update(ctx context.Context, d *model.Drip) error
	UpsertByName(ctx context.Context, d *model.Drip) error
	GetByID(ctx context.Context, id int64) (*model.Drip, error)
	GetByName(ctx context.Context, name string) (*model.Drip, error)
	List(ctx context.Context, offset, limit int, enabled *bool) ([]*model.Drip, int, error)
	ListEnabled(ctx context.Context) ([]*model.Drip, error)
}

var _ DripRepositoryInterface = (*DripRepository)(nil)

type DripRepository struct {
	DB *sql.DB
}

const dripColumns = `id, name, enabled, subject_template, body_html_template, created_at, updated_at`

func scanDrip(row interface{ Scan(...any) error }) (*model.Drip, error) {
	var d model.Drip
	err := row.Scan(&d.ID, &d.Name, &d.Enabled, &d.SubjectTemplate, &d.BodyTemplate, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DripRepository) Create(ctx context.Context, d *model.Drip) error {
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	query := `
		INSERT INTO drips (name, enabled, subject_template, body_html_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	return r.DB.QueryRowContext(ctx, query, d.Name, d.Enabled, d.SubjectTemplate, d.BodyTemplate, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
}

func (r *DripRepository) Update(ctx context.Context, d *model.Drip) error {
	d.UpdatedAt = time.Now()
	query := `
		UPDATE drips
		SET name=$1, enabled=$2, subject_template=$3, body_html_template=$4, updated_at=$5
		WHERE id=$6
	`
	res, err := r.DB.ExecContext(ctx, query, d.Name, d.Enabled, d.SubjectTemplate, d.BodyTemplate, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.NewDripNotFound(d.ID)
	}
	return nil
}

// UpsertByName inserts the drip or updates the row carrying the same name.
func (r *DripRepository) UpsertByName(ctx context.Context, d *model.Drip) error {
	now := time.Now()
	query := `
		INSERT INTO drips (name, enabled, subject_template, body_html_template, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (name) DO UPDATE
		SET enabled=EXCLUDED.enabled, subject_template=EXCLUDED.subject_template,
			body_html_template=EXCLUDED.body_html_template, updated_at=EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query, d.Name, d.Enabled, d.SubjectTemplate, d.BodyTemplate, now).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (r *DripRepository) GetByID(ctx context.Context, id int64) (*model.Drip, error) {
	d, err := scanDrip(r.DB.QueryRowContext(ctx, `SELECT `+dripColumns+` FROM drips WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewDripNotFound(id)
	}
	return d, err
}

func (r *DripRepository) GetByName(ctx context.Context, name string) (*model.Drip, error) {
	d, err := scanDrip(r.DB.QueryRowContext(ctx, `SELECT `+dripColumns+` FROM drips WHERE name=$1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.NewDripNameNotFound(name)
	}
	return d, err
}

// List pages through drips, newest first. A nil enabled lists every drip.
func (r *DripRepository) List(ctx context.Context, offset, limit int, enabled *bool) ([]*model.Drip, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if enabled != nil {
		args = append(args, *enabled)
		where += fmt.Sprintf(" AND enabled=$%d", len(args))
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM drips`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + dripColumns + ` FROM drips` + where +
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.DB.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	drips := []*model.Drip{}
	for rows.Next() {
		d, err := scanDrip(rows)
		if err != nil {
			return nil, 0, err
		}
		drips = append(drips, d)
	}
	return drips, total, rows.Err()
}

func (r *DripRepository) ListEnabled(ctx context.Context) ([]*model.Drip, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+dripColumns+` FROM drips WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drips := []*model.Drip{}
	for rows.Next() {
		d, err := scanDrip(rows)
		if err != nil {
			return nil, err
		}
		drips = append(drips, d)
	}
	return drips, rows.Err()
}
