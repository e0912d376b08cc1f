package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/unclebandit/drip-service/internal/model"
)

// UserRepositoryInterface defines the user reads the runner needs
type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*model.User, error)
}

var _ UserRepositoryInterface = (*UserRepository)(nil)

type UserRepository struct {
	DB *sql.DB
}

const userColumns = `id, email, first_name, last_name, is_active, date_joined, last_login`

// GetByID fetches a user by ID; a missing user is (nil, nil)
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM auth_user WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.DateJoined, &u.LastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetByIDs loads users in id order. Unknown ids are skipped.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int64) ([]*model.User, error) {
	users := []*model.User{}
	if len(ids) == 0 {
		return users, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM auth_user WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsActive, &u.DateJoined, &u.LastLogin); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
