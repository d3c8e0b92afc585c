package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/careflow/clinical-records/internal/model"
	"github.com/careflow/clinical-records/internal/repository"
	"github.com/careflow/clinical-records/pkg/apperror"
)

type userRepository struct {
	BaseRepository
}

func NewUserRepository(base BaseRepository) repository.UserRepository {
	return &userRepository{base}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (
			id, email, name, password_hash, role, is_approved, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.PasswordHash,
		user.Role, user.IsApproved, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return mapErr("user", err)
	}
	return nil
}

func (r *userRepository) Get(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `
		SELECT id, email, name, password_hash, role, is_approved,
			approved_by, approved_at, created_at, updated_at
		FROM users WHERE id = $1
	`
	var user model.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, mapErr("user", err)
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id, email, name, password_hash, role, is_approved,
			approved_by, approved_at, created_at, updated_at
		FROM users WHERE email = $1
	`
	var user model.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, mapErr("user", err)
	}
	return &user, nil
}

func (r *userRepository) Update(ctx context.Context, user *model.User) error {
	query := `
		UPDATE users
		SET name = $1, password_hash = $2, is_approved = $3,
			approved_by = $4, approved_at = $5, updated_at = $6
		WHERE id = $7
	`
	user.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, query,
		user.Name, user.PasswordHash, user.IsApproved,
		user.ApprovedBy, user.ApprovedAt, user.UpdatedAt, user.ID,
	)
	if err != nil {
		return mapErr("user", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NotFound("user", nil)
	}
	return nil
}

func (r *userRepository) List(ctx context.Context, filter *model.UserFilter) ([]*model.User, error) {
	query := `
		SELECT id, email, name, password_hash, role, is_approved,
			approved_by, approved_at, created_at, updated_at
		FROM users WHERE 1=1
	`
	args := []interface{}{}
	if filter != nil {
		if filter.Role != nil {
			args = append(args, *filter.Role)
			query += " AND role = $" + strconv.Itoa(len(args))
		}
		if filter.IsApproved != nil {
			args = append(args, *filter.IsApproved)
			query += " AND is_approved = $" + strconv.Itoa(len(args))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	var users []*model.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, mapErr("users", err)
	}
	return users, nil
}
