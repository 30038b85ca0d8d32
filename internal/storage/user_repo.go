package storage

import (
	"context"
	"errors"
	"fmt"

	"ragbridge/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) CreateUser(ctx context.Context, u models.User) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO users (user_id, fullname, email, fonction, password, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		u.UserID, u.Fullname, u.Email, u.Fonction, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := r.db.Pool.QueryRow(ctx, `
SELECT user_id::text, fullname, email, fonction, password, created_at
FROM users
WHERE email=$1`, email).Scan(&u.UserID, &u.Fullname, &u.Email, &u.Fonction, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepo) Close(context.Context) error {
	r.db.Close()
	return nil
}
