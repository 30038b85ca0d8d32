package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"ragbridge/internal/models"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Users is the account store. Email is unique; CreateUser reports a clash as
// ErrDuplicateEmail.
type Users interface {
	CreateUser(ctx context.Context, u models.User) error
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	Close(ctx context.Context) error
}

// OpenUsers picks the backend from the URL scheme: postgres:// or
// postgresql:// use pgx, mongodb:// and mongodb+srv:// use the Mongo driver.
func OpenUsers(ctx context.Context, rawURL string) (Users, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse accounts url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		db, err := NewDB(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return NewUserRepo(db), nil
	case "mongodb", "mongodb+srv":
		return NewMongoUsers(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported accounts backend %q", u.Scheme)
	}
}
