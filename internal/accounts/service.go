// Package accounts registers users and checks their credentials against the
// account store.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"ragbridge/internal/models"
	"ragbridge/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrWrongDomain     = errors.New("email outside allowed domain")
	ErrMissingPassword = errors.New("password is required")
	ErrPasswordTooLong = errors.New("password longer than 72 bytes")
	ErrEmailTaken      = errors.New("email already registered")
	ErrUnknownUser     = errors.New("user not found")
	ErrWrongPassword   = errors.New("wrong password")
)

const maxPasswordBytes = 72

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type Service struct {
	users  storage.Users
	domain string
	tokens *Tokens
	now    func() time.Time
}

// NewService builds the account service. domain is the required email suffix
// (e.g. "@anp.org.ma"); an empty domain accepts any address. tokens may be nil,
// in which case Login issues no token.
func NewService(users storage.Users, domain string, tokens *Tokens) *Service {
	return &Service{users: users, domain: strings.ToLower(domain), tokens: tokens, now: time.Now}
}

type SignupRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Fonction string `json:"fonction"`
	Password string `json:"password"`
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if len(email) > 254 || !emailRegex.MatchString(email) {
		return ErrInvalidEmail
	}
	if s.domain != "" && !strings.HasSuffix(email, s.domain) {
		return ErrWrongDomain
	}
	if req.Password == "" {
		return ErrMissingPassword
	}
	// bcrypt only reads the first 72 bytes
	if len(req.Password) > maxPasswordBytes {
		return ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return ErrPasswordTooLong
	}
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.users.CreateUser(ctx, models.User{
		UserID:       uuid.NewString(),
		Fullname:     strings.TrimSpace(req.Fullname),
		Email:        email,
		Fonction:     strings.TrimSpace(req.Fonction),
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, storage.ErrDuplicateEmail) {
		return ErrEmailTaken
	}
	return err
}

// Login checks the password and, when token signing is configured, returns a
// bearer token for the user.
func (s *Service) Login(ctx context.Context, email, password string) (models.User, string, error) {
	u, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, "", ErrUnknownUser
		}
		return models.User{}, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return models.User{}, "", ErrWrongPassword
	}
	if s.tokens == nil {
		return u, "", nil
	}
	token, err := s.tokens.Issue(u)
	if err != nil {
		return models.User{}, "", err
	}
	return u, token, nil
}
