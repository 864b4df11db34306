package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/alexedwards/argon2id"
)

// Password length limits, counted in runes.
const (
	minPasswordLength = 8
	maxPasswordLength = 64
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordTooShort   = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrPasswordTooLong    = fmt.Errorf("password must be at most %d characters", maxPasswordLength)
)

// Service checks admin credentials and issues access tokens. There are no
// refresh tokens; clients sign in again once a token expires.
type Service struct {
	repo     *Repository
	secret   string
	tokenTTL time.Duration
	params   *argon2id.Params
	logger   *slog.Logger
}

// NewService builds a Service. A non-positive tokenTTL means DefaultTokenTTL.
func NewService(repo *Repository, jwtSecret string, tokenTTL time.Duration, logger *slog.Logger) *Service {
	if tokenTTL <= 0 {
		tokenTTL = DefaultTokenTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		secret:   jwtSecret,
		tokenTTL: tokenTTL,
		params:   argon2id.DefaultParams,
		logger:   logger,
	}
}

// Secret is the HMAC key tokens are signed and verified with.
func (s *Service) Secret() string { return s.secret }

// TokenTTL is the lifetime of issued tokens.
func (s *Service) TokenTTL() time.Duration { return s.tokenTTL }

// EnsureAdmin seeds the admin account for email. An existing account is
// returned as is; its password is not touched.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*Admin, error) {
	if err := validatePassword(password); err != nil {
		return nil, fmt.Errorf("auth: seed admin: %w", err)
	}
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	admin, err := s.repo.CreateAdmin(ctx, email, hash, RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("auth: seed admin: %w", err)
	}
	s.logger.Info("admin account ready", "email", admin.Email, "id", admin.ID)
	return admin, nil
}

// HashPassword returns an encoded Argon2id hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	params := s.params
	if params == nil {
		params = argon2id.DefaultParams
	}
	hash, err := argon2id.CreateHash(password, params)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return hash, nil
}

// VerifyPassword reports whether password matches the encoded hash.
func (s *Service) VerifyPassword(hash, password string) (bool, error) {
	ok, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("auth: verify password: %w", err)
	}
	return ok, nil
}

// Login returns the admin and a fresh access token. An unknown email and a
// wrong password both yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*Admin, string, error) {
	admin, err := s.repo.GetAdminByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrAdminNotFound):
		return nil, "", ErrInvalidCredentials
	case err != nil:
		return nil, "", fmt.Errorf("auth: login: %w", err)
	}

	ok, err := s.VerifyPassword(admin.PasswordHash, password)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", ErrInvalidCredentials
	}

	token, err := CreateAccessToken(admin, s.secret, s.tokenTTL)
	if err != nil {
		return nil, "", err
	}
	return admin, token, nil
}

func validatePassword(password string) error {
	switch n := utf8.RuneCountInString(password); {
	case n < minPasswordLength:
		return ErrPasswordTooShort
	case n > maxPasswordLength:
		return ErrPasswordTooLong
	}
	return nil
}
