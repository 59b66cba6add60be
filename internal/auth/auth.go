// Package auth verifies credentials and manages accounts on top of the user
// repository. Passwords are stored as bcrypt hashes.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Role is the privilege level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role name received from a client.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), nil
	default:
		return "", ErrInvalidRole
	}
}

var (
	// ErrInvalidCredentials is returned when a login does not match.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUserExists is returned when registering a taken username.
	ErrUserExists = errors.New("username already exists")
	// ErrUserNotFound is returned for operations on an unknown username.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidRole is returned for a role other than user or admin.
	ErrInvalidRole = errors.New("role must be user or admin")
	// ErrInvalidInput is returned for an empty username or password.
	ErrInvalidInput = errors.New("username and password must not be empty")
	// ErrPasswordTooLong is returned when password exceeds bcrypt's 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 bytes")
)

// PasswordHasher provides password hashing and verification functionality.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a hasher with the given bcrypt cost. Out of
// range values fall back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash generates a bcrypt hash of the given password.
func (h *PasswordHasher) Hash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// Verify checks if the provided password matches the hash.
func (h *PasswordHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Service is the credential store used by sessions.
type Service struct {
	repo   *store.UserRepository
	hasher *PasswordHasher
}

// NewService creates a new Service.
func NewService(repo *store.UserRepository, hasher *PasswordHasher) *Service {
	return &Service{repo: repo, hasher: hasher}
}

func validatePassword(password string) error {
	if password == "" {
		return ErrInvalidInput
	}
	if len(password) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}

// Register creates an account.
func (s *Service) Register(ctx context.Context, username, password string, role Role) error {
	if username == "" {
		return ErrInvalidInput
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.repo.Create(ctx, &store.User{
		Username:     username,
		PasswordHash: hash,
		Role:         string(role),
	})
	if errors.Is(err, store.ErrUserExists) {
		return ErrUserExists
	}
	return err
}

// Verify reports whether password matches the stored hash for username.
// Unknown usernames verify as false without an error.
func (s *Service) Verify(ctx context.Context, username, password string) (bool, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.hasher.Verify(password, user.PasswordHash), nil
}

// RoleOf returns the role of username.
func (s *Service) RoleOf(ctx context.Context, username string) (Role, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	return Role(user.Role), nil
}

// Login verifies the credentials and returns the account role.
func (s *Service) Login(ctx context.Context, username, password string) (Role, error) {
	ok, err := s.Verify(ctx, username, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	return s.RoleOf(ctx, username)
}

// ChangePassword replaces the password of an existing account.
func (s *Service) ChangePassword(ctx context.Context, username, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.repo.UpdatePasswordHash(ctx, username, hash)
	if errors.Is(err, store.ErrUserNotFound) {
		return ErrUserNotFound
	}
	return err
}
