package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tierZero = "tier0"
	tierOne  = "tier1"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when the phone number is already registered.
	ErrUserExists = errors.New("user exists")
)

// Provisioner creates the balances a new user starts with.
type Provisioner interface {
	EnsureAccounts(ctx context.Context, userID string) error
}

// Service manages identity lifecycle.
type Service struct {
	repo     Repository
	accounts Provisioner
}

// NewService creates a new identity service. accounts may be nil, in which
// case balances are created lazily on first credit.
func NewService(repo Repository, accounts Provisioner) *Service {
	return &Service{repo: repo, accounts: accounts}
}

// Register creates a new Tier0 user, stores a hashed PIN and opens the
// user's money and gold accounts.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	phone := normalizePhone(creds.Phone)
	if phone == "" {
		return User{}, errors.New("phone is required")
	}
	if len(creds.PIN) < 4 {
		return User{}, errors.New("PIN must be at least 4 digits")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Phone:     phone,
		Tier:      tierZero,
		PINHash:   hash,
		DeviceID:  creds.DeviceID,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	if s.accounts != nil {
		if err := s.accounts.EnsureAccounts(ctx, user.ID); err != nil {
			// Drop the half-registered user so the phone can register again.
			if delErr := s.repo.Delete(context.WithoutCancel(ctx), user.ID); delErr != nil {
				return User{}, errors.Join(err, fmt.Errorf("roll back user %s: %w", user.ID, delErr))
			}
			return User{}, err
		}
	}

	return user, nil
}

// Authenticate verifies credentials and device binding.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByPhone(ctx, normalizePhone(creds.Phone))
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, errors.New("invalid PIN")
	}

	if user.DeviceID == "" {
		if creds.DeviceID == "" {
			return User{}, errors.New("device binding required")
		}
		if err := s.repo.UpdateDevice(ctx, user.ID, creds.DeviceID); err != nil {
			return User{}, err
		}
		user.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && user.DeviceID != creds.DeviceID {
		return User{}, errors.New("device mismatch")
	}

	if user.Tier == tierZero {
		user.Tier = tierOne
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLogin(ctx, user.ID, now); err != nil {
		return User{}, err
	}
	user.LastLogin = &now

	return user, nil
}

// FindByID returns the user with the given id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByPhone resolves a phone number to a registered user. Used to look up
// transfer receivers.
func (s *Service) FindByPhone(ctx context.Context, phone string) (User, error) {
	return s.repo.FindByPhone(ctx, normalizePhone(phone))
}

func normalizePhone(phone string) string {
	return strings.Join(strings.Fields(phone), "")
}
