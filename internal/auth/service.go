package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aurum-pay/aurum_pay/internal/identity"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrInvalidToken covers malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens issued before the last logout.
	ErrTokenRevoked = errors.New("token version invalidated")
)

// Users is the part of the identity repository the token service needs.
type Users interface {
	FindByID(ctx context.Context, id string) (identity.User, error)
	UpdateTokenVersion(ctx context.Context, id string, version int) error
}

// Settings holds signing keys and token lifetimes.
type Settings struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Claims are carried by both token types. Version must match the user's
// current token version for the token to be accepted.
type Claims struct {
	Phone   string `json:"phone,omitempty"`
	Tier    string `json:"tier,omitempty"`
	Version int    `json:"ver"`
	Type    string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is returned on login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// Service issues and verifies HS256 tokens.
type Service struct {
	settings Settings
	users    Users
	now      func() time.Time
}

// NewService builds a token service.
func NewService(settings Settings, users Users) *Service {
	return &Service{settings: settings, users: users, now: time.Now}
}

// Login issues an access and refresh token for an authenticated user.
func (s *Service) Login(user identity.User) (TokenPair, error) {
	access, err := s.sign(user, typeAccess, s.settings.AccessSecret, s.settings.AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(user, typeRefresh, s.settings.RefreshSecret, s.settings.RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.settings.AccessTTL.Seconds())}, nil
}

// Refresh exchanges a valid refresh token for a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	user, err := s.current(ctx, refreshToken, typeRefresh, s.settings.RefreshSecret)
	if err != nil {
		return "", 0, err
	}
	access, err := s.sign(user, typeAccess, s.settings.AccessSecret, s.settings.AccessTTL)
	if err != nil {
		return "", 0, err
	}
	return access, int64(s.settings.AccessTTL.Seconds()), nil
}

// Verify checks an access token and returns the user it belongs to.
func (s *Service) Verify(ctx context.Context, accessToken string) (identity.User, error) {
	return s.current(ctx, accessToken, typeAccess, s.settings.AccessSecret)
}

// Logout revokes every token of the refresh token's owner by bumping the
// token version.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	user, err := s.current(ctx, refreshToken, typeRefresh, s.settings.RefreshSecret)
	if err != nil {
		return err
	}
	return s.users.UpdateTokenVersion(ctx, user.ID, user.TokenVersion+1)
}

func (s *Service) sign(user identity.User, typ, secret string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Phone:   user.Phone,
		Tier:    user.Tier,
		Version: user.TokenVersion,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (s *Service) current(ctx context.Context, token, typ, secret string) (identity.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return identity.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Type != typ || claims.Subject == "" {
		return identity.User{}, ErrInvalidToken
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return identity.User{}, ErrInvalidToken
		}
		return identity.User{}, err
	}
	if user.TokenVersion != claims.Version {
		return identity.User{}, ErrTokenRevoked
	}
	return user, nil
}
