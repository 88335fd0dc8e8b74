// Package identity defines the port to the external identity provider that is
// the system of record for credentials and session tokens.
package identity

import (
	"context"
	"errors"
	"time"
)

// Account is the provider-owned user record. Passwords never leave the
// provider.
type Account struct {
	ID          string
	Email       string
	ConfirmedAt *time.Time
	CreatedAt   time.Time
}

// Session is the access/refresh token pair issued by the provider.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	TokenType    string
	Account      Account
}

// Typed provider failures. Anything else coming out of a Provider is treated
// as an opaque internal error by callers.
var (
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrWeakPassword       = errors.New("identity: password does not meet requirements")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrTokenInvalid       = errors.New("identity: token invalid or expired")
	ErrUserNotFound       = errors.New("identity: user not found")
)

// Provider wraps a remote identity service. Implementations must translate
// service-specific failures into the typed errors above.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*Account, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	SendRecovery(ctx context.Context, email string) error
	VerifyRecovery(ctx context.Context, token string) (*Session, error)
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	GetUser(ctx context.Context, accessToken string) (*Account, error)
	SignOut(ctx context.Context, accessToken string) error

	// DeleteAccount is the admin-level compensating action used to roll back
	// a sign-up whose dependent local write failed.
	DeleteAccount(ctx context.Context, accountID string) error
}
