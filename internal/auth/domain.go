package auth

import (
	"errors"
	"time"
)

// DefaultDailyTokenQuota is assigned to every profile created at registration.
const DefaultDailyTokenQuota = 50000

// Profile extends a provider account with application-specific attributes.
// Exactly one profile exists per account that completed registration.
type Profile struct {
	ID                string
	UserID            string
	FirstName         string
	LastName          string
	ProfilePic        *string
	CurrentDailyToken int
	CreatedAt         time.Time
}

// UserResponse is the merged identity + profile view returned to callers.
type UserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	ProfilePic  *string    `json:"profile_pic,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
}

// Gateway error taxonomy. Provider-specific failures are translated into these
// at the service boundary; nothing below it leaks to the HTTP layer.
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrAlreadyExists          = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrUnauthenticated        = errors.New("unauthenticated")
	ErrInvalidResetToken      = errors.New("invalid or expired reset token")
	ErrRegistrationIncomplete = errors.New("registration could not be completed")
	ErrProfileNotFound        = errors.New("profile not found")
)
