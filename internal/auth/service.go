package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/internal/identity"
)

// Service orchestrates the identity provider and the local profile store. All
// provider failures are translated into the gateway taxonomy here; callers
// never observe provider-specific errors.
type Service struct {
	logger   *slog.Logger
	provider identity.Provider
	repo     Repository
}

// NewService constructs a new Service.
func NewService(logger *slog.Logger, provider identity.Provider, repo Repository) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, provider: provider, repo: repo}
}

// RegisterInput carries the registration fields after transport validation.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register signs the account up with the provider, then creates the local
// profile. The provider write leads; if the profile insert fails the account
// is rolled back with a compensating delete so a retry can succeed.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*UserResponse, error) {
	account, err := s.provider.SignUp(ctx, in.Email, in.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrEmailTaken):
			return nil, ErrAlreadyExists
		case errors.Is(err, identity.ErrWeakPassword):
			return nil, fmt.Errorf("%w: password does not meet requirements", ErrInvalidInput)
		default:
			return nil, fmt.Errorf("sign up: %w", err)
		}
	}

	profile := &Profile{
		ID:                uuid.NewString(),
		UserID:            account.ID,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		CurrentDailyToken: DefaultDailyTokenQuota,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.repo.CreateProfile(ctx, profile); err != nil {
		s.logger.Error("profile create failed, rolling back account",
			slog.String("account_id", account.ID), slog.Any("error", err))
		if delErr := s.provider.DeleteAccount(ctx, account.ID); delErr != nil {
			// Orphaned account: flagged here, recovered out of band.
			s.logger.Error("compensating account delete failed",
				slog.String("account_id", account.ID), slog.Any("error", delErr))
		}
		return nil, ErrRegistrationIncomplete
	}

	return &UserResponse{
		ID:          account.ID,
		Email:       account.Email,
		FirstName:   profile.FirstName,
		LastName:    profile.LastName,
		ConfirmedAt: account.ConfirmedAt,
	}, nil
}

// Login exchanges credentials for a session. Every provider rejection
// collapses into ErrInvalidCredentials so unknown emails are
// indistinguishable from wrong passwords.
func (s *Service) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	sess, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return sess, nil
}

// Refresh rotates the session. A rejected refresh token yields
// ErrUnauthenticated so the caller clears local session state; transport
// failures stay opaque and retryable.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := s.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, identity.ErrTokenInvalid) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	return sess, nil
}

// ForgotPassword asks the provider to send a recovery token. Unknown emails
// are swallowed so the acknowledgment never reveals account existence.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	err := s.provider.SendRecovery(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			s.logger.Debug("recovery requested for unknown email")
			return nil
		}
		return fmt.Errorf("send recovery: %w", err)
	}
	return nil
}

// ResetPassword verifies a recovery token, applies the new password, and
// signs the recovery session out so the user must authenticate again.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	sess, err := s.provider.VerifyRecovery(ctx, token)
	if err != nil {
		if errors.Is(err, identity.ErrTokenInvalid) || errors.Is(err, identity.ErrUserNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("verify recovery: %w", err)
	}

	if err := s.provider.UpdatePassword(ctx, sess.AccessToken, newPassword); err != nil {
		switch {
		case errors.Is(err, identity.ErrWeakPassword):
			return fmt.Errorf("%w: password does not meet requirements", ErrInvalidInput)
		case errors.Is(err, identity.ErrTokenInvalid):
			return ErrInvalidResetToken
		default:
			return fmt.Errorf("update password: %w", err)
		}
	}

	if err := s.provider.SignOut(ctx, sess.AccessToken); err != nil {
		s.logger.Warn("sign out after password reset", slog.Any("error", err))
	}
	return nil
}

// ChangePassword re-verifies the current password with a sign-in challenge
// before applying the change. Failure is side-effect free; the existing
// session stays valid. On success the returned fresh session replaces it.
func (s *Service) ChangePassword(ctx context.Context, account *identity.Account, currentPassword, newPassword string) (*identity.Session, error) {
	sess, err := s.provider.SignInWithPassword(ctx, account.Email, currentPassword)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) || errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("verify current password: %w", err)
	}

	if err := s.provider.UpdatePassword(ctx, sess.AccessToken, newPassword); err != nil {
		if errors.Is(err, identity.ErrWeakPassword) {
			return nil, fmt.Errorf("%w: password does not meet requirements", ErrInvalidInput)
		}
		return nil, fmt.Errorf("update password: %w", err)
	}
	return sess, nil
}

// Logout revokes the provider session. Best effort: failures are logged and
// the caller clears cookies regardless.
func (s *Service) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		s.logger.Warn("provider sign out", slog.Any("error", err))
	}
}

// Authenticate validates an access token against the provider. Called on
// every authenticated request; no validation result is cached.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*identity.Account, error) {
	if accessToken == "" {
		return nil, ErrUnauthenticated
	}
	account, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		if errors.Is(err, identity.ErrTokenInvalid) || errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return account, nil
}

// UserView joins an authenticated account with its local profile. A missing
// profile row degrades to empty names instead of failing.
func (s *Service) UserView(ctx context.Context, account *identity.Account) (*UserResponse, error) {
	resp := &UserResponse{
		ID:          account.ID,
		Email:       account.Email,
		ConfirmedAt: account.ConfirmedAt,
	}

	profile, err := s.repo.GetProfileByUserID(ctx, account.ID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			s.logger.Warn("account without profile", slog.String("account_id", account.ID))
			return resp, nil
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}

	resp.FirstName = profile.FirstName
	resp.LastName = profile.LastName
	resp.ProfilePic = profile.ProfilePic
	return resp, nil
}

// UpdateProfilePicture sets the picture URL, creating the profile row on
// demand when registration predates the profile table.
func (s *Service) UpdateProfilePicture(ctx context.Context, account *identity.Account, url string) (*UserResponse, error) {
	err := s.repo.UpdateProfilePic(ctx, account.ID, url)
	if errors.Is(err, ErrProfileNotFound) {
		profile := &Profile{
			ID:                uuid.NewString(),
			UserID:            account.ID,
			ProfilePic:        &url,
			CurrentDailyToken: DefaultDailyTokenQuota,
			CreatedAt:         time.Now().UTC(),
		}
		err = s.repo.CreateProfile(ctx, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("update profile picture: %w", err)
	}
	return s.UserView(ctx, account)
}
