package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for the profile store.
type Repository interface {
	CreateProfile(ctx context.Context, profile *Profile) error
	GetProfileByUserID(ctx context.Context, userID string) (*Profile, error)
	UpdateProfilePic(ctx context.Context, userID, url string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateProfile inserts a new profile row. A second profile for the same
// account surfaces as ErrAlreadyExists via the user_id unique constraint.
func (r *PGRepository) CreateProfile(ctx context.Context, profile *Profile) error {
	const query = `
		INSERT INTO profiles (id, user_id, first_name, last_name, profile_pic, current_daily_token, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.UserID,
		profile.FirstName,
		profile.LastName,
		profile.ProfilePic,
		profile.CurrentDailyToken,
		createdAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetProfileByUserID fetches the profile belonging to an account.
func (r *PGRepository) GetProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	const query = `
		SELECT id, user_id, first_name, last_name, profile_pic, current_daily_token, created_at
		FROM profiles
		WHERE user_id = $1`

	var profile Profile
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.FirstName,
		&profile.LastName,
		&profile.ProfilePic,
		&profile.CurrentDailyToken,
		&profile.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// UpdateProfilePic sets the picture URL on an existing profile.
func (r *PGRepository) UpdateProfilePic(ctx context.Context, userID, url string) error {
	const query = `UPDATE profiles SET profile_pic = $2 WHERE user_id = $1`

	tag, err := r.pool.Exec(ctx, query, userID, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
