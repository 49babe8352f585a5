package profile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert inserts the profile or updates the existing row with the same id.
func (r *PostgresRepository) Upsert(ctx context.Context, p Profile) error {
	const query = `
		INSERT INTO profiles (id, email, full_name, avatar_url, provider, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    full_name = EXCLUDED.full_name,
		    avatar_url = EXCLUDED.avatar_url,
		    provider = EXCLUDED.provider,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Email,
		p.FullName,
		p.AvatarURL,
		p.Provider,
		p.UpdatedAt,
	)
	return err
}

// Find returns the stored profile for id, or nil if none exists.
func (r *PostgresRepository) Find(ctx context.Context, id string) (*Profile, error) {
	const query = `
		SELECT id, email, full_name, avatar_url, provider, updated_at
		FROM profiles
		WHERE id = $1
	`

	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return row.toProfile(), nil
}

// profileRow is a database row representation of Profile.
type profileRow struct {
	ID        string    `db:"id"`
	Email     string    `db:"email"`
	FullName  string    `db:"full_name"`
	AvatarURL string    `db:"avatar_url"`
	Provider  string    `db:"provider"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r *profileRow) toProfile() *Profile {
	return &Profile{
		ID:        r.ID,
		Email:     r.Email,
		FullName:  r.FullName,
		AvatarURL: r.AvatarURL,
		Provider:  r.Provider,
		UpdatedAt: r.UpdatedAt,
	}
}
