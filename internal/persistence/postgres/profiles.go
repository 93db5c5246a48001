package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/youthcenter/internal/domain"
)

// ListProfiles returns every stored profile ordered by creation time.
func (r *Repository) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	const query = `SELECT id, username, COALESCE(email, ''), COALESCE(phone, ''),
        is_admin, created_at, updated_at
        FROM profiles ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.Email, &p.Phone, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// GetProfile fetches one profile by identifier.
func (r *Repository) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	const query = `SELECT id, username, COALESCE(email, ''), COALESCE(phone, ''),
        is_admin, created_at, updated_at
        FROM profiles WHERE id=$1`
	return r.scanProfile(r.pool.QueryRow(ctx, query, id), id)
}

// GetProfileByUsername fetches one profile by its unique username.
func (r *Repository) GetProfileByUsername(ctx context.Context, username string) (domain.Profile, error) {
	const query = `SELECT id, username, COALESCE(email, ''), COALESCE(phone, ''),
        is_admin, created_at, updated_at
        FROM profiles WHERE username=$1`
	return r.scanProfile(r.pool.QueryRow(ctx, query, username), username)
}

// GetProfileByEmail fetches one profile by its unique email address.
func (r *Repository) GetProfileByEmail(ctx context.Context, email string) (domain.Profile, error) {
	const query = `SELECT id, username, COALESCE(email, ''), COALESCE(phone, ''),
        is_admin, created_at, updated_at
        FROM profiles WHERE email=$1`
	return r.scanProfile(r.pool.QueryRow(ctx, query, email), email)
}

// InsertProfile stores a new profile row.
func (r *Repository) InsertProfile(ctx context.Context, p domain.Profile) error {
	const stmt = `INSERT INTO profiles (id, username, email, phone, is_admin)
        VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),$5)`
	_, err := r.pool.Exec(ctx, stmt, p.ID, p.Username, p.Email, p.Phone, p.IsAdmin)
	return err
}

// UpdateProfile replaces the mutable profile fields.
func (r *Repository) UpdateProfile(ctx context.Context, p domain.Profile) error {
	const stmt = `UPDATE profiles SET
        username=$2, email=NULLIF($3,''), phone=NULLIF($4,''), is_admin=$5, updated_at=now()
        WHERE id=$1`
	tag, err := r.pool.Exec(ctx, stmt, p.ID, p.Username, p.Email, p.Phone, p.IsAdmin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeleteProfile removes a profile row by identifier.
func (r *Repository) DeleteProfile(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM profiles WHERE id=$1`, id)
	return err
}

func (r *Repository) scanProfile(row pgx.Row, key string) (domain.Profile, error) {
	var p domain.Profile
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.Phone, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Profile{}, fmt.Errorf("profile %s: %w", key, ErrNotFound)
	}
	return p, err
}
