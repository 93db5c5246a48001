// Package postgres provides the pgx-backed remote store access for
// centers, activities, profiles, and activity files.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/youthcenter/internal/domain"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository provides Postgres-backed persistence for the youth-center tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListCenters returns the full center reference set.
func (r *Repository) ListCenters(ctx context.Context) ([]domain.Center, error) {
	const query = `SELECT id, name, COALESCE(location, ''), COALESCE(description, '')
        FROM centers ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var centers []domain.Center
	for rows.Next() {
		var c domain.Center
		if err := rows.Scan(&c.ID, &c.Name, &c.Location, &c.Description); err != nil {
			return nil, err
		}
		centers = append(centers, c)
	}
	return centers, rows.Err()
}

const activityColumns = `a.id, a.center_id, a.name, a.location, a.start_date, a.end_date,
        a.status, a.description, a.expected_participants, a.created_at, a.updated_at, c.name`

// ListActivities returns every activity joined with its center's display name.
func (r *Repository) ListActivities(ctx context.Context) ([]domain.Activity, error) {
	query := `SELECT ` + activityColumns + `
        FROM activities a JOIN centers c ON c.id = a.center_id
        ORDER BY a.created_at, a.id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

// InsertActivity persists a new activity and returns it in domain shape
// with the server-assigned identifier and timestamps merged in.
func (r *Repository) InsertActivity(ctx context.Context, draft domain.ActivityDraft, centerID int64) (domain.Activity, error) {
	row, err := ToRow(draft.Activity(), centerID)
	if err != nil {
		return domain.Activity{}, err
	}

	const stmt = `INSERT INTO activities
        (center_id, name, location, start_date, end_date, status, description, expected_participants)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`

	var inserted ActivityRow = row
	err = r.pool.QueryRow(ctx, stmt,
		row.CenterID,
		row.Name,
		row.Location,
		row.StartDate,
		row.EndDate,
		row.Status,
		row.Description,
		row.ExpectedParticipants,
	).Scan(&inserted.ID, &inserted.CreatedAt, &inserted.UpdatedAt)
	if err != nil {
		return domain.Activity{}, err
	}

	return ToDomain(inserted, draft.Center), nil
}

// UpdateActivity replaces the mutable fields of an existing activity.
func (r *Repository) UpdateActivity(ctx context.Context, a domain.Activity, centerID int64) error {
	row, err := ToRow(a, centerID)
	if err != nil {
		return err
	}

	const stmt = `UPDATE activities SET
        center_id=$2, name=$3, location=$4, start_date=$5, end_date=$6,
        status=$7, description=$8, expected_participants=$9, updated_at=now()
        WHERE id=$1`

	tag, err := r.pool.Exec(ctx, stmt,
		row.ID,
		row.CenterID,
		row.Name,
		row.Location,
		row.StartDate,
		row.EndDate,
		row.Status,
		row.Description,
		row.ExpectedParticipants,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("activity %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// DeleteActivity removes an activity by identifier. Deleting an unknown
// identifier is not an error.
func (r *Repository) DeleteActivity(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activities WHERE id=$1`, id)
	return err
}

func scanActivity(rows pgx.Rows) (domain.Activity, error) {
	var row ActivityRow
	var centerName string
	if err := rows.Scan(
		&row.ID,
		&row.CenterID,
		&row.Name,
		&row.Location,
		&row.StartDate,
		&row.EndDate,
		&row.Status,
		&row.Description,
		&row.ExpectedParticipants,
		&row.CreatedAt,
		&row.UpdatedAt,
		&centerName,
	); err != nil {
		return domain.Activity{}, err
	}
	return ToDomain(row, centerName), nil
}
