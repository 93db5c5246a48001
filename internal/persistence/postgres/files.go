package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/youthcenter/internal/domain"
)

// ListFilesByActivity returns the attachments of one activity, newest last.
func (r *Repository) ListFilesByActivity(ctx context.Context, activityID string) ([]domain.ActivityFile, error) {
	const query = `SELECT id, activity_id, file_name, file_path, file_type, file_size, uploaded_at
        FROM activity_files WHERE activity_id=$1 ORDER BY uploaded_at, id`

	rows, err := r.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.ActivityFile
	for rows.Next() {
		var f domain.ActivityFile
		if err := rows.Scan(&f.ID, &f.ActivityID, &f.FileName, &f.FilePath, &f.FileType, &f.FileSize, &f.UploadedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetFile fetches one attachment row by identifier.
func (r *Repository) GetFile(ctx context.Context, id string) (domain.ActivityFile, error) {
	const query = `SELECT id, activity_id, file_name, file_path, file_type, file_size, uploaded_at
        FROM activity_files WHERE id=$1`

	var f domain.ActivityFile
	err := r.pool.QueryRow(ctx, query, id).Scan(&f.ID, &f.ActivityID, &f.FileName, &f.FilePath, &f.FileType, &f.FileSize, &f.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActivityFile{}, fmt.Errorf("activity file %s: %w", id, ErrNotFound)
	}
	return f, err
}

// InsertFile stores a new attachment row.
func (r *Repository) InsertFile(ctx context.Context, f domain.ActivityFile) error {
	const stmt = `INSERT INTO activity_files (id, activity_id, file_name, file_path, file_type, file_size, uploaded_at)
        VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, now()))`
	_, err := r.pool.Exec(ctx, stmt, f.ID, f.ActivityID, f.FileName, f.FilePath, f.FileType, f.FileSize, f.UploadedAt)
	return err
}

// DeleteFile removes one attachment row by identifier.
func (r *Repository) DeleteFile(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activity_files WHERE id=$1`, id)
	return err
}

// DeleteFilesByActivity removes every attachment row of an activity.
func (r *Repository) DeleteFilesByActivity(ctx context.Context, activityID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM activity_files WHERE activity_id=$1`, activityID)
	return err
}
