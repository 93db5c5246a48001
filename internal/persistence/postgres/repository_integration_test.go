//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/youthcenter/internal/domain"
)

func TestRepositoryActivityLifecycle(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("youthcenter"),
		postgrescontainer.WithUsername("youthcenter"),
		postgrescontainer.WithPassword("youthcenter"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	repo := NewRepository(pool)

	var centerID int64
	err = pool.QueryRow(ctx, `INSERT INTO centers (name, location) VALUES ('Jerash', 'Jerash City') RETURNING id`).Scan(&centerID)
	require.NoError(t, err)

	centers, err := repo.ListCenters(ctx)
	require.NoError(t, err)
	require.Len(t, centers, 1)
	require.Equal(t, "Jerash", centers[0].Name)

	participants := 20
	created, err := repo.InsertActivity(ctx, domain.ActivityDraft{
		Name:                 "Camp",
		Center:               "Jerash",
		Location:             "Forest",
		StartDate:            "2025-07-01",
		EndDate:              "2025-07-03",
		Status:               domain.StatusPreparing,
		ExpectedParticipants: &participants,
	}, centerID)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID, "store assigns the identifier")
	require.Equal(t, "2025-07-01", created.StartDate)

	listed, err := repo.ListActivities(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "Jerash", listed[0].Center, "list must join the center name")

	created.Status = domain.StatusInProgress
	require.NoError(t, repo.UpdateActivity(ctx, created, centerID))

	listed, err = repo.ListActivities(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, listed[0].Status)

	require.NoError(t, repo.DeleteActivity(ctx, created.ID))
	require.NoError(t, repo.DeleteActivity(ctx, created.ID), "deleting an unknown id is not an error")

	listed, err = repo.ListActivities(ctx)
	require.NoError(t, err)
	require.Empty(t, listed)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
