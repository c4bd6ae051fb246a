//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/domain"
)

func TestRepositoryRoundTrips(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	userID := uuid.NewString()

	merged := domain.DailyMetrics{
		UserID: userID,
		Day:    "2026-08-19",
		Values: domain.MetricValues{
			Steps:          domain.IntPtr(10250),
			RestingHR:      domain.IntPtr(52),
			DistanceMeters: domain.FloatPtr(8400.5),
		},
		DataSources: map[string]string{
			domain.FieldSteps:     "garmin",
			domain.FieldRestingHR: "whoop",
		},
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.UpsertDailyMetrics(ctx, merged))

	// Re-merging the same day replaces the row rather than duplicating it.
	merged.Values.Steps = domain.IntPtr(10300)
	require.NoError(t, repo.UpsertDailyMetrics(ctx, merged))

	days, err := repo.DailyMetrics(ctx, userID, domain.DateRange{From: "2026-08-18", To: "2026-08-20"})
	require.NoError(t, err)
	require.Len(t, days, 1)
	require.Equal(t, domain.Day("2026-08-19"), days[0].Day)
	require.Equal(t, 10300, *days[0].Values.Steps)
	require.Equal(t, "garmin", days[0].DataSources[domain.FieldSteps])

	last, err := repo.LastSyncedAt(ctx, userID)
	require.NoError(t, err)
	require.False(t, last.IsZero())

	last, err = repo.LastSyncedAt(ctx, uuid.NewString())
	require.NoError(t, err)
	require.True(t, last.IsZero())
}

func TestOfflineQueuePersistence(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	userID := uuid.NewString()

	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 3; i++ {
		rec := domain.LocalRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Kind:      "workout",
			Payload:   []byte(`{"sport":"run"}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.InsertLocalRecord(ctx, rec))
		ids = append(ids, rec.ID)
	}

	pending, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, pending)

	recs, err := repo.UnsyncedRecords(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		require.Equal(t, ids[i], rec.ID, "records must come back in insertion order")
	}

	require.NoError(t, repo.DeleteRecord(ctx, ids[0]))
	pending, err = repo.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, pending)
}

func TestPlatformSampleIngestion(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	userID := uuid.NewString()

	sample := domain.ProviderSample{
		Day:    "2026-08-19",
		Values: domain.MetricValues{Steps: domain.IntPtr(7200)},
	}
	require.NoError(t, repo.UpsertPlatformSample(ctx, userID, "applehealth", sample))

	sample.Values.Steps = domain.IntPtr(7450)
	require.NoError(t, repo.UpsertPlatformSample(ctx, userID, "applehealth", sample))

	got, err := repo.PlatformSamples(ctx, userID, "applehealth", domain.DateRange{From: "2026-08-19", To: "2026-08-19"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 7450, *got[0].Values.Steps)

	// Samples are scoped per provider.
	got, err = repo.PlatformSamples(ctx, userID, "healthconnect", domain.DateRange{From: "2026-08-19", To: "2026-08-19"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCredentialStore(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	store := credstore.NewPGStore(pool)
	userID := uuid.NewString()

	cred := domain.Credential{
		UserID:       userID,
		Provider:     "strava",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond),
		Scope:        "read,activity:read_all",
	}
	require.NoError(t, store.Save(ctx, cred))

	loaded, err := store.Load(ctx, userID, "strava")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, "at-1", loaded.AccessToken)
	require.Equal(t, "rt-1", loaded.RefreshToken)
	require.WithinDuration(t, cred.ExpiresAt, loaded.ExpiresAt, time.Millisecond)

	// OAuth1 credentials carry a token secret and no expiry.
	require.NoError(t, store.Save(ctx, domain.Credential{
		UserID:      userID,
		Provider:    "garmin",
		AccessToken: "oauth1-token",
		TokenSecret: "oauth1-secret",
	}))
	garmin, err := store.Load(ctx, userID, "garmin")
	require.NoError(t, err)
	require.NotNil(t, garmin)
	require.Equal(t, "oauth1-secret", garmin.TokenSecret)
	require.True(t, garmin.ExpiresAt.IsZero())

	users, err := store.ActiveUsers(ctx)
	require.NoError(t, err)
	require.Contains(t, users, userID)

	require.NoError(t, store.Clear(ctx, userID, "strava"))
	loaded, err = store.Load(ctx, userID, "strava")
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.NoError(t, store.Clear(ctx, userID, "strava"))
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("healthsync"),
		postgrescontainer.WithUsername("healthsync"),
		postgrescontainer.WithPassword("healthsync"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, EnsureSchema(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
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
