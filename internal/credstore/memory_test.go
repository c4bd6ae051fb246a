package credstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthsync/internal/domain"
)

func TestMemStoreRoundTrip(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	cred := domain.Credential{
		UserID:       "user-1",
		Provider:     "strava",
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, store.Save(ctx, cred))

	loaded, err := store.Load(ctx, "user-1", "strava")
	require.NoError(t, err)
	require.Equal(t, cred, *loaded)

	// Pairs are independent.
	other, err := store.Load(ctx, "user-1", "fitbit")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestMemStoreSaveReplaces(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Credential{UserID: "u", Provider: "p", AccessToken: "old"}))
	require.NoError(t, store.Save(ctx, domain.Credential{UserID: "u", Provider: "p", AccessToken: "new"}))

	loaded, err := store.Load(ctx, "u", "p")
	require.NoError(t, err)
	require.Equal(t, "new", loaded.AccessToken)
}

func TestMemStoreClearIsIdempotent(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Credential{UserID: "u", Provider: "p", AccessToken: "at"}))
	require.NoError(t, store.Clear(ctx, "u", "p"))
	require.NoError(t, store.Clear(ctx, "u", "p"))

	loaded, err := store.Load(ctx, "u", "p")
	require.NoError(t, err)
	require.Nil(t, loaded)
}

func TestMemStoreLoadReturnsCopy(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Credential{UserID: "u", Provider: "p", AccessToken: "at"}))

	first, err := store.Load(ctx, "u", "p")
	require.NoError(t, err)
	first.AccessToken = "mutated"

	second, err := store.Load(ctx, "u", "p")
	require.NoError(t, err)
	require.Equal(t, "at", second.AccessToken)
}
