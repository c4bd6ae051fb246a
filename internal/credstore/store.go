// Package credstore persists per-(user, provider) OAuth credentials.
//
// The Postgres store keeps tokens in a regular table: rows are protected by
// whatever encryption-at-rest the database deployment provides and nothing
// more. Callers must not assume platform-keychain guarantees from this
// store.
package credstore

import (
	"context"
	"sync"

	"example.com/healthsync/internal/domain"
)

// Store owns credential persistence. One credential exists per
// (user, provider) pair: Save replaces any prior one atomically, Load
// returns nil when the pair was never authorized or was disconnected, and
// Clear is idempotent.
//
// Writes for a single (user, provider) pair are serialized so a refresh in
// progress cannot race a concurrent disconnect.
type Store interface {
	Save(ctx context.Context, cred domain.Credential) error
	Load(ctx context.Context, userID, provider string) (*domain.Credential, error)
	Clear(ctx context.Context, userID, provider string) error
}

// keyedMutex serializes writers per (user, provider) key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(userID, provider string) *sync.Mutex {
	key := userID + "\x00" + provider
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	k.locks[key] = l
	return l
}
