package credstore

import (
	"context"
	"sync"

	"example.com/healthsync/internal/domain"
)

// MemStore is an in-memory Store used by tests and by adapters that need a
// store before a database is wired up.
type MemStore struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
	keys  *keyedMutex
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		creds: make(map[string]domain.Credential),
		keys:  newKeyedMutex(),
	}
}

func memKey(userID, provider string) string {
	return userID + "\x00" + provider
}

// Save stores the credential, replacing any prior one for the pair.
func (s *MemStore) Save(ctx context.Context, cred domain.Credential) error {
	lock := s.keys.get(cred.UserID, cred.Provider)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[memKey(cred.UserID, cred.Provider)] = cred
	return nil
}

// Load returns the stored credential or nil.
func (s *MemStore) Load(ctx context.Context, userID, provider string) (*domain.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cred, ok := s.creds[memKey(userID, provider)]; ok {
		copied := cred
		return &copied, nil
	}
	return nil, nil
}

// Clear deletes the credential; absence is not an error.
func (s *MemStore) Clear(ctx context.Context, userID, provider string) error {
	lock := s.keys.get(userID, provider)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, memKey(userID, provider))
	return nil
}
