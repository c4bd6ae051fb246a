package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/healthsync/internal/domain"
)

// PGStore is the Postgres-backed Store. The upsert is a single statement,
// so a failed write never destroys the previous credential. Tokens are
// stored as plain columns; at-rest protection is whatever the database
// provides, not a platform keychain.
type PGStore struct {
	pool *pgxpool.Pool
	keys *keyedMutex
}

// NewPGStore constructs a PGStore on the provided pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, keys: newKeyedMutex()}
}

// Save upserts the credential for (user, provider).
func (s *PGStore) Save(ctx context.Context, cred domain.Credential) error {
	lock := s.keys.get(cred.UserID, cred.Provider)
	lock.Lock()
	defer lock.Unlock()

	const stmt = `INSERT INTO credentials (user_id, provider, access_token, refresh_token, token_secret, expires_at, scope, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (user_id, provider) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            token_secret = EXCLUDED.token_secret,
            expires_at = EXCLUDED.expires_at,
            scope = EXCLUDED.scope,
            updated_at = EXCLUDED.updated_at`

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, stmt,
		cred.UserID,
		cred.Provider,
		cred.AccessToken,
		nullIfEmpty(cred.RefreshToken),
		nullIfEmpty(cred.TokenSecret),
		nullIfZeroTime(cred.ExpiresAt),
		nullIfEmpty(cred.Scope),
		updatedAt,
	)
	if err != nil {
		return &domain.StorageError{Op: "save credential", Err: err}
	}
	return nil
}

// Load returns the stored credential or nil when the pair was never
// authorized or was disconnected.
func (s *PGStore) Load(ctx context.Context, userID, provider string) (*domain.Credential, error) {
	const query = `SELECT user_id, provider, access_token, refresh_token, token_secret, expires_at, scope, updated_at
        FROM credentials WHERE user_id=$1 AND provider=$2`

	row := s.pool.QueryRow(ctx, query, userID, provider)

	var (
		cred         domain.Credential
		refreshToken *string
		tokenSecret  *string
		expiresAt    *time.Time
		scope        *string
	)
	if err := row.Scan(&cred.UserID, &cred.Provider, &cred.AccessToken, &refreshToken, &tokenSecret, &expiresAt, &scope, &cred.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &domain.StorageError{Op: "load credential", Err: err}
	}

	if refreshToken != nil {
		cred.RefreshToken = *refreshToken
	}
	if tokenSecret != nil {
		cred.TokenSecret = *tokenSecret
	}
	if expiresAt != nil {
		cred.ExpiresAt = *expiresAt
	}
	if scope != nil {
		cred.Scope = *scope
	}
	return &cred, nil
}

// Clear deletes the credential; deleting an absent row is not an error.
func (s *PGStore) Clear(ctx context.Context, userID, provider string) error {
	lock := s.keys.get(userID, provider)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.pool.Exec(ctx, `DELETE FROM credentials WHERE user_id=$1 AND provider=$2`, userID, provider); err != nil {
		return &domain.StorageError{Op: "clear credential", Err: err}
	}
	return nil
}

// ActiveUsers lists users holding at least one credential, for the periodic
// sync worker.
func (s *PGStore) ActiveUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM credentials ORDER BY user_id`)
	if err != nil {
		return nil, &domain.StorageError{Op: "list active users", Err: err}
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &domain.StorageError{Op: "list active users", Err: err}
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list active users", Err: err}
	}
	return users, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroTime(value time.Time) interface{} {
	if value.IsZero() {
		return nil
	}
	return value
}
