package domain

import "time"

// Credential is the stored authorization material for one (user, provider)
// pair. It is owned exclusively by the credential store: re-authorization
// overwrites it, disconnect deletes it.
type Credential struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero for credentials that never expire (OAuth1 tokens,
	// platform permission grants).
	ExpiresAt time.Time
	Scope     string
	// TokenSecret holds the OAuth1 token secret; empty for OAuth2 providers.
	TokenSecret string
	UpdatedAt   time.Time
}

// ExpiresWithin reports whether the credential expires inside the given
// safety margin. Credentials without an expiry never do.
func (c *Credential) ExpiresWithin(margin time.Duration, now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}
