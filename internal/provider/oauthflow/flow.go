// Package oauthflow implements the OAuth2 + PKCE authorization machinery
// shared by the OAuth2 provider adapters: authorization URL construction,
// code exchange, and token refresh with a safety margin.
package oauthflow

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"example.com/healthsync/internal/domain"
)

const (
	// pendingMaxAge bounds how long an in-memory PKCE verifier waits for
	// its callback before it is considered stale.
	pendingMaxAge = 15 * time.Minute

	// RefreshMargin is the safety window before expiry within which a
	// credential must be refreshed rather than used directly.
	RefreshMargin = 5 * time.Minute
)

// Endpoints are an OAuth2 provider's protocol URLs.
type Endpoints struct {
	AuthURL  string
	TokenURL string
	// RevokeURL is empty for providers without programmatic revocation.
	RevokeURL string
}

// Config parameterizes a Flow for one provider.
type Config struct {
	ProviderID   string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Endpoints    Endpoints
	// BasicAuthToken sends client credentials as an Authorization: Basic
	// header on token requests instead of form fields (Fitbit style).
	BasicAuthToken bool
	// ExtraAuthParams adds provider-specific authorize-URL parameters.
	ExtraAuthParams url.Values
	HTTPClient      *http.Client
}

// pendingAuth is the in-memory half of a launched flow. Losing it on
// restart is acceptable: the callback then fails the exchange and the user
// restarts authorization.
type pendingAuth struct {
	verifier  string
	state     string
	createdAt time.Time
}

// Flow drives the OAuth2 + PKCE protocol for one provider.
type Flow struct {
	cfg Config

	mu      sync.Mutex
	pending map[string]pendingAuth
	now     func() time.Time
}

// NewFlow constructs a Flow.
func NewFlow(cfg Config) *Flow {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Flow{
		cfg:     cfg,
		pending: make(map[string]pendingAuth),
		now:     time.Now,
	}
}

// AuthorizeURL generates PKCE material for the user and returns the URL the
// browser must visit.
func (f *Flow) AuthorizeURL(userID string) (string, error) {
	verifier, err := randomToken(32)
	if err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}
	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}

	f.mu.Lock()
	f.pending[userID] = pendingAuth{verifier: verifier, state: state, createdAt: f.now()}
	f.mu.Unlock()

	params := url.Values{
		"client_id":             {f.cfg.ClientID},
		"response_type":         {"code"},
		"redirect_uri":          {f.cfg.RedirectURI},
		"scope":                 {strings.Join(f.cfg.Scopes, " ")},
		"state":                 {state},
		"code_challenge":        {codeChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	for key, values := range f.cfg.ExtraAuthParams {
		for _, v := range values {
			params.Add(key, v)
		}
	}

	return f.cfg.Endpoints.AuthURL + "?" + params.Encode(), nil
}

// Exchange completes the flow: it validates the state, consumes the pending
// verifier, and trades the authorization code for tokens. Rejected or
// malformed exchanges come back as domain.AuthExchangeError.
func (f *Flow) Exchange(ctx context.Context, userID, code, state string) (*domain.Credential, error) {
	f.mu.Lock()
	p, ok := f.pending[userID]
	delete(f.pending, userID)
	f.mu.Unlock()

	if !ok {
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: "no pending authorization"}
	}
	if f.now().Sub(p.createdAt) > pendingMaxAge {
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: "authorization expired, restart the flow"}
	}
	if state != p.state {
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: "state mismatch"}
	}
	if code == "" {
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: "missing authorization code"}
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {f.cfg.RedirectURI},
		"code_verifier": {p.verifier},
	}
	resp, err := f.tokenRequest(ctx, form)
	if err != nil {
		return nil, err
	}

	return f.credentialFrom(userID, resp, ""), nil
}

// Refresh trades a refresh token for a new credential. A definitive
// rejection (invalid_grant or any 4xx) is a domain.AuthExpiredError and
// means the caller must clear the credential; network and server failures
// are transient and leave the credential intact.
func (f *Flow) Refresh(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	}
	resp, err := f.tokenRequest(ctx, form)
	if err != nil {
		var exchange *domain.AuthExchangeError
		if errors.As(err, &exchange) {
			return nil, &domain.AuthExpiredError{Provider: f.cfg.ProviderID}
		}
		return nil, err
	}

	return f.credentialFrom(cred.UserID, resp, cred.RefreshToken), nil
}

// Revoke calls the provider's revocation endpoint when one exists. Failures
// are returned so callers can log them, but revocation is best-effort.
func (f *Flow) Revoke(ctx context.Context, cred *domain.Credential) error {
	if f.cfg.Endpoints.RevokeURL == "" {
		return nil
	}

	form := url.Values{"token": {cred.AccessToken}}
	if !f.cfg.BasicAuthToken {
		form.Set("client_id", f.cfg.ClientID)
		if f.cfg.ClientSecret != "" {
			form.Set("client_secret", f.cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoints.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if f.cfg.BasicAuthToken {
		req.SetBasicAuth(f.cfg.ClientID, f.cfg.ClientSecret)
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Provider: f.cfg.ProviderID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: revoke failed with status %d: %s", f.cfg.ProviderID, resp.StatusCode, string(body))
	}
	return nil
}

// tokenResponse is the provider's token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (f *Flow) tokenRequest(ctx context.Context, form url.Values) (*tokenResponse, error) {
	if !f.cfg.BasicAuthToken {
		form.Set("client_id", f.cfg.ClientID)
		if f.cfg.ClientSecret != "" {
			form.Set("client_secret", f.cfg.ClientSecret)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if f.cfg.BasicAuthToken {
		req.SetBasicAuth(f.cfg.ClientID, f.cfg.ClientSecret)
	}

	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &domain.TransientNetworkError{Provider: f.cfg.ProviderID, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientNetworkError{Provider: f.cfg.ProviderID, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{Provider: f.cfg.ProviderID, RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, &domain.TransientNetworkError{Provider: f.cfg.ProviderID, Err: fmt.Errorf("token endpoint status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		reason := tokenErrorReason(body)
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: reason}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: "unparseable token response"}
	}
	if parsed.AccessToken == "" {
		return nil, &domain.AuthExchangeError{Provider: f.cfg.ProviderID, Reason: "token response missing access_token"}
	}
	return &parsed, nil
}

func (f *Flow) credentialFrom(userID string, resp *tokenResponse, priorRefresh string) *domain.Credential {
	// Some providers rotate refresh tokens on every refresh, some omit the
	// field when the old token stays valid.
	refresh := resp.RefreshToken
	if refresh == "" {
		refresh = priorRefresh
	}

	var expiresAt time.Time
	if resp.ExpiresIn > 0 {
		expiresAt = f.now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC()
	}

	return &domain.Credential{
		UserID:       userID,
		Provider:     f.cfg.ProviderID,
		AccessToken:  resp.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		Scope:        resp.Scope,
		UpdatedAt:    f.now().UTC(),
	}
}

func tokenErrorReason(body []byte) string {
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		if parsed.ErrorDesc != "" {
			return parsed.Error + ": " + parsed.ErrorDesc
		}
		return parsed.Error
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	if trimmed == "" {
		return "exchange rejected"
	}
	return trimmed
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return time.Minute
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
