// Package garmin adapts the Garmin Health API to the provider interface.
// Garmin still runs OAuth 1.0a, so this adapter carries its own three-legged
// flow and request signer instead of embedding the shared OAuth2 base.
// Garmin access tokens do not expire; a 401 from the API means the user
// revoked access on the Garmin side.
package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
)

const (
	defaultRequestTokenURL = "https://connectapi.garmin.com/oauth-service/oauth/request_token"
	defaultAccessTokenURL  = "https://connectapi.garmin.com/oauth-service/oauth/access_token"
	defaultConfirmURL      = "https://connect.garmin.com/oauthConfirm"
	defaultAPIURL          = "https://apis.garmin.com/wellness-api/rest"

	// pendingMaxAge bounds how long a request token waits for its callback.
	pendingMaxAge = 15 * time.Minute
)

// Config carries the consumer registration and endpoint overrides for tests.
type Config struct {
	ConsumerKey     string
	ConsumerSecret  string
	CallbackURL     string
	RequestTokenURL string
	AccessTokenURL  string
	ConfirmURL      string
	APIURL          string
	HTTPClient      *http.Client
}

// pendingRequest is the in-memory request token half of a launched flow.
type pendingRequest struct {
	token     string
	secret    string
	createdAt time.Time
}

// Adapter implements provider.Adapter for Garmin.
type Adapter struct {
	cfg    Config
	signer *Signer
	creds  credstore.Store
	states *provider.StateTracker
	logger *log.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]pendingRequest
}

// New constructs the Garmin adapter.
func New(cfg Config, creds credstore.Store) *Adapter {
	if cfg.RequestTokenURL == "" {
		cfg.RequestTokenURL = defaultRequestTokenURL
	}
	if cfg.AccessTokenURL == "" {
		cfg.AccessTokenURL = defaultAccessTokenURL
	}
	if cfg.ConfirmURL == "" {
		cfg.ConfirmURL = defaultConfirmURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{
		cfg:     cfg,
		signer:  NewSigner(cfg.ConsumerKey, cfg.ConsumerSecret),
		creds:   creds,
		states:  provider.NewStateTracker(),
		logger:  log.New(log.Writer(), "[garmin] ", log.LstdFlags),
		now:     time.Now,
		pending: make(map[string]pendingRequest),
	}
}

func (a *Adapter) ID() string          { return "garmin" }
func (a *Adapter) DisplayName() string { return "Garmin" }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		AuthFlow:        provider.AuthFlowOAuth1,
		SupportsRefresh: false,
		MetricKinds:     []domain.MetricKind{domain.KindActivity, domain.KindHeartRate, domain.KindSleep},
	}
}

// Authorize obtains a temporary request token and returns the user
// confirmation URL.
func (a *Adapter) Authorize(ctx context.Context, userID string) (provider.AuthLaunch, error) {
	if err := a.states.BeginAuthorize(userID); err != nil {
		return provider.AuthLaunch{}, err
	}

	token, secret, err := a.requestToken(ctx)
	if err != nil {
		a.states.CompleteAuthorize(userID, false)
		return provider.AuthLaunch{}, err
	}

	a.mu.Lock()
	a.pending[userID] = pendingRequest{token: token, secret: secret, createdAt: a.now()}
	a.mu.Unlock()

	confirm := a.cfg.ConfirmURL + "?" + url.Values{
		"oauth_token":    {token},
		"oauth_callback": {a.cfg.CallbackURL},
	}.Encode()
	return provider.AuthLaunch{URL: confirm, Flow: provider.AuthFlowOAuth1}, nil
}

// HandleCallback trades the verifier for an access token and persists it.
// OAuth1 credentials carry a token secret and never expire on their own.
func (a *Adapter) HandleCallback(ctx context.Context, userID string, params provider.CallbackParams) error {
	a.mu.Lock()
	p, ok := a.pending[userID]
	delete(a.pending, userID)
	a.mu.Unlock()

	fail := func(err error) error {
		a.states.CompleteAuthorize(userID, false)
		return err
	}

	if !ok {
		return fail(&domain.AuthExchangeError{Provider: a.ID(), Reason: "no pending authorization"})
	}
	if a.now().Sub(p.createdAt) > pendingMaxAge {
		return fail(&domain.AuthExchangeError{Provider: a.ID(), Reason: "authorization expired, restart the flow"})
	}
	if params.OAuthToken != p.token {
		return fail(&domain.AuthExchangeError{Provider: a.ID(), Reason: "request token mismatch"})
	}
	if params.Verifier == "" {
		return fail(&domain.AuthExchangeError{Provider: a.ID(), Reason: "missing oauth_verifier"})
	}

	token, secret, err := a.accessToken(ctx, p, params.Verifier)
	if err != nil {
		return fail(err)
	}

	cred := domain.Credential{
		UserID:      userID,
		Provider:    a.ID(),
		AccessToken: token,
		TokenSecret: secret,
		UpdatedAt:   a.now().UTC(),
	}
	if err := a.creds.Save(ctx, cred); err != nil {
		return fail(err)
	}
	a.states.CompleteAuthorize(userID, true)
	return nil
}

// IsAuthorized reports whether an access token is on file.
func (a *Adapter) IsAuthorized(ctx context.Context, userID string) bool {
	cred, err := a.creds.Load(ctx, userID, a.ID())
	return err == nil && cred != nil
}

// RefreshIfNeeded is a no-op: Garmin tokens have no expiry and no refresh
// protocol. Revocation is only discovered when the API starts returning 401.
func (a *Adapter) RefreshIfNeeded(ctx context.Context, userID string) error {
	cred, err := a.creds.Load(ctx, userID, a.ID())
	if err != nil {
		return err
	}
	if cred == nil {
		return &domain.AuthExpiredError{Provider: a.ID()}
	}
	return nil
}

// FetchMetrics pulls the daily wellness summaries covering the range. The
// dailies endpoint filters by upload time, so the query widens the window by
// a day on each side and the mapper filters by calendar date.
func (a *Adapter) FetchMetrics(ctx context.Context, userID string, r domain.DateRange) ([]domain.ProviderSample, error) {
	cred, err := a.creds.Load(ctx, userID, a.ID())
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, &domain.AuthExpiredError{Provider: a.ID()}
	}

	start := r.From.Time().AddDate(0, 0, -1).Unix()
	end := r.To.Time().AddDate(0, 0, 2).Unix()
	rawURL := fmt.Sprintf("%s/dailies?uploadStartTimeInSeconds=%d&uploadEndTimeInSeconds=%d", a.cfg.APIURL, start, end)

	var dailies []dailySummary
	if err := a.signedGet(ctx, rawURL, cred, &dailies); err != nil {
		return nil, err
	}
	return mapDailies(dailies, r), nil
}

// Disconnect clears the local credential. Garmin offers no revocation
// endpoint; the user revokes the app in their Garmin Connect account.
func (a *Adapter) Disconnect(ctx context.Context, userID string) error {
	if err := a.creds.Clear(ctx, userID, a.ID()); err != nil {
		return err
	}
	a.states.Reset(userID)
	return nil
}

// requestToken performs the first OAuth1 leg.
func (a *Adapter) requestToken(ctx context.Context) (token, secret string, err error) {
	extra := map[string]string{"oauth_callback": a.cfg.CallbackURL}
	vals, err := a.signedForm(ctx, a.cfg.RequestTokenURL, extra, "", "")
	if err != nil {
		return "", "", err
	}
	return vals.Get("oauth_token"), vals.Get("oauth_token_secret"), nil
}

// accessToken performs the third OAuth1 leg, signed with the request token.
func (a *Adapter) accessToken(ctx context.Context, p pendingRequest, verifier string) (token, secret string, err error) {
	extra := map[string]string{"oauth_verifier": verifier}
	vals, err := a.signedForm(ctx, a.cfg.AccessTokenURL, extra, p.token, p.secret)
	if err != nil {
		return "", "", err
	}
	token = vals.Get("oauth_token")
	secret = vals.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return "", "", &domain.AuthExchangeError{Provider: a.ID(), Reason: "token response missing oauth_token"}
	}
	return token, secret, nil
}

// signedForm POSTs a signed, bodyless token request and parses the
// form-encoded response.
func (a *Adapter) signedForm(ctx context.Context, rawURL string, extraOAuth map[string]string, token, tokenSecret string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, nil)
	if err != nil {
		return nil, err
	}
	header, err := a.signer.AuthorizationHeader(http.MethodPost, rawURL, nil, extraOAuth, token, tokenSecret)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)

	body, err := a.do(req)
	if err != nil {
		return nil, err
	}
	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, &domain.AuthExchangeError{Provider: a.ID(), Reason: "unparseable token response"}
	}
	return vals, nil
}

// signedGet issues a signed API GET and decodes the JSON response.
func (a *Adapter) signedGet(ctx context.Context, rawURL string, cred *domain.Credential, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	header, err := a.signer.AuthorizationHeader(http.MethodGet, rawURL, nil, nil, cred.AccessToken, cred.TokenSecret)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", header)
	req.Header.Set("Accept", "application/json")

	body, err := a.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("garmin: decode response: %w", err)
	}
	return nil
}

// do executes the request and classifies failures into the typed errors the
// adapter boundary requires.
func (a *Adapter) do(req *http.Request) ([]byte, error) {
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &domain.TransientNetworkError{Provider: a.ID(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransientNetworkError{Provider: a.ID(), Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &domain.AuthExpiredError{Provider: a.ID()}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &domain.RateLimitError{Provider: a.ID(), RetryAfter: time.Minute}
	case resp.StatusCode >= 500:
		return nil, &domain.TransientNetworkError{Provider: a.ID(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, &domain.AuthExchangeError{Provider: a.ID(), Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}
	return body, nil
}
