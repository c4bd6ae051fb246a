package oauthflow

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/observability"
	"example.com/healthsync/internal/provider"
)

// Base implements the authorization lifecycle of provider.Adapter for
// OAuth2 providers. Concrete adapters embed it and add FetchMetrics with
// their own raw payload types and normalization mappers.
type Base struct {
	id     string
	name   string
	caps   provider.Capabilities
	flow   *Flow
	creds  credstore.Store
	states *provider.StateTracker
	logger *log.Logger
	now    func() time.Time
}

// NewBase wires a Base adapter.
func NewBase(id, name string, caps provider.Capabilities, flow *Flow, creds credstore.Store) *Base {
	return &Base{
		id:     id,
		name:   name,
		caps:   caps,
		flow:   flow,
		creds:  creds,
		states: provider.NewStateTracker(),
		logger: log.New(log.Writer(), "["+id+"] ", log.LstdFlags),
		now:    time.Now,
	}
}

func (b *Base) ID() string                         { return b.id }
func (b *Base) DisplayName() string                { return b.name }
func (b *Base) Capabilities() provider.Capabilities { return b.caps }

// Authorize launches the redirect flow. It returns ErrAuthorizationInFlight
// rather than generating a second URL while a callback is pending.
func (b *Base) Authorize(ctx context.Context, userID string) (provider.AuthLaunch, error) {
	if err := b.states.BeginAuthorize(userID); err != nil {
		return provider.AuthLaunch{}, err
	}

	url, err := b.flow.AuthorizeURL(userID)
	if err != nil {
		b.states.CompleteAuthorize(userID, false)
		return provider.AuthLaunch{}, err
	}
	return provider.AuthLaunch{URL: url, Flow: b.caps.AuthFlow}, nil
}

// HandleCallback completes the code exchange and persists the credential.
func (b *Base) HandleCallback(ctx context.Context, userID string, params provider.CallbackParams) error {
	cred, err := b.flow.Exchange(ctx, userID, params.Code, params.State)
	if err != nil {
		b.states.CompleteAuthorize(userID, false)
		return err
	}

	if err := b.creds.Save(ctx, *cred); err != nil {
		b.states.CompleteAuthorize(userID, false)
		return err
	}

	b.states.CompleteAuthorize(userID, true)
	return nil
}

// IsAuthorized reports whether a non-expired or refreshable credential
// exists.
func (b *Base) IsAuthorized(ctx context.Context, userID string) bool {
	cred, err := b.creds.Load(ctx, userID, b.id)
	if err != nil || cred == nil {
		return false
	}
	if !cred.ExpiresWithin(0, b.now()) {
		return true
	}
	return b.caps.SupportsRefresh && cred.RefreshToken != ""
}

// RefreshIfNeeded refreshes the credential when it is within the expiry
// margin. A definitive rejection clears the credential so no stale token
// can leak into a fetch.
func (b *Base) RefreshIfNeeded(ctx context.Context, userID string) error {
	cred, err := b.creds.Load(ctx, userID, b.id)
	if err != nil {
		return err
	}
	if cred == nil {
		return &domain.AuthExpiredError{Provider: b.id}
	}
	if !cred.ExpiresWithin(RefreshMargin, b.now()) {
		return nil
	}

	if !b.caps.SupportsRefresh || cred.RefreshToken == "" {
		if err := b.creds.Clear(ctx, userID, b.id); err != nil {
			return err
		}
		b.states.Reset(userID)
		return &domain.AuthExpiredError{Provider: b.id}
	}

	b.states.BeginRefresh(userID)
	renewed, err := b.flow.Refresh(ctx, cred)
	if err != nil {
		observability.RecordTokenRefresh(b.id, "failure")
		var expired *domain.AuthExpiredError
		if errors.As(err, &expired) {
			// Definitive rejection: the refresh token is dead.
			if clearErr := b.creds.Clear(ctx, userID, b.id); clearErr != nil {
				b.logger.Printf("clear credential after refresh rejection: %v", clearErr)
			}
			b.states.CompleteRefresh(userID, false)
			return err
		}
		// Transient failure: keep the credential, report the error.
		b.states.CompleteRefresh(userID, true)
		return err
	}
	observability.RecordTokenRefresh(b.id, "success")

	if err := b.creds.Save(ctx, *renewed); err != nil {
		b.states.CompleteRefresh(userID, true)
		return err
	}
	b.states.CompleteRefresh(userID, true)
	return nil
}

// Disconnect clears the local credential, best-effort revoking the grant on
// providers that support it.
func (b *Base) Disconnect(ctx context.Context, userID string) error {
	cred, err := b.creds.Load(ctx, userID, b.id)
	if err != nil {
		return err
	}
	if cred != nil && b.caps.RemoteRevocation {
		if err := b.flow.Revoke(ctx, cred); err != nil {
			b.logger.Printf("revocation failed, clearing local credential anyway: %v", err)
		}
	}
	if err := b.creds.Clear(ctx, userID, b.id); err != nil {
		return err
	}
	b.states.Reset(userID)
	return nil
}

// AccessToken returns the stored access token for API calls. The caller is
// expected to have run RefreshIfNeeded in the same cycle; an expired or
// missing credential fails typed rather than leaking a stale token.
func (b *Base) AccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := b.creds.Load(ctx, userID, b.id)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.ExpiresWithin(0, b.now()) {
		return "", &domain.AuthExpiredError{Provider: b.id}
	}
	return cred.AccessToken, nil
}
