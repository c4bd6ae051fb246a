// Package platform adapts on-device health stores (Apple Health, Health
// Connect) to the provider interface. There is no token exchange: the
// mobile client asks the OS for read permissions, reports the granted kinds
// through the callback, and ingests samples which the adapter serves back
// during sync. The stored "credential" records the grant, not a secret.
package platform

import (
	"context"
	"log"
	"strings"
	"time"

	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
)

// SampleSource reads samples the mobile client previously ingested for a
// platform provider. The postgres repository implements it.
type SampleSource interface {
	PlatformSamples(ctx context.Context, userID, providerID string, r domain.DateRange) ([]domain.ProviderSample, error)
}

// Adapter implements provider.Adapter for one platform health store.
type Adapter struct {
	id      string
	name    string
	kinds   []domain.MetricKind
	creds   credstore.Store
	samples SampleSource
	states  *provider.StateTracker
	logger  *log.Logger
	now     func() time.Time
}

// NewAppleHealth builds the Apple Health (HealthKit) adapter.
func NewAppleHealth(creds credstore.Store, samples SampleSource) *Adapter {
	return newAdapter("applehealth", "Apple Health", creds, samples)
}

// NewHealthConnect builds the Android Health Connect adapter.
func NewHealthConnect(creds credstore.Store, samples SampleSource) *Adapter {
	return newAdapter("healthconnect", "Health Connect", creds, samples)
}

func newAdapter(id, name string, creds credstore.Store, samples SampleSource) *Adapter {
	return &Adapter{
		id:      id,
		name:    name,
		kinds:   []domain.MetricKind{domain.KindActivity, domain.KindHeartRate, domain.KindSleep},
		creds:   creds,
		samples: samples,
		states:  provider.NewStateTracker(),
		logger:  log.New(log.Writer(), "["+id+"] ", log.LstdFlags),
		now:     time.Now,
	}
}

func (a *Adapter) ID() string          { return a.id }
func (a *Adapter) DisplayName() string { return a.name }

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		AuthFlow:        provider.AuthFlowPlatformGrant,
		SupportsRefresh: false,
		MetricKinds:     a.kinds,
	}
}

// Authorize returns a launch with no URL: the client opens the OS
// permission dialog and reports the outcome through the callback.
func (a *Adapter) Authorize(ctx context.Context, userID string) (provider.AuthLaunch, error) {
	if err := a.states.BeginAuthorize(userID); err != nil {
		return provider.AuthLaunch{}, err
	}
	return provider.AuthLaunch{Flow: provider.AuthFlowPlatformGrant}, nil
}

// HandleCallback records the granted permission kinds. An empty grant means
// the user denied the dialog.
func (a *Adapter) HandleCallback(ctx context.Context, userID string, params provider.CallbackParams) error {
	if len(params.Granted) == 0 {
		a.states.CompleteAuthorize(userID, false)
		return &domain.AuthExchangeError{Provider: a.id, Reason: "permission denied by user"}
	}

	cred := domain.Credential{
		UserID:    userID,
		Provider:  a.id,
		Scope:     strings.Join(params.Granted, " "),
		UpdatedAt: a.now().UTC(),
	}
	if err := a.creds.Save(ctx, cred); err != nil {
		a.states.CompleteAuthorize(userID, false)
		return err
	}
	a.states.CompleteAuthorize(userID, true)
	return nil
}

// IsAuthorized reports whether a grant is on record.
func (a *Adapter) IsAuthorized(ctx context.Context, userID string) bool {
	cred, err := a.creds.Load(ctx, userID, a.id)
	return err == nil && cred != nil
}

// RefreshIfNeeded is a no-op: platform grants do not expire. The OS can
// revoke them silently, which surfaces as the client ingesting nothing.
func (a *Adapter) RefreshIfNeeded(ctx context.Context, userID string) error {
	cred, err := a.creds.Load(ctx, userID, a.id)
	if err != nil {
		return err
	}
	if cred == nil {
		return &domain.AuthExpiredError{Provider: a.id}
	}
	return nil
}

// FetchMetrics serves the samples the client ingested for the range.
func (a *Adapter) FetchMetrics(ctx context.Context, userID string, r domain.DateRange) ([]domain.ProviderSample, error) {
	cred, err := a.creds.Load(ctx, userID, a.id)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, &domain.AuthExpiredError{Provider: a.id}
	}
	return a.samples.PlatformSamples(ctx, userID, a.id, r)
}

// Disconnect drops the grant record. The OS-level permission itself can
// only be revoked by the user in system settings.
func (a *Adapter) Disconnect(ctx context.Context, userID string) error {
	if err := a.creds.Clear(ctx, userID, a.id); err != nil {
		return err
	}
	a.states.Reset(userID)
	return nil
}
