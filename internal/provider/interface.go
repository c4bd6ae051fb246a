// Package provider defines the capability interface every health-data
// provider adapter implements, plus the registry and connection state
// machine shared across adapters. Adapters translate provider-specific
// protocol details (OAuth2/PKCE, OAuth1, platform permission grants) into
// this common surface; all orchestration lives in the sync coordinator.
package provider

import (
	"context"

	"example.com/healthsync/internal/domain"
)

// AuthFlow identifies the authorization protocol a provider mandates.
type AuthFlow string

const (
	AuthFlowOAuth2PKCE    AuthFlow = "oauth2_pkce"
	AuthFlowOAuth1        AuthFlow = "oauth1"
	AuthFlowPlatformGrant AuthFlow = "platform_grant"
)

// Capabilities is the static descriptor for a provider.
type Capabilities struct {
	AuthFlow        AuthFlow
	SupportsRefresh bool
	MetricKinds     []domain.MetricKind
	// RemoteRevocation is true when Disconnect also revokes the grant on
	// the provider side. When false, disconnecting only clears the local
	// credential and the user must revoke access in the provider's own UI.
	RemoteRevocation bool
}

// AuthLaunch describes a just-launched authorization flow. Completion is
// asynchronous and arrives later through HandleCallback.
type AuthLaunch struct {
	// URL is where the user's browser must be sent for redirect-based
	// flows. Empty for platform-permission flows, where the client opens
	// the OS permission dialog instead.
	URL string `json:"url,omitempty"`
	// Flow echoes the provider's auth flow so clients know how to proceed.
	Flow AuthFlow `json:"flow"`
}

// CallbackParams carries the provider-specific parameters delivered by the
// deep-link/callback mechanism, possibly long after Authorize and possibly
// in a different process.
type CallbackParams struct {
	// Code is the OAuth2 authorization code.
	Code string
	// State is the OAuth2 anti-forgery state parameter.
	State string
	// OAuthToken and Verifier complete an OAuth1 flow.
	OAuthToken string
	Verifier   string
	// Granted lists the permission kinds the user approved in a platform
	// permission dialog. Empty means the user denied.
	Granted []string
}

// Adapter is the common capability set implemented once per provider.
//
// Errors crossing this boundary are always typed (domain.AuthExchangeError,
// domain.AuthExpiredError, domain.RateLimitError,
// domain.TransientNetworkError, domain.StorageError); expected negative
// responses are reported as values, never panics.
type Adapter interface {
	ID() string
	DisplayName() string
	Capabilities() Capabilities

	// Authorize launches the provider's authorization flow for the user and
	// returns once the flow is launched, not completed. A second Authorize
	// while one is in flight is rejected with ErrAuthorizationInFlight.
	Authorize(ctx context.Context, userID string) (AuthLaunch, error)

	// HandleCallback completes the authorization flow with the parameters
	// delivered out-of-band.
	HandleCallback(ctx context.Context, userID string, params CallbackParams) error

	// IsAuthorized reports whether a usable (non-expired or refreshable)
	// credential exists for the user.
	IsAuthorized(ctx context.Context, userID string) bool

	// RefreshIfNeeded refreshes the credential when it is within the expiry
	// safety margin. A definitive refresh rejection clears the credential
	// and returns domain.AuthExpiredError; refresh is never retried in a
	// loop.
	RefreshIfNeeded(ctx context.Context, userID string) error

	// FetchMetrics returns partial daily records for the range.
	FetchMetrics(ctx context.Context, userID string, r domain.DateRange) ([]domain.ProviderSample, error)

	// Disconnect clears the local credential. Provider-side revocation is
	// best-effort and only where Capabilities().RemoteRevocation is true.
	Disconnect(ctx context.Context, userID string) error
}
