package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownProvider reports a provider ID no adapter is registered for.
var ErrUnknownProvider = errors.New("unknown provider")

// The typed errors below are the only error kinds allowed to cross the
// provider-adapter boundary. Callers classify them with errors.As and route
// each kind differently: exchange and expiry failures require the user to
// re-authorize, rate limits and transient failures are retryable.

// AuthExchangeError reports a malformed or rejected token exchange. Denied
// consent and expired authorization codes land here; the user must restart
// the authorization flow.
type AuthExchangeError struct {
	Provider string
	Reason   string
}

func (e *AuthExchangeError) Error() string {
	return fmt.Sprintf("%s: token exchange failed: %s", e.Provider, e.Reason)
}

// AuthExpiredError reports that a credential is unusable and unrefreshable.
// The stored credential has been cleared; the user must re-authorize.
type AuthExpiredError struct {
	Provider string
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("%s: authorization expired, re-authorization required", e.Provider)
}

// RateLimitError reports a provider quota rejection. Callers must back off
// rather than retry immediately.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Provider, e.RetryAfter)
}

// TransientNetworkError reports a timeout or connectivity failure. Callers
// may retry with backoff.
type TransientNetworkError struct {
	Provider string
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: transient network failure: %v", e.Provider, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// StorageError reports a local persistence failure. It is fatal to the
// operation that hit it and is always surfaced, never swallowed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
