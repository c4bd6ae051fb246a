package provider

import (
	"errors"
	"sync"
)

// ConnState is the per-(user, provider) connection state.
type ConnState string

const (
	StateUnauthorized ConnState = "unauthorized"
	StateAuthorizing  ConnState = "authorizing"
	StateAuthorized   ConnState = "authorized"
	StateRefreshing   ConnState = "refreshing"
	StateExpired      ConnState = "expired"
)

// ErrAuthorizationInFlight is returned when Authorize is called while a
// previous flow for the same user is still awaiting its callback.
var ErrAuthorizationInFlight = errors.New("authorization already in flight")

// StateTracker guards the per-user connection state machine for one
// adapter. The Authorizing state is held in memory only: a process restart
// drops it, which is acceptable because the credential store carries the
// durable state.
//
// Transitions: Unauthorized -> Authorizing -> Authorized ->
// (Refreshing -> Authorized | Expired) -> Unauthorized.
type StateTracker struct {
	mu     sync.Mutex
	states map[string]ConnState
}

// NewStateTracker constructs an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{states: make(map[string]ConnState)}
}

// State returns the user's current state, defaulting to Unauthorized.
func (t *StateTracker) State(userID string) ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[userID]; ok {
		return s
	}
	return StateUnauthorized
}

// BeginAuthorize moves the user into Authorizing. It fails when a flow is
// already in flight so a second call cannot launch a second flow.
func (t *StateTracker) BeginAuthorize(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.states[userID] == StateAuthorizing {
		return ErrAuthorizationInFlight
	}
	t.states[userID] = StateAuthorizing
	return nil
}

// CompleteAuthorize leaves Authorizing: to Authorized on success, back to
// Unauthorized on failure. It is also the entry point for callbacks that
// arrive after a restart, when no Authorizing state exists.
func (t *StateTracker) CompleteAuthorize(userID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.states[userID] = StateAuthorized
	} else {
		t.states[userID] = StateUnauthorized
	}
}

// BeginRefresh marks an Authorized user as Refreshing.
func (t *StateTracker) BeginRefresh(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[userID] = StateRefreshing
}

// CompleteRefresh returns to Authorized on success or Expired on a
// definitive refresh rejection.
func (t *StateTracker) CompleteRefresh(userID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.states[userID] = StateAuthorized
	} else {
		t.states[userID] = StateExpired
	}
}

// SetAuthorized forces the Authorized state, used when a durable credential
// is discovered for a user the tracker has not seen (after restart).
func (t *StateTracker) SetAuthorized(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[userID] = StateAuthorized
}

// Reset returns the user to Unauthorized (disconnect).
func (t *StateTracker) Reset(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, userID)
}
