package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
)

type stubAdapter struct {
	id         string
	flow       provider.AuthFlow
	authorized bool
	launch     provider.AuthLaunch
	authErr    error
	callback   provider.CallbackParams
	cbErr      error
	discErr    error
}

func (s *stubAdapter) ID() string          { return s.id }
func (s *stubAdapter) DisplayName() string { return strings.ToUpper(s.id) }
func (s *stubAdapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{AuthFlow: s.flow, MetricKinds: []domain.MetricKind{domain.KindActivity}}
}
func (s *stubAdapter) Authorize(context.Context, string) (provider.AuthLaunch, error) {
	return s.launch, s.authErr
}
func (s *stubAdapter) HandleCallback(ctx context.Context, userID string, p provider.CallbackParams) error {
	s.callback = p
	return s.cbErr
}
func (s *stubAdapter) IsAuthorized(context.Context, string) bool     { return s.authorized }
func (s *stubAdapter) RefreshIfNeeded(context.Context, string) error { return nil }
func (s *stubAdapter) FetchMetrics(context.Context, string, domain.DateRange) ([]domain.ProviderSample, error) {
	return nil, nil
}
func (s *stubAdapter) Disconnect(context.Context, string) error { return s.discErr }

type stubSyncer struct {
	results  []domain.SyncResult
	err      error
	lastUser string
	lastRng  domain.DateRange
	lastProv string
}

func (s *stubSyncer) SyncAll(ctx context.Context, userID string, rng domain.DateRange) ([]domain.SyncResult, error) {
	s.lastUser, s.lastRng = userID, rng
	return s.results, s.err
}

func (s *stubSyncer) SyncProvider(ctx context.Context, providerID, userID string, rng domain.DateRange) (domain.SyncResult, error) {
	s.lastProv, s.lastUser, s.lastRng = providerID, userID, rng
	if s.err != nil {
		return domain.SyncResult{}, s.err
	}
	if len(s.results) > 0 {
		return s.results[0], nil
	}
	return domain.SyncResult{Provider: providerID, Success: true}, nil
}

type stubMetrics struct {
	days     []domain.DailyMetrics
	lastSync time.Time
	err      error
}

func (s *stubMetrics) DailyMetrics(ctx context.Context, userID string, rng domain.DateRange) ([]domain.DailyMetrics, error) {
	return s.days, s.err
}

func (s *stubMetrics) LastSyncedAt(ctx context.Context, userID string) (time.Time, error) {
	return s.lastSync, nil
}

type stubQueue struct {
	enqueued []domain.LocalRecord
	err      error
}

func (s *stubQueue) Enqueue(ctx context.Context, userID, kind string, payload []byte) (domain.LocalRecord, error) {
	if s.err != nil {
		return domain.LocalRecord{}, s.err
	}
	rec := domain.LocalRecord{ID: "rec-1", UserID: userID, Kind: kind, Payload: payload, CreatedAt: time.Now()}
	s.enqueued = append(s.enqueued, rec)
	return rec, nil
}

func (s *stubQueue) Pending(ctx context.Context) (int, error) { return len(s.enqueued), nil }

type stubSamples struct {
	stored []domain.ProviderSample
	err    error
}

func (s *stubSamples) UpsertPlatformSample(ctx context.Context, userID, providerID string, sample domain.ProviderSample) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, sample)
	return nil
}

func testClaims(scopes ...string) *auth.Claims {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	return &auth.Claims{Subject: "user-1", Scopes: set, ExpiresAt: time.Now().Add(time.Hour)}
}

func withClaims(req *http.Request, claims *auth.Claims) *http.Request {
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func newTestHandler(adapters []provider.Adapter, syncer Syncer, metrics MetricsReader, queue RecordQueue, samples SampleSink) *Handler {
	registry := provider.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}
	return NewHandler(registry, syncer, metrics, queue, samples, 7)
}

func TestListProviders(t *testing.T) {
	connected := &stubAdapter{id: "strava", flow: provider.AuthFlowOAuth2PKCE, authorized: true}
	disconnected := &stubAdapter{id: "garmin", flow: provider.AuthFlowOAuth1}
	lastSync := time.Date(2026, 8, 19, 6, 30, 0, 0, time.UTC)
	handler := newTestHandler([]provider.Adapter{connected, disconnected}, &stubSyncer{}, &stubMetrics{lastSync: lastSync}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/providers", nil), testClaims(auth.ScopeProvidersRead))
	rr := httptest.NewRecorder()
	handler.listProviders(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Providers    []ProviderView `json:"providers"`
		LastSyncedAt time.Time      `json:"last_synced_at"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Providers) != 2 {
		t.Fatalf("expected 2 providers got %d", len(resp.Providers))
	}
	if !resp.Providers[0].Connected || resp.Providers[1].Connected {
		t.Fatalf("unexpected connection flags: %+v", resp.Providers)
	}
	if !resp.LastSyncedAt.Equal(lastSync) {
		t.Fatalf("unexpected last sync %v", resp.LastSyncedAt)
	}
}

func TestListProvidersRequiresScope(t *testing.T) {
	handler := newTestHandler(nil, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/providers", nil), testClaims())
	rr := httptest.NewRecorder()
	handler.listProviders(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestConnectLaunchesFlow(t *testing.T) {
	adapter := &stubAdapter{
		id:     "strava",
		flow:   provider.AuthFlowOAuth2PKCE,
		launch: provider.AuthLaunch{URL: "https://example.com/authorize", Flow: provider.AuthFlowOAuth2PKCE},
	}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/providers/strava/connect", nil), testClaims(auth.ScopeProvidersWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var launch provider.AuthLaunch
	if err := json.Unmarshal(rr.Body.Bytes(), &launch); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if launch.URL != "https://example.com/authorize" {
		t.Fatalf("unexpected launch url %q", launch.URL)
	}
}

func TestConnectWhileInFlight(t *testing.T) {
	adapter := &stubAdapter{id: "strava", authErr: provider.ErrAuthorizationInFlight}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/providers/strava/connect", nil), testClaims(auth.ScopeProvidersWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rr.Code)
	}
}

func TestConnectUnknownProvider(t *testing.T) {
	handler := newTestHandler(nil, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/providers/nope/connect", nil), testClaims(auth.ScopeProvidersWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestCallbackRelaysQueryParams(t *testing.T) {
	adapter := &stubAdapter{id: "strava"}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/providers/strava/callback?code=abc&state=xyz", nil), testClaims(auth.ScopeProvidersWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if adapter.callback.Code != "abc" || adapter.callback.State != "xyz" {
		t.Fatalf("unexpected callback params: %+v", adapter.callback)
	}
}

func TestCallbackDeniedConsent(t *testing.T) {
	adapter := &stubAdapter{id: "whoop", cbErr: &domain.AuthExchangeError{Provider: "whoop", Reason: "access_denied"}}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/providers/whoop/callback?state=xyz", nil), testClaims(auth.ScopeProvidersWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rr.Code)
	}
}

func TestDisconnect(t *testing.T) {
	adapter := &stubAdapter{id: "strava"}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodDelete, "/v1/providers/strava", nil), testClaims(auth.ScopeProvidersWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTriggerSyncAllProviders(t *testing.T) {
	syncer := &stubSyncer{results: []domain.SyncResult{
		{Provider: "strava", Success: true, Records: 4},
		{Provider: "fitbit", Success: false, NeedsReauth: true, Error: "authorization expired"},
	}}
	handler := newTestHandler(nil, syncer, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/sync", nil), testClaims(auth.ScopeSyncTrigger))
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if syncer.lastUser != "user-1" {
		t.Fatalf("expected sync for user-1, got %q", syncer.lastUser)
	}

	var resp struct {
		Results []domain.SyncResult `json:"results"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results got %d", len(resp.Results))
	}
	if !resp.Results[1].NeedsReauth {
		t.Fatalf("expected needs_reauth on second result")
	}
}

func TestTriggerSyncCustomRange(t *testing.T) {
	syncer := &stubSyncer{}
	handler := newTestHandler(nil, syncer, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	body := strings.NewReader(`{"provider":"garmin","from":"2026-08-01","to":"2026-08-07"}`)
	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/sync", body), testClaims(auth.ScopeSyncTrigger))
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if syncer.lastProv != "garmin" {
		t.Fatalf("expected provider garmin got %q", syncer.lastProv)
	}
	if syncer.lastRng.From != "2026-08-01" || syncer.lastRng.To != "2026-08-07" {
		t.Fatalf("unexpected range %+v", syncer.lastRng)
	}
}

func TestTriggerSyncInvalidRange(t *testing.T) {
	handler := newTestHandler(nil, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	body := strings.NewReader(`{"from":"2026-08-07","to":"2026-08-01"}`)
	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/sync", body), testClaims(auth.ScopeSyncTrigger))
	rr := httptest.NewRecorder()
	handler.triggerSync(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestDailyMetrics(t *testing.T) {
	metrics := &stubMetrics{days: []domain.DailyMetrics{
		{
			UserID:      "user-1",
			Day:         "2026-08-19",
			Values:      domain.MetricValues{Steps: domain.IntPtr(10250)},
			DataSources: map[string]string{domain.FieldSteps: "garmin"},
			UpdatedAt:   time.Now(),
		},
	}}
	handler := newTestHandler(nil, &stubSyncer{}, metrics, &stubQueue{}, &stubSamples{})

	req := withClaims(httptest.NewRequest(http.MethodGet, "/v1/metrics/daily?from=2026-08-18&to=2026-08-19", nil), testClaims(auth.ScopeMetricsRead))
	rr := httptest.NewRecorder()
	handler.dailyMetrics(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Days []DailyMetricsView `json:"days"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Days) != 1 {
		t.Fatalf("expected 1 day got %d", len(resp.Days))
	}
	if resp.Days[0].DataSources[domain.FieldSteps] != "garmin" {
		t.Fatalf("unexpected data sources %+v", resp.Days[0].DataSources)
	}
}

func TestCreateRecordQueues(t *testing.T) {
	queue := &stubQueue{}
	handler := newTestHandler(nil, &stubSyncer{}, &stubMetrics{}, queue, &stubSamples{})

	body := strings.NewReader(`{"kind":"workout","payload":{"sport":"run","duration_min":30}}`)
	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/records", body), testClaims(auth.ScopeRecordsWrite))
	rr := httptest.NewRecorder()
	handler.createRecord(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued record got %d", len(queue.enqueued))
	}
	if queue.enqueued[0].Kind != "workout" {
		t.Fatalf("unexpected kind %q", queue.enqueued[0].Kind)
	}
}

func TestCreateRecordValidation(t *testing.T) {
	handler := newTestHandler(nil, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	body := strings.NewReader(`{"payload":{"sport":"run"}}`)
	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/records", body), testClaims(auth.ScopeRecordsWrite))
	rr := httptest.NewRecorder()
	handler.createRecord(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestIngestSamples(t *testing.T) {
	adapter := &stubAdapter{id: "applehealth", flow: provider.AuthFlowPlatformGrant, authorized: true}
	samples := &stubSamples{}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, samples)

	body := strings.NewReader(`[{"day":"2026-08-19","values":{"steps":8421}}]`)
	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/providers/applehealth/samples", body), testClaims(auth.ScopeRecordsWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(samples.stored) != 1 || *samples.stored[0].Values.Steps != 8421 {
		t.Fatalf("unexpected stored samples %+v", samples.stored)
	}
}

func TestIngestSamplesRejectsOAuthProviders(t *testing.T) {
	adapter := &stubAdapter{id: "strava", flow: provider.AuthFlowOAuth2PKCE, authorized: true}
	handler := newTestHandler([]provider.Adapter{adapter}, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	body := strings.NewReader(`[{"day":"2026-08-19","values":{"steps":1}}]`)
	req := withClaims(httptest.NewRequest(http.MethodPost, "/v1/providers/strava/samples", body), testClaims(auth.ScopeRecordsWrite))
	rr := httptest.NewRecorder()
	handler.providerAction(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestMissingClaims(t *testing.T) {
	handler := newTestHandler(nil, &stubSyncer{}, &stubMetrics{}, &stubQueue{}, &stubSamples{})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rr := httptest.NewRecorder()
	handler.listProviders(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}
