// Package api exposes the HTTP handlers for provider connections, sync
// triggers, merged metrics, and the offline record queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"example.com/healthsync/internal/auth"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
)

// Syncer triggers sync cycles (the sync coordinator).
type Syncer interface {
	SyncAll(ctx context.Context, userID string, rng domain.DateRange) ([]domain.SyncResult, error)
	SyncProvider(ctx context.Context, providerID, userID string, rng domain.DateRange) (domain.SyncResult, error)
}

// MetricsReader serves merged daily metrics (the postgres repository).
type MetricsReader interface {
	DailyMetrics(ctx context.Context, userID string, rng domain.DateRange) ([]domain.DailyMetrics, error)
	LastSyncedAt(ctx context.Context, userID string) (time.Time, error)
}

// RecordQueue buffers locally created records (the offline queue).
type RecordQueue interface {
	Enqueue(ctx context.Context, userID, kind string, payload []byte) (domain.LocalRecord, error)
	Pending(ctx context.Context) (int, error)
}

// SampleSink stores client-ingested platform samples (the postgres
// repository).
type SampleSink interface {
	UpsertPlatformSample(ctx context.Context, userID, providerID string, sample domain.ProviderSample) error
}

// Handler coordinates HTTP requests with the registry, coordinator, queue,
// and storage.
type Handler struct {
	registry     *provider.Registry
	syncer       Syncer
	metrics      MetricsReader
	queue        RecordQueue
	samples      SampleSink
	lookbackDays int
}

// NewHandler builds a Handler.
func NewHandler(registry *provider.Registry, syncer Syncer, metrics MetricsReader, queue RecordQueue, samples SampleSink, lookbackDays int) *Handler {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return &Handler{
		registry:     registry,
		syncer:       syncer,
		metrics:      metrics,
		queue:        queue,
		samples:      samples,
		lookbackDays: lookbackDays,
	}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/providers", h.listProviders)
	mux.HandleFunc("/v1/providers/", h.providerAction)
	mux.HandleFunc("/v1/sync", h.triggerSync)
	mux.HandleFunc("/v1/metrics/daily", h.dailyMetrics)
	mux.HandleFunc("/v1/records", h.createRecord)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ProviderView describes one provider and its connection status for the
// requesting user.
type ProviderView struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name"`
	AuthFlow         string   `json:"auth_flow"`
	Connected        bool     `json:"connected"`
	MetricKinds      []string `json:"metric_kinds"`
	RemoteRevocation bool     `json:"remote_revocation"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.require(w, r, auth.ScopeProvidersRead)
	if !ok {
		return
	}

	views := make([]ProviderView, 0)
	for _, ad := range h.registry.All() {
		caps := ad.Capabilities()
		kinds := make([]string, 0, len(caps.MetricKinds))
		for _, k := range caps.MetricKinds {
			kinds = append(kinds, string(k))
		}
		views = append(views, ProviderView{
			ID:               ad.ID(),
			DisplayName:      ad.DisplayName(),
			AuthFlow:         string(caps.AuthFlow),
			Connected:        ad.IsAuthorized(r.Context(), claims.Subject),
			MetricKinds:      kinds,
			RemoteRevocation: caps.RemoteRevocation,
		})
	}

	resp := map[string]interface{}{"providers": views}
	if last, err := h.metrics.LastSyncedAt(r.Context(), claims.Subject); err == nil && !last.IsZero() {
		resp["last_synced_at"] = last
	}
	writeJSON(w, http.StatusOK, resp)
}

// providerAction routes /v1/providers/{id}[/connect|/callback|/samples].
func (h *Handler) providerAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/providers/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing provider id")
		return
	}
	ad, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown provider")
		return
	}

	switch {
	case action == "connect" && r.Method == http.MethodPost:
		h.connect(w, r, ad)
	case action == "callback" && (r.Method == http.MethodGet || r.Method == http.MethodPost):
		h.callback(w, r, ad)
	case action == "samples" && r.Method == http.MethodPost:
		h.ingestSamples(w, r, ad)
	case action == "" && r.Method == http.MethodDelete:
		h.disconnect(w, r, ad)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request, ad provider.Adapter) {
	claims, ok := h.require(w, r, auth.ScopeProvidersWrite)
	if !ok {
		return
	}

	launch, err := ad.Authorize(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, provider.ErrAuthorizationInFlight) {
			writeError(w, http.StatusConflict, "authorization_in_flight", "an authorization is already pending; complete or abandon it first")
			return
		}
		h.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, launch)
}

// callbackRequest carries callback parameters when the client relays them as
// JSON (platform grants and app deep links). Redirect callbacks arrive as
// query parameters instead.
type callbackRequest struct {
	Code       string   `json:"code"`
	State      string   `json:"state"`
	OAuthToken string   `json:"oauth_token"`
	Verifier   string   `json:"oauth_verifier"`
	Granted    []string `json:"granted"`
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request, ad provider.Adapter) {
	claims, ok := h.require(w, r, auth.ScopeProvidersWrite)
	if !ok {
		return
	}

	var params provider.CallbackParams
	if r.Method == http.MethodPost {
		var req callbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
		params = provider.CallbackParams{
			Code:       req.Code,
			State:      req.State,
			OAuthToken: req.OAuthToken,
			Verifier:   req.Verifier,
			Granted:    req.Granted,
		}
	} else {
		q := r.URL.Query()
		params = provider.CallbackParams{
			Code:       q.Get("code"),
			State:      q.Get("state"),
			OAuthToken: q.Get("oauth_token"),
			Verifier:   q.Get("oauth_verifier"),
		}
	}

	if err := ad.HandleCallback(r.Context(), claims.Subject, params); err != nil {
		h.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected", "provider": ad.ID()})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request, ad provider.Adapter) {
	claims, ok := h.require(w, r, auth.ScopeProvidersWrite)
	if !ok {
		return
	}

	if err := ad.Disconnect(r.Context(), claims.Subject); err != nil {
		h.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected", "provider": ad.ID()})
}

// ingestSampleRequest is one day of platform data pushed by the client.
type ingestSampleRequest struct {
	Day    string              `json:"day"`
	Values domain.MetricValues `json:"values"`
}

func (h *Handler) ingestSamples(w http.ResponseWriter, r *http.Request, ad provider.Adapter) {
	claims, ok := h.require(w, r, auth.ScopeRecordsWrite)
	if !ok {
		return
	}
	if ad.Capabilities().AuthFlow != provider.AuthFlowPlatformGrant {
		writeError(w, http.StatusBadRequest, "invalid_request", "provider does not accept ingested samples")
		return
	}
	if !ad.IsAuthorized(r.Context(), claims.Subject) {
		writeError(w, http.StatusForbidden, "not_connected", "provider is not connected")
		return
	}

	var reqs []ingestSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	stored := 0
	for _, req := range reqs {
		day, err := domain.ParseDay(req.Day)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		sample := domain.ProviderSample{Day: day, Values: req.Values}
		if err := h.samples.UpsertPlatformSample(r.Context(), claims.Subject, ad.ID(), sample); err != nil {
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		stored++
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"stored": stored})
}

// syncRequest optionally narrows a manual sync to one provider or a custom
// range. An empty body syncs every connected provider over the default
// lookback window.
type syncRequest struct {
	Provider string `json:"provider,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.require(w, r, auth.ScopeSyncTrigger)
	if !ok {
		return
	}

	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	rng, err := h.rangeFrom(req.From, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if req.Provider != "" {
		result, err := h.syncer.SyncProvider(r.Context(), req.Provider, claims.Subject, rng)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownProvider) {
				writeError(w, http.StatusNotFound, "not_found", "unknown provider")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"results": []domain.SyncResult{result}})
		return
	}

	results, err := h.syncer.SyncAll(r.Context(), claims.Subject, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	if results == nil {
		results = []domain.SyncResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// DailyMetricsView is the response form of one merged day.
type DailyMetricsView struct {
	Day         string              `json:"day"`
	Values      domain.MetricValues `json:"values"`
	DataSources map[string]string   `json:"data_sources"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (h *Handler) dailyMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.require(w, r, auth.ScopeMetricsRead)
	if !ok {
		return
	}

	q := r.URL.Query()
	rng, err := h.rangeFrom(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	days, err := h.metrics.DailyMetrics(r.Context(), claims.Subject, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	views := make([]DailyMetricsView, 0, len(days))
	for _, d := range days {
		views = append(views, DailyMetricsView{
			Day:         string(d.Day),
			Values:      d.Values,
			DataSources: d.DataSources,
			UpdatedAt:   d.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"days": views})
}

// createRecordRequest is the payload for POST /v1/records.
type createRecordRequest struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Validate ensures request correctness.
func (r createRecordRequest) Validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return errors.New("kind is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := h.require(w, r, auth.ScopeRecordsWrite)
	if !ok {
		return
	}

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rec, err := h.queue.Enqueue(r.Context(), claims.Subject, req.Kind, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	pending, _ := h.queue.Pending(r.Context())
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"record_id": rec.ID,
		"queued_at": rec.CreatedAt,
		"pending":   pending,
	})
}

// require extracts claims and checks the scope, writing the error response
// itself on failure.
func (h *Handler) require(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) rangeFrom(from, to string) (domain.DateRange, error) {
	if from == "" && to == "" {
		return domain.LastNDays(h.lookbackDays, time.Now()), nil
	}
	rng := domain.DateRange{From: domain.Day(from), To: domain.Day(to)}
	if err := rng.Validate(); err != nil {
		return domain.DateRange{}, err
	}
	return rng, nil
}

// writeProviderError maps the typed provider errors onto HTTP statuses.
func (h *Handler) writeProviderError(w http.ResponseWriter, err error) {
	var exchange *domain.AuthExchangeError
	var expired *domain.AuthExpiredError
	var rateLimited *domain.RateLimitError
	var transient *domain.TransientNetworkError
	switch {
	case errors.As(err, &exchange):
		writeError(w, http.StatusBadGateway, "auth_exchange_failed", err.Error())
	case errors.As(err, &expired):
		writeError(w, http.StatusUnauthorized, "authorization_expired", err.Error())
	case errors.As(err, &rateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.As(err, &transient):
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
