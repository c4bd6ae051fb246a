// Package oura adapts the Oura API v2 to the provider interface. Oura has
// no programmatic revocation endpoint: Disconnect clears the local
// credential only and the grant must be removed from the Oura cloud
// settings by the user.
package oura

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
	"example.com/healthsync/internal/provider/oauthflow"
)

const (
	defaultAuthURL  = "https://cloud.ouraring.com/oauth/authorize"
	defaultTokenURL = "https://api.ouraring.com/oauth/token"
	defaultAPIURL   = "https://api.ouraring.com/v2"
)

// Config carries the app registration and endpoint overrides for tests.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	APIURL       string
	HTTPClient   *http.Client
}

// Adapter implements provider.Adapter for Oura.
type Adapter struct {
	*oauthflow.Base
	client *http.Client
	apiURL string
}

// New constructs the Oura adapter.
func New(cfg Config, creds credstore.Store) *Adapter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	caps := provider.Capabilities{
		AuthFlow:        provider.AuthFlowOAuth2PKCE,
		SupportsRefresh: true,
		MetricKinds:     []domain.MetricKind{domain.KindActivity, domain.KindSleep, domain.KindRecovery},
	}

	flow := oauthflow.NewFlow(oauthflow.Config{
		ProviderID:   "oura",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       []string{"daily", "heartrate", "session"},
		Endpoints: oauthflow.Endpoints{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
		HTTPClient: cfg.HTTPClient,
	})

	return &Adapter{
		Base:   oauthflow.NewBase("oura", "Oura", caps, flow, creds),
		client: cfg.HTTPClient,
		apiURL: cfg.APIURL,
	}
}

// Raw usercollection payloads.
type dailyActivity struct {
	Day            string  `json:"day"`
	Steps          int     `json:"steps"`
	ActiveCalories float64 `json:"active_calories"`
}

type sleepPeriod struct {
	Day                string  `json:"day"`
	TotalSleepDuration int     `json:"total_sleep_duration"` // seconds
	DeepSleepDuration  int     `json:"deep_sleep_duration"`
	RemSleepDuration   int     `json:"rem_sleep_duration"`
	LightSleepDuration int     `json:"light_sleep_duration"`
	AwakeTime          int     `json:"awake_time"`
	AverageHRV         float64 `json:"average_hrv"`
	LowestHeartRate    int     `json:"lowest_heart_rate"`
}

type dailyReadiness struct {
	Day   string `json:"day"`
	Score int    `json:"score"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// FetchMetrics pulls the daily activity, sleep, and readiness collections
// and normalizes them into per-day samples.
func (a *Adapter) FetchMetrics(ctx context.Context, userID string, r domain.DateRange) ([]domain.ProviderSample, error) {
	token, err := a.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("?start_date=%s&end_date=%s", r.From, r.To)

	var activities listResponse[dailyActivity]
	if err := oauthflow.GetJSON(ctx, a.client, a.ID(), a.apiURL+"/usercollection/daily_activity"+query, token, &activities); err != nil {
		return nil, err
	}
	var sleeps listResponse[sleepPeriod]
	if err := oauthflow.GetJSON(ctx, a.client, a.ID(), a.apiURL+"/usercollection/sleep"+query, token, &sleeps); err != nil {
		return nil, err
	}
	var readiness listResponse[dailyReadiness]
	if err := oauthflow.GetJSON(ctx, a.client, a.ID(), a.apiURL+"/usercollection/daily_readiness"+query, token, &readiness); err != nil {
		return nil, err
	}

	return mapCollections(activities.Data, sleeps.Data, readiness.Data, r), nil
}
