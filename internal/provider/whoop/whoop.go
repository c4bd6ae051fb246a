// Package whoop adapts the WHOOP developer API to the provider interface.
// WHOOP offers no programmatic revocation: Disconnect clears the local
// credential only and the user must remove the app from their WHOOP
// account settings.
package whoop

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"example.com/healthsync/internal/credstore"
	"example.com/healthsync/internal/domain"
	"example.com/healthsync/internal/provider"
	"example.com/healthsync/internal/provider/oauthflow"
)

const (
	defaultAuthURL  = "https://api.prod.whoop.com/oauth/oauth2/auth"
	defaultTokenURL = "https://api.prod.whoop.com/oauth/oauth2/token"
	defaultAPIURL   = "https://api.prod.whoop.com/developer/v1"

	recordPageSize = 25
	maxRecordPages = 10
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

// Adapter implements provider.Adapter for WHOOP.
type Adapter struct {
	*oauthflow.Base
	client *http.Client
	apiURL string
}

// New constructs the WHOOP adapter.
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
		MetricKinds:     []domain.MetricKind{domain.KindRecovery, domain.KindSleep, domain.KindHeartRate},
	}

	flow := oauthflow.NewFlow(oauthflow.Config{
		ProviderID:   "whoop",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI,
		Scopes:       []string{"read:recovery", "read:cycles", "read:sleep", "offline"},
		Endpoints: oauthflow.Endpoints{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
		HTTPClient: cfg.HTTPClient,
	})

	return &Adapter{
		Base:   oauthflow.NewBase("whoop", "WHOOP", caps, flow, creds),
		client: cfg.HTTPClient,
		apiURL: cfg.APIURL,
	}
}

// Raw collection payloads. WHOOP paginates every collection with next_token.
type recoveryRecord struct {
	CreatedAt time.Time `json:"created_at"`
	Score     struct {
		RecoveryScore    float64 `json:"recovery_score"`
		RestingHeartRate float64 `json:"resting_heart_rate"`
		HRVRmssdMilli    float64 `json:"hrv_rmssd_milli"`
	} `json:"score"`
}

type cycleRecord struct {
	Start time.Time `json:"start"`
	Score struct {
		Strain           float64 `json:"strain"`
		AverageHeartRate float64 `json:"average_heart_rate"`
		MaxHeartRate     float64 `json:"max_heart_rate"`
		Kilojoule        float64 `json:"kilojoule"`
	} `json:"score"`
}

type sleepRecord struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Score struct {
		StageSummary struct {
			TotalLightMilli    int64 `json:"total_light_sleep_time_milli"`
			TotalSlowWaveMilli int64 `json:"total_slow_wave_sleep_time_milli"`
			TotalRemMilli      int64 `json:"total_rem_sleep_time_milli"`
			TotalAwakeMilli    int64 `json:"total_awake_time_milli"`
		} `json:"stage_summary"`
	} `json:"score"`
}

type collection[T any] struct {
	Records   []T    `json:"records"`
	NextToken string `json:"next_token"`
}

// FetchMetrics pulls recovery, cycle, and sleep collections for the range
// and normalizes them into per-day samples.
func (a *Adapter) FetchMetrics(ctx context.Context, userID string, r domain.DateRange) ([]domain.ProviderSample, error) {
	token, err := a.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	recoveries, err := fetchCollection[recoveryRecord](ctx, a, token, "/recovery", r)
	if err != nil {
		return nil, err
	}
	cycles, err := fetchCollection[cycleRecord](ctx, a, token, "/cycle", r)
	if err != nil {
		return nil, err
	}
	sleeps, err := fetchCollection[sleepRecord](ctx, a, token, "/activity/sleep", r)
	if err != nil {
		return nil, err
	}

	return mapRecords(recoveries, cycles, sleeps, r), nil
}

func fetchCollection[T any](ctx context.Context, a *Adapter, token, path string, r domain.DateRange) ([]T, error) {
	start := r.From.Time().Format(time.RFC3339)
	end := r.To.Time().AddDate(0, 0, 1).Format(time.RFC3339)

	var (
		records   []T
		nextToken string
	)
	for page := 0; page < maxRecordPages; page++ {
		endpoint := fmt.Sprintf("%s%s?start=%s&end=%s&limit=%d",
			a.apiURL, path, url.QueryEscape(start), url.QueryEscape(end), recordPageSize)
		if nextToken != "" {
			endpoint += "&nextToken=" + url.QueryEscape(nextToken)
		}

		var batch collection[T]
		if err := oauthflow.GetJSON(ctx, a.client, a.ID(), endpoint, token, &batch); err != nil {
			return nil, err
		}
		records = append(records, batch.Records...)
		if batch.NextToken == "" {
			break
		}
		nextToken = batch.NextToken
	}
	return records, nil
}
