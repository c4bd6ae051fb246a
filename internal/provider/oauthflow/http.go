package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"example.com/healthsync/internal/domain"
)

// DoJSON executes an already-prepared API request and decodes the JSON body
// into v, classifying failures into the typed error taxonomy:
// 401 -> AuthExpiredError, 429 -> RateLimitError, network errors and 5xx ->
// TransientNetworkError.
func DoJSON(client *http.Client, providerID string, req *http.Request, v interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Provider: providerID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.AuthExpiredError{Provider: providerID}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitError{Provider: providerID, RetryAfter: retryAfter(resp)}
	case resp.StatusCode >= 500:
		return &domain.TransientNetworkError{Provider: providerID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: request failed with status %d: %s", providerID, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", providerID, err)
	}
	return nil
}

// GetJSON issues a bearer-authorized GET and decodes the response via DoJSON.
func GetJSON(ctx context.Context, client *http.Client, providerID, url, accessToken string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return DoJSON(client, providerID, req, v)
}
