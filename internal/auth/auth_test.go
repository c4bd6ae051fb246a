package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "integration-secret"
const testIssuer = "healthsync"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeMetricsRead, ScopeSyncTrigger},
	})

	claims, err := Parse(token, Config{Secret: testSecret, Issuer: testIssuer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if !claims.HasScope(ScopeMetricsRead) || !claims.HasScope(ScopeSyncTrigger) {
		t.Fatalf("missing expected scopes: %+v", claims.Scopes)
	}
	if claims.HasScope(ScopeProvidersWrite) {
		t.Fatal("scope providers:write should not be present")
	}
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":    "user-1",
		"iss":    testIssuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": ScopeProvidersRead + " " + ScopeProvidersWrite,
	})

	claims, err := Parse(token, Config{Secret: testSecret, Issuer: testIssuer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !claims.HasScope(ScopeProvidersRead) || !claims.HasScope(ScopeProvidersWrite) {
		t.Fatalf("missing expected scopes: %+v", claims.Scopes)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := Parse(token, Config{Secret: testSecret, Issuer: testIssuer}); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub": "user-1",
		"iss": testIssuer,
		"exp": time.Now().Add(-time.Minute).Unix(),
	})

	if _, err := Parse(token, Config{Secret: testSecret, Issuer: testIssuer}); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestParseRejectsMissingSubject(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := Parse(token, Config{Secret: testSecret, Issuer: testIssuer}); err == nil {
		t.Fatal("expected missing subject error")
	}
}

func TestMiddlewareInjectsClaims(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer}, nil)

	var got *Claims
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	token := signToken(t, jwt.MapClaims{
		"sub": "user-7",
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if got == nil || got.Subject != "user-7" {
		t.Fatalf("claims not propagated: %+v", got)
	}
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer}, nil)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON response, got %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["type"] != "unauthorized" {
		t.Fatalf("expected type unauthorized, got %q", body["type"])
	}
	if body["detail"] != ErrMissingToken.Error() {
		t.Fatalf("expected detail %q, got %q", ErrMissingToken.Error(), body["detail"])
	}
}

func TestMiddlewareRejectsMalformedScheme(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer}, nil)
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["detail"] != ErrInvalidToken.Error() {
		t.Fatalf("expected detail %q, got %q", ErrInvalidToken.Error(), body["detail"])
	}
}

func TestMiddlewareSkipper(t *testing.T) {
	mw := NewMiddleware(Config{Secret: testSecret, Issuer: testIssuer}, func(r *http.Request) bool {
		return r.URL.Path == "/healthz"
	})
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}
