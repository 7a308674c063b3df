package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Google's production endpoints, used when the configuration leaves
// them empty.
const (
	GoogleAuthEndpoint  = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenEndpoint = "https://oauth2.googleapis.com/token"
)

// Access tokens are considered expired 60 seconds before the provider's
// declared lifetime to avoid using a token that expires mid-flight.
const tokenExpiryMargin = 60 * time.Second

const defaultHTTPTimeout = 10 * time.Second

// Endpoints fixes the provider URLs and default scope for one
// credential root.
type Endpoints struct {
	AuthURI     string
	TokenURI    string
	RedirectURI string
	Scope       string
}

func (ep Endpoints) withDefaults() Endpoints {
	if ep.AuthURI == "" {
		ep.AuthURI = GoogleAuthEndpoint
	}
	if ep.TokenURI == "" {
		ep.TokenURI = GoogleTokenEndpoint
	}
	return ep
}

// tokenResponse is the subset of the token endpoint's JSON reply that
// the managers consume.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// postTokenForm sends a form-encoded grant request and parses the
// response. Non-2xx replies become a TokenEndpointError carrying the
// status and body; nothing is persisted by this helper.
func postTokenForm(ctx context.Context, hc *http.Client, tokenURI, op string, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := hc.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("call token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenResponse{}, &TokenEndpointError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	return tr, nil
}

func newHTTPClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// stale reports whether the cached token needs to be re-acquired. An
// expiry exactly at now counts as stale.
func stale(token string, expiry, now time.Time) bool {
	return token == "" || expiry.IsZero() || !expiry.After(now)
}
