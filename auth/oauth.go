package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// OAuthClient owns the authorization-code and refresh-token grants for
// a single user-delegated credential record. It holds no token state of
// its own: every call re-reads the store and writes back synchronously
// after a successful grant.
type OAuthClient struct {
	store  Store
	root   string
	ep     Endpoints
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewOAuthClient constructs a manager for the credential record under
// root. A nil httpClient gets the default 10 second timeout.
func NewOAuthClient(store Store, root string, ep Endpoints, httpClient *http.Client, logger *slog.Logger) *OAuthClient {
	return &OAuthClient{
		store:  store,
		root:   root,
		ep:     ep.withDefaults(),
		http:   newHTTPClient(httpClient),
		logger: logger,
		now:    time.Now,
	}
}

// AuthorizeURL composes the provider consent URL. scope falls back to
// the configured default; state is included only when non-empty. Pure
// URL construction, no side effects.
func (c *OAuthClient) AuthorizeURL(scope, state string) (string, error) {
	cred, err := c.store.OAuthCredential(c.root)
	if err != nil {
		return "", err
	}
	if cred.ClientID == "" {
		return "", &ConfigError{Path: c.root + oauthSubPath, Field: "client_id"}
	}
	if scope == "" {
		scope = c.ep.Scope
	}

	q := url.Values{}
	q.Set("access_type", "offline")
	q.Set("response_type", "code")
	q.Set("client_id", cred.ClientID)
	q.Set("scope", scope)
	q.Set("redirect_uri", c.ep.RedirectURI)
	q.Set("prompt", "consent")
	if state != "" {
		q.Set("state", state)
	}
	return c.ep.AuthURI + "?" + q.Encode(), nil
}

// ExchangeCode trades an authorization code for tokens and persists
// them. The stored refresh token is replaced only when the response
// carries one; re-consent without a new refresh token leaves it intact.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (accessToken, refreshToken string, err error) {
	cred, err := c.store.OAuthCredential(c.root)
	if err != nil {
		return "", "", err
	}
	if cred.ClientID == "" {
		return "", "", &ConfigError{Path: c.root + oauthSubPath, Field: "client_id"}
	}
	if cred.ClientSecret == "" {
		return "", "", &ConfigError{Path: c.root + oauthSubPath, Field: "client_secret"}
	}

	form := url.Values{
		"code":          {code},
		"client_id":     {cred.ClientID},
		"client_secret": {cred.ClientSecret},
		"redirect_uri":  {c.ep.RedirectURI},
		"grant_type":    {"authorization_code"},
	}

	tr, err := postTokenForm(ctx, c.http, c.ep.TokenURI, "token exchange", form)
	if err != nil {
		var te *TokenEndpointError
		if errors.As(err, &te) {
			c.logger.Error("token exchange failed", "status", te.Status, "body", te.Body)
		}
		return "", "", err
	}

	cred.AccessToken = tr.AccessToken
	cred.TokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin)
	if tr.RefreshToken != "" {
		cred.RefreshToken = tr.RefreshToken
	}
	if err := c.store.PutOAuthCredential(c.root, cred); err != nil {
		return "", "", err
	}

	c.logger.Info("authorization code exchanged",
		"has_refresh_token", tr.RefreshToken != "",
		"token_expiry", cred.TokenExpiry)
	return tr.AccessToken, tr.RefreshToken, nil
}

// RefreshAccessToken obtains a new access token via the refresh-token
// grant. Fails with a ConfigError when no refresh token is stored,
// which signals that the initial consent flow has to run first.
func (c *OAuthClient) RefreshAccessToken(ctx context.Context) (string, error) {
	cred, err := c.store.OAuthCredential(c.root)
	if err != nil {
		return "", err
	}
	if cred.RefreshToken == "" {
		return "", &ConfigError{Path: c.root + oauthSubPath, Field: "refresh_token"}
	}

	form := url.Values{
		"client_id":     {cred.ClientID},
		"client_secret": {cred.ClientSecret},
		"refresh_token": {cred.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	tr, err := postTokenForm(ctx, c.http, c.ep.TokenURI, "token refresh", form)
	if err != nil {
		var te *TokenEndpointError
		if errors.As(err, &te) {
			c.logger.Error("token refresh failed", "status", te.Status, "body", te.Body)
		}
		return "", err
	}

	cred.AccessToken = tr.AccessToken
	cred.TokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenExpiryMargin)
	if err := c.store.PutOAuthCredential(c.root, cred); err != nil {
		return "", err
	}

	c.logger.Info("access token refreshed", "token_expiry", cred.TokenExpiry)
	return tr.AccessToken, nil
}

// ValidAccessToken is the single freshness gate: it returns the cached
// token unchanged while it is still live and refreshes otherwise.
func (c *OAuthClient) ValidAccessToken(ctx context.Context) (string, error) {
	cred, err := c.store.OAuthCredential(c.root)
	if err != nil {
		return "", err
	}
	if stale(cred.AccessToken, cred.TokenExpiry, c.now()) {
		return c.RefreshAccessToken(ctx)
	}
	return cred.AccessToken, nil
}
