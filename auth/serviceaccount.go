package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const assertionLifetime = 3600 // seconds, per the JWT-bearer profile

// ServiceAccountClient owns the JWT-bearer grant for a single service
// credential record. There is no refresh token in this mode: a cache
// miss re-signs a fresh assertion and trades it for an access token.
type ServiceAccountClient struct {
	store  Store
	root   string
	ep     Endpoints
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewServiceAccountClient constructs a manager for the service
// credential record under root.
func NewServiceAccountClient(store Store, root string, ep Endpoints, httpClient *http.Client, logger *slog.Logger) *ServiceAccountClient {
	return &ServiceAccountClient{
		store:  store,
		root:   root,
		ep:     ep.withDefaults(),
		http:   newHTTPClient(httpClient),
		logger: logger,
		now:    time.Now,
	}
}

// ValidAccessToken returns the cached token while it is live and
// requests a new one otherwise. Same gate as the OAuth client.
func (c *ServiceAccountClient) ValidAccessToken(ctx context.Context) (string, error) {
	cred, err := c.store.ServiceCredential(c.root)
	if err != nil {
		return "", err
	}
	if stale(cred.AccessToken, cred.TokenExpiry, c.now()) {
		return c.requestAccessToken(ctx)
	}
	return cred.AccessToken, nil
}

func (c *ServiceAccountClient) requestAccessToken(ctx context.Context) (string, error) {
	cred, err := c.store.ServiceCredential(c.root)
	if err != nil {
		return "", err
	}

	assertion, err := c.signedAssertion(cred)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}

	tr, err := postTokenForm(ctx, c.http, c.ep.TokenURI, "assertion grant", form)
	if err != nil {
		var te *TokenEndpointError
		if errors.As(err, &te) {
			c.logger.Error("service account token request failed", "status", te.Status, "body", te.Body)
		}
		return "", err
	}

	expiresIn := tr.ExpiresIn
	if expiresIn == 0 {
		expiresIn = assertionLifetime
	}
	cred.AccessToken = tr.AccessToken
	cred.TokenExpiry = c.now().Add(time.Duration(expiresIn)*time.Second - tokenExpiryMargin)
	if err := c.store.PutServiceCredential(c.root, cred); err != nil {
		return "", err
	}

	c.logger.Info("service account token acquired", "token_expiry", cred.TokenExpiry)
	return tr.AccessToken, nil
}

// signedAssertion builds the RS256 bearer assertion: header
// {alg:RS256,typ:JWT}, claims {iss,scope,aud,iat,exp=iat+3600},
// compact-serialized and signed with the record's private key.
func (c *ServiceAccountClient) signedAssertion(cred ServiceCredential) (string, error) {
	if cred.ClientEmail == "" {
		return "", &ConfigError{Path: c.root + serviceSubPath, Field: "client_email"}
	}
	if cred.PrivateKey == "" {
		return "", &ConfigError{Path: c.root + serviceSubPath, Field: "private_key"}
	}
	if c.ep.Scope == "" {
		return "", &ConfigError{Path: "endpoints", Field: "scope"}
	}

	key, err := parseRSAPrivateKey(cred.PrivateKey)
	if err != nil {
		return "", err
	}

	iat := c.now().Unix()
	claims := jwt.MapClaims{
		"iss":   cred.ClientEmail,
		"scope": c.ep.Scope,
		"aud":   c.ep.TokenURI,
		"iat":   iat,
		"exp":   iat + assertionLifetime,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", &KeyError{Reason: "sign assertion", Err: err}
	}
	return signed, nil
}

// parseRSAPrivateKey decodes a PEM-encoded PKCS#8 RSA private key. Keys
// pasted into the store often arrive with literal \n escapes instead of
// newlines; both forms are accepted.
func parseRSAPrivateKey(pemText string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(pemText, `\n`, "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "")

	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, &KeyError{Reason: "decode private key PEM"}
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &KeyError{Reason: "parse PKCS#8 private key", Err: err}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &KeyError{Reason: "private key is not RSA"}
	}
	return key, nil
}
