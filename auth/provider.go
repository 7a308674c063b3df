package auth

import (
	"context"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenSource yields a currently valid access token. Implemented by
// OAuthClient, ServiceAccountClient, and Provider; consumers such as
// the Sheets client depend only on this interface.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (string, error)
}

// Provider selects between the two credential modes based on the
// persisted mode flag. It holds references to both managers but no
// other state; the flag is read fresh on every call so an operator can
// switch modes without restarting the process.
type Provider struct {
	store Store
	root  string
	oauth *OAuthClient
	sa    *ServiceAccountClient
}

// NewProvider wires both managers over the same store and root path.
func NewProvider(store Store, root string, ep Endpoints, httpClient *http.Client, logger *slog.Logger) *Provider {
	return &Provider{
		store: store,
		root:  root,
		oauth: NewOAuthClient(store, root, ep, httpClient, logger),
		sa:    NewServiceAccountClient(store, root, ep, httpClient, logger),
	}
}

// ValidAccessToken delegates to the manager selected by the mode flag.
func (p *Provider) ValidAccessToken(ctx context.Context) (string, error) {
	useSA, err := p.store.UseServiceAccount(p.root)
	if err != nil {
		return "", err
	}
	if useSA {
		return p.sa.ValidAccessToken(ctx)
	}
	return p.oauth.ValidAccessToken(ctx)
}

// OAuth exposes the authorization-code manager for the consent flow
// endpoints.
func (p *Provider) OAuth() *OAuthClient { return p.oauth }

// ServiceAccount exposes the JWT-bearer manager.
func (p *Provider) ServiceAccount() *ServiceAccountClient { return p.sa }

// OAuth2TokenSource adapts src to golang.org/x/oauth2 so HTTP clients
// built with oauth2.NewClient inject a freshly gated bearer token on
// every request.
func OAuth2TokenSource(ctx context.Context, src TokenSource) oauth2.TokenSource {
	return &oauth2Adapter{ctx: ctx, src: src}
}

type oauth2Adapter struct {
	ctx context.Context
	src TokenSource
}

func (a *oauth2Adapter) Token() (*oauth2.Token, error) {
	token, err := a.src.ValidAccessToken(a.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: token, TokenType: "Bearer"}, nil
}
