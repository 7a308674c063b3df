package server

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"gsheetd/auth"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Store    auth.Store
	Provider *auth.Provider
	Sessions *SessionManager
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	store := auth.NewFileStore(cfg.Store.Path)
	ep := auth.Endpoints{
		AuthURI:     cfg.Google.AuthURI,
		TokenURI:    cfg.Google.TokenURI,
		RedirectURI: cfg.Google.RedirectURI,
		Scope:       cfg.Google.Scope,
	}
	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Provider: auth.NewProvider(store, cfg.Google.RootPath, ep, nil, logger),
		Sessions: NewSessionManager(cfg, logger),
	}, nil
}

// handleOAuthStart opens the consent dance: it binds a fresh CSRF state
// to the browser session and hands the consent URL to the browser. The
// navigation is script-driven rather than a 3xx redirect because the
// handler must emit exactly one response body.
func (a *App) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	sess := a.Sessions.Ensure(w, r)

	state := auth.NewID()
	a.Sessions.SetState(sess.ID, state)

	authURL, err := a.Provider.OAuth().AuthorizeURL("", state)
	if err != nil {
		a.Logger.Error("build authorize url", "error", err)
		a.htmlPage(w, http.StatusInternalServerError, "Authorization unavailable",
			"The authorization URL could not be built. Check the gateway logs.")
		return
	}

	a.Logger.Info("oauth flow started", "session_id", sess.ID)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := startPageTmpl.Execute(w, map[string]string{"AuthURL": authURL}); err != nil {
		a.Logger.Error("render start page", "error", err)
	}
}

// handleOAuthCallback finishes the consent dance. Every branch returns
// exactly one HTML body; the CSRF check runs before any token exchange
// and the session state is consumed on first read, so replaying the
// same callback always fails.
func (a *App) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := firstValue(q, "code")
	oauthErr := firstValue(q, "error")
	state := firstValue(q, "state")

	if oauthErr != "" {
		a.Logger.Warn("provider returned oauth error", "error", oauthErr)
		a.htmlPage(w, http.StatusBadRequest, "Google OAuth error",
			"The provider reported an error. Please retry the authorization.")
		return
	}

	if code == "" {
		a.htmlPage(w, http.StatusBadRequest, "Missing authorization code",
			"Required query parameter 'code' was not found.")
		return
	}

	var expected string
	if sess := a.Sessions.Fetch(r); sess != nil {
		expected = a.Sessions.ConsumeState(sess.ID)
	}
	if state == "" || expected == "" || state != expected {
		a.Logger.Warn("invalid oauth state", "state", state, "expected", expected)
		a.htmlPage(w, http.StatusBadRequest, "Invalid OAuth state",
			"Security check failed. Please retry the login process.")
		return
	}

	accessToken, refreshToken, err := a.Provider.OAuth().ExchangeCode(r.Context(), code)
	if err != nil {
		a.Logger.Error("oauth callback exchange failed", "error", err)
		a.htmlPage(w, http.StatusInternalServerError, "Internal error",
			"Token exchange failed. Check the gateway logs for details.")
		return
	}

	a.Logger.Info("google account linked",
		"access_token_len", len(accessToken),
		"has_refresh_token", refreshToken != "")
	a.htmlPage(w, http.StatusOK, "Google account linked",
		"Authorization completed. You may now close this window.")
}

// handleStatus reports the active credential mode and cached token
// expiry. Secret material never leaves the store.
func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	root := a.Config.Google.RootPath

	useSA, err := a.Store.UseServiceAccount(root)
	if err != nil {
		a.Logger.Error("read mode flag", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var token string
	var expiry time.Time
	mode := "oauth_client"
	if useSA {
		mode = "service_account"
		cred, err := a.Store.ServiceCredential(root)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		token, expiry = cred.AccessToken, cred.TokenExpiry
	} else {
		cred, err := a.Store.OAuthCredential(root)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		token, expiry = cred.AccessToken, cred.TokenExpiry
	}

	status := map[string]any{
		"mode":         mode,
		"token_cached": token != "",
	}
	if !expiry.IsZero() {
		status["token_expiry"] = expiry
		status["token_live"] = expiry.After(time.Now())
	}
	writeJSON(w, status)
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// firstValue normalizes a query parameter that may arrive as a scalar
// or a list: the first element wins. Applied uniformly at the web
// boundary before parameters reach handler logic.
func firstValue(q url.Values, key string) string {
	vs, ok := q[key]
	if !ok || len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func (a *App) htmlPage(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := messagePageTmpl.Execute(w, map[string]string{"Title": title, "Detail": detail})
	if err != nil {
		a.Logger.Error("render page", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

var startPageTmpl = template.Must(template.New("start").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>Redirecting to Google&hellip;</title>
    <script>window.location.href = "{{.AuthURL}}";</script>
  </head>
  <body style="font-family: sans-serif; padding: 20px;">
    <p>Redirecting to the Google consent screen&hellip;</p>
    <p>If nothing happens, <a href="{{.AuthURL}}">continue manually</a>.</p>
  </body>
</html>
`))

var messagePageTmpl = template.Must(template.New("message").Parse(`<!doctype html>
<html>
  <head><meta charset="utf-8" /><title>{{.Title}}</title></head>
  <body style="font-family: sans-serif; padding: 20px;">
    <h2>{{.Title}}</h2>
    <p>{{.Detail}}</p>
  </body>
</html>
`))
