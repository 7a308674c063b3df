package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"gsheetd/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testApp is an App wired against an in-memory store and a fake token
// endpoint, served over httptest with a cookie-keeping client.
type testApp struct {
	app      *App
	store    *auth.MemStore
	server   *httptest.Server
	client   *http.Client
	exchange *int
}

func newTestApp(t *testing.T, tokenStatus int, tokenBody string) *testApp {
	t.Helper()

	exchanges := 0
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		exchanges++
		if tokenStatus != http.StatusOK {
			http.Error(w, tokenBody, tokenStatus)
			return
		}
		io.WriteString(w, tokenBody)
	}))
	t.Cleanup(tokenSrv.Close)

	cfg := DefaultConfig()
	cfg.Google.RedirectURI = cfg.Server.PublicURL + "/oauth/callback"

	store := auth.NewMemStore()
	store.PutOAuthCredential(cfg.Google.RootPath, auth.OAuthCredential{
		ClientID: "cid", ClientSecret: "sec",
	})
	store.OAuthPut = 0

	ep := auth.Endpoints{
		AuthURI:     "https://accounts.example.com/auth",
		TokenURI:    tokenSrv.URL,
		RedirectURI: cfg.Google.RedirectURI,
		Scope:       cfg.Google.Scope,
	}
	app := &App{
		Config:   cfg,
		Logger:   testLogger(),
		Store:    store,
		Provider: auth.NewProvider(store, cfg.Google.RootPath, ep, tokenSrv.Client(), testLogger()),
		Sessions: NewSessionManager(cfg, testLogger()),
	}

	srv := httptest.NewServer(app.Routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar

	return &testApp{app: app, store: store, server: srv, client: client, exchange: &exchanges}
}

func (ta *testApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := ta.client.Get(ta.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

var stateRe = regexp.MustCompile(`state=([0-9a-f]{32})`)

// startFlow runs /oauth/start and extracts the CSRF state embedded in
// the consent URL.
func (ta *testApp) startFlow(t *testing.T) string {
	t.Helper()
	resp, body := ta.get(t, "/oauth/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	m := stateRe.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no state in start page:\n%s", body)
	}
	return m[1]
}

func TestOAuthStart(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)

	resp, body := ta.get(t, "/oauth/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(body, "accounts.example.com") {
		t.Fatal("start page does not carry the consent URL")
	}
	if !stateRe.MatchString(body) {
		t.Fatal("start page does not carry a state parameter")
	}

	u, _ := url.Parse(ta.server.URL)
	var sessionCookie bool
	for _, c := range ta.client.Jar.Cookies(u) {
		if c.Name == sessionCookieName {
			sessionCookie = true
		}
	}
	if !sessionCookie {
		t.Fatal("no session cookie set")
	}
}

func TestOAuthStartRotatesState(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)

	first := ta.startFlow(t)
	second := ta.startFlow(t)
	if first == second {
		t.Fatal("state must be fresh per start request")
	}
}

func TestCallbackSuccess(t *testing.T) {
	ta := newTestApp(t, http.StatusOK,
		`{"access_token":"tok1","refresh_token":"r1","expires_in":3600}`)

	state := ta.startFlow(t)
	resp, body := ta.get(t, "/oauth/callback?code=thecode&state="+state)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body:\n%s", resp.StatusCode, body)
	}
	if !strings.Contains(body, "linked") {
		t.Fatalf("unexpected success page:\n%s", body)
	}
	if *ta.exchange != 1 {
		t.Fatalf("exchange calls = %d", *ta.exchange)
	}

	cred, _ := ta.store.OAuthCredential(ta.app.Config.Google.RootPath)
	if cred.AccessToken != "tok1" || cred.RefreshToken != "r1" {
		t.Fatalf("stored credential = %+v", cred)
	}
}

func TestCallbackProviderError(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)
	ta.startFlow(t)

	resp, _ := ta.get(t, "/oauth/callback?error=access_denied")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if *ta.exchange != 0 {
		t.Fatal("provider error must not reach the token endpoint")
	}
	if ta.store.OAuthPut != 0 {
		t.Fatal("provider error must not touch the store")
	}
}

func TestCallbackMissingCode(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)
	state := ta.startFlow(t)

	resp, _ := ta.get(t, "/oauth/callback?state="+state)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if *ta.exchange != 0 {
		t.Fatal("missing code must not reach the token endpoint")
	}
}

func TestCallbackBadState(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)
	ta.startFlow(t)

	resp, _ := ta.get(t, "/oauth/callback?code=thecode&state=wrong")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if *ta.exchange != 0 {
		t.Fatal("state mismatch must abort before the token exchange")
	}
}

func TestCallbackMissingState(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)
	ta.startFlow(t)

	resp, _ := ta.get(t, "/oauth/callback?code=thecode")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCallbackWithoutSession(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)

	// No prior /oauth/start, no cookie, no stored state.
	resp, _ := ta.get(t, "/oauth/callback?code=thecode&state="+strings.Repeat("a", 32))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if *ta.exchange != 0 {
		t.Fatal("missing session must abort before the token exchange")
	}
}

func TestCallbackReplay(t *testing.T) {
	ta := newTestApp(t, http.StatusOK,
		`{"access_token":"tok1","refresh_token":"r1","expires_in":3600}`)

	state := ta.startFlow(t)
	callback := "/oauth/callback?code=thecode&state=" + state

	resp, _ := ta.get(t, callback)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first callback status = %d", resp.StatusCode)
	}

	resp, _ = ta.get(t, callback)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("replay status = %d, state must be single use", resp.StatusCode)
	}
	if *ta.exchange != 1 {
		t.Fatalf("exchange calls = %d, replay must not re-exchange", *ta.exchange)
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	ta := newTestApp(t, http.StatusUnauthorized, `{"error":"invalid_grant"}`)

	state := ta.startFlow(t)
	resp, body := ta.get(t, "/oauth/callback?code=thecode&state="+state)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// The page stays generic; provider details go to the log only.
	if strings.Contains(body, "invalid_grant") {
		t.Fatal("provider error body leaked into the response")
	}
	if ta.store.OAuthPut != 0 {
		t.Fatal("failed exchange must not touch the store")
	}
}

func TestStatus(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)

	resp, body := ta.get(t, "/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got["mode"] != "oauth_client" {
		t.Fatalf("mode = %v", got["mode"])
	}
	if got["token_cached"] != false {
		t.Fatalf("token_cached = %v", got["token_cached"])
	}

	ta.store.SetUseServiceAccount(ta.app.Config.Google.RootPath, true)
	_, body = ta.get(t, "/status")
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if got["mode"] != "service_account" {
		t.Fatalf("mode after flag flip = %v", got["mode"])
	}
}

func TestStatusNeverLeaksSecrets(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)
	ta.store.PutOAuthCredential(ta.app.Config.Google.RootPath, auth.OAuthCredential{
		ClientID: "cid", ClientSecret: "topsecret", RefreshToken: "r1", AccessToken: "tok1",
	})

	_, body := ta.get(t, "/status")
	for _, secret := range []string{"topsecret", "r1", "tok1"} {
		if strings.Contains(body, secret) {
			t.Fatalf("status leaked %q:\n%s", secret, body)
		}
	}
}

func TestHealthz(t *testing.T) {
	ta := newTestApp(t, http.StatusOK, `{}`)
	resp, body := ta.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, "ok") {
		t.Fatalf("body = %s", body)
	}
}

func TestFirstValue(t *testing.T) {
	q := url.Values{"code": {"first", "second"}, "empty": {}}
	if got := firstValue(q, "code"); got != "first" {
		t.Fatalf("code = %q", got)
	}
	if got := firstValue(q, "empty"); got != "" {
		t.Fatalf("empty = %q", got)
	}
	if got := firstValue(q, "missing"); got != "" {
		t.Fatalf("missing = %q", got)
	}
}
