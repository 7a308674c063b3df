package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gsheetd/auth"
)

const sessionCookieName = "gs_session"

// Session is one browser session. OAuthState holds the single-use CSRF
// token for an in-flight authorization round-trip; it lives outside the
// credential records and is cleared the moment it is consumed.
type Session struct {
	ID         string
	OAuthState string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// SessionManager handles cookie-backed sessions and the per-session
// CSRF state slot.
type SessionManager struct {
	mu           sync.Mutex
	sessions     map[string]Session
	logger       *slog.Logger
	ttl          time.Duration
	secure       bool
	sameSite     http.SameSite
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, logger *slog.Logger) *SessionManager {
	sameSite := http.SameSiteStrictMode
	if cfg.Server.DevMode {
		sameSite = http.SameSiteLaxMode
	}
	return &SessionManager{
		sessions:     make(map[string]Session),
		logger:       logger,
		ttl:          cfg.Sessions.TTL,
		secure:       !cfg.Server.DevMode,
		sameSite:     sameSite,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// Fetch returns the session bound to the request cookie, or nil when
// there is none or it has expired.
func (sm *SessionManager) Fetch(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[cookie.Value]
	if !ok {
		return nil
	}
	if time.Now().After(sess.ExpiresAt) {
		delete(sm.sessions, sess.ID)
		return nil
	}
	return &sess
}

// Ensure returns the request's session, creating one and setting the
// cookie when absent.
func (sm *SessionManager) Ensure(w http.ResponseWriter, r *http.Request) *Session {
	if sess := sm.Fetch(r); sess != nil {
		return sess
	}

	now := time.Now()
	sess := Session{
		ID:        auth.NewID(),
		CreatedAt: now,
		ExpiresAt: now.Add(sm.ttl),
	}

	sm.mu.Lock()
	sm.sessions[sess.ID] = sess
	sm.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   int(sm.ttl.Seconds()),
	})
	return &sess
}

// SetState stores the CSRF state for one authorization attempt,
// replacing any previous value.
func (sm *SessionManager) SetState(sessionID, state string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		return
	}
	sess.OAuthState = state
	sm.sessions[sessionID] = sess
}

// ConsumeState returns the stored CSRF state and clears it. A state
// value is valid for exactly one round-trip, so it is removed on read
// whether or not the caller's validation succeeds.
func (sm *SessionManager) ConsumeState(sessionID string) string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sess, ok := sm.sessions[sessionID]
	if !ok {
		return ""
	}
	state := sess.OAuthState
	sess.OAuthState = ""
	sm.sessions[sessionID] = sess
	return state
}
