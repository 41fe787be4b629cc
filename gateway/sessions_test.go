package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestSessionManager() *SessionManager {
	return NewSessionManager(testConfig(), ServerConfig{DevMode: true}, discardLogger())
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatalf("session cookie not set")
	return nil
}

func requestWithCookie(c *http.Cookie) *http.Request {
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(c)
	return r
}

func TestSessionRoundTrip(t *testing.T) {
	sm := newTestSessionManager()

	sess := &SessionRecord{
		Check2FA:    true,
		CheckReauth: true,
		Login:       &LoginState{State: "st", Nonce: "n", Expires: time.Now().Add(time.Minute).Unix()},
	}

	w := httptest.NewRecorder()
	if err := sm.Save(w, sess, PendingSessionTTL); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	cookie := sessionCookie(t, w)
	if int(PendingSessionTTL.Seconds()) != cookie.MaxAge {
		t.Fatalf("cookie MaxAge = %d, want %d", cookie.MaxAge, int(PendingSessionTTL.Seconds()))
	}
	if !cookie.HttpOnly {
		t.Fatalf("session cookie must be HttpOnly")
	}

	got := sm.Fetch(requestWithCookie(cookie))
	if got == nil {
		t.Fatalf("Fetch returned nil for valid cookie")
	}
	if !got.Check2FA || !got.CheckReauth {
		t.Fatalf("flags lost in round trip: %+v", got)
	}
	if got.Login == nil || got.Login.State != "st" || got.Login.Nonce != "n" {
		t.Fatalf("login record lost in round trip: %+v", got.Login)
	}
}

func TestSessionPrincipalRoundTrip(t *testing.T) {
	sm := newTestSessionManager()

	sess := &SessionRecord{
		Principal: &Principal{
			ID:     "user-1",
			Claims: TokenClaims{Subject: "user-1", Expiry: time.Now().Add(time.Hour).Unix(), ACR: testACR},
			Info:   UserInfo{"name": "User One"},
		},
	}

	w := httptest.NewRecorder()
	if err := sm.Save(w, sess, time.Hour); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	got := sm.Fetch(requestWithCookie(sessionCookie(t, w)))
	if !got.IsAuthenticated() {
		t.Fatalf("expected authenticated session")
	}
	if got.Principal.ID != "user-1" || got.Principal.Claims.ACR != testACR {
		t.Fatalf("principal lost in round trip: %+v", got.Principal)
	}
}

func TestSessionTamperedCookieRejected(t *testing.T) {
	sm := newTestSessionManager()

	w := httptest.NewRecorder()
	if err := sm.Save(w, &SessionRecord{Check2FA: true}, PendingSessionTTL); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	cookie := sessionCookie(t, w)

	// Flip part of the payload; the HMAC signature must no longer match.
	parts := strings.Split(cookie.Value, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWT in cookie")
	}
	payload := []byte(parts[1])
	payload[0] ^= 0x01
	parts[1] = string(payload)
	cookie.Value = strings.Join(parts, ".")

	if got := sm.Fetch(requestWithCookie(cookie)); got != nil {
		t.Fatalf("tampered cookie must yield no session, got %+v", got)
	}
}

func TestSessionWrongKeyRejected(t *testing.T) {
	sm := newTestSessionManager()
	w := httptest.NewRecorder()
	if err := sm.Save(w, &SessionRecord{}, PendingSessionTTL); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	other := newTestSessionManager()
	other.secret = []byte("another-secret-another-secret-xx")
	if got := other.Fetch(requestWithCookie(sessionCookie(t, w))); got != nil {
		t.Fatalf("cookie signed with a different key must be rejected")
	}
}

func TestSessionExpiredCookieRejected(t *testing.T) {
	sm := newTestSessionManager()
	w := httptest.NewRecorder()
	if err := sm.Save(w, &SessionRecord{}, time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	cookie := sessionCookie(t, w)

	sm.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if got := sm.Fetch(requestWithCookie(cookie)); got != nil {
		t.Fatalf("expired session must yield nil")
	}
}

func TestSessionClear(t *testing.T) {
	sm := newTestSessionManager()
	w := httptest.NewRecorder()
	sm.Clear(w)

	cookie := sessionCookie(t, w)
	if cookie.Value != "" || cookie.MaxAge != -1 {
		t.Fatalf("Clear must expire the cookie, got value=%q maxAge=%d", cookie.Value, cookie.MaxAge)
	}
}

func TestSessionFetchWithoutCookie(t *testing.T) {
	sm := newTestSessionManager()
	if got := sm.Fetch(httptest.NewRequest("GET", "/", nil)); got != nil {
		t.Fatalf("no cookie must yield nil session")
	}
}

func TestSessionDetach(t *testing.T) {
	sess := &SessionRecord{
		Check2FA:  true,
		Login:     &LoginState{State: "st"},
		Principal: &Principal{ID: "user-1"},
	}
	sess.Detach()
	if sess.IsAuthenticated() || sess.Login != nil || sess.Check2FA || sess.CheckReauth {
		t.Fatalf("Detach left residual state: %+v", sess)
	}
}
