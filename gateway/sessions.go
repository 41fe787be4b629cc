package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionCookieName = "authgw_session"

// PendingSessionTTL bounds how long a session that only carries an
// outstanding login record (no principal yet) stays valid.
const PendingSessionTTL = 10 * time.Minute

// SessionManager stores the session record client-side in an HMAC-signed
// JWT cookie. The signature is what keeps the intent flags trustworthy
// between the authorization redirect and the callback: the browser carries
// them but cannot forge them.
type SessionManager struct {
	secret       []byte
	secure       bool
	sameSite     http.SameSite
	cookieDomain string
	logger       *slog.Logger

	now func() time.Time
}

type sessionClaims struct {
	Session SessionRecord `json:"sess"`
	jwt.RegisteredClaims
}

// NewSessionManager constructs a manager signing with the app session
// secret.
func NewSessionManager(cfg *Config, server ServerConfig, logger *slog.Logger) *SessionManager {
	sameSite := http.SameSiteStrictMode
	if server.DevMode {
		sameSite = http.SameSiteLaxMode
	}
	return &SessionManager{
		secret:       []byte(cfg.App.SessionSecret),
		secure:       !server.DevMode,
		sameSite:     sameSite,
		cookieDomain: server.CookieDomain,
		logger:       logger,
		now:          time.Now,
	}
}

// Fetch returns the session carried by the request cookie, or nil when the
// cookie is absent, expired, or fails signature verification. A bad
// signature is logged and treated as no session; it never fails the
// request.
func (sm *SessionManager) Fetch(r *http.Request) *SessionRecord {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	var claims sessionClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims,
		func(*jwt.Token) (any, error) { return sm.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(sm.now),
	)
	if err != nil {
		if !errors.Is(err, jwt.ErrTokenExpired) {
			sm.logger.Warn("session cookie rejected", "error", err)
		}
		return nil
	}
	return &claims.Session
}

// Save serializes the record into a fresh signed cookie. maxAge becomes
// both the JWT expiry and the cookie MaxAge; for authenticated sessions the
// caller passes the token-derived lifetime, for pending ones
// PendingSessionTTL.
func (sm *SessionManager) Save(w http.ResponseWriter, sess *SessionRecord, maxAge time.Duration) error {
	now := sm.now()
	claims := sessionClaims{
		Session: *sess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(maxAge)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(sm.secret)
	if err != nil {
		return fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    signed,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   int(maxAge.Seconds()),
	})
	return nil
}

// Clear drops the session cookie. The IdP-side session is untouched.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: sm.sameSite,
		MaxAge:   -1,
	})
}
