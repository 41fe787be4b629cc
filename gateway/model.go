package gateway

import "time"

// TokenClaims is the subset of validated ID token claims the gateway
// inspects. The values arrive from the protocol library after signature,
// issuer, audience and expiry verification, but the authentication-strength
// checks against them still treat the token as untrusted input.
type TokenClaims struct {
	Subject  string         `json:"sub"`
	Expiry   int64          `json:"exp"`
	AuthTime int64          `json:"auth_time"`
	ACR      string         `json:"acr"`
	Raw      map[string]any `json:"raw,omitempty"`
}

// UserInfo holds the raw claims returned by the IdP's userinfo endpoint.
type UserInfo map[string]any

// Principal is the authenticated identity attached to a session after a
// successful callback verification.
type Principal struct {
	ID     string      `json:"id"`
	Claims TokenClaims `json:"claims"`
	Info   UserInfo    `json:"info,omitempty"`
}

// LoginState tracks one outstanding authorization request between the
// redirect to the IdP and the callback. State correlates the callback,
// Nonce binds the ID token to this attempt.
type LoginState struct {
	State   string `json:"state"`
	Nonce   string `json:"nonce"`
	Expires int64  `json:"expires"`
}

// Expired reports whether the outstanding login window has passed.
func (l *LoginState) Expired(now time.Time) bool {
	return now.Unix() >= l.Expires
}

// SessionRecord is the per-browser session the gateway serializes into the
// session cookie. The intent flags are armed immediately before an
// authorization redirect and consumed exactly once by the next callback
// verification.
type SessionRecord struct {
	Check2FA    bool        `json:"check2fa,omitempty"`
	CheckReauth bool        `json:"checkReauth,omitempty"`
	Login       *LoginState `json:"login,omitempty"`
	Principal   *Principal  `json:"principal,omitempty"`
}

// IsAuthenticated reports whether a principal is attached.
func (s *SessionRecord) IsAuthenticated() bool {
	return s != nil && s.Principal != nil
}

// BeginLogin arms the session for a new authorization attempt. Flags are
// overwritten, not accumulated: a plain login after an abandoned step-up
// attempt must not inherit the stale check.
func (s *SessionRecord) BeginLogin(intent AuthorizationIntent, ttl time.Duration, now time.Time) {
	s.Check2FA = intent.StepUpRequired
	s.CheckReauth = intent.ForcedReauth
	s.Login = &LoginState{
		State:   intent.State,
		Nonce:   intent.Nonce,
		Expires: now.Add(ttl).Unix(),
	}
}

// ConsumeLogin detaches and returns the outstanding login record.
func (s *SessionRecord) ConsumeLogin() *LoginState {
	l := s.Login
	s.Login = nil
	return l
}

// ClearFlags drops both intent flags. Called on every terminal verification
// outcome so a later unrelated callback cannot be held to a check it never
// requested.
func (s *SessionRecord) ClearFlags() {
	s.Check2FA = false
	s.CheckReauth = false
}

// Detach removes the authenticated identity and any in-flight login state.
func (s *SessionRecord) Detach() {
	s.Principal = nil
	s.Login = nil
	s.ClearFlags()
}
