package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// App bundles the gateway's runtime dependencies. Configuration and the
// IdP client are resolved lazily on the first request that needs them and
// cached for the process lifetime.
type App struct {
	Server ServerConfig
	Logger *slog.Logger

	resolver *Resolver

	// newAuthenticator is swapped in tests to avoid live discovery.
	newAuthenticator func(ctx context.Context, cfg *Config, logger *slog.Logger) (Authenticator, error)

	mu sync.Mutex
	rt *runtime
}

// runtime is everything that depends on the resolved configuration.
type runtime struct {
	cfg      *Config
	sessions *SessionManager
	verifier *Verifier
	auth     *AuthenticatorSource
}

// NewApp wires the application around a secret resolver.
func NewApp(server ServerConfig, resolver *Resolver, logger *slog.Logger) *App {
	a := &App{
		Server:   server,
		Logger:   logger,
		resolver: resolver,
	}
	a.newAuthenticator = func(ctx context.Context, cfg *Config, logger *slog.Logger) (Authenticator, error) {
		return NewAuthenticator(ctx, cfg, logger)
	}
	return a
}

// runtime resolves configuration on first use. A resolution failure is
// returned to every subsequent caller (the resolver caches it); no request
// is admitted on partial configuration.
func (a *App) runtime(ctx context.Context) (*runtime, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rt != nil {
		return a.rt, nil
	}

	// Resolution and discovery outlive the triggering request: the results
	// are cached process-wide, so a caller hanging up mid-fetch must not
	// poison the cache for everyone after it. Internal timeouts still bound
	// both calls.
	cfg, err := a.resolver.Resolve(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	a.rt = &runtime{
		cfg:      cfg,
		sessions: NewSessionManager(cfg, a.Server, a.Logger),
		verifier: NewVerifier(cfg.RequiredACR(), a.Logger),
		auth: NewAuthenticatorSource(func(ctx context.Context) (Authenticator, error) {
			return a.newAuthenticator(context.WithoutCancel(ctx), cfg, a.Logger)
		}),
	}
	return a.rt, nil
}

// sessionTTL is the save lifetime for a record that has not just been
// accepted: an authenticated session stays pinned to its token expiry, an
// anonymous one gets the short pending window. Starting or failing a new
// attempt must never truncate a live authenticated session.
func sessionTTL(sess *SessionRecord) time.Duration {
	if sess.IsAuthenticated() {
		if remaining := time.Until(time.Unix(sess.Principal.Claims.Expiry, 0)); remaining > 0 {
			return remaining
		}
	}
	return PendingSessionTTL
}

// handleAuthn starts an authorization-code flow at the requested strength.
// The session is armed with the intent flags before the redirect leaves,
// so the callback can hold the IdP's answer to what was demanded.
func (a *App) handleAuthn(kind AuthKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt, err := a.runtime(r.Context())
		if err != nil {
			a.serviceUnavailable(w, err)
			return
		}
		auth, err := rt.auth.Get(r.Context())
		if err != nil {
			a.serviceUnavailable(w, err)
			return
		}

		intent, err := NewIntent(kind, rt.cfg.OIDC.Scope)
		if err != nil {
			a.Logger.Error("intent generation failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		sess := rt.sessions.Fetch(r)
		if sess == nil {
			sess = &SessionRecord{}
		}
		sess.BeginLogin(intent, PendingSessionTTL, time.Now())
		if err := rt.sessions.Save(w, sess, sessionTTL(sess)); err != nil {
			a.Logger.Error("session save failed", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		a.Logger.Info("authorization request",
			"kind", kind.String(),
			"forced_reauth", intent.ForcedReauth,
			"step_up", intent.StepUpRequired)
		http.Redirect(w, r, auth.AuthCodeURL(intent), http.StatusFound)
	}
}

// handleCallback drives the verification state machine on the IdP's
// redirect back. Every rejection clears the intent flags before the user
// is re-presented with the login choice.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	rt, err := a.runtime(r.Context())
	if err != nil {
		a.serviceUnavailable(w, err)
		return
	}

	sess := rt.sessions.Fetch(r)
	if sess == nil || sess.Login == nil {
		a.Logger.Warn("callback without pending login")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	login := sess.ConsumeLogin()

	reject := func(why string, attrs ...any) {
		sess.ClearFlags()
		if err := rt.sessions.Save(w, sess, sessionTTL(sess)); err != nil {
			a.Logger.Error("session save failed", "error", err)
		}
		a.Logger.Warn("authentication rejected", append([]any{"why", why}, attrs...)...)
		http.Redirect(w, r, "/login", http.StatusFound)
	}

	if errParam := r.FormValue("error"); errParam != "" {
		reject("idp_error", "idp_error", errParam)
		return
	}

	state := r.FormValue("state")
	code := r.FormValue("code")
	if state == "" || code == "" {
		reject("missing_state_or_code")
		return
	}
	if state != login.State {
		reject("state_mismatch")
		return
	}
	if login.Expired(time.Now()) {
		reject("login_expired")
		return
	}

	auth, err := rt.auth.Get(r.Context())
	if err != nil {
		a.serviceUnavailable(w, err)
		return
	}

	claims, info, err := auth.Exchange(r.Context(), code, login.Nonce)
	if err != nil {
		reject("exchange_failed", "error", err)
		return
	}

	verdict := rt.verifier.Verify(sess, claims, info)
	if verdict.Outcome == Rejected {
		// Verify already cleared the flags; persist that before bouncing.
		if err := rt.sessions.Save(w, sess, sessionTTL(sess)); err != nil {
			a.Logger.Error("session save failed", "error", err)
		}
		a.Logger.Warn("authentication rejected", "why", string(verdict.Reason))
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	sess.Principal = verdict.Principal
	if err := rt.sessions.Save(w, sess, verdict.MaxAge); err != nil {
		a.Logger.Error("session save failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	a.Logger.Info("session established",
		"sub", verdict.Principal.ID,
		"max_age_s", int64(verdict.MaxAge.Seconds()))
	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	rt, err := a.runtime(r.Context())
	if err != nil {
		a.serviceUnavailable(w, err)
		return
	}
	if sess := rt.sessions.Fetch(r); sess != nil && sess.Principal != nil {
		a.Logger.Info("logout", "sub", sess.Principal.ID)
	}
	rt.sessions.Clear(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

// handleLoginChoice lets the user pick the authentication strength.
func (a *App) handleLoginChoice(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<a href="/auth">/auth</a> to login<br>`+
		`<a href="/reauth">/reauth</a> for forced reauth<br>`+
		`<a href="/2fa">/2fa</a> for second factor<br>`+
		`<a href="/reauth-2fa">/reauth-2fa</a> for both`)
}

// handleJWKS publishes the public verification keys when asymmetric client
// authentication is configured; 404 otherwise.
func (a *App) handleJWKS(w http.ResponseWriter, r *http.Request) {
	rt, err := a.runtime(r.Context())
	if err != nil {
		a.serviceUnavailable(w, err)
		return
	}
	keys := rt.cfg.PublicKeys()
	if keys == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, keys)
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	writeJSON(w, map[string]any{
		"message": "use /logout to end the session",
		"netid":   p.ID,
		"user":    p.Info,
		"claims":  p.Claims,
	})
}

func (a *App) handleProtected(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "a simple route for those that are authenticated")
}

func (a *App) serviceUnavailable(w http.ResponseWriter, err error) {
	a.Logger.Error("gateway unavailable", "error", err)
	http.Error(w, "authentication gateway unavailable", http.StatusServiceUnavailable)
}
