package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router: the four authentication-strength
// entry points, the shared callback, and the authenticated surface.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Server.DevMode {
		r.Use(SecurityHeadersMiddleware)
	}

	r.Get("/auth", a.handleAuthn(KindLogin))
	r.Get("/reauth", a.handleAuthn(KindForcedReauth))
	r.Get("/2fa", a.handleAuthn(KindStepUp))
	r.Get("/reauth-2fa", a.handleAuthn(KindForcedReauthWithStepUp))

	r.Get("/callback", a.handleCallback)
	r.Get("/logout", a.handleLogout)
	r.Get("/login", a.handleLoginChoice)
	r.Get("/jwks", a.handleJWKS)

	r.Get("/", a.requireAuth(a.handleIndex))
	r.Get("/protected", a.requireAuth(a.handleProtected))

	return r
}
