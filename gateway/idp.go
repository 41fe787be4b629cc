package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// ClockSkewTolerance is applied to the underlying verifier's time-based
// token checks.
const ClockSkewTolerance = 5 * time.Second

const (
	discoveryTimeout = 10 * time.Second
	exchangeTimeout  = 15 * time.Second
)

// AuthMethod is how the gateway authenticates to the IdP's token endpoint.
type AuthMethod string

const (
	// AuthMethodSharedSecret uses the configured client secret.
	AuthMethodSharedSecret AuthMethod = "shared-secret"
	// AuthMethodPrivateKey uses a private_key_jwt client assertion signed
	// with the configured key material.
	AuthMethodPrivateKey AuthMethod = "private-key-assertion"
)

func authMethodFor(cfg *Config) AuthMethod {
	if cfg.UsesPrivateKey() {
		return AuthMethodPrivateKey
	}
	return AuthMethodSharedSecret
}

// Authenticator is the gateway's view of the upstream IdP: build the
// authorization redirect for an intent, and turn a callback code into
// validated claims. Implementations own discovery, token exchange,
// signature verification, and the userinfo fetch.
type Authenticator interface {
	AuthCodeURL(intent AuthorizationIntent) string
	Exchange(ctx context.Context, code, nonce string) (TokenClaims, UserInfo, error)
	Method() AuthMethod
}

// OIDCAuthenticator implements Authenticator against a discovered IdP.
type OIDCAuthenticator struct {
	oauth       *oauth2.Config
	provider    *oidc.Provider
	verifier    *oidc.IDTokenVerifier
	method      AuthMethod
	assertion   *assertionSigner
	requiredACR string
	logger      *slog.Logger
}

// NewAuthenticator discovers the IdP metadata and binds the client
// descriptor to its authentication method. Expensive: call once per
// process, through an AuthenticatorSource.
func NewAuthenticator(ctx context.Context, cfg *Config, logger *slog.Logger) (*OIDCAuthenticator, error) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	provider, err := oidc.NewProvider(ctx, cfg.OIDC.IdPURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailure, err)
	}
	logger.Info("discovered issuer", "issuer", cfg.OIDC.IdPURL)

	scopes := strings.Fields(withOpenID(cfg.OIDC.Scope))

	endpoint := provider.Endpoint()
	method := authMethodFor(cfg)

	a := &OIDCAuthenticator{
		provider: provider,
		verifier: provider.Verifier(&oidc.Config{
			ClientID: cfg.OIDC.ClientID,
			Now:      skewedNow,
		}),
		method:      method,
		requiredACR: cfg.RequiredACR(),
		logger:      logger,
	}

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.OIDC.ClientID,
		RedirectURL: cfg.OIDC.RedirectURL(),
		Endpoint:    endpoint,
		Scopes:      scopes,
	}

	switch method {
	case AuthMethodPrivateKey:
		// Credentials ride in the client_assertion parameter, not basic auth.
		oauthCfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
		signer, err := newAssertionSigner(cfg.OIDC.ClientID, endpoint.TokenURL, cfg.JWKPrivate.Keys[0])
		if err != nil {
			return nil, fmt.Errorf("configure client assertion: %w", err)
		}
		a.assertion = signer
		logger.Info("client bound", "auth_method", string(method), "alg", string(signer.alg))
	default:
		oauthCfg.ClientSecret = string(cfg.OIDC.ClientSecret)
		logger.Info("client bound", "auth_method", string(method))
	}

	a.oauth = oauthCfg
	return a, nil
}

// skewedNow shifts the verifier's clock back by the tolerance so tokens
// minted by a marginally ahead IdP clock still validate.
func skewedNow() time.Time {
	return time.Now().Add(-ClockSkewTolerance)
}

// Method returns the bound token-endpoint authentication method.
func (a *OIDCAuthenticator) Method() AuthMethod { return a.method }

// AuthCodeURL builds the outbound authorization request for one intent.
func (a *OIDCAuthenticator) AuthCodeURL(intent AuthorizationIntent) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", intent.Nonce),
	}
	if intent.Scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", withOpenID(intent.Scope)))
	}
	if intent.ForcedReauth {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "login"))
	}
	if intent.StepUpRequired {
		opts = append(opts, oauth2.SetAuthURLParam("claims", a.claimsParameter()))
	}
	return a.oauth.AuthCodeURL(intent.State, opts...)
}

// claimsParameter encodes the required assurance as an essential id_token
// acr claim, the shape the secret document configures it in.
func (a *OIDCAuthenticator) claimsParameter() string {
	req := map[string]any{
		"id_token": map[string]any{
			"acr": ACRRequirement{Essential: true, Value: a.requiredACR},
		},
	}
	b, _ := json.Marshal(req)
	return string(b)
}

// Exchange redeems the authorization code, verifies the ID token signature
// and nonce, and fetches userinfo. Every failure wraps ErrTransport; the
// caller treats it as a rejected attempt.
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code, nonce string) (TokenClaims, UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	var opts []oauth2.AuthCodeOption
	if a.assertion != nil {
		assertion, err := a.assertion.sign(time.Now())
		if err != nil {
			return TokenClaims{}, nil, fmt.Errorf("%w: sign client assertion: %v", ErrTransport, err)
		}
		opts = append(opts,
			oauth2.SetAuthURLParam("client_assertion_type", clientAssertionType),
			oauth2.SetAuthURLParam("client_assertion", assertion),
		)
	}

	tok, err := a.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return TokenClaims{}, nil, fmt.Errorf("%w: exchange code: %v", ErrTransport, err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return TokenClaims{}, nil, fmt.Errorf("%w: id_token missing in response", ErrTransport)
	}

	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return TokenClaims{}, nil, fmt.Errorf("%w: verify id_token: %v", ErrTransport, err)
	}
	if idToken.Nonce != nonce {
		return TokenClaims{}, nil, fmt.Errorf("%w: nonce mismatch", ErrTransport)
	}

	var claims TokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return TokenClaims{}, nil, fmt.Errorf("%w: parse claims: %v", ErrTransport, err)
	}
	if err := idToken.Claims(&claims.Raw); err != nil {
		return TokenClaims{}, nil, fmt.Errorf("%w: parse claims: %v", ErrTransport, err)
	}

	info, err := a.fetchUserInfo(ctx, tok)
	if err != nil {
		return TokenClaims{}, nil, err
	}

	a.logger.Info("user authenticated", "sub", claims.Subject)
	return claims, info, nil
}

func (a *OIDCAuthenticator) fetchUserInfo(ctx context.Context, tok *oauth2.Token) (UserInfo, error) {
	ui, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrTransport, err)
	}
	var info UserInfo
	if err := ui.Claims(&info); err != nil {
		return nil, fmt.Errorf("%w: parse userinfo: %v", ErrTransport, err)
	}
	return info, nil
}

// withOpenID guarantees the openid scope is present; the code flow requires
// it regardless of what the document configures.
func withOpenID(scope string) string {
	fields := strings.Fields(scope)
	if !contains(fields, oidc.ScopeOpenID) {
		fields = append([]string{oidc.ScopeOpenID}, fields...)
	}
	return strings.Join(fields, " ")
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// AuthenticatorSource lazily builds and caches the process-wide
// Authenticator. The once guard keeps concurrent first requests from
// running duplicate discovery calls; a failure is cached until Reset or
// restart.
type AuthenticatorSource struct {
	build func(ctx context.Context) (Authenticator, error)

	mu   sync.Mutex
	once *sync.Once
	a    Authenticator
	err  error
}

// NewAuthenticatorSource wraps a build function.
func NewAuthenticatorSource(build func(ctx context.Context) (Authenticator, error)) *AuthenticatorSource {
	return &AuthenticatorSource{build: build, once: new(sync.Once)}
}

// Get returns the cached Authenticator, building it on first use.
func (s *AuthenticatorSource) Get(ctx context.Context) (Authenticator, error) {
	s.mu.Lock()
	once := s.once
	s.mu.Unlock()

	once.Do(func() {
		a, err := s.build(ctx)
		s.mu.Lock()
		s.a, s.err = a, err
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.a, s.err
}

// Reset discards the cached result so the next Get rebuilds. Explicit
// re-initialization only; nothing retries inline.
func (s *AuthenticatorSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.once = new(sync.Once)
	s.a, s.err = nil, nil
}
