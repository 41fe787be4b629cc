package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-jose/go-jose/v3"
	"gopkg.in/yaml.v3"
)

// defaultRequiredACR is the assurance value demanded for step-up
// authentication when the secret document does not override it.
const defaultRequiredACR = "https://refeds.org/profile/mfa"

const redactedSecret = "[REDACTED]"

// Secret is a string whose value never appears in logs or JSON output.
type Secret string

func (Secret) String() string { return redactedSecret }

func (Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redactedSecret) }

func (Secret) LogValue() slog.Value { return slog.StringValue(redactedSecret) }

// Config is the immutable configuration snapshot the gateway runs on. It is
// the baseline defaults merged with the secret document, resolved once per
// process.
type Config struct {
	OIDC         OIDCConfig          `json:"oidc"`
	App          AppConfig           `json:"app"`
	SecondFactor SecondFactorConfig  `json:"secondFactor"`
	JWKPrivate   *jose.JSONWebKeySet `json:"jwkPrivate,omitempty"`
	JWKPublic    *jose.JSONWebKeySet `json:"jwkPublic,omitempty"`
}

// OIDCConfig identifies the gateway to its IdP.
type OIDCConfig struct {
	IdPURL       string `json:"idpURL"`
	ClientID     string `json:"clientID"`
	ClientSecret Secret `json:"clientSecret"`
	BaseURL      string `json:"baseURL"`
	Scope        string `json:"scope"`
}

// RedirectURL is the callback the IdP redirects back to.
func (c OIDCConfig) RedirectURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/callback"
}

// AppConfig holds gateway-local secrets.
type AppConfig struct {
	SessionSecret Secret `json:"sessionSecret"`
}

// SecondFactorConfig mirrors the secret document's shape for the required
// second-factor assurance: secondFactor.id_token.acr.{essential,value}.
type SecondFactorConfig struct {
	IDToken struct {
		ACR ACRRequirement `json:"acr"`
	} `json:"id_token"`
}

// ACRRequirement is the id_token claims-parameter entry demanding a
// specific authentication context class.
type ACRRequirement struct {
	Essential bool   `json:"essential"`
	Value     string `json:"value"`
}

// RequiredACR returns the configured assurance value.
func (c *Config) RequiredACR() string {
	return c.SecondFactor.IDToken.ACR.Value
}

// UsesPrivateKey reports whether asymmetric client authentication material
// is configured.
func (c *Config) UsesPrivateKey() bool {
	return c.JWKPrivate != nil && len(c.JWKPrivate.Keys) > 0
}

// PublicKeys returns the key set to publish on /jwks. Falls back to the
// public halves of the private set when no separate public set is present.
func (c *Config) PublicKeys() *jose.JSONWebKeySet {
	if c.JWKPublic != nil && len(c.JWKPublic.Keys) > 0 {
		return c.JWKPublic
	}
	if !c.UsesPrivateKey() {
		return nil
	}
	set := &jose.JSONWebKeySet{}
	for _, k := range c.JWKPrivate.Keys {
		set.Keys = append(set.Keys, k.Public())
	}
	return set
}

func defaultBaseConfig() Config {
	var cfg Config
	cfg.SecondFactor.IDToken.ACR = ACRRequirement{
		Essential: true,
		Value:     defaultRequiredACR,
	}
	return cfg
}

// Validate refuses any snapshot that would let a request through with
// undefined oidc or app fields.
func (c *Config) Validate() error {
	if c.OIDC.IdPURL == "" {
		return fmt.Errorf("oidc.idpURL is required")
	}
	if !strings.HasPrefix(c.OIDC.IdPURL, "http://") && !strings.HasPrefix(c.OIDC.IdPURL, "https://") {
		return fmt.Errorf("oidc.idpURL must start with http:// or https://")
	}
	if c.OIDC.ClientID == "" {
		return fmt.Errorf("oidc.clientID is required")
	}
	if c.OIDC.ClientSecret == "" && !c.UsesPrivateKey() {
		return fmt.Errorf("oidc.clientSecret or jwkPrivate is required")
	}
	if c.OIDC.BaseURL == "" {
		return fmt.Errorf("oidc.baseURL is required")
	}
	if !strings.HasPrefix(c.OIDC.BaseURL, "http://") && !strings.HasPrefix(c.OIDC.BaseURL, "https://") {
		return fmt.Errorf("oidc.baseURL must start with http:// or https://")
	}
	if c.OIDC.Scope == "" {
		return fmt.Errorf("oidc.scope is required")
	}
	if c.App.SessionSecret == "" {
		return fmt.Errorf("app.sessionSecret is required")
	}
	if c.RequiredACR() == "" {
		return fmt.Errorf("secondFactor.id_token.acr.value is required")
	}
	return nil
}

// Resolver produces the process-wide configuration snapshot. Resolution
// happens at most once; a failure is cached and surfaced to every caller
// until the process restarts (inline retries would cascade latency into
// every request).
type Resolver struct {
	source SecretSource
	logger *slog.Logger

	once sync.Once
	cfg  *Config
	err  error
}

// NewResolver wires a resolver to its secret source.
func NewResolver(source SecretSource, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, logger: logger}
}

// Resolve fetches and merges the secret document over baseline defaults.
// Idempotent; every error wraps ErrConfigUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (*Config, error) {
	r.once.Do(func() {
		r.cfg, r.err = r.resolve(ctx)
	})
	return r.cfg, r.err
}

func (r *Resolver) resolve(ctx context.Context) (*Config, error) {
	if r.source == nil {
		return nil, fmt.Errorf("%w: no secret source configured", ErrConfigUnavailable)
	}
	doc, err := r.source.Fetch(ctx)
	if err != nil {
		r.logger.Error("secret fetch failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}

	cfg := defaultBaseConfig()
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse secret document: %v", ErrConfigUnavailable, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnavailable, err)
	}

	r.logger.Info("configuration resolved",
		"idp_url", cfg.OIDC.IdPURL,
		"client_id", cfg.OIDC.ClientID,
		"auth_method", string(authMethodFor(&cfg)),
	)
	return &cfg, nil
}

// ServerConfig controls listener and transport concerns. Unlike Config it
// is not secret and loads from a local YAML file plus environment
// overrides.
type ServerConfig struct {
	ListenAddr      string    `yaml:"listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	SecretsARN      string    `yaml:"secrets_arn"`
	SecretsFile     string    `yaml:"secrets_file"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for production serving.
type TLSConfig struct {
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cache_dir"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      "127.0.0.1:8080",
		HTTPListenAddr:  ":80",
		HTTPSListenAddr: ":443",
		DevMode:         true,
		TLS: TLSConfig{
			CacheDir: ".autocert",
		},
	}
}

// LoadServerConfig reads the optional YAML file and applies environment
// overrides.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := defaultServerConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("read config: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return ServerConfig{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyServerEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func applyServerEnvOverrides(cfg *ServerConfig) {
	overrides := map[string]func(string){
		"AUTHGW_LISTEN_ADDR":       func(v string) { cfg.ListenAddr = v },
		"AUTHGW_HTTP_LISTEN_ADDR":  func(v string) { cfg.HTTPListenAddr = v },
		"AUTHGW_HTTPS_LISTEN_ADDR": func(v string) { cfg.HTTPSListenAddr = v },
		"AUTHGW_DEV_MODE":          func(v string) { cfg.DevMode = parseBool(v, cfg.DevMode) },
		"AUTHGW_COOKIE_DOMAIN":     func(v string) { cfg.CookieDomain = v },
		"AUTHGW_SECRETS_ARN":       func(v string) { cfg.SecretsARN = v },
		"AUTHGW_SECRETS_FILE":      func(v string) { cfg.SecretsFile = v },
		"AUTHGW_TLS_DOMAINS":       func(v string) { cfg.TLS.Domains = splitAndTrim(v) },
		"AUTHGW_TLS_EMAIL":         func(v string) { cfg.TLS.Email = v },
	}
	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

// Validate performs minimal sanity checks on the server config.
func (c ServerConfig) Validate() error {
	if c.SecretsARN == "" && c.SecretsFile == "" {
		return fmt.Errorf("one of secrets_arn or secrets_file is required")
	}
	if !c.DevMode && len(c.TLS.Domains) == 0 {
		return fmt.Errorf("tls.domains must be provided in production")
	}
	return nil
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
