package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolverMergesDefaults(t *testing.T) {
	r := NewResolver(&staticSource{doc: []byte(testSecretDoc)}, discardLogger())

	cfg, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if cfg.OIDC.ClientID != "gateway-client" {
		t.Fatalf("clientID = %q", cfg.OIDC.ClientID)
	}
	if got := cfg.RequiredACR(); got != defaultRequiredACR {
		t.Fatalf("RequiredACR = %q, want default %q", got, defaultRequiredACR)
	}
	if !cfg.SecondFactor.IDToken.ACR.Essential {
		t.Fatalf("default ACR requirement must be essential")
	}
	if cfg.UsesPrivateKey() {
		t.Fatalf("no private key configured, UsesPrivateKey must be false")
	}
}

func TestResolverDocumentOverridesACR(t *testing.T) {
	doc := strings.Replace(testSecretDoc, `"app": {`,
		`"secondFactor": {"id_token": {"acr": {"essential": true, "value": "urn:example:assurance:gold"}}},
  "app": {`, 1)
	r := NewResolver(&staticSource{doc: []byte(doc)}, discardLogger())

	cfg, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got := cfg.RequiredACR(); got != "urn:example:assurance:gold" {
		t.Fatalf("RequiredACR = %q", got)
	}
}

func TestResolverFetchesOnce(t *testing.T) {
	src := &staticSource{doc: []byte(testSecretDoc)}
	r := NewResolver(src, discardLogger())

	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background()); err != nil {
			t.Fatalf("Resolve %d returned error: %v", i, err)
		}
	}
	if src.fetches != 1 {
		t.Fatalf("source fetched %d times, want 1", src.fetches)
	}
}

func TestResolverCachesFailure(t *testing.T) {
	src := &staticSource{err: fmt.Errorf("secrets manager down")}
	r := NewResolver(src, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background())
		if !errors.Is(err, ErrConfigUnavailable) {
			t.Fatalf("Resolve %d error = %v, want ErrConfigUnavailable", i, err)
		}
	}
	if src.fetches != 1 {
		t.Fatalf("failed resolution must not retry, fetched %d times", src.fetches)
	}
}

func TestResolverRejectsMalformedDocument(t *testing.T) {
	r := NewResolver(&staticSource{doc: []byte("not json")}, discardLogger())
	if _, err := r.Resolve(context.Background()); !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("error = %v, want ErrConfigUnavailable", err)
	}
}

func TestResolverRejectsInvalidDocument(t *testing.T) {
	r := NewResolver(&staticSource{doc: []byte(`{"oidc": {"idpURL": "https://idp.example.edu"}}`)}, discardLogger())
	if _, err := r.Resolve(context.Background()); !errors.Is(err, ErrConfigUnavailable) {
		t.Fatalf("error = %v, want ErrConfigUnavailable", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing idpURL", func(c *Config) { c.OIDC.IdPURL = "" }},
		{"idpURL without scheme", func(c *Config) { c.OIDC.IdPURL = "idp.example.edu" }},
		{"missing clientID", func(c *Config) { c.OIDC.ClientID = "" }},
		{"no client credential", func(c *Config) { c.OIDC.ClientSecret = "" }},
		{"missing baseURL", func(c *Config) { c.OIDC.BaseURL = "" }},
		{"missing scope", func(c *Config) { c.OIDC.Scope = "" }},
		{"missing sessionSecret", func(c *Config) { c.App.SessionSecret = "" }},
		{"missing acr value", func(c *Config) { c.SecondFactor.IDToken.ACR.Value = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate accepted invalid config")
			}
		})
	}

	if err := testConfig().Validate(); err != nil {
		t.Fatalf("Validate rejected valid config: %v", err)
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("s3cret-value")
	if s.String() != redactedSecret {
		t.Fatalf("String leaked the secret: %q", s.String())
	}
	b, err := json.Marshal(struct {
		Token Secret `json:"token"`
	}{Token: s})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(b), "s3cret-value") {
		t.Fatalf("MarshalJSON leaked the secret: %s", b)
	}
	if s.LogValue().String() != redactedSecret {
		t.Fatalf("LogValue leaked the secret")
	}
	// The raw value stays reachable for code that actually needs it.
	if string(s) != "s3cret-value" {
		t.Fatalf("conversion lost the value")
	}
}

func TestRedirectURL(t *testing.T) {
	c := OIDCConfig{BaseURL: "https://gw.example.edu/"}
	if got := c.RedirectURL(); got != "https://gw.example.edu/callback" {
		t.Fatalf("RedirectURL = %q", got)
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("AUTHGW_SECRETS_FILE", "/run/secrets/gateway.json")

	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("LoadServerConfig returned error: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:8080" || !cfg.DevMode {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SecretsFile != "/run/secrets/gateway.json" {
		t.Fatalf("env override missing: %+v", cfg)
	}
}

func TestLoadServerConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	data := `listen_addr: "0.0.0.0:9000"
dev_mode: false
cookie_domain: gw.example.edu
secrets_arn: arn:aws:secretsmanager:us-east-1:123456789012:secret:gateway
tls:
  domains:
    - gw.example.edu
  email: ops@example.edu
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig returned error: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" || cfg.DevMode {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if len(cfg.TLS.Domains) != 1 || cfg.TLS.Domains[0] != "gw.example.edu" {
		t.Fatalf("tls.domains = %v", cfg.TLS.Domains)
	}
}

func TestLoadServerConfigRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("listne_addr: bad\nsecrets_file: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadServerConfig(path); err == nil {
		t.Fatalf("misspelled key must be rejected")
	}
}

func TestLoadServerConfigEnvOverrides(t *testing.T) {
	t.Setenv("AUTHGW_SECRETS_FILE", "secrets.json")
	t.Setenv("AUTHGW_DEV_MODE", "false")
	t.Setenv("AUTHGW_TLS_DOMAINS", "gw.example.edu, gw2.example.edu")
	t.Setenv("AUTHGW_LISTEN_ADDR", ":9090")

	cfg, err := LoadServerConfig("")
	if err != nil {
		t.Fatalf("LoadServerConfig returned error: %v", err)
	}
	if cfg.DevMode {
		t.Fatalf("AUTHGW_DEV_MODE=false not applied")
	}
	if len(cfg.TLS.Domains) != 2 || cfg.TLS.Domains[1] != "gw2.example.edu" {
		t.Fatalf("AUTHGW_TLS_DOMAINS not split and trimmed: %v", cfg.TLS.Domains)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("AUTHGW_LISTEN_ADDR not applied")
	}
}

func TestServerConfigValidate(t *testing.T) {
	c := defaultServerConfig()
	if err := c.Validate(); err == nil {
		t.Fatalf("config without a secret source must be invalid")
	}

	c.SecretsFile = "secrets.json"
	if err := c.Validate(); err != nil {
		t.Fatalf("dev config with secrets_file must validate: %v", err)
	}

	c.DevMode = false
	if err := c.Validate(); err == nil {
		t.Fatalf("production config without tls.domains must be invalid")
	}
	c.TLS.Domains = []string{"gw.example.edu"}
	if err := c.Validate(); err != nil {
		t.Fatalf("production config with domains must validate: %v", err)
	}
}

func TestFileSourceFetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, []byte(testSecretDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	b, err := NewFileSource(path).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if string(b) != testSecretDoc {
		t.Fatalf("Fetch returned wrong document")
	}

	if _, err := NewFileSource(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background()); err == nil {
		t.Fatalf("missing file must error")
	}
}
