package gateway

import (
	"context"
	"io"
	"log/slog"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timeNowFixed() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

// staticSource serves a fixed secret document and counts fetches.
type staticSource struct {
	doc     []byte
	err     error
	fetches int
}

func (s *staticSource) Fetch(context.Context) ([]byte, error) {
	s.fetches++
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

// sourceFunc adapts a function to SecretSource.
type sourceFunc func(ctx context.Context) ([]byte, error)

func (f sourceFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

const testSecretDoc = `{
  "oidc": {
    "idpURL": "https://idp.example.edu",
    "clientID": "gateway-client",
    "clientSecret": "s3cret-value",
    "baseURL": "https://gw.example.edu",
    "scope": "openid profile email"
  },
  "app": {
    "sessionSecret": "0123456789abcdef0123456789abcdef"
  }
}`

func testConfig() *Config {
	cfg := defaultBaseConfig()
	cfg.OIDC = OIDCConfig{
		IdPURL:       "https://idp.example.edu",
		ClientID:     "gateway-client",
		ClientSecret: "s3cret-value",
		BaseURL:      "https://gw.example.edu",
		Scope:        "openid profile email",
	}
	cfg.App.SessionSecret = "0123456789abcdef0123456789abcdef"
	return &cfg
}
