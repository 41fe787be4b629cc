package gateway

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/hashicorp/go-uuid"
)

// clientAssertionType is the client_assertion_type value for JWT bearer
// client authentication (RFC 7523 §2.2).
const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

const assertionLifetime = 5 * time.Minute

// assertionSigner produces the private_key_jwt client assertions the
// token endpoint accepts in place of a shared secret.
type assertionSigner struct {
	clientID string
	audience string
	alg      jose.SignatureAlgorithm
	signer   jose.Signer
}

func newAssertionSigner(clientID, tokenURL string, key jose.JSONWebKey) (*assertionSigner, error) {
	alg, err := deriveAlgorithm(key)
	if err != nil {
		return nil, err
	}

	opts := (&jose.SignerOptions{}).WithType("JWT")
	if key.KeyID != "" {
		opts = opts.WithHeader("kid", key.KeyID)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: alg, Key: key.Key}, opts)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	return &assertionSigner{
		clientID: clientID,
		audience: tokenURL,
		alg:      alg,
		signer:   signer,
	}, nil
}

// sign builds one single-use assertion: iss and sub are the client, aud is
// the token endpoint, jti is unique per call.
func (s *assertionSigner) sign(now time.Time) (string, error) {
	jti, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	claims := jwt.Claims{
		Issuer:   s.clientID,
		Subject:  s.clientID,
		Audience: jwt.Audience{s.audience},
		ID:       jti,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(assertionLifetime)),
	}
	token, err := jwt.Signed(s.signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("serialize assertion: %w", err)
	}
	return token, nil
}

// deriveAlgorithm picks the signing algorithm from the key material: the
// key's declared alg when present, otherwise by key type.
func deriveAlgorithm(key jose.JSONWebKey) (jose.SignatureAlgorithm, error) {
	if key.Algorithm != "" {
		return jose.SignatureAlgorithm(key.Algorithm), nil
	}
	switch k := key.Key.(type) {
	case *rsa.PrivateKey:
		return jose.RS256, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		}
		return "", fmt.Errorf("unsupported curve %s: %w", k.Curve.Params().Name, ErrInvalidParameter)
	case ed25519.PrivateKey:
		return jose.EdDSA, nil
	}
	return "", fmt.Errorf("unsupported key type %T: %w", key.Key, ErrInvalidParameter)
}
