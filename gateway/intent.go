package gateway

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// AuthKind selects the authentication strength of an authorization request.
// The four near-identical routes of the gateway collapse into a single
// handler parameterized by kind.
type AuthKind int

const (
	// KindLogin is a plain login: any existing IdP session may be reused.
	KindLogin AuthKind = iota
	// KindForcedReauth adds prompt=login so the IdP re-authenticates the
	// user even if it holds a live session.
	KindForcedReauth
	// KindStepUp demands the configured second-factor assurance via the
	// claims request parameter.
	KindStepUp
	// KindForcedReauthWithStepUp combines both.
	KindForcedReauthWithStepUp
)

func (k AuthKind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindForcedReauth:
		return "forcedReauth"
	case KindStepUp:
		return "stepUp"
	case KindForcedReauthWithStepUp:
		return "forcedReauthWithStepUp"
	default:
		return fmt.Sprintf("AuthKind(%d)", int(k))
	}
}

// forcesReauth reports whether the kind demands a fresh interactive login.
func (k AuthKind) forcesReauth() bool {
	return k == KindForcedReauth || k == KindForcedReauthWithStepUp
}

// requiresStepUp reports whether the kind demands the second factor.
func (k AuthKind) requiresStepUp() bool {
	return k == KindStepUp || k == KindForcedReauthWithStepUp
}

// AuthorizationIntent captures one authentication attempt: the random
// state/nonce pair binding request to callback, plus the strength modifiers
// derived from the route kind.
type AuthorizationIntent struct {
	Scope          string
	State          string
	Nonce          string
	ForcedReauth   bool
	StepUpRequired bool
}

// intentEntropyBytes is the raw entropy behind state and nonce. 32 bytes
// keeps each value independently unguessable (256 bits).
const intentEntropyBytes = 32

// NewIntent builds the intent for one authorization attempt. State and
// nonce are generated independently and are unique per call.
func NewIntent(kind AuthKind, scope string) (AuthorizationIntent, error) {
	state, err := randomToken()
	if err != nil {
		return AuthorizationIntent{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return AuthorizationIntent{}, fmt.Errorf("generate nonce: %w", err)
	}
	return AuthorizationIntent{
		Scope:          scope,
		State:          state,
		Nonce:          nonce,
		ForcedReauth:   kind.forcesReauth(),
		StepUpRequired: kind.requiresStepUp(),
	}, nil
}

func randomToken() (string, error) {
	b, err := uuid.GenerateRandomBytes(intentEntropyBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
