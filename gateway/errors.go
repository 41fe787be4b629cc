package gateway

import "errors"

var (
	// ErrConfigUnavailable means the secret source was unreachable or the
	// document it returned was malformed or incomplete. No request can be
	// served until the process restarts with a working source.
	ErrConfigUnavailable = errors.New("configuration unavailable")

	// ErrDiscoveryFailure means IdP metadata discovery failed. Fatal for the
	// process lifetime; retried only on restart or explicit re-init.
	ErrDiscoveryFailure = errors.New("identity provider discovery failed")

	// ErrTransport covers network and protocol failures from the underlying
	// OIDC library during the callback exchange. Treated as a rejected
	// attempt, never retried automatically.
	ErrTransport = errors.New("identity provider exchange failed")

	// ErrInvalidParameter flags caller mistakes on internal APIs.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// RejectReason classifies why a callback verification was rejected. The
// reason is logged server-side only; no claim values are echoed to callers.
type RejectReason string

const (
	// RejectStaleAuthentication: re-authentication was demanded but the
	// delivered auth_time is older than the freshness window.
	RejectStaleAuthentication RejectReason = "StaleAuthentication"

	// RejectStepUpNotSatisfied: a second factor was demanded but the
	// delivered acr claim is absent or does not match the required value.
	RejectStepUpNotSatisfied RejectReason = "StepUpNotSatisfied"

	// RejectExpiredToken: the ID token expiry is already in the past, so no
	// session lifetime could be derived from it.
	RejectExpiredToken RejectReason = "ExpiredToken"
)
