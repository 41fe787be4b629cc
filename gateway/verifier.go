package gateway

import (
	"log/slog"
	"time"
)

// DefaultFreshnessWindow bounds how old auth_time may be when a forced
// re-authentication was demanded.
const DefaultFreshnessWindow = 30 * time.Second

// Outcome is the terminal state of a callback verification.
type Outcome int

const (
	// Accepted: all demanded checks passed and a principal was produced.
	Accepted Outcome = iota
	// Rejected: a demanded check failed; no principal is produced and the
	// caller must re-initiate authentication.
	Rejected
)

// Verdict is the result of verifying one callback against the session's
// intent flags.
type Verdict struct {
	Outcome   Outcome
	Reason    RejectReason
	Principal *Principal
	// MaxAge is the session lifetime pinned to the ID token expiry. Only
	// set on Accepted.
	MaxAge time.Duration
}

// Verifier checks that the authentication strength delivered by the IdP
// matches what the outstanding request demanded. The IdP does not echo the
// demanded strength back, so enforcement rests entirely on the session's
// intent flags.
type Verifier struct {
	requiredACR     string
	freshnessWindow time.Duration
	logger          *slog.Logger

	// now is swapped in tests.
	now func() time.Time
}

// NewVerifier constructs a Verifier for the configured assurance value.
func NewVerifier(requiredACR string, logger *slog.Logger) *Verifier {
	return &Verifier{
		requiredACR:     requiredACR,
		freshnessWindow: DefaultFreshnessWindow,
		logger:          logger,
		now:             time.Now,
	}
}

// Verify consumes the session's intent flags and decides the callback. The
// flags are cleared on every path, accepted or rejected, so a later
// verification cannot be retroactively held to (or pass on) a check armed
// for an earlier attempt.
func (v *Verifier) Verify(sess *SessionRecord, claims TokenClaims, info UserInfo) Verdict {
	check2FA, checkReauth := sess.Check2FA, sess.CheckReauth
	sess.ClearFlags()

	now := v.now()

	if checkReauth {
		age := now.Sub(time.Unix(claims.AuthTime, 0))
		if claims.AuthTime <= 0 || age > v.freshnessWindow {
			v.logger.Warn("reauth check failed",
				"reason", string(RejectStaleAuthentication),
				"auth_age_s", int64(age.Seconds()),
				"window_s", int64(v.freshnessWindow.Seconds()))
			return Verdict{Outcome: Rejected, Reason: RejectStaleAuthentication}
		}
	}

	if check2FA {
		if claims.ACR == "" || claims.ACR != v.requiredACR {
			v.logger.Warn("step-up check failed",
				"reason", string(RejectStepUpNotSatisfied),
				"acr_present", claims.ACR != "")
			return Verdict{Outcome: Rejected, Reason: RejectStepUpNotSatisfied}
		}
	}

	// The session must expire with the ID token, never a default TTL.
	maxAgeMS := claims.Expiry*1000 - now.UnixMilli()
	if maxAgeMS <= 0 {
		v.logger.Warn("token already expired", "reason", string(RejectExpiredToken))
		return Verdict{Outcome: Rejected, Reason: RejectExpiredToken}
	}

	return Verdict{
		Outcome: Accepted,
		Principal: &Principal{
			ID:     claims.Subject,
			Claims: claims,
			Info:   info,
		},
		MaxAge: time.Duration(maxAgeMS) * time.Millisecond,
	}
}
