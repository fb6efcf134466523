package token

import (
	"errors"
	"fmt"
)

type Reason string

const (
	// ReasonMissingSetup: no credential record exists, or the platform was
	// never configured. Fixed by completing onboarding, not by retrying.
	ReasonMissingSetup Reason = "missing_setup"
	// ReasonRefreshFailed: the refresh attempt(s) failed but the grant is
	// still believed recoverable.
	ReasonRefreshFailed Reason = "refresh_failed"
	// ReasonManualReauthRequired: the identity provider rejected the grant
	// itself (invalid_grant class). The credential is marked invalid and a
	// human has to re-authorize the application.
	ReasonManualReauthRequired Reason = "manual_reauth_required"
)

// ErrInvalidGrant marks provider responses of the invalid_grant class.
// Platform auth clients wrap their transport-level error with it so the
// manager can tell "re-auth needed" apart from transient failures.
var ErrInvalidGrant = errors.New("invalid_grant")

type CredentialError struct {
	Platform string
	Reason   Reason
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("credential error for %s: %s", e.Platform, e.Reason)
	}
	return fmt.Sprintf("credential error for %s: %s: %v", e.Platform, e.Reason, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the credential failure class, or "" for other errors.
func ReasonOf(err error) Reason {
	var ce *CredentialError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
