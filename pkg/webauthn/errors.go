package webauthn

import (
	"errors"
	"fmt"
)

// ErrInvalidRequest reports a ceremony request that cannot be satisfied by
// the connected authenticator, detected before any command is issued.
var ErrInvalidRequest = errors.New("webauthn: invalid request")

// ErrCredentialExcluded reports that one of the excluded credentials already
// lives on the authenticator.
var ErrCredentialExcluded = errors.New("webauthn: credential already registered")

// ErrNoSupportedProtocol reports a connection advertising neither CTAP1 nor
// CTAP2.
var ErrNoSupportedProtocol = errors.New("webauthn: authenticator supports no known protocol")

// ErrPINRequired reports an operation that needs PIN-based user verification
// while no PIN handler is configured on the client.
var ErrPINRequired = errors.New("webauthn: PIN required but no PIN handler is set")

// PINError wraps a PIN handshake rejection together with the remaining retry
// count fetched from the authenticator right after the failure.
type PINError struct {
	Err          error
	Retries      uint
	RetriesKnown bool
}

func (e *PINError) Error() string {
	if e.RetriesKnown {
		return fmt.Sprintf("%v (%d retries left)", e.Err, e.Retries)
	}
	return e.Err.Error()
}

func (e *PINError) Unwrap() error {
	return e.Err
}
