package ctap

import (
	"context"

	"github.com/go-ctap/fido2client/pkg/webauthntypes"
)

// Capabilities describes what an authenticator advertised during transport
// setup and authenticatorGetInfo. The ceremony layer treats these flags as
// fixed for the lifetime of a connection.
type Capabilities struct {
	// SupportsCTAP1 is set when the authenticator speaks the U2F raw
	// message protocol.
	SupportsCTAP1 bool
	// SupportsCTAP2 is set when the authenticator accepts CBOR commands.
	SupportsCTAP2 bool
	// SupportsResidentKeys is set when the authenticator can store
	// discoverable credentials.
	SupportsResidentKeys bool
	// SupportsUserVerification is set when the authenticator has a
	// built-in user verification method (biometrics, on-device PIN pad).
	SupportsUserVerification bool
	// ClientPINSet is set when a client PIN has been configured.
	ClientPINSet bool
	// MakeCredentialWithoutUV is set when the authenticator will create
	// non-discoverable credentials without user verification.
	MakeCredentialWithoutUV bool
}

// Connection is the sole I/O boundary to one physical authenticator. All
// transport framing (USB-HID, NFC APDU, BLE GATT) happens behind RunCommand.
//
// The protocol is half-duplex: exactly one command may be in flight per
// connection, and callers must serialize ceremonies per authenticator.
type Connection interface {
	Capabilities() Capabilities
	Transports() []webauthntypes.AuthenticatorTransport

	// RunCommand sends a raw request and returns the raw response. For
	// CTAP2 the response starts with the status byte; for CTAP1 it ends
	// with the 16-bit status word. Transport failures are returned as-is.
	RunCommand(ctx context.Context, request []byte) ([]byte, error)
}
