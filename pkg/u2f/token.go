// Package u2f implements the client side of the CTAP1/U2F raw message
// protocol over a ctap.Connection.
package u2f

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-ctap/fido2client/pkg/ctap"
	"github.com/go-ctap/fido2client/pkg/options"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// ErrPresenceRequired is returned by Register and Authenticate if proof of
// user presence must be provided before the operation can be retried.
var ErrPresenceRequired = errors.New("u2f: user presence required")

// ErrUnknownKeyHandle is returned by Authenticate and CheckAuthenticate if
// the key handle is unknown to the authenticator.
var ErrUnknownKeyHandle = errors.New("u2f: unknown key handle")

type Token struct {
	conn   ctap.Connection
	logger *slog.Logger
}

func NewToken(conn ctap.Connection, opts ...options.Option) *Token {
	oo := options.NewOptions(opts...)

	return &Token{
		conn:   conn,
		logger: oo.Logger,
	}
}

// RegisterRequest is a message used for credential registration.
type RegisterRequest struct {
	// Challenge is the 32-byte SHA-256 hash of the client data prepared
	// by the caller.
	Challenge []byte

	// Application is the 32-byte SHA-256 hash of the application identity
	// of the relying party.
	Application []byte
}

type RegisterResponse struct {
	// UserPublicKey is the uncompressed P-256 public key of the new
	// credential, including the leading 0x04 marker byte.
	UserPublicKey          []byte
	KeyHandle              []byte
	AttestationCertificate []byte
	Signature              []byte
}

// AuthenticateRequest is a message used for authenticating to a relying party.
type AuthenticateRequest struct {
	Challenge   []byte
	Application []byte
	KeyHandle   []byte
}

type AuthenticateResponse struct {
	// Counter is incremented by the authenticator on every signature.
	Counter uint32

	// Signature is the P-256 ECDSA signature over the authentication data.
	Signature []byte

	// RawResponse holds the unparsed response payload; its first byte is
	// the user-presence flag field.
	RawResponse []byte
}

// Register issues a single registration attempt. It returns
// ErrPresenceRequired if the call should be retried after the user proves
// presence.
func (t *Token) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if len(req.Challenge) != 32 {
		return nil, fmt.Errorf("u2f: challenge must be exactly 32 bytes")
	}
	if len(req.Application) != 32 {
		return nil, fmt.Errorf("u2f: application must be exactly 32 bytes")
	}

	data := make([]byte, 0, 64)
	data = append(data, req.Challenge...)
	data = append(data, req.Application...)

	res, err := t.message(ctx, &request{
		Command: cmdRegister,
		Param1:  ctrlEnforcePresence,
		Data:    data,
	})
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case StatusNoError:
	case StatusConditionsNotSatisfied:
		return nil, ErrPresenceRequired
	default:
		return nil, &StatusError{Status: res.Status}
	}

	return parseRegisterResponse(res.Data)
}

func parseRegisterResponse(data []byte) (*RegisterResponse, error) {
	var (
		s        = cryptobyte.String(data)
		reserved uint8
		pubKey   []byte
	)
	if !s.ReadUint8(&reserved) || !s.ReadBytes(&pubKey, 65) {
		return nil, fmt.Errorf("u2f: register response is too short, got %d bytes", len(data))
	}
	if pubKey[0] != 0x04 {
		return nil, fmt.Errorf("u2f: register response public key is not an uncompressed point")
	}

	var khLen uint8
	var keyHandle []byte
	if !s.ReadUint8(&khLen) || !s.ReadBytes(&keyHandle, int(khLen)) {
		return nil, fmt.Errorf("u2f: register response key handle is truncated")
	}

	var cert cryptobyte.String
	if !s.ReadASN1Element(&cert, asn1.SEQUENCE) {
		return nil, fmt.Errorf("u2f: register response attestation certificate is malformed")
	}

	return &RegisterResponse{
		UserPublicKey:          pubKey,
		KeyHandle:              keyHandle,
		AttestationCertificate: cert,
		Signature:              s,
	}, nil
}

// Authenticate performs one signing attempt. It returns ErrPresenceRequired
// if the call should be retried after the user proves presence and
// ErrUnknownKeyHandle if the key handle is unknown to the authenticator.
func (t *Token) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthenticateResponse, error) {
	data, err := encodeAuthenticateRequest(req)
	if err != nil {
		return nil, err
	}

	res, err := t.message(ctx, &request{
		Command: cmdAuthenticate,
		Param1:  ctrlEnforcePresence,
		Data:    data,
	})
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case StatusNoError:
	case StatusConditionsNotSatisfied:
		return nil, ErrPresenceRequired
	case StatusWrongData:
		return nil, ErrUnknownKeyHandle
	default:
		return nil, &StatusError{Status: res.Status}
	}

	if len(res.Data) < 6 {
		return nil, fmt.Errorf("u2f: authenticate response is too short, got %d bytes", len(res.Data))
	}

	return &AuthenticateResponse{
		Counter:     binary.BigEndian.Uint32(res.Data[1:5]),
		Signature:   res.Data[5:],
		RawResponse: res.Data,
	}, nil
}

// CheckAuthenticate probes whether a key handle is known to the authenticator
// without requiring a test of user presence. A nil error means the credential
// exists; ErrUnknownKeyHandle means it does not; anything else propagates.
func (t *Token) CheckAuthenticate(ctx context.Context, req AuthenticateRequest) error {
	data, err := encodeAuthenticateRequest(req)
	if err != nil {
		return err
	}

	res, err := t.message(ctx, &request{
		Command: cmdAuthenticate,
		Param1:  ctrlCheckOnly,
		Data:    data,
	})
	if err != nil {
		return err
	}

	switch res.Status {
	// Conditions-not-satisfied is the presence signal for check-only
	// requests: the handle is valid, only the touch is missing.
	case StatusConditionsNotSatisfied:
		return nil
	case StatusWrongData:
		return ErrUnknownKeyHandle
	default:
		return &StatusError{Status: res.Status}
	}
}

// Version returns the U2F protocol version implemented by the authenticator.
func (t *Token) Version(ctx context.Context) (string, error) {
	res, err := t.message(ctx, &request{Command: cmdVersion})
	if err != nil {
		return "", err
	}

	if res.Status != StatusNoError {
		return "", &StatusError{Status: res.Status}
	}

	return string(res.Data), nil
}

func encodeAuthenticateRequest(req AuthenticateRequest) ([]byte, error) {
	if len(req.Challenge) != 32 {
		return nil, fmt.Errorf("u2f: challenge must be exactly 32 bytes")
	}
	if len(req.Application) != 32 {
		return nil, fmt.Errorf("u2f: application must be exactly 32 bytes")
	}
	if len(req.KeyHandle) > 255 {
		return nil, fmt.Errorf("u2f: key handle is too long")
	}

	buf := make([]byte, 0, len(req.Challenge)+len(req.Application)+1+len(req.KeyHandle))
	buf = append(buf, req.Challenge...)
	buf = append(buf, req.Application...)
	buf = append(buf, byte(len(req.KeyHandle)))
	buf = append(buf, req.KeyHandle...)

	return buf, nil
}

func (t *Token) message(ctx context.Context, req *request) (*response, error) {
	raw := req.encode()
	t.logger.Debug("U2F request", "hex", hex.EncodeToString(raw))

	data, err := t.conn.RunCommand(ctx, raw)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("U2F response", "hex", hex.EncodeToString(data))

	return decodeResponse(data)
}
