package ctap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-ctap/fido2client/pkg/crypto"
	"github.com/go-ctap/fido2client/pkg/ctaptypes"
	"github.com/go-ctap/fido2client/pkg/options"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/key"
)

// pinOperationTimeout bounds every ClientPIN exchange.
const pinOperationTimeout = 60 * time.Second

type Client struct {
	logger  *slog.Logger
	encMode cbor.EncMode
}

func NewClient(opts ...options.Option) *Client {
	oo := options.NewOptions(opts...)

	return &Client{
		logger:  oo.Logger,
		encMode: oo.EncMode,
	}
}

// cbor frames a CBOR command, runs it over the connection and strips the
// status byte, converting non-zero statuses into *CTAPError.
func (cl *Client) cbor(ctx context.Context, conn Connection, cmd ctaptypes.Command, payload []byte) ([]byte, error) {
	respRaw, err := conn.RunCommand(ctx, slices.Concat([]byte{byte(cmd)}, payload))
	if err != nil {
		return nil, err
	}
	if len(respRaw) == 0 {
		return nil, ErrEmptyResponse
	}
	if code := StatusCode(respRaw[0]); code != CTAP2_OK {
		return nil, newCTAPError(cmd, code)
	}

	return respRaw[1:], nil
}

func (cl *Client) MakeCredential(
	ctx context.Context,
	conn Connection,
	req *ctaptypes.AuthenticatorMakeCredentialRequest,
	pinUvAuthProtocol ctaptypes.PinUvAuthProtocol,
	pinUvAuthToken []byte,
) (*ctaptypes.AuthenticatorMakeCredentialResponse, error) {
	if pinUvAuthToken != nil {
		req.PinUvAuthParam = crypto.Authenticate(pinUvAuthProtocol, pinUvAuthToken, req.ClientDataHash)
		req.PinUvAuthProtocol = pinUvAuthProtocol
	}

	b, err := cl.encMode.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal MakeCredential CBOR request: %w", err)
	}
	cl.logger.Debug("MakeCredential CBOR request", "hex", hex.EncodeToString(b))

	respRaw, err := cl.cbor(ctx, conn, ctaptypes.AuthenticatorMakeCredential, b)
	if err != nil {
		return nil, err
	}
	cl.logger.Debug("MakeCredential CBOR response", "hex", hex.EncodeToString(respRaw))

	var resp *ctaptypes.AuthenticatorMakeCredentialResponse
	if err := cbor.Unmarshal(respRaw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	// A CBOR null payload decodes without error but leaves resp nil.
	if resp == nil {
		return nil, fmt.Errorf("%w: MakeCredential response payload is null", ErrMalformedResponse)
	}
	if resp.Format == "" || len(resp.AuthDataRaw) == 0 {
		return nil, fmt.Errorf("%w: MakeCredential response misses fmt or authData", ErrMalformedResponse)
	}
	resp.AuthData, err = ctaptypes.ParseAuthData(resp.AuthDataRaw)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (cl *Client) GetAssertion(
	ctx context.Context,
	conn Connection,
	req *ctaptypes.AuthenticatorGetAssertionRequest,
	pinUvAuthProtocol ctaptypes.PinUvAuthProtocol,
	pinUvAuthToken []byte,
) (*ctaptypes.AuthenticatorGetAssertionResponse, error) {
	if pinUvAuthToken != nil {
		req.PinUvAuthParam = crypto.Authenticate(pinUvAuthProtocol, pinUvAuthToken, req.ClientDataHash)
		req.PinUvAuthProtocol = pinUvAuthProtocol
	}

	b, err := cl.encMode.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal GetAssertion CBOR request: %w", err)
	}
	cl.logger.Debug("GetAssertion CBOR request", "hex", hex.EncodeToString(b))

	respRaw, err := cl.cbor(ctx, conn, ctaptypes.AuthenticatorGetAssertion, b)
	if err != nil {
		return nil, err
	}
	cl.logger.Debug("GetAssertion CBOR response", "hex", hex.EncodeToString(respRaw))

	var resp *ctaptypes.AuthenticatorGetAssertionResponse
	if err := cbor.Unmarshal(respRaw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: GetAssertion response payload is null", ErrMalformedResponse)
	}
	if len(resp.AuthDataRaw) == 0 || len(resp.Signature) == 0 {
		return nil, fmt.Errorf("%w: GetAssertion response misses authData or signature", ErrMalformedResponse)
	}
	resp.AuthData, err = ctaptypes.ParseAuthData(resp.AuthDataRaw)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (cl *Client) GetPINRetries(
	ctx context.Context,
	conn Connection,
	pinUvAuthProtocol ctaptypes.PinUvAuthProtocol,
) (uint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pinOperationTimeout)
	defer cancel()

	req := &ctaptypes.AuthenticatorClientPINRequest{
		// While this parameter is unnecessary, some authenticators require it.
		PinUvAuthProtocol: pinUvAuthProtocol,
		SubCommand:        ctaptypes.ClientPINSubCommandGetPINRetries,
	}

	b, err := cl.encMode.Marshal(req)
	if err != nil {
		return 0, false, err
	}
	cl.logger.Debug("getPINRetries CBOR request", "hex", hex.EncodeToString(b))

	respRaw, err := cl.cbor(ctx, conn, ctaptypes.AuthenticatorClientPIN, b)
	if err != nil {
		return 0, false, err
	}
	cl.logger.Debug("getPINRetries CBOR response", "hex", hex.EncodeToString(respRaw))

	var resp *ctaptypes.AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(respRaw, &resp); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp == nil {
		return 0, false, fmt.Errorf("%w: getPINRetries response payload is null", ErrMalformedResponse)
	}

	return resp.PinRetries, resp.PowerCycleState, nil
}

func (cl *Client) GetKeyAgreement(
	ctx context.Context,
	conn Connection,
	pinUvAuthProtocol ctaptypes.PinUvAuthProtocol,
) (key.Key, error) {
	ctx, cancel := context.WithTimeout(ctx, pinOperationTimeout)
	defer cancel()

	req := &ctaptypes.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: pinUvAuthProtocol,
		SubCommand:        ctaptypes.ClientPINSubCommandGetKeyAgreement,
	}

	b, err := cl.encMode.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal keyAgreement CBOR request: %w", err)
	}
	cl.logger.Debug("getKeyAgreement CBOR request", "hex", hex.EncodeToString(b))

	respRaw, err := cl.cbor(ctx, conn, ctaptypes.AuthenticatorClientPIN, b)
	if err != nil {
		return nil, fmt.Errorf("keyAgreement CBOR request failed: %w", err)
	}
	cl.logger.Debug("getKeyAgreement CBOR response", "hex", hex.EncodeToString(respRaw))

	var resp *ctaptypes.AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(respRaw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp == nil || resp.KeyAgreement == nil {
		return nil, fmt.Errorf("%w: keyAgreement response misses the peer key", ErrMalformedResponse)
	}

	return resp.KeyAgreement, nil
}

// GetPinToken exchanges the encrypted PIN hash for a PIN/UV auth token. The
// token stays opaque here; later PIN/UV protocol versions wrap it and would
// need an extra unwrap step.
func (cl *Client) GetPinToken(
	ctx context.Context,
	conn Connection,
	protocol *crypto.PinUvAuthProtocol,
	keyAgreement key.Key,
	pin string,
) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, pinOperationTimeout)
	defer cancel()

	platformCoseKey, sharedSecret, err := protocol.Encapsulate(keyAgreement)
	if err != nil {
		return nil, err
	}

	pinHashEnc, err := protocol.EncryptPINHash(sharedSecret, pin)
	if err != nil {
		return nil, err
	}

	req := &ctaptypes.AuthenticatorClientPINRequest{
		PinUvAuthProtocol: protocol.Number,
		SubCommand:        ctaptypes.ClientPINSubCommandGetPinToken,
		KeyAgreement:      platformCoseKey,
		PinHashEnc:        pinHashEnc,
	}

	b, err := cl.encMode.Marshal(req)
	if err != nil {
		return nil, err
	}
	cl.logger.Debug("getPinToken CBOR request", "hex", hex.EncodeToString(b))

	respRaw, err := cl.cbor(ctx, conn, ctaptypes.AuthenticatorClientPIN, b)
	if err != nil {
		return nil, err
	}
	cl.logger.Debug("getPinToken CBOR response", "hex", hex.EncodeToString(respRaw))

	var resp *ctaptypes.AuthenticatorClientPINResponse
	if err := cbor.Unmarshal(respRaw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp == nil || resp.PinUvAuthToken == nil {
		return nil, fmt.Errorf("%w: getPinToken response misses the token", ErrMalformedResponse)
	}

	return resp.PinUvAuthToken, nil
}

// Selection blocks until the user confirms presence on the authenticator or
// the operation is canceled.
func (cl *Client) Selection(ctx context.Context, conn Connection) error {
	_, err := cl.cbor(ctx, conn, ctaptypes.AuthenticatorSelection, nil)
	if err != nil {
		var ctapError *CTAPError
		if !errors.As(err, &ctapError) || ctapError.StatusCode != CTAP2_ERR_KEEPALIVE_CANCEL {
			return err
		}
	}

	return nil
}
