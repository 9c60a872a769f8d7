package webauthn

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ctap/fido2client/pkg/crypto"
	"github.com/go-ctap/fido2client/pkg/ctap"
	"github.com/go-ctap/fido2client/pkg/ctaptypes"
	"github.com/go-ctap/fido2client/pkg/webauthntypes"

	"github.com/google/uuid"
)

func (c *Client) registerCTAP2(ctx context.Context, conn ctap.Connection, req *RegisterRequest, status *statusReporter) (*RegisterResponse, error) {
	caps := conn.Capabilities()

	opts := map[ctaptypes.Option]bool{}
	switch req.AuthenticatorSelection.ResidentKey {
	case webauthntypes.ResidentKeyRequired:
		if !caps.SupportsResidentKeys {
			return nil, fmt.Errorf("%w: authenticator cannot store discoverable credentials", ErrInvalidRequest)
		}
		opts[ctaptypes.OptionResidentKeys] = true
	case webauthntypes.ResidentKeyPreferred:
		if caps.SupportsResidentKeys {
			opts[ctaptypes.OptionResidentKeys] = true
		}
	case webauthntypes.ResidentKeyDiscouraged:
	default:
		if req.AuthenticatorSelection.RequireResidentKey {
			if !caps.SupportsResidentKeys {
				return nil, fmt.Errorf("%w: authenticator cannot store discoverable credentials", ErrInvalidRequest)
			}
			opts[ctaptypes.OptionResidentKeys] = true
		}
	}

	pinUvAuthToken, err := c.resolveUserVerification(ctx, conn, req.AuthenticatorSelection.UserVerification, opts)
	if err != nil {
		return nil, err
	}

	ctapReq := &ctaptypes.AuthenticatorMakeCredentialRequest{
		ClientDataHash:   req.ClientDataHash,
		RP:               req.RP,
		User:             req.User,
		PubKeyCredParams: req.PubKeyCredParams,
		ExcludeList:      req.ExcludeList,
		Extensions:       req.Extensions,
	}
	if len(opts) > 0 {
		ctapReq.Options = opts
	}

	status.set(StatusWaitingForUser)
	resp, err := c.ctap.MakeCredential(ctx, conn, ctapReq, ctaptypes.PinUvAuthProtocolOne, pinUvAuthToken)
	if err != nil {
		var ctapErr *ctap.CTAPError
		if errors.As(err, &ctapErr) && ctapErr.StatusCode == ctap.CTAP2_ERR_CREDENTIAL_EXCLUDED {
			return nil, ErrCredentialExcluded
		}
		return nil, err
	}

	attObj, err := c.buildAttestationObject(resp, req.SkipAttestation)
	if err != nil {
		return nil, err
	}

	var credentialID []byte
	if resp.AuthData.AttestedCredentialData != nil {
		credentialID = resp.AuthData.AttestedCredentialData.CredentialID
	}
	if len(credentialID) == 0 {
		c.logger.Warn("authenticator returned no credential id in attested credential data")
	}

	return &RegisterResponse{
		CredentialID:      credentialID,
		AuthData:          resp.AuthData,
		AttestationObject: attObj,
	}, nil
}

func (c *Client) signCTAP2(ctx context.Context, conn ctap.Connection, req *SignRequest, status *statusReporter) (*SignResponse, error) {
	opts := map[ctaptypes.Option]bool{}
	pinUvAuthToken, err := c.resolveUserVerification(ctx, conn, req.UserVerification, opts)
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		opts = nil
	}

	ctapReq := &ctaptypes.AuthenticatorGetAssertionRequest{
		RPID:           req.RPID,
		ClientDataHash: req.ClientDataHash,
		AllowList:      req.AllowList,
		Extensions:     req.Extensions,
		Options:        opts,
	}

	status.set(StatusWaitingForUser)
	resp, err := c.ctap.GetAssertion(ctx, conn, ctapReq, ctaptypes.PinUvAuthProtocolOne, pinUvAuthToken)
	usedAppID := false
	if err != nil {
		var ctapErr *ctap.CTAPError
		if req.AppID == "" || !errors.As(err, &ctapErr) || ctapErr.StatusCode != ctap.CTAP2_ERR_NO_CREDENTIALS {
			return nil, err
		}

		// Credentials registered over U2F are scoped to the legacy
		// application identity, so retry with it as the RP ID.
		retryReq := *ctapReq
		retryReq.RPID = req.AppID
		retryResp, retryErr := c.ctap.GetAssertion(ctx, conn, &retryReq, ctaptypes.PinUvAuthProtocolOne, pinUvAuthToken)
		if retryErr != nil {
			return nil, err
		}
		resp = retryResp
		usedAppID = true
	}

	credentialID := resp.Credential.ID
	if len(credentialID) == 0 && len(req.AllowList) == 1 {
		// Some authenticators omit the credential in single-credential
		// assertions; it is unambiguous then.
		credentialID = req.AllowList[0].ID
	}
	if len(credentialID) == 0 {
		c.logger.Warn("authenticator returned no credential id in the assertion")
	}

	return &SignResponse{
		CredentialID: credentialID,
		AuthDataRaw:  resp.AuthDataRaw,
		AuthData:     resp.AuthData,
		Signature:    resp.Signature,
		User:         resp.User,
		UsedAppID:    usedAppID,
	}, nil
}

// resolveUserVerification turns the caller's requirement into either the
// built-in uv option or a PIN/UV auth token obtained over the ClientPIN
// handshake. A nil token with no uv option means the operation runs without
// user verification.
func (c *Client) resolveUserVerification(
	ctx context.Context,
	conn ctap.Connection,
	requirement webauthntypes.UserVerificationRequirement,
	opts map[ctaptypes.Option]bool,
) ([]byte, error) {
	caps := conn.Capabilities()

	var wantUV bool
	switch requirement {
	case webauthntypes.UserVerificationRequired:
		if !caps.SupportsUserVerification && !caps.ClientPINSet {
			return nil, fmt.Errorf("%w: user verification required but the authenticator offers no method", ErrInvalidRequest)
		}
		wantUV = true
	case webauthntypes.UserVerificationDiscouraged:
		wantUV = false
	default:
		// Preferred and unspecified follow the built-in capability only:
		// they must not force a PIN prompt the caller never asked for.
		wantUV = caps.SupportsUserVerification
	}
	if !wantUV {
		return nil, nil
	}

	if caps.SupportsUserVerification {
		opts[ctaptypes.OptionUserVerification] = true
		return nil, nil
	}

	return c.obtainPINToken(ctx, conn)
}

// obtainPINToken runs the PIN/UV auth protocol one handshake: collect the
// PIN, agree on a shared secret and trade the encrypted PIN hash for a token.
// Ephemeral key material is wiped before returning.
func (c *Client) obtainPINToken(ctx context.Context, conn ctap.Connection) ([]byte, error) {
	if c.pinHandler == nil {
		return nil, ErrPINRequired
	}

	pin, err := c.pinHandler(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot obtain PIN: %w", err)
	}

	protocol, err := crypto.NewPinUvAuthProtocol(c.keySource)
	if err != nil {
		return nil, err
	}
	defer protocol.Destroy()

	keyAgreement, err := c.ctap.GetKeyAgreement(ctx, conn, protocol.Number)
	if err != nil {
		return nil, err
	}

	token, err := c.ctap.GetPinToken(ctx, conn, protocol, keyAgreement, pin)
	if err != nil {
		var ctapErr *ctap.CTAPError
		if errors.As(err, &ctapErr) && ctapErr.StatusCode == ctap.CTAP2_ERR_PIN_INVALID {
			retries, _, retriesErr := c.ctap.GetPINRetries(ctx, conn, protocol.Number)
			return nil, &PINError{
				Err:          err,
				Retries:      retries,
				RetriesKnown: retriesErr == nil,
			}
		}
		return nil, err
	}

	return token, nil
}

// buildAttestationObject wraps a MakeCredential response. With skip set, any
// statement naming the authenticator model is replaced by the empty "none"
// statement and the AAGUID is zeroed; surrogate (self) attestations carry no
// identifying material and are kept.
func (c *Client) buildAttestationObject(resp *ctaptypes.AuthenticatorMakeCredentialResponse, skip bool) (*AttestationObject, error) {
	if !skip || resp.Format == webauthntypes.AttestationStatementFormatIdentifierNone {
		var stmt AttestationStatement = NoneAttestationStatement{}
		if resp.Format != webauthntypes.AttestationStatementFormatIdentifierNone {
			stmt = RawAttestationStatement(resp.AttestationStatement)
		}
		return &AttestationObject{
			Format:      resp.Format,
			Statement:   stmt,
			AuthDataRaw: resp.AuthDataRaw,
		}, nil
	}

	if resp.Format == webauthntypes.AttestationStatementFormatIdentifierPacked {
		if _, ok := resp.AttestationStatement["x5c"]; !ok {
			return &AttestationObject{
				Format:      resp.Format,
				Statement:   RawAttestationStatement(resp.AttestationStatement),
				AuthDataRaw: resp.AuthDataRaw,
			}, nil
		}
	}

	if resp.AuthData.AttestedCredentialData != nil {
		resp.AuthData.AttestedCredentialData.AAGUID = uuid.Nil
	}
	authDataRaw, err := resp.AuthData.Marshal()
	if err != nil {
		return nil, err
	}
	resp.AuthDataRaw = authDataRaw

	return &AttestationObject{
		Format:      webauthntypes.AttestationStatementFormatIdentifierNone,
		Statement:   NoneAttestationStatement{},
		AuthDataRaw: authDataRaw,
	}, nil
}
