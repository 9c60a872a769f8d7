package webauthn

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/go-ctap/fido2client/pkg/crypto"
	"github.com/go-ctap/fido2client/pkg/ctap"
	"github.com/go-ctap/fido2client/pkg/ctaptypes"
	"github.com/go-ctap/fido2client/pkg/options"
	"github.com/go-ctap/fido2client/pkg/u2f"
	"github.com/go-ctap/fido2client/pkg/webauthntypes"

	"github.com/google/uuid"
	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	"github.com/samber/lo"
)

// presencePollInterval paces retries while the authenticator waits for a
// touch.
const presencePollInterval = 100 * time.Millisecond

func (c *Client) registerCTAP1(ctx context.Context, conn ctap.Connection, req *RegisterRequest, status *statusReporter) (*RegisterResponse, error) {
	if !lo.ContainsBy(req.PubKeyCredParams, func(p webauthntypes.PublicKeyCredentialParameters) bool {
		return p.Type == webauthntypes.PublicKeyCredentialTypePublicKey && p.Algorithm == key.Alg(iana.AlgorithmES256)
	}) {
		return nil, fmt.Errorf("%w: U2F authenticators only produce ES256 credentials", ErrInvalidRequest)
	}
	if req.AuthenticatorSelection.RequiresResidentKey() {
		return nil, fmt.Errorf("%w: U2F authenticators cannot store discoverable credentials", ErrInvalidRequest)
	}
	if req.AuthenticatorSelection.UserVerification == webauthntypes.UserVerificationRequired {
		return nil, fmt.Errorf("%w: U2F authenticators cannot verify the user", ErrInvalidRequest)
	}

	token := u2f.NewToken(conn, options.WithLogger(c.logger))

	rpIDHash := sha256.Sum256([]byte(req.RP.ID))
	appParams := [][32]byte{rpIDHash}
	if req.AppID != "" {
		appParams = append(appParams, sha256.Sum256([]byte(req.AppID)))
	}

	// Probe the exclude list against both application parameters. A found
	// credential does not abort yet: the registration below still runs so
	// the user consents by touch before the exclusion is revealed.
	excluded := false
	for _, cred := range req.ExcludeList {
		for _, app := range appParams {
			err := token.CheckAuthenticate(ctx, u2f.AuthenticateRequest{
				Challenge:   req.ClientDataHash,
				Application: app[:],
				KeyHandle:   cred.ID,
			})
			if err == nil {
				excluded = true
			} else if !errors.Is(err, u2f.ErrUnknownKeyHandle) {
				c.logger.Debug("exclude list probe failed", "error", err)
			}
		}
	}

	res, err := c.waitRegister(ctx, token, u2f.RegisterRequest{
		Challenge:   req.ClientDataHash,
		Application: rpIDHash[:],
	}, status)
	if err != nil {
		return nil, err
	}
	if excluded {
		return nil, ErrCredentialExcluded
	}

	credentialPublicKey, err := crypto.UncompressedPointToEC2Key(key.Alg(iana.AlgorithmES256), res.UserPublicKey)
	if err != nil {
		return nil, err
	}

	authData := &ctaptypes.AuthData{
		RPIDHash: rpIDHash[:],
		Flags:    ctaptypes.AuthDataFlagUserPresent,
		AttestedCredentialData: &ctaptypes.AttestedCredentialData{
			AAGUID:              uuid.Nil,
			CredentialID:        res.KeyHandle,
			CredentialPublicKey: credentialPublicKey,
		},
	}
	authDataRaw, err := authData.Marshal()
	if err != nil {
		return nil, err
	}

	attObj := &AttestationObject{
		Format: webauthntypes.AttestationStatementFormatIdentifierFIDOU2F,
		Statement: FIDOU2FAttestationStatement{
			X509Chain: [][]byte{res.AttestationCertificate},
			Signature: res.Signature,
		},
		AuthDataRaw: authDataRaw,
	}
	if req.SkipAttestation {
		attObj.Format = webauthntypes.AttestationStatementFormatIdentifierNone
		attObj.Statement = NoneAttestationStatement{}
	}

	return &RegisterResponse{
		CredentialID:      res.KeyHandle,
		AuthData:          authData,
		AttestationObject: attObj,
	}, nil
}

func (c *Client) signCTAP1(ctx context.Context, conn ctap.Connection, req *SignRequest, status *statusReporter) (*SignResponse, error) {
	if req.UserVerification == webauthntypes.UserVerificationRequired {
		return nil, fmt.Errorf("%w: U2F authenticators cannot verify the user", ErrInvalidRequest)
	}
	if len(req.AllowList) == 0 {
		return nil, fmt.Errorf("%w: U2F authenticators require an allow list", ErrInvalidRequest)
	}

	token := u2f.NewToken(conn, options.WithLogger(c.logger))

	rpIDHash := sha256.Sum256([]byte(req.RPID))
	var appIDHash [32]byte
	if req.AppID != "" {
		appIDHash = sha256.Sum256([]byte(req.AppID))
	}

	// Find a key handle the authenticator recognizes. When no probe
	// succeeds, fall through with the first allowed credential and let the
	// authenticator reject it.
	keyHandle := req.AllowList[0].ID
	app := rpIDHash
	usedAppID := false

probe:
	for _, cred := range req.AllowList {
		if err := token.CheckAuthenticate(ctx, u2f.AuthenticateRequest{
			Challenge:   req.ClientDataHash,
			Application: rpIDHash[:],
			KeyHandle:   cred.ID,
		}); err == nil {
			keyHandle = cred.ID
			break probe
		}
		if req.AppID != "" {
			if err := token.CheckAuthenticate(ctx, u2f.AuthenticateRequest{
				Challenge:   req.ClientDataHash,
				Application: appIDHash[:],
				KeyHandle:   cred.ID,
			}); err == nil {
				keyHandle = cred.ID
				app = appIDHash
				usedAppID = true
				break probe
			}
		}
	}

	res, err := c.waitAuthenticate(ctx, token, u2f.AuthenticateRequest{
		Challenge:   req.ClientDataHash,
		Application: app[:],
		KeyHandle:   keyHandle,
	}, status)
	if err != nil && req.AppID != "" && !usedAppID {
		retryRes, retryErr := c.waitAuthenticate(ctx, token, u2f.AuthenticateRequest{
			Challenge:   req.ClientDataHash,
			Application: appIDHash[:],
			KeyHandle:   keyHandle,
		}, status)
		if retryErr != nil {
			// Surface the failure of the canonical application
			// parameter, not the fallback's.
			return nil, err
		}
		res = retryRes
		app = appIDHash
		usedAppID = true
		err = nil
	}
	if err != nil {
		return nil, err
	}

	authDataRaw := make([]byte, 0, 37)
	authDataRaw = append(authDataRaw, app[:]...)
	authDataRaw = append(authDataRaw, res.RawResponse[0])
	authDataRaw = append(authDataRaw, res.RawResponse[1:5]...)

	authData, err := ctaptypes.ParseAuthData(authDataRaw)
	if err != nil {
		return nil, err
	}

	return &SignResponse{
		CredentialID: keyHandle,
		AuthDataRaw:  authDataRaw,
		AuthData:     authData,
		Signature:    res.Signature,
		UsedAppID:    usedAppID,
	}, nil
}

// waitRegister retries a registration until the user proves presence or the
// context ends. Only the presence status retries; every other failure
// propagates immediately.
func (c *Client) waitRegister(ctx context.Context, token *u2f.Token, req u2f.RegisterRequest, status *statusReporter) (*u2f.RegisterResponse, error) {
	for {
		res, err := token.Register(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, u2f.ErrPresenceRequired) {
			return nil, err
		}

		status.set(StatusWaitingForUser)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(presencePollInterval):
		}
	}
}

func (c *Client) waitAuthenticate(ctx context.Context, token *u2f.Token, req u2f.AuthenticateRequest, status *statusReporter) (*u2f.AuthenticateResponse, error) {
	for {
		res, err := token.Authenticate(ctx, req)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, u2f.ErrPresenceRequired) {
			return nil, err
		}

		status.set(StatusWaitingForUser)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(presencePollInterval):
		}
	}
}
