// Package webauthn orchestrates registration and authentication ceremonies
// against a single authenticator, choosing between the CTAP2 CBOR protocol
// and the CTAP1/U2F raw message protocol based on the authenticator's
// capabilities and the caller's requirements.
package webauthn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-ctap/fido2client/pkg/ctap"
	"github.com/go-ctap/fido2client/pkg/options"
	"github.com/go-ctap/fido2client/pkg/webauthntypes"
)

type Client struct {
	logger     *slog.Logger
	pinHandler options.PINHandler
	statusSink options.StatusSink
	keySource  io.Reader
	ctap       *ctap.Client
}

func New(opts ...options.Option) *Client {
	oo := options.NewOptions(opts...)

	return &Client{
		logger:     oo.Logger,
		pinHandler: oo.PINHandler,
		statusSink: oo.StatusSink,
		keySource:  oo.EphemeralKeySource,
		ctap:       ctap.NewClient(opts...),
	}
}

// Register runs a credential registration ceremony on the connection.
func (c *Client) Register(ctx context.Context, conn ctap.Connection, req *RegisterRequest) (*RegisterResponse, error) {
	if err := validateRegisterRequest(req); err != nil {
		return nil, err
	}

	caps := conn.Capabilities()
	status := &statusReporter{sink: c.statusSink}

	switch {
	case caps.SupportsCTAP2 && caps.SupportsCTAP1 && preferCTAP1Register(caps, req):
		// Going through MakeCredential here would force a PIN prompt
		// the caller never asked for; the U2F path needs only a touch.
		c.logger.Debug("registering over CTAP1 to avoid an unwanted user verification")
		return c.registerCTAP1(ctx, conn, req, status)
	case caps.SupportsCTAP2:
		return c.registerCTAP2(ctx, conn, req, status)
	case caps.SupportsCTAP1:
		return c.registerCTAP1(ctx, conn, req, status)
	default:
		return nil, ErrNoSupportedProtocol
	}
}

// Sign runs an authentication ceremony on the connection.
func (c *Client) Sign(ctx context.Context, conn ctap.Connection, req *SignRequest) (*SignResponse, error) {
	if err := validateSignRequest(req); err != nil {
		return nil, err
	}

	caps := conn.Capabilities()
	status := &statusReporter{sink: c.statusSink}

	if caps.SupportsCTAP2 {
		resp, err := c.signCTAP2(ctx, conn, req, status)
		if err == nil {
			return resp, nil
		}

		var ctapErr *ctap.CTAPError
		if errors.As(err, &ctapErr) && ctapErr.StatusCode == ctap.CTAP2_ERR_NO_CREDENTIALS &&
			caps.SupportsCTAP1 && caps.ClientPINSet && len(req.AllowList) > 0 &&
			req.UserVerification != webauthntypes.UserVerificationRequired {
			// The credentials may predate CTAP2 on this authenticator.
			// Progress is indeterminate while the protocol switches over.
			status.set(StatusUnknown)
			fallbackResp, fallbackErr := c.signCTAP1(ctx, conn, req, status)
			if fallbackErr == nil {
				return fallbackResp, nil
			}
			c.logger.Debug("CTAP1 fallback failed", "error", fallbackErr)
		}

		return nil, err
	}

	if caps.SupportsCTAP1 {
		return c.signCTAP1(ctx, conn, req, status)
	}

	return nil, ErrNoSupportedProtocol
}

// preferCTAP1Register reports whether a dual-protocol authenticator should be
// registered over U2F: MakeCredential would demand user verification (a PIN
// is set and the authenticator refuses to create credentials without it) that
// the caller neither requires nor needs for a non-discoverable credential.
func preferCTAP1Register(caps ctap.Capabilities, req *RegisterRequest) bool {
	return !caps.MakeCredentialWithoutUV &&
		caps.ClientPINSet &&
		req.AuthenticatorSelection.UserVerification != webauthntypes.UserVerificationRequired &&
		!req.AuthenticatorSelection.RequiresResidentKey()
}

func validateRegisterRequest(req *RegisterRequest) error {
	if len(req.ClientDataHash) != 32 {
		return fmt.Errorf("%w: client data hash must be exactly 32 bytes", ErrInvalidRequest)
	}
	if req.RP.ID == "" {
		return fmt.Errorf("%w: missing relying party id", ErrInvalidRequest)
	}
	if len(req.User.ID) == 0 {
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if len(req.PubKeyCredParams) == 0 {
		return fmt.Errorf("%w: missing credential parameters", ErrInvalidRequest)
	}
	return nil
}

func validateSignRequest(req *SignRequest) error {
	if len(req.ClientDataHash) != 32 {
		return fmt.Errorf("%w: client data hash must be exactly 32 bytes", ErrInvalidRequest)
	}
	if req.RPID == "" {
		return fmt.Errorf("%w: missing relying party id", ErrInvalidRequest)
	}
	return nil
}
