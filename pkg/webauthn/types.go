package webauthn

import (
	"github.com/go-ctap/fido2client/pkg/ctaptypes"
	"github.com/go-ctap/fido2client/pkg/webauthntypes"

	"github.com/fxamacker/cbor/v2"
)

// RegisterRequest describes a credential registration ceremony. ClientDataHash
// is prepared by the caller; this package never sees the client data itself.
type RegisterRequest struct {
	RP                     webauthntypes.PublicKeyCredentialRpEntity
	User                   webauthntypes.PublicKeyCredentialUserEntity
	ClientDataHash         []byte
	PubKeyCredParams       []webauthntypes.PublicKeyCredentialParameters
	ExcludeList            []webauthntypes.PublicKeyCredentialDescriptor
	AuthenticatorSelection webauthntypes.AuthenticatorSelectionCriteria
	Extensions             map[webauthntypes.ExtensionIdentifier]any

	// SkipAttestation requests a "none" attestation: the statement is
	// dropped and identifying material is scrubbed from the result.
	SkipAttestation bool

	// AppID is the legacy U2F application identity, used as a fallback
	// application parameter for authenticators migrated from U2F.
	AppID string
}

// SignRequest describes an authentication ceremony.
type SignRequest struct {
	RPID             string
	ClientDataHash   []byte
	AllowList        []webauthntypes.PublicKeyCredentialDescriptor
	UserVerification webauthntypes.UserVerificationRequirement
	Extensions       map[webauthntypes.ExtensionIdentifier]any
	AppID            string
}

type RegisterResponse struct {
	CredentialID      []byte
	AuthData          *ctaptypes.AuthData
	AttestationObject *AttestationObject
}

type SignResponse struct {
	CredentialID []byte
	AuthDataRaw  []byte
	AuthData     *ctaptypes.AuthData
	Signature    []byte
	User         *webauthntypes.PublicKeyCredentialUserEntity

	// UsedAppID is set when the assertion was produced against the legacy
	// AppID application parameter instead of the RP ID.
	UsedAppID bool
}

// AttestationStatement is the closed set of attestation statement shapes an
// attestation object can carry.
type AttestationStatement interface {
	isAttestationStatement()
}

// NoneAttestationStatement is the empty statement of the "none" format.
type NoneAttestationStatement struct{}

func (NoneAttestationStatement) isAttestationStatement() {}

// FIDOU2FAttestationStatement carries the certificate and signature produced
// by a U2F registration.
type FIDOU2FAttestationStatement webauthntypes.FIDOU2FAttestationStatementFormat

func (FIDOU2FAttestationStatement) isAttestationStatement() {}

// RawAttestationStatement carries a statement of a format this package does
// not interpret, passed through from the authenticator untouched.
type RawAttestationStatement map[string]any

func (RawAttestationStatement) isAttestationStatement() {}

// AttestationObject is the registration result in WebAuthn attestation object
// layout.
type AttestationObject struct {
	Format      webauthntypes.AttestationStatementFormatIdentifier `cbor:"fmt"`
	Statement   AttestationStatement                               `cbor:"attStmt"`
	AuthDataRaw []byte                                             `cbor:"authData"`
}

var ctap2EncMode, _ = cbor.CTAP2EncOptions().EncMode()

// Marshal encodes the attestation object as canonical CTAP2 CBOR.
func (o *AttestationObject) Marshal() ([]byte, error) {
	return ctap2EncMode.Marshal(o)
}
