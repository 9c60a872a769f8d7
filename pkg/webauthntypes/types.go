package webauthntypes

import "github.com/ldclabs/cose/key"

type (
	// PublicKeyCredentialType defines the valid credential types.
	// https://www.w3.org/TR/webauthn-3/#enumdef-publickeycredentialtype
	PublicKeyCredentialType string
	// AuthenticatorTransport defines hints as to how clients might communicate
	// with a particular authenticator in order to obtain an assertion for a specific credential.
	// https://www.w3.org/TR/webauthn-3/#enumdef-authenticatortransport
	AuthenticatorTransport string
	// AttestationStatementFormatIdentifier is an enum consisting of IANA registered Attestation Statement Format Identifiers.
	// https://www.iana.org/assignments/webauthn/webauthn.xhtml
	AttestationStatementFormatIdentifier string
	// ExtensionIdentifier is an enum consisting of IANA registered Extension Identifiers.
	// https://www.iana.org/assignments/webauthn/webauthn.xhtml
	ExtensionIdentifier string
	// UserVerificationRequirement expresses the caller's need for user verification.
	// https://www.w3.org/TR/webauthn-3/#enumdef-userverificationrequirement
	UserVerificationRequirement string
	// ResidentKeyRequirement expresses the caller's need for a client-side discoverable credential.
	// https://www.w3.org/TR/webauthn-3/#enumdef-residentkeyrequirement
	ResidentKeyRequirement string
)

const (
	PublicKeyCredentialTypePublicKey PublicKeyCredentialType = "public-key"
)

const (
	AuthenticatorTransportUSB       AuthenticatorTransport = "usb"
	AuthenticatorTransportNFC       AuthenticatorTransport = "nfc"
	AuthenticatorTransportBLE       AuthenticatorTransport = "ble"
	AuthenticatorTransportSmartCard AuthenticatorTransport = "smart-card"
	AuthenticatorTransportHybrid    AuthenticatorTransport = "hybrid"
	AuthenticatorTransportInternal  AuthenticatorTransport = "internal"
)

const (
	AttestationStatementFormatIdentifierPacked  AttestationStatementFormatIdentifier = "packed"
	AttestationStatementFormatIdentifierFIDOU2F AttestationStatementFormatIdentifier = "fido-u2f"
	AttestationStatementFormatIdentifierNone    AttestationStatementFormatIdentifier = "none"
)

const (
	ExtensionIdentifierAppID                  ExtensionIdentifier = "appid"
	ExtensionIdentifierUserVerificationMethod ExtensionIdentifier = "uvm"
)

const (
	// UserVerificationUnspecified leaves the decision to the authenticator's capabilities.
	UserVerificationUnspecified UserVerificationRequirement = ""
	UserVerificationRequired    UserVerificationRequirement = "required"
	UserVerificationPreferred   UserVerificationRequirement = "preferred"
	UserVerificationDiscouraged UserVerificationRequirement = "discouraged"
)

const (
	// ResidentKeyUnspecified falls back to the plain RequireResidentKey flag.
	ResidentKeyUnspecified ResidentKeyRequirement = ""
	ResidentKeyRequired    ResidentKeyRequirement = "required"
	ResidentKeyPreferred   ResidentKeyRequirement = "preferred"
	ResidentKeyDiscouraged ResidentKeyRequirement = "discouraged"
)

// PublicKeyCredentialRpEntity is used to supply additional Relying Party attributes when creating a new credential.
// https://www.w3.org/TR/webauthn-3/#dictdef-publickeycredentialrpentity
type PublicKeyCredentialRpEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// PublicKeyCredentialUserEntity is used to supply additional user account attributes when creating a new credential.
// https://www.w3.org/TR/webauthn-3/#dictdef-publickeycredentialuserentity
type PublicKeyCredentialUserEntity struct {
	ID          []byte `cbor:"id"`
	DisplayName string `cbor:"displayName,omitempty"`
	Name        string `cbor:"name,omitempty"`
}

// PublicKeyCredentialDescriptor identifies a specific public key credential.
// https://www.w3.org/TR/webauthn-3/#dictdef-publickeycredentialdescriptor
type PublicKeyCredentialDescriptor struct {
	Type       PublicKeyCredentialType  `cbor:"type"`
	ID         []byte                   `cbor:"id"`
	Transports []AuthenticatorTransport `cbor:"transports,omitempty"`
}

// PublicKeyCredentialParameters is used to supply additional parameters when creating a new credential.
// https://www.w3.org/TR/webauthn-3/#dictdef-publickeycredentialparameters
type PublicKeyCredentialParameters struct {
	Type      PublicKeyCredentialType `cbor:"type"`
	Algorithm key.Alg                 `cbor:"alg"`
}

// AuthenticatorSelectionCriteria filters the class of authenticators a
// registration ceremony is willing to interact with.
// https://www.w3.org/TR/webauthn-3/#dictdef-authenticatorselectioncriteria
type AuthenticatorSelectionCriteria struct {
	ResidentKey        ResidentKeyRequirement
	RequireResidentKey bool
	UserVerification   UserVerificationRequirement
}

// RequiresResidentKey resolves the layered resident-key requirement: the
// enum wins when present, otherwise the legacy boolean flag applies.
func (c AuthenticatorSelectionCriteria) RequiresResidentKey() bool {
	switch c.ResidentKey {
	case ResidentKeyRequired:
		return true
	case ResidentKeyPreferred, ResidentKeyDiscouraged:
		return false
	default:
		return c.RequireResidentKey
	}
}

// FIDOU2FAttestationStatementFormat is the attestation statement format used with FIDO U2F authenticators.
// https://www.w3.org/TR/webauthn-3/#sctn-fido-u2f-attestation
type FIDOU2FAttestationStatementFormat struct {
	X509Chain [][]byte `cbor:"x5c"`
	Signature []byte   `cbor:"sig"`
}
