package ctaptypes

import "github.com/go-ctap/fido2client/pkg/webauthntypes"

type AuthenticatorMakeCredentialRequest struct {
	ClientDataHash    []byte                                        `cbor:"1,keyasint"`
	RP                webauthntypes.PublicKeyCredentialRpEntity     `cbor:"2,keyasint"`
	User              webauthntypes.PublicKeyCredentialUserEntity   `cbor:"3,keyasint"`
	PubKeyCredParams  []webauthntypes.PublicKeyCredentialParameters `cbor:"4,keyasint"`
	ExcludeList       []webauthntypes.PublicKeyCredentialDescriptor `cbor:"5,keyasint,omitempty"`
	Extensions        map[webauthntypes.ExtensionIdentifier]any     `cbor:"6,keyasint,omitempty"`
	Options           map[Option]bool                               `cbor:"7,keyasint,omitempty"`
	PinUvAuthParam    []byte                                        `cbor:"8,keyasint,omitempty"`
	PinUvAuthProtocol PinUvAuthProtocol                             `cbor:"9,keyasint,omitzero"`
}

type AuthenticatorMakeCredentialResponse struct {
	Format               webauthntypes.AttestationStatementFormatIdentifier `cbor:"1,keyasint"`
	AuthData             *AuthData                                          `cbor:"-"`
	AuthDataRaw          []byte                                             `cbor:"2,keyasint"`
	AttestationStatement map[string]any                                     `cbor:"3,keyasint,omitempty"`
}
