package ctap

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/go-ctap/fido2client/pkg/crypto"
	"github.com/go-ctap/fido2client/pkg/crypto/protocolone"
	"github.com/go-ctap/fido2client/pkg/ctaptypes"
	"github.com/go-ctap/fido2client/pkg/webauthntypes"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	ecdh2 "github.com/ldclabs/cose/key/ecdh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEncMode, _ = cbor.CTAP2EncOptions().EncMode()

type fakeConn struct {
	handler func(request []byte) ([]byte, error)
}

func (c *fakeConn) Capabilities() Capabilities {
	return Capabilities{SupportsCTAP2: true}
}

func (c *fakeConn) Transports() []webauthntypes.AuthenticatorTransport {
	return []webauthntypes.AuthenticatorTransport{webauthntypes.AuthenticatorTransportUSB}
}

func (c *fakeConn) RunCommand(_ context.Context, request []byte) ([]byte, error) {
	return c.handler(request)
}

func okReply(t *testing.T, payload any) []byte {
	t.Helper()
	b, err := testEncMode.Marshal(payload)
	require.NoError(t, err)
	return append([]byte{byte(CTAP2_OK)}, b...)
}

func testAuthDataRaw(t *testing.T, attested bool) []byte {
	t.Helper()

	rpIDHash := sha256.Sum256([]byte("example.com"))
	authData := &ctaptypes.AuthData{
		RPIDHash:  rpIDHash[:],
		Flags:     ctaptypes.AuthDataFlagUserPresent,
		SignCount: 7,
	}
	if attested {
		credentialPublicKey, err := crypto.EC2KeyFromCoordinates(
			key.Alg(iana.AlgorithmES256), make([]byte, 32), make([]byte, 32))
		require.NoError(t, err)

		authData.AttestedCredentialData = &ctaptypes.AttestedCredentialData{
			AAGUID:              uuid.Nil,
			CredentialID:        []byte("credential-id"),
			CredentialPublicKey: credentialPublicKey,
		}
	}

	raw, err := authData.Marshal()
	require.NoError(t, err)
	return raw
}

func TestMakeCredential(t *testing.T) {
	clientDataHash := sha256.Sum256([]byte("client data"))
	pinUvAuthToken := make([]byte, 32)
	authDataRaw := testAuthDataRaw(t, true)

	var captured []byte
	conn := &fakeConn{handler: func(request []byte) ([]byte, error) {
		captured = request
		return okReply(t, map[int]any{
			1: "packed",
			2: authDataRaw,
			3: map[string]any{"alg": -7, "sig": []byte{0x30}},
		}), nil
	}}

	req := &ctaptypes.AuthenticatorMakeCredentialRequest{
		ClientDataHash: clientDataHash[:],
		RP:             webauthntypes.PublicKeyCredentialRpEntity{ID: "example.com"},
		User:           webauthntypes.PublicKeyCredentialUserEntity{ID: []byte{1}},
		PubKeyCredParams: []webauthntypes.PublicKeyCredentialParameters{{
			Type:      webauthntypes.PublicKeyCredentialTypePublicKey,
			Algorithm: key.Alg(iana.AlgorithmES256),
		}},
	}

	resp, err := NewClient().MakeCredential(t.Context(), conn, req, ctaptypes.PinUvAuthProtocolOne, pinUvAuthToken)
	require.NoError(t, err)

	require.NotEmpty(t, captured)
	assert.EqualValues(t, ctaptypes.AuthenticatorMakeCredential, captured[0])

	var sent ctaptypes.AuthenticatorMakeCredentialRequest
	require.NoError(t, cbor.Unmarshal(captured[1:], &sent))
	assert.Equal(t, clientDataHash[:], sent.ClientDataHash)
	assert.Equal(t, ctaptypes.PinUvAuthProtocolOne, sent.PinUvAuthProtocol)
	assert.Equal(t, protocolone.Authenticate(pinUvAuthToken, clientDataHash[:]), sent.PinUvAuthParam)

	assert.Equal(t, webauthntypes.AttestationStatementFormatIdentifierPacked, resp.Format)
	assert.Equal(t, authDataRaw, resp.AuthDataRaw)
	require.NotNil(t, resp.AuthData)
	require.NotNil(t, resp.AuthData.AttestedCredentialData)
	assert.Equal(t, []byte("credential-id"), resp.AuthData.AttestedCredentialData.CredentialID)
}

func TestMakeCredentialWithoutTokenOmitsAuthParam(t *testing.T) {
	clientDataHash := sha256.Sum256([]byte("client data"))

	conn := &fakeConn{handler: func(request []byte) ([]byte, error) {
		var sent ctaptypes.AuthenticatorMakeCredentialRequest
		require.NoError(t, cbor.Unmarshal(request[1:], &sent))
		assert.Nil(t, sent.PinUvAuthParam)
		assert.Zero(t, sent.PinUvAuthProtocol)

		return okReply(t, map[int]any{
			1: "none",
			2: testAuthDataRaw(t, true),
		}), nil
	}}

	req := &ctaptypes.AuthenticatorMakeCredentialRequest{ClientDataHash: clientDataHash[:]}
	_, err := NewClient().MakeCredential(t.Context(), conn, req, ctaptypes.PinUvAuthProtocolOne, nil)
	require.NoError(t, err)
}

func TestMakeCredentialErrorStatus(t *testing.T) {
	conn := &fakeConn{handler: func([]byte) ([]byte, error) {
		return []byte{byte(CTAP2_ERR_CREDENTIAL_EXCLUDED)}, nil
	}}

	_, err := NewClient().MakeCredential(
		t.Context(), conn, &ctaptypes.AuthenticatorMakeCredentialRequest{}, 0, nil)

	var ctapErr *CTAPError
	require.ErrorAs(t, err, &ctapErr)
	assert.Equal(t, ctaptypes.AuthenticatorMakeCredential, ctapErr.Command)
	assert.Equal(t, CTAP2_ERR_CREDENTIAL_EXCLUDED, ctapErr.StatusCode)
}

func TestEmptyResponse(t *testing.T) {
	conn := &fakeConn{handler: func([]byte) ([]byte, error) {
		return nil, nil
	}}

	_, err := NewClient().GetAssertion(
		t.Context(), conn, &ctaptypes.AuthenticatorGetAssertionRequest{}, 0, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGetAssertion(t *testing.T) {
	clientDataHash := sha256.Sum256([]byte("client data"))
	authDataRaw := testAuthDataRaw(t, false)

	conn := &fakeConn{handler: func(request []byte) ([]byte, error) {
		assert.EqualValues(t, ctaptypes.AuthenticatorGetAssertion, request[0])
		return okReply(t, map[int]any{
			1: map[string]any{"type": "public-key", "id": []byte("credential-id")},
			2: authDataRaw,
			3: []byte{0x30, 0x01, 0x00},
		}), nil
	}}

	req := &ctaptypes.AuthenticatorGetAssertionRequest{
		RPID:           "example.com",
		ClientDataHash: clientDataHash[:],
	}

	resp, err := NewClient().GetAssertion(t.Context(), conn, req, ctaptypes.PinUvAuthProtocolOne, nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("credential-id"), resp.Credential.ID)
	assert.Equal(t, authDataRaw, resp.AuthDataRaw)
	assert.EqualValues(t, 7, resp.AuthData.SignCount)
	assert.NotEmpty(t, resp.Signature)
}

func TestGetAssertionRejectsMissingSignature(t *testing.T) {
	conn := &fakeConn{handler: func([]byte) ([]byte, error) {
		return okReply(t, map[int]any{
			1: map[string]any{"type": "public-key", "id": []byte("credential-id")},
			2: testAuthDataRaw(t, false),
		}), nil
	}}

	_, err := NewClient().GetAssertion(
		t.Context(), conn, &ctaptypes.AuthenticatorGetAssertionRequest{}, 0, nil)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

// TestNullResponsePayloadIsMalformed replies a bare CBOR null after the OK
// status byte. Decoding leaves the response pointer nil, which every command
// must report as a malformed response rather than dereference.
func TestNullResponsePayloadIsMalformed(t *testing.T) {
	conn := &fakeConn{handler: func([]byte) ([]byte, error) {
		return []byte{byte(CTAP2_OK), 0xf6}, nil
	}}
	cl := NewClient()

	authenticatorPrivkey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	authenticatorCoseKey, err := ecdh2.KeyFromPublic(authenticatorPrivkey.Public().(*ecdh.PublicKey))
	require.NoError(t, err)
	protocol, err := crypto.NewPinUvAuthProtocol(nil)
	require.NoError(t, err)
	defer protocol.Destroy()

	t.Run("MakeCredential", func(t *testing.T) {
		_, err := cl.MakeCredential(
			t.Context(), conn, &ctaptypes.AuthenticatorMakeCredentialRequest{}, 0, nil)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("GetAssertion", func(t *testing.T) {
		_, err := cl.GetAssertion(
			t.Context(), conn, &ctaptypes.AuthenticatorGetAssertionRequest{}, 0, nil)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("GetPINRetries", func(t *testing.T) {
		_, _, err := cl.GetPINRetries(t.Context(), conn, ctaptypes.PinUvAuthProtocolOne)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("GetKeyAgreement", func(t *testing.T) {
		_, err := cl.GetKeyAgreement(t.Context(), conn, ctaptypes.PinUvAuthProtocolOne)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("GetPinToken", func(t *testing.T) {
		_, err := cl.GetPinToken(t.Context(), conn, protocol, authenticatorCoseKey, "123456")
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})
}

func TestGetPINRetries(t *testing.T) {
	conn := &fakeConn{handler: func(request []byte) ([]byte, error) {
		assert.EqualValues(t, ctaptypes.AuthenticatorClientPIN, request[0])

		var sent ctaptypes.AuthenticatorClientPINRequest
		require.NoError(t, cbor.Unmarshal(request[1:], &sent))
		assert.Equal(t, ctaptypes.ClientPINSubCommandGetPINRetries, sent.SubCommand)

		return okReply(t, map[int]any{3: 5, 4: true}), nil
	}}

	retries, powerCycle, err := NewClient().GetPINRetries(t.Context(), conn, ctaptypes.PinUvAuthProtocolOne)
	require.NoError(t, err)
	assert.EqualValues(t, 5, retries)
	assert.True(t, powerCycle)
}

// TestGetPinTokenHandshake plays the authenticator side of the protocol one
// key agreement and checks the encrypted PIN hash it receives.
func TestGetPinTokenHandshake(t *testing.T) {
	const pin = "123456"
	pinUvAuthToken := make([]byte, 32)
	_, err := rand.Read(pinUvAuthToken)
	require.NoError(t, err)

	authenticatorPrivkey, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	authenticatorCoseKey, err := ecdh2.KeyFromPublic(authenticatorPrivkey.Public().(*ecdh.PublicKey))
	require.NoError(t, err)

	conn := &fakeConn{handler: func(request []byte) ([]byte, error) {
		var sent ctaptypes.AuthenticatorClientPINRequest
		require.NoError(t, cbor.Unmarshal(request[1:], &sent))

		switch sent.SubCommand {
		case ctaptypes.ClientPINSubCommandGetKeyAgreement:
			return okReply(t, map[int]any{1: authenticatorCoseKey}), nil

		case ctaptypes.ClientPINSubCommandGetPinToken:
			require.NotNil(t, sent.KeyAgreement)
			platformPubkey, err := ecdh2.KeyToPublic(sent.KeyAgreement)
			require.NoError(t, err)

			z, err := authenticatorPrivkey.ECDH(platformPubkey)
			require.NoError(t, err)
			sharedSecret := protocolone.KDF(z)

			pinHash, err := protocolone.Decrypt(sharedSecret, sent.PinHashEnc)
			require.NoError(t, err)
			expected := sha256.Sum256([]byte(pin))
			assert.Equal(t, expected[:16], pinHash)

			return okReply(t, map[int]any{2: pinUvAuthToken}), nil

		default:
			t.Fatalf("unexpected sub-command %d", sent.SubCommand)
			return nil, nil
		}
	}}

	cl := NewClient()
	protocol, err := crypto.NewPinUvAuthProtocol(nil)
	require.NoError(t, err)
	defer protocol.Destroy()

	keyAgreement, err := cl.GetKeyAgreement(t.Context(), conn, protocol.Number)
	require.NoError(t, err)

	token, err := cl.GetPinToken(t.Context(), conn, protocol, keyAgreement, pin)
	require.NoError(t, err)

	// The token stays opaque: no decryption on the platform side.
	assert.Equal(t, pinUvAuthToken, token)
}

func TestSelection(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		conn := &fakeConn{handler: func(request []byte) ([]byte, error) {
			assert.EqualValues(t, ctaptypes.AuthenticatorSelection, request[0])
			return []byte{byte(CTAP2_OK)}, nil
		}}
		assert.NoError(t, NewClient().Selection(t.Context(), conn))
	})

	t.Run("canceled keepalive is not an error", func(t *testing.T) {
		conn := &fakeConn{handler: func([]byte) ([]byte, error) {
			return []byte{byte(CTAP2_ERR_KEEPALIVE_CANCEL)}, nil
		}}
		assert.NoError(t, NewClient().Selection(t.Context(), conn))
	})

	t.Run("denied", func(t *testing.T) {
		conn := &fakeConn{handler: func([]byte) ([]byte, error) {
			return []byte{byte(CTAP2_ERR_OPERATION_DENIED)}, nil
		}}
		assert.Error(t, NewClient().Selection(t.Context(), conn))
	})
}
