package webauthn

import (
	"testing"

	"github.com/go-ctap/fido2client/pkg/webauthntypes"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttestationObjectMarshal(t *testing.T) {
	obj := &AttestationObject{
		Format: webauthntypes.AttestationStatementFormatIdentifierFIDOU2F,
		Statement: FIDOU2FAttestationStatement{
			X509Chain: [][]byte{{0x30, 0x03, 0x02, 0x01, 0x01}},
			Signature: []byte{0xde, 0xad},
		},
		AuthDataRaw: make([]byte, 37),
	}

	b, err := obj.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, cbor.Unmarshal(b, &decoded))
	assert.Equal(t, "fido-u2f", decoded["fmt"])
	assert.Contains(t, decoded, "attStmt")
	assert.Contains(t, decoded, "authData")

	stmt, ok := decoded["attStmt"].(map[any]any)
	require.True(t, ok)
	assert.Contains(t, stmt, "x5c")
	assert.Contains(t, stmt, "sig")
}

func TestAttestationObjectMarshalNoneStatementIsEmptyMap(t *testing.T) {
	obj := &AttestationObject{
		Format:      webauthntypes.AttestationStatementFormatIdentifierNone,
		Statement:   NoneAttestationStatement{},
		AuthDataRaw: make([]byte, 37),
	}

	b, err := obj.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, cbor.Unmarshal(b, &decoded))

	stmt, ok := decoded["attStmt"].(map[any]any)
	require.True(t, ok)
	assert.Empty(t, stmt)
}

func TestAttestationObjectMarshalIsDeterministic(t *testing.T) {
	obj := &AttestationObject{
		Format:      webauthntypes.AttestationStatementFormatIdentifierNone,
		Statement:   NoneAttestationStatement{},
		AuthDataRaw: make([]byte, 37),
	}

	first, err := obj.Marshal()
	require.NoError(t, err)
	second, err := obj.Marshal()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
