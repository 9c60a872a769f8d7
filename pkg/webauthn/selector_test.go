package webauthn

import (
	"testing"

	"github.com/go-ctap/fido2client/pkg/ctap"
	"github.com/go-ctap/fido2client/pkg/ctaptypes"
	"github.com/go-ctap/fido2client/pkg/options"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectConnectionEmpty(t *testing.T) {
	_, err := SelectConnection(t.Context(), nil)
	assert.ErrorIs(t, err, ErrNoConnections)
}

func TestSelectConnectionSingleShortCircuits(t *testing.T) {
	conn := &fakeConn{handler: func([]byte) ([]byte, error) {
		t.Fatal("a single candidate needs no probing")
		return nil, nil
	}}

	selected, err := SelectConnection(t.Context(), []ctap.Connection{conn})
	require.NoError(t, err)
	assert.Same(t, conn, selected)
}

func TestSelectConnectionPicksTouchedAuthenticator(t *testing.T) {
	touched := &fakeConn{
		caps: ctap.Capabilities{SupportsCTAP2: true},
		handler: func(request []byte) ([]byte, error) {
			require.EqualValues(t, ctaptypes.AuthenticatorSelection, request[0])
			return []byte{byte(ctap.CTAP2_OK)}, nil
		},
	}
	// The U2F candidate keeps waiting for a touch until it is canceled.
	idle := &fakeConn{
		caps: ctap.Capabilities{SupportsCTAP1: true},
		handler: func([]byte) ([]byte, error) {
			return u2fReply(0x6985), nil
		},
	}

	var statuses []string
	selected, err := SelectConnection(
		t.Context(),
		[]ctap.Connection{idle, touched},
		options.WithStatusSink(func(status string) {
			statuses = append(statuses, status)
		}),
	)
	require.NoError(t, err)
	assert.Same(t, touched, selected)
	assert.Equal(t, []string{StatusWaitingForDevice}, statuses)
}

func TestSelectConnectionAllFail(t *testing.T) {
	failing := func() *fakeConn {
		return &fakeConn{
			caps: ctap.Capabilities{SupportsCTAP2: true},
			handler: func([]byte) ([]byte, error) {
				return []byte{byte(ctap.CTAP2_ERR_OPERATION_DENIED)}, nil
			},
		}
	}

	_, err := SelectConnection(t.Context(), []ctap.Connection{failing(), failing()})
	assert.Error(t, err)
}
