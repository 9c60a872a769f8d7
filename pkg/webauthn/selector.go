package webauthn

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/go-ctap/fido2client/pkg/ctap"
	"github.com/go-ctap/fido2client/pkg/options"
	"github.com/go-ctap/fido2client/pkg/u2f"

	"github.com/samber/mo"
)

// ErrNoConnections is returned by SelectConnection when no candidates are
// given.
var ErrNoConnections = errors.New("webauthn: no connections to select from")

// SelectConnection asks the user to pick one of several connected
// authenticators by touching it. CTAP2 authenticators run the selection
// command; CTAP1 authenticators, which have no such command, are probed with
// a throwaway registration whose result is discarded. The first authenticator
// to see a touch wins and the rest are canceled.
func SelectConnection(ctx context.Context, conns []ctap.Connection, opts ...options.Option) (ctap.Connection, error) {
	oo := options.NewOptions(opts...)

	switch len(conns) {
	case 0:
		return nil, ErrNoConnections
	case 1:
		return conns[0], nil
	}

	if oo.StatusSink != nil {
		oo.StatusSink(StatusWaitingForDevice)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Each probe reports either the touched connection or its error.
	results := make(chan mo.Either[ctap.Connection, error], len(conns))
	for _, conn := range conns {
		go func() {
			if err := probeConnection(ctx, conn, opts...); err != nil {
				results <- mo.Right[ctap.Connection, error](err)
				return
			}
			results <- mo.Left[ctap.Connection, error](conn)
		}()
	}

	var errs []error
	for range conns {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-results:
			if conn, ok := result.Left(); ok {
				return conn, nil
			}
			errs = append(errs, result.MustRight())
		}
	}

	return nil, errors.Join(errs...)
}

func probeConnection(ctx context.Context, conn ctap.Connection, opts ...options.Option) error {
	if conn.Capabilities().SupportsCTAP2 {
		return ctap.NewClient(opts...).Selection(ctx, conn)
	}

	// U2F has no selection command; a throwaway registration consumes the
	// touch instead and its result is dropped.
	token := u2f.NewToken(conn, opts...)
	challenge := sha256.Sum256([]byte("fido2client device selection challenge"))
	application := sha256.Sum256([]byte("fido2client device selection application"))

	for {
		_, err := token.Register(ctx, u2f.RegisterRequest{
			Challenge:   challenge[:],
			Application: application[:],
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, u2f.ErrPresenceRequired) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(presencePollInterval):
		}
	}
}
