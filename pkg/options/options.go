package options

import (
	"context"
	"io"
	"log/slog"

	"github.com/fxamacker/cbor/v2"
)

// PINHandler obtains the user's PIN when an operation needs PIN-based user
// verification. How the PIN is collected (terminal, pinentry, UI) is the
// caller's concern.
type PINHandler func(ctx context.Context) (string, error)

// StatusSink receives human-readable ceremony status transitions. It is
// invoked synchronously, at most once per transition; it is a notification
// channel, not a log.
type StatusSink func(status string)

type Options struct {
	Logger             *slog.Logger
	EncMode            cbor.EncMode
	PINHandler         PINHandler
	StatusSink         StatusSink
	EphemeralKeySource io.Reader
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func WithEncMode(encMode cbor.EncMode) Option {
	return func(opts *Options) {
		opts.EncMode = encMode
	}
}

func WithPINHandler(handler PINHandler) Option {
	return func(opts *Options) {
		opts.PINHandler = handler
	}
}

func WithStatusSink(sink StatusSink) Option {
	return func(opts *Options) {
		opts.StatusSink = sink
	}
}

// WithEphemeralKeySource overrides the entropy source used to generate the
// per-ceremony PIN/UV platform key pair. Tests inject a fixed source to make
// the key agreement deterministic.
func WithEphemeralKeySource(r io.Reader) Option {
	return func(opts *Options) {
		opts.EphemeralKeySource = r
	}
}

func NewOptions(opts ...Option) *Options {
	encMode, _ := cbor.CTAP2EncOptions().EncMode()
	oo := &Options{
		Logger:  slog.Default(),
		EncMode: encMode,
	}

	for _, opt := range opts {
		opt(oo)
	}

	return oo
}
