package webauthn

import "github.com/go-ctap/fido2client/pkg/options"

// Ceremony status transitions reported through options.StatusSink.
const (
	StatusWaitingForDevice = "waiting for device"
	StatusWaitingForUser   = "waiting for user"
	StatusUnknown          = "unknown"
)

// statusReporter deduplicates consecutive identical transitions so the sink
// fires at most once per transition.
type statusReporter struct {
	sink options.StatusSink
	last string
}

func (r *statusReporter) set(status string) {
	if r.sink == nil || status == r.last {
		return
	}
	r.last = status
	r.sink(status)
}
