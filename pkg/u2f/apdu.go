package u2f

import (
	"encoding/binary"
	"fmt"
)

const (
	cmdRegister     = 0x01
	cmdAuthenticate = 0x02
	cmdVersion      = 0x03

	tupRequired = 0x01 // Test of User Presence required
	tupConsume  = 0x02 // Consume a Test of User Presence
	tupTestOnly = 0x04 // Check valid key handle only, no test of user presence

	ctrlEnforcePresence = tupRequired | tupConsume
	// The check-only control byte carries all three flags, not just tupTestOnly.
	ctrlCheckOnly = tupRequired | tupConsume | tupTestOnly
)

const (
	StatusNoError                uint16 = 0x9000
	StatusWrongLength            uint16 = 0x6700
	StatusConditionsNotSatisfied uint16 = 0x6985
	StatusWrongData              uint16 = 0x6a80
	StatusInsNotSupported        uint16 = 0x6d00
	StatusClaNotSupported        uint16 = 0x6e00
)

var statusMessages = map[uint16]string{
	StatusWrongLength:            "the length of the request was invalid",
	StatusConditionsNotSatisfied: "test-of-user-presence is required",
	StatusWrongData:              "the key handle is invalid",
	StatusInsNotSupported:        "the instruction of the request is not supported",
	StatusClaNotSupported:        "the class byte of the request is not supported",
}

// StatusError is a U2F-level rejection carrying the 16-bit status word from
// the response trailer.
type StatusError struct {
	Status uint16
}

func (e *StatusError) Error() string {
	if msg, ok := statusMessages[e.Status]; ok {
		return fmt.Sprintf("u2f: status 0x%04x: %s", e.Status, msg)
	}
	return fmt.Sprintf("u2f: unexpected status 0x%04x", e.Status)
}

// request is a raw U2F message: command, two parameter bytes and an
// extended-length payload.
type request struct {
	Command byte
	Param1  byte
	Param2  byte
	Data    []byte
}

// encode produces the 7-byte extended-length APDU header followed by the
// payload.
func (r *request) encode() []byte {
	buf := make([]byte, 7, 7+len(r.Data))
	buf[1] = r.Command
	buf[2] = r.Param1
	buf[3] = r.Param2
	buf[4] = byte(len(r.Data) >> 16)
	buf[5] = byte(len(r.Data) >> 8)
	buf[6] = byte(len(r.Data))
	return append(buf, r.Data...)
}

// response splits a raw reply into payload and trailing status word.
type response struct {
	Data   []byte
	Status uint16
}

func decodeResponse(data []byte) (*response, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("u2f: response is too short, got %d bytes", len(data))
	}
	return &response{
		Data:   data[:len(data)-2],
		Status: binary.BigEndian.Uint16(data[len(data)-2:]),
	}, nil
}
