package ctaptypes

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/ldclabs/cose/key"
)

// ErrMalformedAuthData reports authenticator data too short for its declared
// layout. Decoding never recovers from it.
var ErrMalformedAuthData = errors.New("ctaptypes: malformed authenticator data")

type AuthDataFlag byte

const (
	AuthDataFlagUserPresent AuthDataFlag = 1 << iota
	_
	AuthDataFlagUserVerified
	_
	_
	_
	AuthDataFlagAttestedCredentialDataIncluded
	AuthDataFlagExtensionDataIncluded
)

func (f AuthDataFlag) UserPresent() bool {
	return f&AuthDataFlagUserPresent != 0
}
func (f AuthDataFlag) UserVerified() bool {
	return f&AuthDataFlagUserVerified != 0
}
func (f AuthDataFlag) AttestedCredentialDataIncluded() bool {
	return f&AuthDataFlagAttestedCredentialDataIncluded != 0
}
func (f AuthDataFlag) ExtensionDataIncluded() bool {
	return f&AuthDataFlagExtensionDataIncluded != 0
}

type AttestedCredentialData struct {
	AAGUID              uuid.UUID
	CredentialID        []byte
	CredentialPublicKey key.Key
}

// AuthData is the fixed-layout authenticator data structure shared by
// registration and assertion responses: 32-byte rpId hash, flag byte, 32-bit
// big-endian signature counter, then the attested credential block when the
// AT flag is set. Extension bytes, when present, are kept as raw CBOR.
type AuthData struct {
	RPIDHash               []byte
	Flags                  AuthDataFlag
	SignCount              uint32
	AttestedCredentialData *AttestedCredentialData
	Extensions             []byte
}

var ctap2EncMode, _ = cbor.CTAP2EncOptions().EncMode()

func ParseAuthData(data []byte) (*AuthData, error) {
	if len(data) < 37 {
		return nil, fmt.Errorf("%w: %d bytes, want at least 37", ErrMalformedAuthData, len(data))
	}

	d := &AuthData{
		RPIDHash:  data[:32],
		Flags:     AuthDataFlag(data[32]),
		SignCount: binary.BigEndian.Uint32(data[33:37]),
	}
	offset := 37

	if d.Flags.AttestedCredentialDataIncluded() {
		if len(data) < offset+18 {
			return nil, fmt.Errorf("%w: truncated attested credential data", ErrMalformedAuthData)
		}

		credData := &AttestedCredentialData{
			AAGUID: uuid.UUID(data[offset : offset+16]),
		}
		offset += 16

		length := binary.BigEndian.Uint16(data[offset : offset+2])
		offset += 2
		if len(data) < offset+int(length) {
			return nil, fmt.Errorf("%w: truncated credential id", ErrMalformedAuthData)
		}
		credData.CredentialID = data[offset : offset+int(length)]
		offset += int(length)

		dec := cbor.NewDecoder(bytes.NewReader(data[offset:]))
		if err := dec.Decode(&credData.CredentialPublicKey); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAuthData, err)
		}
		offset += dec.NumBytesRead()

		d.AttestedCredentialData = credData
	}

	if d.Flags.ExtensionDataIncluded() {
		d.Extensions = data[offset:]
	}

	return d, nil
}

// Marshal produces the byte-exact wire layout. The AT and ED flag bits are
// derived from the populated fields rather than trusted from Flags.
func (d *AuthData) Marshal() ([]byte, error) {
	if len(d.RPIDHash) != 32 {
		return nil, fmt.Errorf("%w: rpId hash must be 32 bytes", ErrMalformedAuthData)
	}

	flags := d.Flags &^ (AuthDataFlagAttestedCredentialDataIncluded | AuthDataFlagExtensionDataIncluded)
	if d.AttestedCredentialData != nil {
		flags |= AuthDataFlagAttestedCredentialDataIncluded
	}
	if len(d.Extensions) > 0 {
		flags |= AuthDataFlagExtensionDataIncluded
	}

	buf := bytes.NewBuffer(make([]byte, 0, 37))
	buf.Write(d.RPIDHash)
	buf.WriteByte(byte(flags))
	if err := binary.Write(buf, binary.BigEndian, d.SignCount); err != nil {
		return nil, err
	}

	if credData := d.AttestedCredentialData; credData != nil {
		buf.Write(credData.AAGUID[:])
		if err := binary.Write(buf, binary.BigEndian, uint16(len(credData.CredentialID))); err != nil {
			return nil, err
		}
		buf.Write(credData.CredentialID)

		b, err := ctap2EncMode.Marshal(credData.CredentialPublicKey)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}

	buf.Write(d.Extensions)

	return buf.Bytes(), nil
}
