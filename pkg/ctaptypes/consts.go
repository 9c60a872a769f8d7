package ctaptypes

import "strconv"

type Command byte

const (
	AuthenticatorMakeCredential Command = 0x01
	AuthenticatorGetAssertion   Command = 0x02
	AuthenticatorGetInfo        Command = 0x04
	AuthenticatorClientPIN      Command = 0x06
	AuthenticatorReset          Command = 0x07
	AuthenticatorSelection      Command = 0x0b
)

func (c Command) String() string {
	switch c {
	case AuthenticatorMakeCredential:
		return "authenticatorMakeCredential"
	case AuthenticatorGetAssertion:
		return "authenticatorGetAssertion"
	case AuthenticatorGetInfo:
		return "authenticatorGetInfo"
	case AuthenticatorClientPIN:
		return "authenticatorClientPIN"
	case AuthenticatorReset:
		return "authenticatorReset"
	case AuthenticatorSelection:
		return "authenticatorSelection"
	default:
		return "Command(0x" + strconv.FormatUint(uint64(c), 16) + ")"
	}
}

type ClientPINSubCommand byte

const (
	ClientPINSubCommandGetPINRetries ClientPINSubCommand = iota + 1
	ClientPINSubCommandGetKeyAgreement
	ClientPINSubCommandSetPIN
	ClientPINSubCommandChangePIN
	ClientPINSubCommandGetPinToken
)

// PinUvAuthProtocol identifies a PIN/UV auth protocol version. Only version
// one (SHA-256 KDF, AES-256-CBC, HMAC-SHA256) is implemented; the type leaves
// room for later versions.
type PinUvAuthProtocol uint

const (
	PinUvAuthProtocolOne PinUvAuthProtocol = 1
)

type Option string

const (
	OptionPlatformDevice              Option = "plat"
	OptionResidentKeys                Option = "rk"
	OptionClientPIN                   Option = "clientPin"
	OptionUserPresence                Option = "up"
	OptionUserVerification            Option = "uv"
	OptionMakeCredentialUvNotRequired Option = "makeCredUvNotRqd"
)
