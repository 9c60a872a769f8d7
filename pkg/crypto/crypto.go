package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/go-ctap/fido2client/pkg/crypto/protocolone"
	"github.com/go-ctap/fido2client/pkg/ctaptypes"

	"github.com/ldclabs/cose/iana"
	"github.com/ldclabs/cose/key"
	ecdh2 "github.com/ldclabs/cose/key/ecdh"
)

// PinUvAuthProtocol holds the ephemeral platform key agreement state for a
// single ceremony. The key pair is generated per ceremony and must never be
// reused; Destroy wipes the derived secret on every exit path.
type PinUvAuthProtocol struct {
	Number             ctaptypes.PinUvAuthProtocol
	platformPrivateKey *ecdh.PrivateKey
	platformCoseKey    key.Key
	sharedSecret       []byte
}

// NewPinUvAuthProtocol creates a protocol one session with a fresh platform
// P-256 key pair. The entropy source is injectable so tests can fix the key
// pair; nil selects crypto/rand.
func NewPinUvAuthProtocol(random io.Reader) (*PinUvAuthProtocol, error) {
	if random == nil {
		random = rand.Reader
	}

	platformPrivkey, err := ecdh.P256().GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("cannot generate platform P-256 keypair: %w", err)
	}

	platformPubkey, err := ecdh2.KeyFromPublic(platformPrivkey.Public().(*ecdh.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("cannot convert platform public key to COSE_Key: %w", err)
	}
	if err := platformPubkey.Set(iana.KeyParameterAlg, -25); err != nil {
		return nil, fmt.Errorf("cannot set alg parameter for COSE_Key: %w", err)
	}

	// The COSE_Key must contain only the necessary parameters. Some keys
	// accept extras anyway, but some do not, e.g., SoloKeys Solo 2.
	delete(platformPubkey, iana.KeyParameterKid)

	return &PinUvAuthProtocol{
		Number:             ctaptypes.PinUvAuthProtocolOne,
		platformPrivateKey: platformPrivkey,
		platformCoseKey:    platformPubkey,
	}, nil
}

// ECDH derives the symmetric shared secret from the authenticator's key
// agreement key: SHA-256 over the raw ECDH output.
func (p *PinUvAuthProtocol) ECDH(peerCoseKey key.Key) ([]byte, error) {
	peerPubkey, err := ecdh2.KeyToPublic(peerCoseKey)
	if err != nil {
		return nil, fmt.Errorf("cannot convert peer public key to Go *ecdh.PublicKey: %w", err)
	}

	z, err := p.platformPrivateKey.ECDH(peerPubkey)
	if err != nil {
		return nil, fmt.Errorf("cannot derive shared secret: %w", err)
	}

	return protocolone.KDF(z), nil
}

// Encapsulate performs key agreement with the peer and returns the platform
// COSE key to send alongside the encrypted PIN material. The derived secret
// is retained on the session so Destroy can wipe it.
func (p *PinUvAuthProtocol) Encapsulate(peerCoseKey key.Key) (key.Key, []byte, error) {
	sharedSecret, err := p.ECDH(peerCoseKey)
	if err != nil {
		return nil, nil, err
	}
	p.sharedSecret = sharedSecret

	return p.platformCoseKey, sharedSecret, nil
}

// EncryptPINHash hashes the PIN with SHA-256, keeps the leading 16 bytes and
// encrypts them under the shared secret.
func (p *PinUvAuthProtocol) EncryptPINHash(sharedSecret []byte, pin string) ([]byte, error) {
	hasher := sha256.New()
	hasher.Write([]byte(pin))
	pinHash := hasher.Sum(nil)[:16]

	return protocolone.Encrypt(sharedSecret, pinHash)
}

// Destroy wipes the derived shared secret and drops the platform private key.
func (p *PinUvAuthProtocol) Destroy() {
	for i := range p.sharedSecret {
		p.sharedSecret[i] = 0
	}
	p.sharedSecret = nil
	p.platformPrivateKey = nil
}

// Authenticate computes the per-operation PIN/UV auth parameter:
// HMAC-SHA256 under the PIN/UV auth token, truncated per protocol one.
func Authenticate(number ctaptypes.PinUvAuthProtocol, token []byte, message []byte) []byte {
	switch number {
	case ctaptypes.PinUvAuthProtocolOne:
		return protocolone.Authenticate(token, message)
	default:
		panic("invalid auth protocol")
	}
}
