// Package protocolone implements the PIN/UV auth protocol one primitives:
// SHA-256 key derivation, AES-256-CBC with a zero IV, and HMAC-SHA256
// truncated to 16 bytes.
package protocolone

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

func KDF(z []byte) []byte {
	hasher := sha256.New()
	hasher.Write(z)
	return hasher.Sum(nil)
}

func Encrypt(sharedSecret []byte, demPlaintext []byte) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, fmt.Errorf("invalid shared secret length %d", len(sharedSecret))
	}
	if len(demPlaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid plaintext length %d", len(demPlaintext))
	}

	// Protocol one fixes the IV to all zeroes.
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("cannot create new AES cipher: %w", err)
	}

	iv := make([]byte, block.BlockSize())
	ciphertext := make([]byte, len(demPlaintext))

	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, demPlaintext)

	return ciphertext, nil
}

func Decrypt(sharedSecret []byte, demCiphertext []byte) ([]byte, error) {
	if len(sharedSecret) != 32 {
		return nil, fmt.Errorf("invalid shared secret length %d", len(sharedSecret))
	}
	if len(demCiphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("invalid ciphertext length %d", len(demCiphertext))
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return nil, fmt.Errorf("cannot create new AES cipher: %w", err)
	}

	iv := make([]byte, block.BlockSize())
	plaintext := make([]byte, len(demCiphertext))

	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, demCiphertext)

	return plaintext, nil
}

func Authenticate(key []byte, message []byte) []byte {
	hasher := hmac.New(sha256.New, key)
	hasher.Write(message)
	return hasher.Sum(nil)[:16]
}
