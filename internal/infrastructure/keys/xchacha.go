package keys

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

func sealXChaCha(key *[KeySize]byte, text string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(text)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keys: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, []byte(text), nil), nil
}

func openXChaCha(key *[KeySize]byte, payload []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return "", fmt.Errorf("keys: %w", err)
	}
	n := aead.NonceSize()
	if len(payload) < n+aead.Overhead() {
		return "", fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}
	plain, err := aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
