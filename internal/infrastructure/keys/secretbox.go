package keys

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const secretboxNonceSize = 24

func sealSecretbox(key *[KeySize]byte, text string) ([]byte, error) {
	var nonce [secretboxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("keys: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(text), &nonce, key), nil
}

func openSecretbox(key *[KeySize]byte, payload []byte) (string, error) {
	if len(payload) < secretboxNonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}

	var nonce [secretboxNonceSize]byte
	copy(nonce[:], payload[:secretboxNonceSize])
	plain, ok := secretbox.Open(nil, payload[secretboxNonceSize:], &nonce, key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
