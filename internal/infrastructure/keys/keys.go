// Package keys holds the optional end-to-end text encryption: a key derived
// from the room code and a Cipher that seals message text with it. Every
// build derives keys the same way and opens every known envelope; the build
// target only picks the algorithm Seal writes.
package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// KeySize is the length in bytes of every room key.
const KeySize = 32

var (
	// ErrNotEncrypted is returned by Open for text that carries no envelope.
	ErrNotEncrypted = errors.New("text is not encrypted")
	// ErrDecrypt covers a wrong key or a tampered envelope.
	ErrDecrypt = errors.New("decryption failed")
	ErrKeySize = fmt.Errorf("key must be %d bytes", KeySize)
)

type Cipher interface {
	// Seal encrypts text into a printable envelope.
	Seal(text string) (string, error)
	// Open reverses Seal for an envelope of any known algorithm.
	Open(envelope string) (string, error)
	// Algorithm names the envelope prefix Seal writes.
	Algorithm() string
}

const (
	algSecretbox = "sb1"
	algXChaCha   = "xc1"

	keySalt = "nearchat/room-key/v1"

	argonTime    = 1
	argonMemory  = 19 * 1024
	argonThreads = 1
)

type envelopeAlgorithm struct {
	seal func(key *[KeySize]byte, text string) ([]byte, error)
	open func(key *[KeySize]byte, payload []byte) (string, error)
}

var algorithms = map[string]envelopeAlgorithm{
	algSecretbox: {seal: sealSecretbox, open: openSecretbox},
	algXChaCha:   {seal: sealXChaCha, open: openXChaCha},
}

type roomCipher struct {
	key [KeySize]byte
	alg string
}

// NewCipher returns a cipher keyed with key that seals with the algorithm of
// the build target.
func NewCipher(key []byte) (Cipher, error) {
	c, err := newCipher(key, sealAlgorithm)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newCipher(key []byte, alg string) (*roomCipher, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	if _, ok := algorithms[alg]; !ok {
		return nil, fmt.Errorf("keys: unknown algorithm %q", alg)
	}
	c := &roomCipher{alg: alg}
	copy(c.key[:], key)
	return c, nil
}

// DeriveKey turns a normalized room code into a room key with Argon2id. Every
// member of a room derives the same key on every build.
func DeriveKey(roomCode string) ([]byte, error) {
	if roomCode == "" {
		return nil, errors.New("keys: empty room code")
	}
	return argon2.IDKey([]byte(roomCode), []byte(keySalt), argonTime, argonMemory, argonThreads, KeySize), nil
}

// IsSealed reports whether text looks like an envelope of any known algorithm.
func IsSealed(text string) bool {
	_, _, ok := splitEnvelope(text)
	return ok
}

func (c *roomCipher) Algorithm() string { return c.alg }

func (c *roomCipher) Seal(text string) (string, error) {
	sealed, err := algorithms[c.alg].seal(&c.key, text)
	if err != nil {
		return "", err
	}
	return c.alg + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *roomCipher) Open(envelope string) (string, error) {
	alg, payload, ok := splitEnvelope(envelope)
	if !ok {
		return "", ErrNotEncrypted
	}
	return algorithms[alg].open(&c.key, payload)
}

func splitEnvelope(text string) (alg string, payload []byte, ok bool) {
	prefix, body, found := strings.Cut(text, ":")
	if !found {
		return "", nil, false
	}
	if _, known := algorithms[prefix]; !known {
		return "", nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", nil, false
	}
	return prefix, payload, true
}
