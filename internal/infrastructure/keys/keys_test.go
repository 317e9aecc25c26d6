package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey("ABCD")
	require.NoError(t, err)
	assert.Len(t, a, KeySize)

	again, err := DeriveKey("ABCD")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	other, err := DeriveKey("WXYZ")
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	_, err = DeriveKey("")
	assert.Error(t, err)
}

func TestCipherRoundTrip(t *testing.T) {
	key, err := DeriveKey("ABCD")
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Seal("hello room")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, c.Algorithm()+":"))
	assert.NotContains(t, sealed, "hello room")
	assert.True(t, IsSealed(sealed))

	second, err := c.Seal("hello room")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, second, "nonce must differ per seal")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello room", plain)
}

func TestCipherRejects(t *testing.T) {
	key, err := DeriveKey("ABCD")
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	_, err = c.Open("plain text")
	assert.ErrorIs(t, err, ErrNotEncrypted)
	assert.False(t, IsSealed("plain text"))

	sealed, err := c.Seal("secret")
	require.NoError(t, err)

	otherKey, err := DeriveKey("WXYZ")
	require.NoError(t, err)
	other, err := NewCipher(otherKey)
	require.NoError(t, err)
	_, err = other.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered != sealed {
		_, err = c.Open(tampered)
		assert.Error(t, err)
	}

	_, err = NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestCipherOpensEveryBuildsEnvelope(t *testing.T) {
	key, err := DeriveKey("ABCD")
	require.NoError(t, err)

	native, err := newCipher(key, algSecretbox)
	require.NoError(t, err)
	browser, err := newCipher(key, algXChaCha)
	require.NoError(t, err)

	fromNative, err := native.Seal("from a laptop")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fromNative, "sb1:"))
	fromBrowser, err := browser.Seal("from a browser")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fromBrowser, "xc1:"))

	plain, err := browser.Open(fromNative)
	require.NoError(t, err)
	assert.Equal(t, "from a laptop", plain)

	plain, err = native.Open(fromBrowser)
	require.NoError(t, err)
	assert.Equal(t, "from a browser", plain)

	other, err := DeriveKey("WXYZ")
	require.NoError(t, err)
	stranger, err := newCipher(other, algSecretbox)
	require.NoError(t, err)
	_, err = stranger.Open(fromBrowser)
	assert.ErrorIs(t, err, ErrDecrypt)
}
