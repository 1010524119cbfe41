package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("passphrase-of-any-length")
	require.NoError(t, err)
	require.NotNil(t, c)

	plaintext := "EAABsbCS1234LongLivedToken"
	sealed, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)
	assert.NotContains(t, sealed, "LongLivedToken")

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestCipherNoncesDiffer(t *testing.T) {
	c, err := NewCipher("key")
	require.NoError(t, err)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipherWrongKey(t *testing.T) {
	c1, err := NewCipher("key-one")
	require.NoError(t, err)
	c2, err := NewCipher("key-two")
	require.NoError(t, err)

	sealed, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(sealed)
	assert.Error(t, err)
}

func TestNilCipherPassthrough(t *testing.T) {
	c, err := NewCipher("")
	require.NoError(t, err)
	require.Nil(t, c)

	sealed, err := c.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	opened, err := c.Decrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", opened)
}

func TestEmptyValuePassthrough(t *testing.T) {
	c, err := NewCipher("key")
	require.NoError(t, err)

	sealed, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", MaskToken(""))
	assert.Equal(t, "***", MaskToken("short"))

	masked := MaskToken("EAABsbCS123456789secretsuffix")
	assert.Equal(t, "EAABsbCS", masked[:8])
	assert.NotContains(t, masked, "secrets")
	assert.Contains(t, masked, "ffix")
}
