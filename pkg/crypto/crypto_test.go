package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.NotEqual(t, "secret", hash)

	assert.True(t, VerifyPassword("secret", hash))
	assert.False(t, VerifyPassword("wrong", hash))
	assert.False(t, VerifyPassword("secret", "not-a-hash"))
}

func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")

	ciphertext, err := Encrypt(key, []byte("mqtt-broker-password"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("mqtt-broker-password"), ciphertext)

	plaintext, err := Decrypt(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("mqtt-broker-password"), plaintext)

	// tampering breaks authentication
	ciphertext[len(ciphertext)-1] ^= 0xFF
	_, err = Decrypt(key, ciphertext)
	assert.Error(t, err)
}
