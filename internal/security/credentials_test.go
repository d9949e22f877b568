package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptDecrypt_RoundTrips(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	ciphertext, err := box.EncryptString("super-secret-api-key")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret-api-key", string(ciphertext))

	plaintext, err := box.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-api-key", plaintext)
}

func TestEncrypt_NoncesAreUnique(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	c1, err := box.EncryptString("same-plaintext")
	require.NoError(t, err)
	c2, err := box.EncryptString("same-plaintext")
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2, "ciphertext must differ across calls due to random nonces")
}

func TestDecrypt_WrongKeyFails(t *testing.T) {
	boxA, err := NewBox(testKey)
	require.NoError(t, err)
	boxB, err := NewBox("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	ciphertext, err := boxA.EncryptString("top-secret")
	require.NoError(t, err)

	_, err = boxB.Decrypt(ciphertext)
	require.Error(t, err)
	var decErr *DecryptionError
	require.ErrorAs(t, err, &decErr)
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	box, err := NewBox(testKey)
	require.NoError(t, err)

	ciphertext, err := box.EncryptString("immutable")
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF

	_, err = box.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestNewBox_RejectsInvalidKeyLength(t *testing.T) {
	_, err := NewBox("too-short")
	require.Error(t, err)
}
