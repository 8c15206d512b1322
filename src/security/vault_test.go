package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(key)
}

func TestVaultRoundTrip(t *testing.T) {
	vault, err := NewVaultWithKey(testKey(t))
	require.NoError(t, err)

	for _, plaintext := range []string{"a", "my-api-key", "pass phrase with spaces", "0123456789abcdef0123456789abcdef"} {
		encrypted, err := vault.Encrypt(plaintext)
		require.NoError(t, err)
		require.NotEqual(t, plaintext, encrypted)

		plain, version := vault.Decrypt(encrypted)
		require.Equal(t, plaintext, plain)
		require.Equal(t, VersionGCM, version)
	}
}

func TestVaultEmptyInput(t *testing.T) {
	vault, err := NewVaultWithKey(testKey(t))
	require.NoError(t, err)

	encrypted, err := vault.Encrypt("")
	require.NoError(t, err)
	require.Empty(t, encrypted)

	plain, version := vault.Decrypt("")
	require.Empty(t, plain)
	require.Empty(t, version)
}

func TestVaultMalformedInputNeverPanics(t *testing.T) {
	vault, err := NewVaultWithKey(testKey(t))
	require.NoError(t, err)

	for _, ciphertext := range []string{
		"not base64 at all!!!",
		"v2:not-base64!!!",
		"v2:" + base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString([]byte("also way too short")),
	} {
		plain, version := vault.Decrypt(ciphertext)
		require.Empty(t, plain, "ciphertext %q", ciphertext)
		require.Empty(t, version)
	}
}

func TestVaultRejectsBadKeys(t *testing.T) {
	_, err := NewVaultWithKey("")
	var credErr *CredentialError
	require.ErrorAs(t, err, &credErr)

	_, err = NewVaultWithKey(base64.StdEncoding.EncodeToString([]byte("too short")))
	require.ErrorAs(t, err, &credErr)

	_, err = NewVaultWithKey("%%%not-base64%%%")
	require.ErrorAs(t, err, &credErr)
}

// Rows written by the pre-GCM release use iv||CBC with the raw master key.
// They must stay readable through the ordered fallback.
func TestVaultDecryptsLegacyCBC(t *testing.T) {
	encodedKey := testKey(t)
	vault, err := NewVaultWithKey(encodedKey)
	require.NoError(t, err)

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	require.NoError(t, err)

	plaintext := "legacy-secret"
	legacy := encryptLegacyCBC(t, key[:32], plaintext)

	plain, version := vault.Decrypt(legacy)
	require.Equal(t, plaintext, plain)
	require.Equal(t, VersionCBC, version)
}

func TestVaultTamperedGCMFails(t *testing.T) {
	vault, err := NewVaultWithKey(testKey(t))
	require.NoError(t, err)

	encrypted, err := vault.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encrypted[len("v2:"):])
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := "v2:" + base64.StdEncoding.EncodeToString(raw)

	plain, version := vault.Decrypt(tampered)
	require.Empty(t, plain)
	require.Empty(t, version)
}

func TestMaskKey(t *testing.T) {
	require.Equal(t, "**********cdef", MaskKey("0123456789cdef"))
	require.Equal(t, "***", MaskKey("abc"))
	require.Equal(t, "", MaskKey(""))
}

func encryptLegacyCBC(t *testing.T, key []byte, plaintext string) string {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), make([]byte, pad)...)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	iv := make([]byte, aes.BlockSize)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(append(iv, out...))
}
