package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

// Ciphertext layout versions, newest first. Older layouts remain decryptable
// so that rows written by previous releases keep working without a
// synchronized migration; a separate utility re-encrypts opportunistically.
const (
	VersionGCM = "v2" // salt || nonce || AES-256-GCM, per-ciphertext PBKDF2 key
	VersionCBC = "v1" // iv || AES-256-CBC, raw master key, unauthenticated
)

const (
	minKeyBytes     = 32
	saltSize        = 16
	pbkdf2Iters     = 4096
	gcmPrefix       = VersionGCM + ":"
	cbcBlockSize    = 16
	derivedKeyBytes = 32
)

// CredentialError reports unusable key material. It is the only error the
// vault ever returns; decrypt failures surface as empty output instead.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return "credential vault: " + e.Reason
}

// Vault encrypts and decrypts exchange credentials.
type Vault struct {
	masterKey []byte
}

// NewVault builds a vault from the base64 master key in the environment.
func NewVault() (*Vault, error) {
	return NewVaultWithKey(GetConfig().ExchangeCRKey)
}

// NewVaultWithKey builds a vault from an explicit base64 master key.
func NewVaultWithKey(encodedKey string) (*Vault, error) {
	if encodedKey == "" {
		return nil, &CredentialError{Reason: "master key is not set"}
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, &CredentialError{Reason: "master key is not valid base64"}
	}
	if len(key) < minKeyBytes {
		return nil, &CredentialError{Reason: fmt.Sprintf("master key too short: %d bytes, need %d", len(key), minKeyBytes)}
	}
	return &Vault{masterKey: key}, nil
}

// Encrypt produces a current-layout ciphertext. Empty input stays empty so
// optional fields (passphrase) round-trip without special casing.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	payload := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)

	return gcmPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt tries each known ciphertext layout in a fixed order and returns the
// plaintext plus the version that succeeded. Total failure returns ("", "")
// and never an error, so callers must branch on emptiness.
func (v *Vault) Decrypt(ciphertext string) (string, string) {
	if ciphertext == "" {
		return "", ""
	}

	if plain, err := v.decryptGCM(ciphertext); err == nil {
		return plain, VersionGCM
	}

	if plain, err := v.decryptCBC(ciphertext); err == nil {
		return plain, VersionCBC
	}

	logger.WithField("component", "vault").
		Warn("Ciphertext did not match any known layout")
	return "", ""
}

// DecryptString is the plain-signature variant for call sites that don't
// care which layout matched.
func (v *Vault) DecryptString(ciphertext string) string {
	plain, _ := v.Decrypt(ciphertext)
	return plain
}

func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(v.masterKey, salt, pbkdf2Iters, derivedKeyBytes, sha256.New)
}

func (v *Vault) decryptGCM(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, gcmPrefix) {
		return "", errors.New("missing version prefix")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, gcmPrefix))
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(raw) < saltSize {
		return "", errors.New("payload too short")
	}

	salt, rest := raw[:saltSize], raw[saltSize:]

	block, err := aes.NewCipher(v.deriveKey(salt))
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("payload too short")
	}

	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("gcm open: %w", err)
	}
	return string(plain), nil
}

func (v *Vault) decryptCBC(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(raw) < cbcBlockSize*2 || len(raw)%cbcBlockSize != 0 {
		return "", errors.New("invalid cbc payload length")
	}

	block, err := aes.NewCipher(v.masterKey[:derivedKeyBytes])
	if err != nil {
		return "", err
	}

	iv, body := raw[:cbcBlockSize], raw[cbcBlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	return stripPKCS7(plain)
}

func stripPKCS7(data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty padded payload")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > cbcBlockSize || pad > len(data) {
		return "", errors.New("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return "", errors.New("invalid padding")
		}
	}
	return string(data[:len(data)-pad]), nil
}

// MaskKey hides all but the last 4 characters of a key for logging.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
