package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100000
	keyLength        = 32
	pbkdf2Salt       = "upbit_trading_bot_salt"
)

// DecryptError indicates an encrypted blob failed to decrypt, typically
// because it was sealed with a different password.
type DecryptError struct {
	Reason string
}

func (e *DecryptError) Error() string {
	return "failed to decrypt credentials: " + e.Reason
}

// Blob is the encrypted form of an access_key/secret_key pair, suitable for
// storage in an opaque KV store.
type Blob struct {
	EncryptedAccessKey string `json:"encrypted_access_key"`
	EncryptedSecretKey string `json:"encrypted_secret_key"`
}

// Credentials is the decrypted access_key/secret_key pair.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// Manager derives an AES-GCM key from a password via PBKDF2-HMAC-SHA256 and
// uses it to seal/open credential blobs. Each call to Encrypt uses a fresh
// nonce, so repeated encryption of the same plaintext never produces the
// same ciphertext.
type Manager struct {
	gcm cipher.AEAD
}

// NewManager derives the encryption key from password. An empty password
// falls back to a fixed development default, matching the original's
// CREDENTIAL_PASSWORD environment fallback.
func NewManager(password string) (*Manager, error) {
	if password == "" {
		password = "default_password"
	}

	key := pbkdf2.Key([]byte(password), []byte(pbkdf2Salt), pbkdf2Iterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("build gcm: %w", err)
	}

	return &Manager{gcm: gcm}, nil
}

// Encrypt seals access_key and secret_key into a Blob.
func (m *Manager) Encrypt(accessKey, secretKey string) (Blob, error) {
	encAccess, err := m.seal(accessKey)
	if err != nil {
		return Blob{}, err
	}
	encSecret, err := m.seal(secretKey)
	if err != nil {
		return Blob{}, err
	}
	return Blob{EncryptedAccessKey: encAccess, EncryptedSecretKey: encSecret}, nil
}

// Decrypt opens a Blob back into Credentials. A wrong password or corrupted
// blob returns a *DecryptError, never a partially-decrypted result.
func (m *Manager) Decrypt(blob Blob) (Credentials, error) {
	accessKey, err := m.open(blob.EncryptedAccessKey)
	if err != nil {
		return Credentials{}, &DecryptError{Reason: err.Error()}
	}
	secretKey, err := m.open(blob.EncryptedSecretKey)
	if err != nil {
		return Credentials{}, &DecryptError{Reason: err.Error()}
	}
	return Credentials{AccessKey: accessKey, SecretKey: secretKey}, nil
}

func (m *Manager) seal(plaintext string) (string, error) {
	nonce := make([]byte, m.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := m.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *Manager) open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	nonceSize := m.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := m.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open failed: %w", err)
	}
	return string(plaintext), nil
}
