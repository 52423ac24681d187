package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnv holds the base64 AES-256 key for encrypted secrets
const EncryptionKeyEnv = "FBA_ENCRYPTION_KEY"

// GetEncryptionKey reads and decodes the 32-byte key from FBA_ENCRYPTION_KEY
func GetEncryptionKey() ([]byte, error) {
	raw := os.Getenv(EncryptionKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s environment variable not set", EncryptionKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s from base64: %w", EncryptionKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key length: got %d bytes, expected 32 for AES-256", len(key))
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: got %d bytes, expected 32", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptString seals plaintext with AES-256-GCM and returns base64 of
// nonce followed by ciphertext.
func EncryptString(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString
func DecryptString(encoded string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("encrypted value is not base64: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", errors.New("encrypted data too short - missing nonce")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}
