package transform

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize     = 16
	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// aesGCMTransform seals payloads as salt || nonce || ciphertext. The key is
// derived from the passphrase with Argon2id under a fresh salt per payload.
type aesGCMTransform struct{ passphrase []byte }

// NewAESGCMTransform seals payloads under passphrase.
func NewAESGCMTransform(passphrase string) (Transform, error) {
	if passphrase == "" {
		return nil, errors.New("aesgcm: empty passphrase")
	}
	return &aesGCMTransform{passphrase: []byte(passphrase)}, nil
}

func (e *aesGCMTransform) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(e.passphrase, salt, argonTime, argonMemory, argonThreads, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aesgcm: %w", err)
	}
	return cipher.NewGCM(block)
}

func (e *aesGCMTransform) Apply(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("aesgcm seal: salt: %w", err)
	}
	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("aesgcm seal: nonce: %w", err)
	}
	out := append(salt, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

func (e *aesGCMTransform) Reverse(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < saltSize {
		return nil, errors.New("aesgcm open: ciphertext too short")
	}
	gcm, err := e.aead(ciphertext[:saltSize])
	if err != nil {
		return nil, err
	}
	body := ciphertext[saltSize:]
	n := gcm.NonceSize()
	if len(body) < n {
		return nil, errors.New("aesgcm open: ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, body[:n], body[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("aesgcm open: %w", err)
	}
	return plaintext, nil
}
