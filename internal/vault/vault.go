// Package vault encrypts secret skill inputs at rest and expands
// secret references before handler invocation.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = 32
)

// Vault seals and opens secret values with AES-256-GCM under a
// passphrase-derived key.
type Vault struct {
	key [keyLen]byte
}

// New derives the vault key from the passphrase with Argon2id. The salt is
// SHA-256 of the passphrase itself, so the same passphrase yields the same
// key across restarts and stored ciphertexts stay readable.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	derived := argon2.IDKey([]byte(passphrase), salt[:16], argonTime, argonMemory, argonThreads, keyLen)

	v := &Vault{}
	copy(v.key[:], derived)
	return v
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with a fresh random nonce. The nonce is returned
// alongside the ciphertext and must be stored with it.
func (v *Vault) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens ciphertext sealed by Encrypt. Fails if the key is wrong or
// the ciphertext was tampered with.
func (v *Vault) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
