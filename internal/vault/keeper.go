package vault

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/skeinhq/skein/internal/store"
)

// refPrefix marks a string input value as a secret reference. The value
// after the prefix is the secret name.
const refPrefix = "secret:"

// SecretStore is the persistence the keeper needs. *store.Store satisfies it.
type SecretStore interface {
	SaveSecret(sec *store.Secret) error
	GetSecret(name string) (*store.Secret, error)
	DeleteSecret(name string) error
}

// Keeper pairs a vault with a secret store: plaintext in, ciphertext at
// rest, plaintext back out only at the expansion boundary.
type Keeper struct {
	vault *Vault
	store SecretStore
}

func NewKeeper(v *Vault, s SecretStore) *Keeper {
	return &Keeper{vault: v, store: s}
}

// Set encrypts and stores a named secret.
func (k *Keeper) Set(name, plaintext string) error {
	ct, nonce, err := k.vault.Encrypt([]byte(plaintext))
	if err != nil {
		return fmt.Errorf("encrypt secret %s: %w", name, err)
	}
	return k.store.SaveSecret(&store.Secret{Name: name, Value: ct, Nonce: nonce})
}

// Get decrypts a named secret. Missing secrets are an error here: the
// caller asked for it by name.
func (k *Keeper) Get(name string) (string, error) {
	sec, err := k.store.GetSecret(name)
	if err != nil {
		return "", err
	}
	if sec == nil {
		return "", fmt.Errorf("secret %s not found", name)
	}
	pt, err := k.vault.Decrypt(sec.Value, sec.Nonce)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %s: %w", name, err)
	}
	return string(pt), nil
}

func (k *Keeper) Delete(name string) error {
	return k.store.DeleteSecret(name)
}

// Expand rewrites an input map, replacing "secret:<name>" string values
// with the decrypted secret. Nested maps are expanded recursively. An
// unresolvable reference is logged and passed through unchanged rather
// than failing the execution.
func (k *Keeper) Expand(input map[string]any) map[string]any {
	if len(input) == 0 {
		return input
	}
	out := make(map[string]any, len(input))
	for key, val := range input {
		out[key] = k.expandValue(key, val)
	}
	return out
}

func (k *Keeper) expandValue(key string, val any) any {
	switch v := val.(type) {
	case string:
		name, ok := strings.CutPrefix(v, refPrefix)
		if !ok || name == "" {
			return v
		}
		pt, err := k.Get(name)
		if err != nil {
			slog.Warn("secret expansion failed", "key", key, "secret", name, "error", err)
			return v
		}
		return pt
	case map[string]any:
		return k.Expand(v)
	default:
		return val
	}
}
