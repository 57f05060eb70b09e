package vault

import (
	"bytes"
	"testing"
)

func TestEncryptDecrypt(t *testing.T) {
	v := New("orchestrator-passphrase")

	for _, plaintext := range [][]byte{
		[]byte("api-token-12345"),
		[]byte(""),
		bytes.Repeat([]byte("x"), 4096),
	} {
		ciphertext, nonce, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if bytes.Contains(ciphertext, plaintext) && len(plaintext) > 0 {
			t.Fatal("ciphertext contains plaintext")
		}

		got, err := v.Decrypt(ciphertext, nonce)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip: got %d bytes, want %d", len(got), len(plaintext))
		}
	}
}

func TestKeyDerivationIsDeterministic(t *testing.T) {
	v1 := New("same-passphrase")
	v2 := New("same-passphrase")

	ciphertext, nonce, err := v1.Encrypt([]byte("survives restart"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	// A vault rebuilt from the same passphrase must open old ciphertexts.
	got, err := v2.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt with rebuilt vault: %v", err)
	}
	if string(got) != "survives restart" {
		t.Fatalf("got %q", got)
	}
}

func TestWrongPassphraseFailsToDecrypt(t *testing.T) {
	ciphertext, nonce, err := New("right").Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := New("wrong").Decrypt(ciphertext, nonce); err == nil {
		t.Fatal("expected decrypt failure with wrong passphrase")
	}
}

func TestTamperedCiphertextRejected(t *testing.T) {
	v := New("p")
	ciphertext, nonce, err := v.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ciphertext[0] ^= 0xff
	if _, err := v.Decrypt(ciphertext, nonce); err == nil {
		t.Fatal("expected decrypt failure on tampered ciphertext")
	}
}
