package crypto

import (
	"errors"
	"testing"
)

func TestEncryptor_RoundTrip(t *testing.T) {
	e := NewEncryptor("passphrase")

	ciphertext, err := e.Encrypt("sk-secret-value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ciphertext == "sk-secret-value" {
		t.Error("expected ciphertext to differ from plaintext")
	}

	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plaintext != "sk-secret-value" {
		t.Errorf("expected round trip, got %q", plaintext)
	}
}

func TestEncryptor_UniqueNonces(t *testing.T) {
	e := NewEncryptor("passphrase")

	c1, _ := e.Encrypt("same value")
	c2, _ := e.Encrypt("same value")

	if c1 == c2 {
		t.Error("expected distinct ciphertexts for the same plaintext")
	}
}

func TestEncryptor_WrongKeyFails(t *testing.T) {
	ciphertext, _ := NewEncryptor("right key").Encrypt("secret")

	if _, err := NewEncryptor("wrong key").Decrypt(ciphertext); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}

func TestEncryptor_GarbageCiphertext(t *testing.T) {
	e := NewEncryptor("passphrase")

	for _, input := range []string{"", "not base64!!", "c2hvcnQ="} {
		if _, err := e.Decrypt(input); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("input %q: expected ErrInvalidCiphertext, got %v", input, err)
		}
	}
}
