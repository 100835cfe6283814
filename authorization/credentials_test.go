package authorization

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func testKeyCipher(t *testing.T) *KeyCipher {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := NewKeyCipher(key)
	if err != nil {
		t.Fatalf("NewKeyCipher returned error: %v", err)
	}
	return cipher
}

func TestKeyCipherRoundTrip(t *testing.T) {
	cipher := testKeyCipher(t)

	ciphertext, nonce, err := cipher.Encrypt("r8_secret_token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("r8_secret_token")) {
		t.Fatal("ciphertext contains the plaintext")
	}

	plaintext, err := cipher.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("Decrypt returned error: %v", err)
	}
	if plaintext != "r8_secret_token" {
		t.Fatalf("Decrypt = %q, want %q", plaintext, "r8_secret_token")
	}
}

func TestKeyCipherUniqueNonces(t *testing.T) {
	cipher := testKeyCipher(t)

	_, first, err := cipher.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	_, second, err := cipher.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two encryptions reused the same nonce")
	}
}

func TestKeyCipherRejectsTamperedCiphertext(t *testing.T) {
	cipher := testKeyCipher(t)

	ciphertext, nonce, err := cipher.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	ciphertext[0] ^= 0xff
	if _, err := cipher.Decrypt(ciphertext, nonce); err == nil {
		t.Fatal("Decrypt accepted tampered ciphertext")
	}
}

func TestKeyCipherRejectsWrongNonce(t *testing.T) {
	cipher := testKeyCipher(t)

	ciphertext, nonce, err := cipher.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt returned error: %v", err)
	}

	wrong := make([]byte, len(nonce))
	if _, err := cipher.Decrypt(ciphertext, wrong); err == nil {
		t.Fatal("Decrypt accepted a wrong nonce")
	}
}

func TestNewKeyCipherRejectsBadKeyLength(t *testing.T) {
	if _, err := NewKeyCipher(make([]byte, 31)); err == nil {
		t.Fatal("NewKeyCipher accepted a 31-byte key")
	}
}

func TestMaskAPIKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "typical token", in: "r8_abcdefghijklmnop", want: "r8_a****mnop"},
		{name: "short token", in: "r8_ab", want: "****"},
		{name: "boundary length", in: "12345678", want: "****"},
		{name: "empty", in: "", want: "****"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := maskAPIKey(tc.in); got != tc.want {
				t.Fatalf("maskAPIKey(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
