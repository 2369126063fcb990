package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func newKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func newEncryptor(t *testing.T) *AESEncryptor {
	t.Helper()
	enc, err := NewAESEncryptor(newKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{"empty key", "", "encryption key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "base64 decode failed"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "must be 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "must be 32 bytes"},
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(make([]byte, 32)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.errorMsg == "" {
				if err != nil || enc == nil {
					t.Fatalf("NewAESEncryptor() = %v, %v", enc, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestEncryptString_RoundTrip(t *testing.T) {
	enc := newEncryptor(t)
	for _, in := range []string{"ya29.a0Af", "1//0refresh-token", strings.Repeat("x", 4096), "ünïcødé"} {
		ct, err := EncryptString(enc, in)
		if err != nil {
			t.Fatalf("EncryptString: %v", err)
		}
		if ct == in {
			t.Fatalf("ciphertext equals plaintext")
		}
		out, err := DecryptString(enc, ct)
		if err != nil {
			t.Fatalf("DecryptString: %v", err)
		}
		if out != in {
			t.Errorf("round trip = %q, want %q", out, in)
		}
	}
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	enc := newEncryptor(t)
	a, _ := EncryptString(enc, "same")
	b, _ := EncryptString(enc, "same")
	if a == b {
		t.Errorf("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestDecrypt_Rejects(t *testing.T) {
	enc := newEncryptor(t)
	other := newEncryptor(t)
	sealed, err := enc.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff

	if _, err := enc.Decrypt(nil); err == nil {
		t.Error("empty ciphertext accepted")
	}
	if _, err := enc.Decrypt(sealed[:5]); err == nil {
		t.Error("short ciphertext accepted")
	}
	if _, err := enc.Decrypt(tampered); err != ErrAuthFailed {
		t.Errorf("tampered ciphertext: err = %v, want ErrAuthFailed", err)
	}
	if _, err := other.Decrypt(sealed); err != ErrAuthFailed {
		t.Errorf("wrong key: err = %v, want ErrAuthFailed", err)
	}
	if _, err := DecryptString(enc, "%%%"); err == nil {
		t.Error("invalid base64 accepted")
	}
}

func TestEmptyValues(t *testing.T) {
	enc := newEncryptor(t)
	if _, err := enc.Encrypt(nil); err == nil {
		t.Error("empty plaintext accepted by Encrypt")
	}
	if s, err := EncryptString(enc, ""); s != "" || err != nil {
		t.Errorf("EncryptString(\"\") = %q, %v", s, err)
	}
	if s, err := DecryptString(enc, ""); s != "" || err != nil {
		t.Errorf("DecryptString(\"\") = %q, %v", s, err)
	}
}
