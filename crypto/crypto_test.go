package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	c, err := New(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNewRejectsBadKeys(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		errorMsg string
	}{
		{"empty key", "", "sealing key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "base64 decode failed"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "want 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "want 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key)
			if err == nil {
				t.Fatalf("New() expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("New() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}

	if _, err := New(base64.StdEncoding.EncodeToString(make([]byte, 32))); err != nil {
		t.Errorf("New() with valid 32-byte key: unexpected error %v", err)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := testCipher(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{"short string", "hello"},
		{"oauth token", "ya29.a0AfH6SMBx..."},
		{"long string", strings.Repeat("a", 1000)},
		{"unicode", "Hello 世界 🌍"},
		{"special characters", "!@#$%^&*()_+-={}[]|\\:;\"'<>,.?/~`"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Seal([]byte(tt.plaintext))
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if bytes.Equal(sealed, []byte(tt.plaintext)) {
				t.Errorf("Seal() returned plaintext unchanged")
			}
			opened, err := c.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if string(opened) != tt.plaintext {
				t.Errorf("Open() = %q, want %q", string(opened), tt.plaintext)
			}
		})
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte("same input twice")

	a, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Equal(a, b) {
		t.Errorf("Seal() produced identical output for same plaintext")
	}

	for _, sealed := range [][]byte{a, b} {
		opened, err := c.Open(sealed)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("Open() = %q, want %q", opened, plaintext)
		}
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	c := testCipher(t)

	tests := []struct {
		name     string
		sealed   []byte
		errorMsg string
	}{
		{"empty", []byte{}, "sealed value is empty"},
		{"shorter than nonce", []byte{1, 2, 3}, "too short"},
		{"garbage", make([]byte, 50), "integrity check"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Open(tt.sealed)
			if err == nil {
				t.Fatalf("Open() expected error but got nil")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Open() error = %v, want error containing %q", err, tt.errorMsg)
			}
		})
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	c := testCipher(t)
	sealed, err := c.Seal([]byte("sensitive data"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	sealed[len(sealed)/2] ^= 0x01
	if _, err := c.Open(sealed); err == nil {
		t.Errorf("Open() should fail for tampered input")
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	c1 := testCipher(t)
	c2 := testCipher(t)

	sealed, err := c1.Seal([]byte("secret message"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := c2.Open(sealed); err == nil {
		t.Errorf("Open() with wrong key should fail")
	}
}

func TestSealEmptyPlaintext(t *testing.T) {
	c := testCipher(t)
	if _, err := c.Seal(nil); err == nil {
		t.Errorf("Seal() with empty plaintext should return error")
	}
}

func TestStringHelpers(t *testing.T) {
	c := testCipher(t)

	t.Run("empty passthrough", func(t *testing.T) {
		out, err := c.SealString("")
		if err != nil || out != "" {
			t.Errorf("SealString(\"\") = %q, %v; want empty, nil", out, err)
		}
		out, err = c.OpenString("")
		if err != nil || out != "" {
			t.Errorf("OpenString(\"\") = %q, %v; want empty, nil", out, err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		const token = "refresh-token-67890"
		sealed, err := c.SealString(token)
		if err != nil {
			t.Fatalf("SealString() error = %v", err)
		}
		if _, err := base64.StdEncoding.DecodeString(sealed); err != nil {
			t.Errorf("SealString() result is not valid base64: %v", err)
		}
		opened, err := c.OpenString(sealed)
		if err != nil {
			t.Fatalf("OpenString() error = %v", err)
		}
		if opened != token {
			t.Errorf("OpenString() = %q, want %q", opened, token)
		}
	})

	t.Run("invalid base64", func(t *testing.T) {
		if _, err := c.OpenString("not-valid-base64!@#"); err == nil {
			t.Errorf("OpenString() with invalid base64 should return error")
		}
	})
}

func TestSealOverhead(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte("test")
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	// 12-byte nonce plus 16-byte GCM tag.
	if got := len(sealed) - len(plaintext); got != 28 {
		t.Errorf("seal overhead = %d bytes, want 28", got)
	}
}
