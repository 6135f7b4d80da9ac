package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func randomKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewBox(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{name: "empty key", key: "", wantError: true, errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", wantError: true, errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), wantError: true, errorMsg: "must be 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), wantError: true, errorMsg: "must be 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBox(tt.key)
			if tt.wantError {
				if err == nil {
					t.Errorf("NewBox() expected error but got nil")
				} else if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewBox() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBox() unexpected error = %v", err)
			}
			if len(b.KeyID()) != 8 {
				t.Errorf("KeyID() = %q, want 8 hex chars", b.KeyID())
			}
		})
	}
}

func TestBoxRoundTrip(t *testing.T) {
	b, err := NewBox(randomKey(t))
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	for _, s := range []string{"a", "oauth:abcdef0123456789", strings.Repeat("x", 4096), "unicode ✓"} {
		sealed, err := b.Seal(s)
		if err != nil {
			t.Fatalf("Seal(%q): %v", s, err)
		}
		if sealed == s {
			t.Fatalf("Seal returned plaintext")
		}
		got, err := b.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if got != s {
			t.Errorf("round trip = %q, want %q", got, s)
		}
	}
}

func TestBoxEmptyStaysEmpty(t *testing.T) {
	b, _ := NewBox(randomKey(t))
	if s, err := b.Seal(""); err != nil || s != "" {
		t.Errorf("Seal(\"\") = %q, %v", s, err)
	}
	if s, err := b.Open(""); err != nil || s != "" {
		t.Errorf("Open(\"\") = %q, %v", s, err)
	}
}

func TestBoxNonceIsRandom(t *testing.T) {
	b, _ := NewBox(randomKey(t))
	a1, _ := b.Seal("same")
	a2, _ := b.Seal("same")
	if a1 == a2 {
		t.Error("two seals of the same value are identical")
	}
}

func TestBoxRejectsTampering(t *testing.T) {
	b, _ := NewBox(randomKey(t))
	sealed, _ := b.Seal("secret-token")
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff
	if _, err := b.Open(base64.StdEncoding.EncodeToString(raw)); err == nil {
		t.Error("tampered ciphertext opened")
	}
	if _, err := b.Open("!!!"); err == nil {
		t.Error("invalid base64 opened")
	}
	if _, err := b.Open(base64.StdEncoding.EncodeToString([]byte("short"))); err == nil {
		t.Error("short ciphertext opened")
	}

	other, _ := NewBox(randomKey(t))
	if _, err := other.Open(sealed); err == nil {
		t.Error("opened with the wrong key")
	}
}

func TestKeyringRotation(t *testing.T) {
	oldKey, newKey := randomKey(t), randomKey(t)

	oldRing, err := NewKeyring(oldKey)
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	sealed, oldID, err := oldRing.Seal("refresh-token")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	ring, err := NewKeyring(newKey, oldKey, "")
	if err != nil {
		t.Fatalf("NewKeyring with retired: %v", err)
	}
	if ring.CurrentKeyID() == oldID {
		t.Fatal("current key id should differ from retired key id")
	}
	got, err := ring.Open(sealed, oldID)
	if err != nil {
		t.Fatalf("Open with retired key: %v", err)
	}
	if got != "refresh-token" {
		t.Errorf("Open = %q", got)
	}

	_, err = ring.Open(sealed, "deadbeef")
	if !errors.Is(err, ErrUnknownKey) {
		t.Errorf("err = %v, want ErrUnknownKey", err)
	}

	if _, err := NewKeyring(newKey, "bogus"); err == nil {
		t.Error("expected error for invalid retired key")
	}
}
