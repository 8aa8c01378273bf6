package security

import (
	"bytes"
	"errors"
	"testing"
)

func TestNewBox(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := NewBox(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewBox() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && box == nil {
				t.Error("NewBox() returned nil without error")
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBoxFromPassphrase("local-test-passphrase")
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte(`{"user":"u","facts":[{"key":"prefers_concise","value":"true"}]}`)
	ciphertext, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if bytes.Contains(ciphertext, []byte("prefers_concise")) {
		t.Error("ciphertext leaks plaintext")
	}

	got, err := box.Open(ciphertext)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	box1, _ := NewBoxFromPassphrase("key-one")
	box2, _ := NewBoxFromPassphrase("key-two")

	ciphertext, err := box1.Seal([]byte("secret payload"))
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := box2.Open(ciphertext)
	if !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Open() error = %v, want ErrDecryptFailed", err)
	}
	if plaintext != nil {
		t.Error("Open() must not emit plaintext on key mismatch")
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	box, _ := NewBoxFromPassphrase("key")
	ciphertext, err := box.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff

	if _, err := box.Open(ciphertext); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Open() on tampered data = %v, want ErrDecryptFailed", err)
	}
}

func TestSealStringRoundTrip(t *testing.T) {
	box, _ := NewBoxFromPassphrase("key")
	sealed, err := box.SealString("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := box.OpenString(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hunter2" {
		t.Errorf("OpenString() = %q, want %q", got, "hunter2")
	}
}
