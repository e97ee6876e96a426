package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptCredential("ed25519:3KyUuch8pYP47krBq4DosFEVBMR5wDTMQ8AThzM8kAEcBQEpsPdYTZ2FPX5ZnSoLrerjwg66hwwJaW1wHzprEWuV", "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptCredential(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	want := "ed25519:3KyUuch8pYP47krBq4DosFEVBMR5wDTMQ8AThzM8kAEcBQEpsPdYTZ2FPX5ZnSoLrerjwg66hwwJaW1wHzprEWuV"
	if got != want {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptCredential("secret", "correct")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptCredential(blob, "wrong"); err == nil {
		t.Error("expected decryption failure with wrong password")
	}
}

func TestEncryptEmptyInputs(t *testing.T) {
	if _, err := EncryptCredential("", "pw"); err == nil {
		t.Error("expected error for empty credential")
	}
	if _, err := EncryptCredential("secret", ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestLoadCredential(t *testing.T) {
	cred, err := LoadCredential("", "")
	if err != nil || cred != "" {
		t.Fatalf("empty path: got %q, %v; want empty, nil", cred, err)
	}

	blob, err := EncryptCredential("secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "credential.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cred, err = LoadCredential(path, "pw")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cred != "secret" {
		t.Errorf("got %q, want %q", cred, "secret")
	}
}
