package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreLazyDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := NewFileStore(path)

	cred, err := store.OAuthCredential("Google")
	if err != nil {
		t.Fatalf("read oauth credential: %v", err)
	}
	if cred.ClientID != "" || cred.AccessToken != "" {
		t.Fatalf("expected blank default record, got %+v", cred)
	}

	// The read must have materialized the record on disk.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file not created: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat store: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("store perms = %o, want 600", perm)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := NewFileStore(path)

	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := OAuthCredential{
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "r1",
		AccessToken:  "tok1",
		TokenExpiry:  expiry,
	}
	if err := store.PutOAuthCredential("Google", want); err != nil {
		t.Fatalf("put oauth credential: %v", err)
	}

	// Re-open to prove the round trip goes through disk.
	reopened := NewFileStore(path)
	got, err := reopened.OAuthCredential("Google")
	if err != nil {
		t.Fatalf("read oauth credential: %v", err)
	}
	if got != want {
		t.Fatalf("credential mismatch: got %+v want %+v", got, want)
	}
}

func TestFileStoreIsolatesRoots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := NewFileStore(path)

	if err := store.PutOAuthCredential("A", OAuthCredential{ClientID: "a"}); err != nil {
		t.Fatalf("put A: %v", err)
	}
	if err := store.PutOAuthCredential("B", OAuthCredential{ClientID: "b"}); err != nil {
		t.Fatalf("put B: %v", err)
	}

	a, _ := store.OAuthCredential("A")
	b, _ := store.OAuthCredential("B")
	if a.ClientID != "a" || b.ClientID != "b" {
		t.Fatalf("roots leaked into each other: a=%q b=%q", a.ClientID, b.ClientID)
	}
}

func TestFileStoreModeFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := NewFileStore(path)

	use, err := store.UseServiceAccount("Google")
	if err != nil {
		t.Fatalf("read mode: %v", err)
	}
	if use {
		t.Fatal("default mode should be oauth client")
	}

	if err := store.SetUseServiceAccount("Google", true); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	use, err = store.UseServiceAccount("Google")
	if err != nil {
		t.Fatalf("re-read mode: %v", err)
	}
	if !use {
		t.Fatal("mode flag did not persist")
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 32 {
		t.Fatalf("id length = %d, want 32 hex chars", len(a))
	}
	if a == b {
		t.Fatal("ids must not repeat")
	}
}
