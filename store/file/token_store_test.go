package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juanbarco92/delta/core"
)

func TestTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store, err := NewTokenStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	loaded, err := store.Load(context.Background())
	if err != nil || loaded != nil {
		t.Fatalf("expected empty store to load nil, got %+v %v", loaded, err)
	}

	expiresAt := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	cred := core.Credential{AccessToken: "APP-1", RefreshToken: "TG-1", ExpiresAt: expiresAt, UserID: "77"}
	if err := store.Save(context.Background(), cred); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err = store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.AccessToken != "APP-1" || loaded.RefreshToken != "TG-1" || !loaded.ExpiresAt.Equal(expiresAt) || loaded.UserID != "77" {
		t.Fatalf("unexpected credential %+v", loaded)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, got %d entries", len(entries))
	}
}

func TestTokenStoreReadsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	legacy := `{"access_token": "APP-1", "refresh_token": "TG-1", "expires_at": 1767225600.5}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, _ := NewTokenStore(path)

	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ExpiresAt.Unix() != 1767225600 || loaded.ExpiresAt.Nanosecond() != 500000000 {
		t.Fatalf("unexpected expiry %s", loaded.ExpiresAt)
	}
}

func TestTokenStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, _ := NewTokenStore(path)

	_, err := store.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "tokens.json") {
		t.Fatalf("expected decode error naming the file, got %v", err)
	}
}

func TestNewTokenStoreRequiresPath(t *testing.T) {
	if _, err := NewTokenStore(" "); err == nil {
		t.Fatalf("expected empty path to fail")
	}
}
