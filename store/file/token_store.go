// Package file keeps the single active credential in a local JSON file.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/juanbarco92/delta/core"
)

const filePerm os.FileMode = 0o600

type Option func(*TokenStore)

func WithCodec(codec core.CredentialCodec) Option {
	return func(s *TokenStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// TokenStore persists the credential at path. Writes go to a sibling temp
// file that is renamed over the target, so readers never see a torn file.
type TokenStore struct {
	path  string
	codec core.CredentialCodec
	mu    sync.Mutex
}

func NewTokenStore(path string, opts ...Option) (*TokenStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("file: token file path is required")
	}
	store := &TokenStore{path: path, codec: core.JSONCredentialCodec{}}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *TokenStore) Path() string { return s.path }

// Load returns (nil, nil) when the file does not exist yet.
func (s *TokenStore) Load(context.Context) (*core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read %s: %w", s.path, err)
	}
	if strings.TrimSpace(string(payload)) == "" {
		return nil, nil
	}
	cred, err := s.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("file: %s: %w", s.path, err)
	}
	return &cred, nil
}

func (s *TokenStore) Save(_ context.Context, cred core.Credential) error {
	payload, err := s.codec.Encode(cred)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("file: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file: replace %s: %w", s.path, err)
	}
	return nil
}

var _ core.TokenStore = (*TokenStore)(nil)
