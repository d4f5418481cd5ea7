package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// CredentialCodec turns a credential into the payload a store writes and
// back.
type CredentialCodec interface {
	Encode(cred Credential) ([]byte, error)
	Decode(payload []byte) (Credential, error)
}

// JSONCredentialCodec writes the tokens.json layout: access_token,
// refresh_token and expires_at as unix seconds.
type JSONCredentialCodec struct{}

type jsonCredentialPayload struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    float64 `json:"expires_at"`
	TokenType    string  `json:"token_type,omitempty"`
	Scope        string  `json:"scope,omitempty"`
	UserID       string  `json:"user_id,omitempty"`
}

func (JSONCredentialCodec) Encode(cred Credential) ([]byte, error) {
	payload := jsonCredentialPayload{
		AccessToken:  strings.TrimSpace(cred.AccessToken),
		RefreshToken: strings.TrimSpace(cred.RefreshToken),
		TokenType:    strings.TrimSpace(cred.TokenType),
		Scope:        strings.TrimSpace(cred.Scope),
		UserID:       strings.TrimSpace(cred.UserID),
	}
	if !cred.ExpiresAt.IsZero() {
		payload.ExpiresAt = float64(cred.ExpiresAt.UnixNano()) / float64(time.Second)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (Credential, error) {
	if len(payload) == 0 {
		return Credential{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Credential{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	cred := Credential{
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		Scope:        strings.TrimSpace(decoded.Scope),
		UserID:       strings.TrimSpace(decoded.UserID),
	}
	if decoded.ExpiresAt > 0 {
		seconds, fraction := math.Modf(decoded.ExpiresAt)
		cred.ExpiresAt = time.Unix(int64(seconds), int64(fraction*float64(time.Second))).UTC()
	}
	return cred, nil
}

type MemoryTokenStore struct {
	mu    sync.RWMutex
	cred  *Credential
	saves int
}

func NewMemoryTokenStore(initial *Credential) *MemoryTokenStore {
	store := &MemoryTokenStore{}
	if initial != nil {
		copied := *initial
		store.cred = &copied
	}
	return store
}

func (s *MemoryTokenStore) Load(context.Context) (*Credential, error) {
	if s == nil {
		return nil, fmt.Errorf("core: token store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cred == nil {
		return nil, nil
	}
	copied := *s.cred
	return &copied, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, cred Credential) error {
	if s == nil {
		return fmt.Errorf("core: token store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := cred
	s.cred = &copied
	s.saves++
	return nil
}

func (s *MemoryTokenStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

var (
	_ CredentialCodec = JSONCredentialCodec{}
	_ TokenStore      = (*MemoryTokenStore)(nil)
)
