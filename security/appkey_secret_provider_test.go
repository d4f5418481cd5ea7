package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestAppKeySecretProvider_EncryptDecryptRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("delta-v1"), WithVersion(3))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte(`{"access_token":"APP-1","refresh_token":"TG-1"}`)
	encrypted, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(encrypted, []byte("TG-1")) {
		t.Fatalf("expected refresh token to be sealed")
	}
	if !IsSealed(encrypted) {
		t.Fatalf("expected envelope prefix")
	}
	meta, err := ParseEnvelopeMetadata(encrypted)
	if err != nil || meta.KeyID != "delta-v1" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithm {
		t.Fatalf("unexpected metadata %+v %v", meta, err)
	}

	decrypted, err := provider.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected roundtrip plaintext; got %q", string(decrypted))
	}
}

func TestAppKeySecretProvider_RejectsMetadataMismatch(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("delta-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	receiver, err := NewAppKeySecretProviderFromString("super-secret-test-key", WithKeyID("delta-v2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver provider: %v", err)
	}

	encrypted, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), encrypted); err == nil || !strings.Contains(err.Error(), "key mismatch") {
		t.Fatalf("expected key mismatch error, got %v", err)
	}
}

func TestAppKeySecretProvider_OpensWithPreviousKey(t *testing.T) {
	old, err := NewAppKeySecretProviderFromString("old-key", WithKeyID("delta"), WithVersion(1))
	if err != nil {
		t.Fatalf("old provider: %v", err)
	}
	sealed, err := old.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	rotated, err := NewAppKeySecretProviderFromString("new-key",
		WithKeyID("delta"), WithVersion(2),
		WithPreviousKey("delta", 1, []byte("old-key")))
	if err != nil {
		t.Fatalf("rotated provider: %v", err)
	}
	opened, err := rotated.Decrypt(context.Background(), sealed)
	if err != nil || string(opened) != "payload" {
		t.Fatalf("expected previous key to open payload, got %q %v", opened, err)
	}

	resealed, err := rotated.Encrypt(context.Background(), opened)
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	if meta, _ := ParseEnvelopeMetadata(resealed); meta.Version != 2 {
		t.Fatalf("expected new payloads under the current key, got %+v", meta)
	}
}

func TestAppKeySecretProvider_RejectsTamperedPayload(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("super-secret-test-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	cases := map[string][]byte{
		"empty":       nil,
		"no prefix":   []byte(`{"kid":"app-key","ver":1}`),
		"bad json":    []byte(envelopePrefix + "{"),
		"no payload":  []byte(envelopePrefix + `{"kid":"app-key","ver":1,"alg":"aes-256-gcm","nonce":"AAAA"}`),
		"bad nonce":   []byte(envelopePrefix + `{"kid":"app-key","ver":1,"alg":"aes-256-gcm","nonce":"AAAA","ciphertext":"AAAA"}`),
		"unknown alg": []byte(envelopePrefix + `{"kid":"app-key","ver":1,"alg":"rot13","nonce":"AAAA","ciphertext":"AAAA"}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := provider.Decrypt(context.Background(), payload); err == nil {
				t.Fatalf("expected decrypt to fail")
			}
		})
	}

	if _, err := NewAppKeySecretProvider([]byte("  ")); err == nil {
		t.Fatalf("expected empty key material to fail")
	}
	if _, err := provider.Encrypt(context.Background(), nil); err == nil {
		t.Fatalf("expected empty plaintext to fail")
	}
}
