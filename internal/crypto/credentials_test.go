package crypto

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quantforge/tickstore/internal/domain"
	"github.com/quantforge/tickstore/internal/store/memory"
)

func TestSealOpenRoundTrip(t *testing.T) {
	sealer, err := NewSealer("correct horse battery staple", "v1")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	secrets := map[string]string{
		"api_key":    "key-123",
		"api_secret": "secret-456",
	}
	envelope, err := sealer.Seal(secrets)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	got, err := sealer.Open(envelope)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got["api_key"] != "key-123" || got["api_secret"] != "secret-456" {
		t.Fatalf("round trip = %v", got)
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealer, err := NewSealer("right", "v1")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	envelope, err := sealer.Seal(map[string]string{"api_key": "k"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	wrong, err := NewSealer("wrong", "v1")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	if _, err := wrong.Open(envelope); err == nil {
		t.Fatal("open succeeded with wrong passphrase")
	}
}

func TestEmptyPassphraseRejected(t *testing.T) {
	if _, err := NewSealer("", "v1"); err == nil {
		t.Fatal("empty passphrase accepted")
	}
}

func TestVaultStoreLoadDelete(t *testing.T) {
	ctx := context.Background()
	sealer, err := NewSealer("passphrase", "v2")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	store := memory.NewCredentialStore()
	vault := NewVault(sealer, store)

	secrets := map[string]string{"access_token": "tok"}
	if err := vault.Store(ctx, "zerodha", secrets); err != nil {
		t.Fatalf("store: %v", err)
	}

	// Plaintext never reaches the store.
	creds, err := store.Get(ctx, "zerodha")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if creds.KeyID != "v2" {
		t.Fatalf("key id = %s, want v2", creds.KeyID)
	}
	if string(creds.Ciphertext) == "" {
		t.Fatal("empty ciphertext stored")
	}
	for _, v := range secrets {
		if strings.Contains(string(creds.Ciphertext), v) {
			t.Fatal("plaintext secret visible in stored ciphertext")
		}
	}

	got, err := vault.Load(ctx, "zerodha")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got["access_token"] != "tok" {
		t.Fatalf("loaded = %v", got)
	}

	if err := vault.Delete(ctx, "zerodha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := vault.Load(ctx, "zerodha"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("load after delete: %v, want ErrNotFound", err)
	}
}
