// Package crypto seals broker credentials at rest with passphrase-derived
// AES-256-GCM. Only sealed ciphertext ever reaches the credential store.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/quantforge/tickstore/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// saltLen is the random salt length in bytes.
	saltLen = 16
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// currentVersion is the sealed-credentials envelope schema version.
	currentVersion = 1
)

// sealedJSON is the stored envelope for sealed credentials.
type sealedJSON struct {
	Version    int    `json:"version"`
	KeyID      string `json:"key_id"`
	Salt       string `json:"salt"`       // base64 standard encoding
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

// Sealer encrypts and decrypts credential secrets with a passphrase. KeyID
// names the passphrase generation so envelopes sealed under a rotated
// passphrase are distinguishable.
type Sealer struct {
	passphrase string
	keyID      string
}

// NewSealer creates a Sealer. keyID defaults to "v1".
func NewSealer(passphrase, keyID string) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}
	if keyID == "" {
		keyID = "v1"
	}
	return &Sealer{passphrase: passphrase, keyID: keyID}, nil
}

// KeyID returns the sealer's key generation name.
func (s *Sealer) KeyID() string { return s.keyID }

// Seal encrypts a secret map (api_key, api_secret, access_token and similar
// fields) into a self-describing envelope.
func (s *Sealer) Seal(secrets map[string]string) ([]byte, error) {
	plaintext, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal secrets: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(s.passphrase), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := sealedJSON{
		Version:    currentVersion,
		KeyID:      s.keyID,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}
	return json.Marshal(out)
}

// Open decrypts an envelope produced by Seal.
func (s *Sealer) Open(envelope []byte) (map[string]string, error) {
	var stored sealedJSON
	if err := json.Unmarshal(envelope, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed envelope: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported envelope version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	derivedKey := pbkdf2.Key([]byte(s.passphrase), salt, pbkdf2Iterations, aesKeyLen, sha256.New)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}

	var secrets map[string]string
	if err := json.Unmarshal(plaintext, &secrets); err != nil {
		return nil, fmt.Errorf("crypto: unmarshal secrets: %w", err)
	}
	return secrets, nil
}

// Vault stores sealed broker credentials through a domain.CredentialStore.
type Vault struct {
	sealer *Sealer
	store  domain.CredentialStore
}

// NewVault creates a Vault.
func NewVault(sealer *Sealer, store domain.CredentialStore) *Vault {
	return &Vault{sealer: sealer, store: store}
}

// Store seals secrets and persists them for broker.
func (v *Vault) Store(ctx context.Context, broker string, secrets map[string]string) error {
	envelope, err := v.sealer.Seal(secrets)
	if err != nil {
		return err
	}
	creds := domain.BrokerCredentials{
		Broker:     broker,
		Ciphertext: envelope,
		KeyID:      v.sealer.KeyID(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := v.store.Put(ctx, creds); err != nil {
		return fmt.Errorf("crypto: store credentials %s: %w", broker, err)
	}
	return nil
}

// Load retrieves and unseals the secrets for broker.
func (v *Vault) Load(ctx context.Context, broker string) (map[string]string, error) {
	creds, err := v.store.Get(ctx, broker)
	if err != nil {
		return nil, fmt.Errorf("crypto: load credentials %s: %w", broker, err)
	}
	return v.sealer.Open(creds.Ciphertext)
}

// Delete removes the stored credentials for broker.
func (v *Vault) Delete(ctx context.Context, broker string) error {
	return v.store.Delete(ctx, broker)
}
