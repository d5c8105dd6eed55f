package vault

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/aegis-mobile/synccore/pkg/crypto"
)

const defaultSaltLength = 16

// Crypto seals and opens local-store payloads with an AES-256-GCM key
// derived from the device key via Argon2id.
type Crypto struct {
	key    []byte
	salt   []byte
	params crypto.Argon2Parameters
}

type cryptoConfig struct {
	params crypto.Argon2Parameters
	salt   []byte
}

// Option configures the vault crypto helper.
type Option func(*cryptoConfig)

// WithSalt overrides the salt used for Argon2 key derivation.
func WithSalt(salt []byte) Option {
	cp := make([]byte, len(salt))
	copy(cp, salt)
	return func(cfg *cryptoConfig) {
		cfg.salt = cp
	}
}

// WithArgon2Parameters overrides the Argon2 cost parameters.
func WithArgon2Parameters(params crypto.Argon2Parameters) Option {
	return func(cfg *cryptoConfig) {
		cfg.params = params
	}
}

// NewCrypto derives the sealing key from the device key.
func NewCrypto(deviceKey []byte, opts ...Option) (*Crypto, error) {
	if len(deviceKey) == 0 {
		return nil, errors.New("vault crypto: device key is required")
	}

	cfg := cryptoConfig{
		params: crypto.DefaultArgon2Params(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.salt) == 0 {
		cfg.salt = deriveSalt(deviceKey)
	} else if len(cfg.salt) < defaultSaltLength {
		return nil, fmt.Errorf("vault crypto: salt must be at least %d bytes (got %d)", defaultSaltLength, len(cfg.salt))
	}

	derived, err := crypto.DeriveKeyArgon2id(deviceKey, cfg.salt, cfg.params)
	if err != nil {
		return nil, fmt.Errorf("vault crypto: derive key: %w", err)
	}

	return &Crypto{
		key:    derived,
		salt:   append([]byte(nil), cfg.salt...),
		params: cfg.params,
	}, nil
}

// Encrypt seals plaintext bytes with the derived key.
func (c *Crypto) Encrypt(plaintext []byte) (string, error) {
	if len(c.key) == 0 {
		return "", errors.New("vault crypto: key is not initialised")
	}
	return crypto.Encrypt(plaintext, c.key)
}

// Decrypt opens a sealed payload with the derived key.
func (c *Crypto) Decrypt(ciphertext string) ([]byte, error) {
	if len(c.key) == 0 {
		return nil, errors.New("vault crypto: key is not initialised")
	}
	return crypto.Decrypt(ciphertext, c.key)
}

func deriveSalt(deviceKey []byte) []byte {
	sum := sha256.Sum256(deviceKey)
	return sum[:defaultSaltLength]
}
