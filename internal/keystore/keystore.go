package keystore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aegis-mobile/synccore/pkg/crypto"
)

// Store persists the device encryption key across restarts. Implementations
// are expected to keep the key out of the database it protects.
type Store interface {
	// Load returns the stored key, or (nil, nil) when no key exists yet.
	Load() ([]byte, error)
	// Save persists the key, replacing any previous value.
	Save(key []byte) error
}

// FileStore keeps the key hex-encoded in a file readable only by the owner.
type FileStore struct {
	path string
}

// NewFileStore constructs a file-backed key store at the given path.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore: path is required")
	}
	return &FileStore{path: path}, nil
}

// Load reads and decodes the key file.
func (s *FileStore) Load() ([]byte, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", s.path, err)
	}

	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("keystore: decode key: %w", err)
	}
	return key, nil
}

// Save writes the key with owner-only permissions.
func (s *FileStore) Save(key []byte) error {
	if len(key) == 0 {
		return errors.New("keystore: key is empty")
	}

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("keystore: create dir: %w", err)
		}
	}

	if err := os.WriteFile(s.path, []byte(hex.EncodeToString(key)), 0o600); err != nil {
		return fmt.Errorf("keystore: write %s: %w", s.path, err)
	}
	return nil
}

// Fixed returns a read-only Store serving a key supplied out of band, for
// deployments that inject the key through configuration instead of a file.
func Fixed(key []byte) Store { return fixedStore(key) }

type fixedStore []byte

func (s fixedStore) Load() ([]byte, error) { return []byte(s), nil }

func (s fixedStore) Save([]byte) error {
	return errors.New("keystore: fixed key is read-only")
}

// LoadOrCreate returns the persisted key, generating and saving a fresh
// 256-bit key on first use.
func LoadOrCreate(s Store) ([]byte, error) {
	if s == nil {
		return nil, errors.New("keystore: store is required")
	}

	key, err := s.Load()
	if err != nil {
		return nil, err
	}
	if len(key) > 0 {
		if len(key) != crypto.KeySize {
			return nil, fmt.Errorf("keystore: stored key is %d bytes, want %d", len(key), crypto.KeySize)
		}
		return key, nil
	}

	key, err = crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate key: %w", err)
	}
	if err := s.Save(key); err != nil {
		return nil, err
	}
	return key, nil
}
