package crypto

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

const minSaltLength = 16

// Argon2Parameters controls the Argon2id cost factors used when deriving
// the store sealing key from the device key.
type Argon2Parameters struct {
	Time      uint32 // iterations
	Memory    uint32 // in KiB
	Threads   uint8
	KeyLength uint32
}

// DefaultArgon2Params returns the derivation parameters used in production.
// Tests substitute cheaper ones.
func DefaultArgon2Params() Argon2Parameters {
	return Argon2Parameters{
		Time:      2,
		Memory:    64 * 1024, // 64 MiB
		Threads:   4,
		KeyLength: KeySize,
	}
}

// Validate rejects parameter sets Argon2id cannot run, and key lengths the
// AES-256 sealing layer cannot use.
func (p Argon2Parameters) Validate() error {
	switch {
	case p.Time == 0:
		return fmt.Errorf("argon2: time cost must be greater than zero")
	case p.Threads == 0:
		return fmt.Errorf("argon2: parallelism must be greater than zero")
	case p.Memory < 8*uint32(p.Threads):
		return fmt.Errorf("argon2: memory cost must be at least 8 * threads")
	case p.KeyLength != KeySize:
		return fmt.Errorf("argon2: key length must be %d bytes (got %d)", KeySize, p.KeyLength)
	}
	return nil
}

// DeriveKeyArgon2id derives the sealing key from the device key.
func DeriveKeyArgon2id(secret, salt []byte, params Argon2Parameters) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("argon2: secret is required")
	}
	if len(salt) < minSaltLength {
		return nil, fmt.Errorf("argon2: salt must be at least %d bytes (got %d)", minSaltLength, len(salt))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(secret, salt, params.Time, params.Memory, params.Threads, params.KeyLength), nil
}
