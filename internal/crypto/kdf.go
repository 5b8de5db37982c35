package crypto

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/linkauth/internal/errs"
)

const (
	// KeyLen is the symmetric key size produced by all derivations.
	KeyLen = 32

	saltLen    = 16
	minSaltLen = 8

	stateBindingInfo = "linkauth/state-binding/v1"
)

// KDFParams are Argon2id cost parameters.
type KDFParams struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams are tuned for an interactive desktop client.
var DefaultKDFParams = KDFParams{Time: 3, Memory: 64 * 1024, Threads: 1}

// NewSalt returns a fresh random salt, base64 encoded without padding.
func NewSalt() (string, error) {
	b, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

func decodeSalt(salt string) ([]byte, error) {
	raw, err := base64.RawStdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed salt: %w", errs.ErrCrypto, err)
	}
	if len(raw) < minSaltLen {
		return nil, fmt.Errorf("%w: salt too short (%d bytes)", errs.ErrCrypto, len(raw))
	}
	return raw, nil
}

// DeriveKey derives a KeyLen key from passphrase and salt using DefaultKDFParams.
func DeriveKey(passphrase, salt string) ([]byte, error) {
	return DefaultKDFParams.DeriveKey(passphrase, salt)
}

// DeriveKey derives a KeyLen key from passphrase and salt using Argon2id.
func (p KDFParams) DeriveKey(passphrase, salt string) ([]byte, error) {
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, fmt.Errorf("%w: invalid argon2 parameters %+v", errs.ErrCrypto, p)
	}
	raw, err := decodeSalt(salt)
	if err != nil {
		return nil, err
	}
	return argon2.IDKey([]byte(passphrase), raw, p.Time, p.Memory, p.Threads, KeyLen), nil
}

// DeriveStateKey derives the key sealing a state binding via HKDF-SHA256.
// The state is a high-entropy random value, so no stretching is applied.
func DeriveStateKey(state, salt string) ([]byte, error) {
	raw, err := decodeSalt(salt)
	if err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, []byte(state), raw, []byte(stateBindingInfo))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: hkdf: %w", errs.ErrCrypto, err)
	}
	return key, nil
}

// StateHash returns the lookup handle for a state value; the raw state is never persisted.
func StateHash(state string) string {
	sum := sha256.Sum256([]byte(state))
	return fmt.Sprintf("%x", sum[:])
}
