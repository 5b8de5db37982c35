// Package sealer provides authenticated encryption for persisted session records.
package sealer

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/linkauth/internal/crypto"
	"github.com/and161185/linkauth/internal/errs"
)

// Overhead is the number of bytes Seal adds to a plaintext.
const Overhead = chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Seal encrypts plaintext with XChaCha20-Poly1305 under key, binding aad.
// Output layout: nonce || ciphertext || tag.
func Seal(key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrCrypto, err)
	}
	nonce, err := crypto.RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, aad)
	return out, nil
}

// Open decrypts a blob produced by Seal. A wrong key, wrong aad or any tampering yields errs.ErrAuthFailed.
func Open(key, blob, aad []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: sealed blob too short (%d bytes)", errs.ErrStorage, len(blob))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrCrypto, err)
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	pt, err := aead.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, errs.ErrAuthFailed
	}
	return pt, nil
}
