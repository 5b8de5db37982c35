// Package crypto implements the PKCE, random-token and key-derivation primitives of the auth flow.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/and161185/linkauth/internal/errs"
)

// unreserved is the RFC 3986 unreserved character set used for verifiers and states.
const unreserved = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// randReader is swapped in tests to simulate entropy failures.
var randReader io.Reader = rand.Reader

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("%w: read random: %w", errs.ErrCrypto, err)
	}
	return b, nil
}

// RandomString returns n characters drawn uniformly from the unreserved set.
// Bytes at or above the largest multiple of the charset size are rejected to avoid modulo bias.
func RandomString(n int) (string, error) {
	const limit = 256 - 256%len(unreserved)
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)
	for len(out) < n {
		if _, err := io.ReadFull(randReader, buf); err != nil {
			return "", fmt.Errorf("%w: read random: %w", errs.ErrCrypto, err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, unreserved[int(b)%len(unreserved)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
