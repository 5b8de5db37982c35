package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/and161185/linkauth/internal/model"
)

const (
	// VerifierLength is the length of generated PKCE verifiers (RFC 7636 allows 43..128).
	VerifierLength = 64
	// StateLength is the length of anti-CSRF state values.
	StateLength = 32
	// PKCETTL bounds how long a challenge may wait for its callback.
	PKCETTL = 10 * time.Minute
)

// GeneratePKCEChallenge creates a fresh verifier/challenge pair expiring PKCETTL from now.
func GeneratePKCEChallenge() (model.PKCEChallenge, error) {
	return NewPKCEChallenge(time.Now().UTC())
}

// NewPKCEChallenge creates a fresh verifier/challenge pair relative to now.
func NewPKCEChallenge(now time.Time) (model.PKCEChallenge, error) {
	verifier, err := RandomString(VerifierLength)
	if err != nil {
		return model.PKCEChallenge{}, err
	}
	return model.PKCEChallenge{
		Verifier:  verifier,
		Challenge: ComputeChallenge(verifier),
		Method:    model.PKCEMethodS256,
		ExpiresAt: now.Add(PKCETTL),
	}, nil
}

// ComputeChallenge returns base64url-no-pad(SHA-256(verifier)).
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCEChallenge reports whether verifier hashes to challenge.
func VerifyPKCEChallenge(verifier, challenge string) bool {
	return ConstantTimeEqual(ComputeChallenge(verifier), challenge)
}

// ConstantTimeEqual compares a and b without leaking where they differ.
// Different lengths return false without looking at the content.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewState returns a fresh anti-CSRF state value.
func NewState() (string, error) {
	return RandomString(StateLength)
}

// Passphrase builds the per-session passphrase from the device id and the flow state.
func Passphrase(deviceID, state string) string {
	return deviceID + "-" + state
}
