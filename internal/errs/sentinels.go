// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Auth flow sentinels. Callers match them with errors.Is; causes are wrapped alongside.
var (
	// ErrInvalidCode indicates a missing or malformed authorization code or state.
	ErrInvalidCode = errors.New("invalid authentication code")

	// ErrExpiredCode indicates the session or its PKCE challenge is past expiry.
	ErrExpiredCode = errors.New("authentication code expired")

	// ErrPKCEFailed indicates the verifier did not match the challenge.
	ErrPKCEFailed = errors.New("pkce verification failed")

	// ErrStorage indicates a persistence read/write/serialization failure.
	ErrStorage = errors.New("token storage error")

	// ErrCrypto indicates a key derivation, hashing or entropy failure.
	ErrCrypto = errors.New("crypto error")

	// ErrInvalidURL indicates an unparseable or disallowed URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrDeepLink indicates a deep-link delivery or browser launch failure.
	ErrDeepLink = errors.New("deep link error")

	// ErrAuthFailed indicates that a sealed record failed its integrity check (wrong key or tampering).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrSessionCleared indicates a write to a session id that was cleared in this process.
	ErrSessionCleared = errors.New("session cleared")

	// ErrStaleWrite indicates an update older than the stored record.
	ErrStaleWrite = errors.New("stale session write")

	// ErrExchange indicates the identity provider could not be reached or rejected the request.
	ErrExchange = errors.New("token exchange failed")

	// ErrValidation indicates a malformed request argument.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
