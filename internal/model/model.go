// Package model defines domain entities used by services, stores and transports.
package model

import "time"

// PKCEMethodS256 is the only supported code challenge method.
const PKCEMethodS256 = "S256"

// SessionStatus is the lifecycle position of an AuthSession.
type SessionStatus string

const (
	StatusCreated          SessionStatus = "created"
	StatusAwaitingCallback SessionStatus = "awaiting_callback"
	StatusAuthenticated    SessionStatus = "authenticated"
	StatusFailed           SessionStatus = "failed"
	StatusExpired          SessionStatus = "expired"
)

// Terminal reports whether a session in this status accepts no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusAuthenticated, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// DeviceInfo identifies the device a login attempt was started on. Supplied by the caller.
type DeviceInfo struct {
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	Platform   string  `json:"platform"`
	UserAgent  *string `json:"user_agent,omitempty"`
}

// PKCEChallenge holds the verifier (never sent out) and its derived challenge.
type PKCEChallenge struct {
	Verifier  string    `json:"verifier"`
	Challenge string    `json:"challenge"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the challenge can no longer be used at now.
func (p *PKCEChallenge) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// AuthToken is the opaque token bundle returned by the identity provider.
type AuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
	Scope        *string   `json:"scope,omitempty"`
}

// AuthSession is a single login attempt and, once completed, its tokens.
type AuthSession struct {
	ID            string         `json:"id"`
	UserID        *string        `json:"user_id,omitempty"`
	Email         *string        `json:"email,omitempty"`
	WalletAddress *string        `json:"wallet_address,omitempty"`
	Tokens        *AuthToken     `json:"tokens,omitempty"`
	PKCE          *PKCEChallenge `json:"pkce,omitempty"`
	State         string         `json:"state"`
	Status        SessionStatus  `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	DeviceInfo    DeviceInfo     `json:"device_info"`
}

// Expired reports whether the session is past its expiry at now.
func (s *AuthSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Valid reports whether the session may still be used at now.
func (s *AuthSession) Valid(now time.Time) bool {
	return !s.Expired(now) && s.Status != StatusFailed && s.Status != StatusExpired
}

// CallbackData is the structured payload extracted from an auth redirect.
type CallbackData struct {
	Code             *string `json:"code,omitempty"`
	State            *string `json:"state,omitempty"`
	Error            *string `json:"error,omitempty"`
	ErrorDescription *string `json:"error_description,omitempty"`
}

// DeepLinkEvent describes any URL delivered to the application.
type DeepLinkEvent struct {
	URL          string            `json:"url"`
	ParsedParams map[string]string `json:"parsed_params"`
	Timestamp    time.Time         `json:"timestamp"`
}

// AuthOutcome reports how a callback routed through the daemon ended.
// SessionID and Status are empty when the callback could not be bound to a session.
type AuthOutcome struct {
	SessionID string        `json:"session_id,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// StateBinding is what a callback state resolves to: enough to rebuild the session passphrase.
// ExpiresAt mirrors the session expiry so sweeps can run without decrypting.
type StateBinding struct {
	SessionID string
	DeviceID  string
	ExpiresAt time.Time
}
