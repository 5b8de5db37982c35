// Package api defines the linkauth.v1.Commands gRPC service: messages, service descriptor and client.
package api

import (
	"time"

	"github.com/and161185/linkauth/internal/model"
)

// SessionView is an AuthSession as shown to the UI. The PKCE verifier never leaves the daemon.
type SessionView struct {
	ID            string              `json:"id"`
	UserID        *string             `json:"user_id,omitempty"`
	Email         *string             `json:"email,omitempty"`
	WalletAddress *string             `json:"wallet_address,omitempty"`
	Tokens        *model.AuthToken    `json:"tokens,omitempty"`
	CodeChallenge string              `json:"code_challenge,omitempty"`
	ChallengeMode string              `json:"code_challenge_method,omitempty"`
	State         string              `json:"state"`
	Status        model.SessionStatus `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	ExpiresAt     time.Time           `json:"expires_at"`
	DeviceInfo    model.DeviceInfo    `json:"device_info"`
}

// NewSessionView converts s for transport.
func NewSessionView(s *model.AuthSession) *SessionView {
	if s == nil {
		return nil
	}
	v := &SessionView{
		ID:            s.ID,
		UserID:        s.UserID,
		Email:         s.Email,
		WalletAddress: s.WalletAddress,
		Tokens:        s.Tokens,
		State:         s.State,
		Status:        s.Status,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
		DeviceInfo:    s.DeviceInfo,
	}
	if s.PKCE != nil {
		v.CodeChallenge = s.PKCE.Challenge
		v.ChallengeMode = s.PKCE.Method
	}
	return v
}

type CreateSessionRequest struct {
	Device model.DeviceInfo `json:"device"`
}

type CreateSessionResponse struct {
	Session *SessionView `json:"session"`
	// AuthURL is set when the daemon knows the provider's authorization endpoint.
	AuthURL string `json:"auth_url,omitempty"`
}

type HandleCallbackRequest struct {
	URL string `json:"url"`
}

type HandleCallbackResponse struct {
	Session *SessionView `json:"session"`
}

type ClearSessionRequest struct {
	SessionID string `json:"session_id"`
}

type GetSessionRequest struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	State     string `json:"state"`
}

type GetSessionResponse struct {
	Session *SessionView `json:"session,omitempty"`
	Found   bool         `json:"found"`
}

type OpenAuthURLRequest struct {
	URL string `json:"url"`
}

type DeliverDeepLinkRequest struct {
	URL string `json:"url"`
}

type CurrentDeepLinkResponse struct {
	URL   string `json:"url,omitempty"`
	Found bool   `json:"found"`
}

// TopicReady opens every event stream: the subscriptions behind it are live.
const TopicReady = "ready"

type SubscribeEventsRequest struct {
	// Topics selects deep_link, auth_callback or auth_result; empty means all of them.
	Topics []string `json:"topics,omitempty"`
}

// Event is one item of the SubscribeEvents stream. The payload field matching Topic is set.
type Event struct {
	Topic    string               `json:"topic"`
	DeepLink *model.DeepLinkEvent `json:"deep_link,omitempty"`
	Callback *model.CallbackData  `json:"callback,omitempty"`
	Outcome  *model.AuthOutcome   `json:"outcome,omitempty"`
}

// Empty is used where a call has no arguments or no result.
type Empty struct{}
