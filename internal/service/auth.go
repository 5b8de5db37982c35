// Package service contains the auth session manager: session issuance, callback completion and expiry.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	pkgcrypto "github.com/and161185/linkauth/internal/crypto"
	"github.com/and161185/linkauth/internal/deeplink"
	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/exchange"
	"github.com/and161185/linkauth/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// DefaultAuthenticatedTTL is how long a completed session stays valid.
const DefaultAuthenticatedTTL = 24 * time.Hour

// SessionStore is the encrypted persistence the manager runs on.
type SessionStore interface {
	StoreSessionEncrypted(ctx context.Context, session *model.AuthSession, passphrase string) error
	UpdateSessionEncrypted(ctx context.Context, session *model.AuthSession, passphrase string) error
	RetrieveSessionEncrypted(ctx context.Context, id, passphrase string) (*model.AuthSession, error)
	LookupState(ctx context.Context, state string) (*model.StateBinding, error)
	ExpiredSessionIDs(ctx context.Context, now time.Time) ([]string, error)
	ClearSession(ctx context.Context, id string) error
	ClearAllSessions(ctx context.Context) error
}

// AuthSessionManager defines the auth flow operations exposed to the UI.
type AuthSessionManager interface {
	// GenerateAuthSession starts a login attempt for the device.
	GenerateAuthSession(ctx context.Context, device model.DeviceInfo) (*model.AuthSession, error)
	// HandleAuthCallback completes a login attempt from the redirect URL.
	HandleAuthCallback(ctx context.Context, rawURL string) (*model.AuthSession, error)
	// CompleteCallback completes a login attempt from already parsed callback data.
	CompleteCallback(ctx context.Context, cb model.CallbackData) (*model.AuthSession, error)
	// GetAuthSession returns a live session or nil.
	GetAuthSession(ctx context.Context, id, deviceID, state string) (*model.AuthSession, error)
	ClearAuthSession(ctx context.Context, id string) error
	ClearAllAuthSessions(ctx context.Context) error
}

// AuthSessionService implements AuthSessionManager.
type AuthSessionService struct {
	store       SessionStore
	ex          exchange.TokenExchanger
	log         *zap.Logger
	now         func() time.Time
	authTTL     time.Duration
	redirectURI string

	mu       sync.Mutex
	inflight map[string]struct{}
}

var _ AuthSessionManager = (*AuthSessionService)(nil)

// Option customizes AuthSessionService.
type Option func(*AuthSessionService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *AuthSessionService) { s.now = now }
}

// WithAuthenticatedTTL sets the lifetime of an authenticated session.
func WithAuthenticatedTTL(d time.Duration) Option {
	return func(s *AuthSessionService) {
		if d > 0 {
			s.authTTL = d
		}
	}
}

// WithRedirectURI sets the redirect_uri sent with token requests.
func WithRedirectURI(u string) Option {
	return func(s *AuthSessionService) { s.redirectURI = u }
}

// NewAuthSessionService constructs AuthSessionService with required dependencies.
func NewAuthSessionService(store SessionStore, ex exchange.TokenExchanger, log *zap.Logger, opts ...Option) *AuthSessionService {
	s := &AuthSessionService{
		store:    store,
		ex:       ex,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		authTTL:  DefaultAuthenticatedTTL,
		inflight: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GenerateAuthSession creates a session awaiting its callback, with fresh state and PKCE,
// and persists it encrypted under Passphrase(device id, state).
func (s *AuthSessionService) GenerateAuthSession(ctx context.Context, device model.DeviceInfo) (*model.AuthSession, error) {
	if strings.TrimSpace(device.DeviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%w: session id: %w", errs.ErrCrypto, err)
	}
	state, err := pkgcrypto.NewState()
	if err != nil {
		return nil, err
	}
	now := s.now()
	pkce, err := pkgcrypto.NewPKCEChallenge(now)
	if err != nil {
		return nil, err
	}

	sess := &model.AuthSession{
		ID:         id.String(),
		PKCE:       &pkce,
		State:      state,
		Status:     model.StatusAwaitingCallback,
		CreatedAt:  now,
		ExpiresAt:  now.Add(pkgcrypto.PKCETTL),
		DeviceInfo: device,
	}
	if err := s.store.StoreSessionEncrypted(ctx, sess, pkgcrypto.Passphrase(device.DeviceID, state)); err != nil {
		return nil, err
	}
	s.log.Info("auth session created", zap.String("session_id", sess.ID), zap.String("platform", device.Platform))
	return sess, nil
}

// HandleAuthCallback parses a redirect URL and completes the matching session.
func (s *AuthSessionService) HandleAuthCallback(ctx context.Context, rawURL string) (*model.AuthSession, error) {
	_, cb, err := deeplink.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, fmt.Errorf("%w: not an auth callback", errs.ErrInvalidCode)
	}
	return s.CompleteCallback(ctx, *cb)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// CompleteCallback binds the callback to its session by state, checks expiry and PKCE,
// exchanges the code and persists the authenticated session.
func (s *AuthSessionService) CompleteCallback(ctx context.Context, cb model.CallbackData) (*model.AuthSession, error) {
	code, state := deref(cb.Code), deref(cb.State)

	if e := deref(cb.Error); e != "" {
		if desc := deref(cb.ErrorDescription); desc != "" {
			e += ": " + desc
		}
		s.failByState(ctx, state)
		return nil, fmt.Errorf("%w: provider returned %s", errs.ErrInvalidCode, e)
	}
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: code and state are required", errs.ErrInvalidCode)
	}

	b, err := s.bind(ctx, state)
	if err != nil {
		return nil, err
	}
	if !s.acquire(b.SessionID) {
		return nil, fmt.Errorf("%w: callback already in progress", errs.ErrInvalidCode)
	}
	defer s.release(b.SessionID)

	// Read under the guard so a completion that finished meanwhile is seen.
	sess, pass, err := s.load(ctx, b, state)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.Expired(now) {
		s.purge(ctx, sess.ID)
		return nil, fmt.Errorf("%w: session %s", errs.ErrExpiredCode, sess.ID)
	}
	if sess.Status != model.StatusAwaitingCallback || sess.PKCE == nil {
		return nil, fmt.Errorf("%w: session %s already used", errs.ErrInvalidCode, sess.ID)
	}
	if sess.PKCE.Expired(now) {
		s.purge(ctx, sess.ID)
		return nil, fmt.Errorf("%w: pkce challenge", errs.ErrExpiredCode)
	}
	if !pkgcrypto.VerifyPKCEChallenge(sess.PKCE.Verifier, sess.PKCE.Challenge) {
		s.markFailed(ctx, sess, pass)
		return nil, fmt.Errorf("%w: stored verifier does not match challenge", errs.ErrPKCEFailed)
	}

	res, err := s.ex.Exchange(ctx, exchange.Request{Code: code, Verifier: sess.PKCE.Verifier, RedirectURI: s.redirectURI})
	if err != nil {
		s.markFailed(ctx, sess, pass)
		return nil, err
	}

	sess.PKCE = nil
	sess.Tokens = &res.Token
	sess.UserID = res.UserID
	sess.Email = res.Email
	sess.WalletAddress = res.WalletAddress
	sess.Status = model.StatusAuthenticated
	sess.ExpiresAt = s.now().Add(s.authTTL)
	if err := s.store.UpdateSessionEncrypted(ctx, sess, pass); err != nil {
		return nil, err
	}
	s.log.Info("auth session authenticated", zap.String("session_id", sess.ID))
	return sess, nil
}

// bind finds the session a callback state belongs to.
func (s *AuthSessionService) bind(ctx context.Context, state string) (*model.StateBinding, error) {
	b, err := s.store.LookupState(ctx, state)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: unknown state", errs.ErrInvalidCode)
	}
	return b, nil
}

// load decrypts the bound session and rechecks its state in constant time.
func (s *AuthSessionService) load(ctx context.Context, b *model.StateBinding, state string) (*model.AuthSession, string, error) {
	pass := pkgcrypto.Passphrase(b.DeviceID, state)
	sess, err := s.store.RetrieveSessionEncrypted(ctx, b.SessionID, pass)
	if err != nil {
		return nil, "", err
	}
	if sess == nil {
		return nil, "", fmt.Errorf("%w: unknown state", errs.ErrInvalidCode)
	}
	if !pkgcrypto.ConstantTimeEqual(sess.State, state) {
		return nil, "", fmt.Errorf("%w: state mismatch", errs.ErrInvalidCode)
	}
	return sess, pass, nil
}

func (s *AuthSessionService) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *AuthSessionService) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// markFailed is best effort: the caller already has an error to report.
func (s *AuthSessionService) markFailed(ctx context.Context, sess *model.AuthSession, pass string) {
	sess.Status = model.StatusFailed
	sess.PKCE = nil
	if err := s.store.UpdateSessionEncrypted(context.WithoutCancel(ctx), sess, pass); err != nil {
		s.log.Warn("mark session failed", zap.String("session_id", sess.ID), zap.Error(err))
		return
	}
	s.log.Info("auth session failed", zap.String("session_id", sess.ID))
}

func (s *AuthSessionService) failByState(ctx context.Context, state string) {
	if state == "" {
		return
	}
	b, err := s.bind(ctx, state)
	if err != nil {
		return
	}
	if !s.acquire(b.SessionID) {
		return
	}
	defer s.release(b.SessionID)
	sess, pass, err := s.load(ctx, b, state)
	if err != nil {
		return
	}
	if sess.Status == model.StatusAwaitingCallback {
		s.markFailed(ctx, sess, pass)
	}
}

func (s *AuthSessionService) purge(ctx context.Context, id string) {
	if err := s.store.ClearSession(ctx, id); err != nil {
		s.log.Warn("purge expired session", zap.String("session_id", id), zap.Error(err))
		return
	}
	s.log.Info("auth session expired", zap.String("session_id", id))
}

// GetAuthSession returns the session or nil when it is absent or expired. Expired sessions are purged.
func (s *AuthSessionService) GetAuthSession(ctx context.Context, id, deviceID, state string) (*model.AuthSession, error) {
	sess, err := s.store.RetrieveSessionEncrypted(ctx, id, pkgcrypto.Passphrase(deviceID, state))
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.Expired(s.now()) {
		s.purge(ctx, id)
		return nil, nil
	}
	return sess, nil
}

// ClearAuthSession removes one session. Unknown ids succeed.
func (s *AuthSessionService) ClearAuthSession(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: session id is required", errs.ErrValidation)
	}
	return s.store.ClearSession(ctx, id)
}

// ClearAllAuthSessions removes every session. The key derivation salt survives.
func (s *AuthSessionService) ClearAllAuthSessions(ctx context.Context) error {
	return s.store.ClearAllSessions(ctx)
}
