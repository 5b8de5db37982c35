// Package store persists auth sessions encrypted at rest in a durable document.
//
// Layout of the document:
//
//	key_derivation_salt  process-wide Argon2id salt, created once
//	session_<id>         base64(nonce || XChaCha20-Poly1305(json(session)))
//	state_<sha256(state)> json{session_id, expires_at, device}: callback lookup index
//
// The device id inside a state entry is sealed under a key derived from the raw state,
// so neither the state nor the device id is readable from the document alone.
package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/and161185/linkauth/internal/crypto"
	"github.com/and161185/linkauth/internal/crypto/sealer"
	"github.com/and161185/linkauth/internal/errs"
	"github.com/and161185/linkauth/internal/model"
	"github.com/and161185/linkauth/internal/repository"
)

// Document keys.
const (
	SaltKey       = "key_derivation_salt"
	SessionPrefix = "session_"
	StatePrefix   = "state_"
)

type stateRecord struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Device    string    `json:"device"`
}

// SessionStore is the process-wide security context: one document, one salt.
// It is safe for concurrent use.
type SessionStore struct {
	doc repository.DocumentRepository
	kdf crypto.KDFParams

	saltMu sync.Mutex
	salt   string

	// mu is held shared by per-session operations and exclusively by ClearAllSessions.
	mu    sync.RWMutex
	locks *keyedMutex

	clearedMu sync.Mutex
	cleared   map[string]struct{}
}

// Option customizes a SessionStore.
type Option func(*SessionStore)

// WithKDFParams overrides the Argon2id cost parameters.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(s *SessionStore) { s.kdf = p }
}

// New constructs a SessionStore over doc.
func New(doc repository.DocumentRepository, opts ...Option) *SessionStore {
	s := &SessionStore{
		doc:     doc,
		kdf:     crypto.DefaultKDFParams,
		locks:   newKeyedMutex(),
		cleared: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func sessionKey(id string) string { return SessionPrefix + id }

func stateKey(state string) string { return StatePrefix + crypto.StateHash(state) }

// GetOrCreateSalt returns the persisted salt, creating and flushing it on first use.
// Concurrent first calls are serialized. Another process sharing the backend may win
// the create, in which case its salt is adopted.
func (s *SessionStore) GetOrCreateSalt(ctx context.Context) (string, error) {
	s.saltMu.Lock()
	defer s.saltMu.Unlock()

	if s.salt != "" {
		return s.salt, nil
	}
	v, ok, err := s.doc.Get(ctx, SaltKey)
	if err != nil {
		return "", fmt.Errorf("%w: read salt: %w", errs.ErrStorage, err)
	}
	if ok && v != "" {
		s.salt = v
		return v, nil
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return "", err
	}
	created, err := s.doc.CreateIfAbsent(ctx, SaltKey, salt)
	if err != nil {
		return "", fmt.Errorf("%w: write salt: %w", errs.ErrStorage, err)
	}
	if !created {
		v, ok, err := s.doc.Get(ctx, SaltKey)
		if err != nil {
			return "", fmt.Errorf("%w: read salt: %w", errs.ErrStorage, err)
		}
		if !ok || v == "" {
			return "", fmt.Errorf("%w: salt vanished after concurrent create", errs.ErrStorage)
		}
		s.salt = v
		return v, nil
	}
	if err := s.doc.Save(ctx); err != nil {
		return "", fmt.Errorf("%w: save salt: %w", errs.ErrStorage, err)
	}
	s.salt = salt
	return salt, nil
}

func (s *SessionStore) deriveKey(ctx context.Context, passphrase string) ([]byte, string, error) {
	salt, err := s.GetOrCreateSalt(ctx)
	if err != nil {
		return nil, "", err
	}
	key, err := s.kdf.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, "", err
	}
	return key, salt, nil
}

func validate(session *model.AuthSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session id is required", errs.ErrStorage)
	}
	if !session.ExpiresAt.After(session.CreatedAt) {
		return fmt.Errorf("%w: session %s expires_at must be after created_at", errs.ErrStorage, session.ID)
	}
	return nil
}

func (s *SessionStore) isCleared(id string) bool {
	s.clearedMu.Lock()
	defer s.clearedMu.Unlock()
	_, ok := s.cleared[id]
	return ok
}

func (s *SessionStore) markCleared(ids ...string) {
	s.clearedMu.Lock()
	defer s.clearedMu.Unlock()
	for _, id := range ids {
		s.cleared[id] = struct{}{}
	}
}

// StoreSessionEncrypted seals session under a key derived from passphrase and writes it durably.
// Ids cleared earlier in this process are refused.
func (s *SessionStore) StoreSessionEncrypted(ctx context.Context, session *model.AuthSession, passphrase string) error {
	if err := validate(session); err != nil {
		return err
	}
	key, salt, err := s.deriveKey(ctx, passphrase)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	unlock := s.locks.Lock(session.ID)
	defer unlock()

	if s.isCleared(session.ID) {
		return fmt.Errorf("%w: %s", errs.ErrSessionCleared, session.ID)
	}
	return s.put(ctx, session, key, salt)
}

// UpdateSessionEncrypted rewrites an existing session. It fails with errs.ErrSessionCleared or
// errs.ErrNotFound when the session is gone, errs.ErrAuthFailed when passphrase does not own the
// stored record and errs.ErrStaleWrite when the stored record is newer than session or has reached
// a terminal status that session would leave.
func (s *SessionStore) UpdateSessionEncrypted(ctx context.Context, session *model.AuthSession, passphrase string) error {
	if err := validate(session); err != nil {
		return err
	}
	key, salt, err := s.deriveKey(ctx, passphrase)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	unlock := s.locks.Lock(session.ID)
	defer unlock()

	if s.isCleared(session.ID) {
		return fmt.Errorf("%w: %s", errs.ErrSessionCleared, session.ID)
	}
	current, err := s.read(ctx, session.ID, key)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: session %s", errs.ErrNotFound, session.ID)
	}
	if current.CreatedAt.After(session.CreatedAt) {
		return fmt.Errorf("%w: session %s", errs.ErrStaleWrite, session.ID)
	}
	if current.Status.Terminal() && session.Status != current.Status {
		return fmt.Errorf("%w: session %s is already %s", errs.ErrStaleWrite, session.ID, current.Status)
	}
	return s.put(ctx, session, key, salt)
}

func (s *SessionStore) put(ctx context.Context, session *model.AuthSession, key []byte, salt string) error {
	plain, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("%w: encode session: %w", errs.ErrStorage, err)
	}
	blob, err := sealer.Seal(key, plain, []byte(session.ID))
	if err != nil {
		return err
	}
	idx, err := s.stateEntry(session, salt)
	if err != nil {
		return err
	}

	if err := s.doc.Set(ctx, sessionKey(session.ID), base64.StdEncoding.EncodeToString(blob)); err != nil {
		return fmt.Errorf("%w: write session: %w", errs.ErrStorage, err)
	}
	if session.State != "" {
		if err := s.doc.Set(ctx, stateKey(session.State), idx); err != nil {
			return fmt.Errorf("%w: write state index: %w", errs.ErrStorage, err)
		}
	}
	if err := s.doc.Save(ctx); err != nil {
		return fmt.Errorf("%w: save: %w", errs.ErrStorage, err)
	}
	return nil
}

func (s *SessionStore) stateEntry(session *model.AuthSession, salt string) (string, error) {
	if session.State == "" {
		return "", nil
	}
	k, err := crypto.DeriveStateKey(session.State, salt)
	if err != nil {
		return "", err
	}
	dev, err := sealer.Seal(k, []byte(session.DeviceInfo.DeviceID), []byte(session.ID))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(stateRecord{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
		Device:    base64.StdEncoding.EncodeToString(dev),
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode state index: %w", errs.ErrStorage, err)
	}
	return string(b), nil
}

// RetrieveSessionEncrypted loads and decrypts a session. A missing session yields (nil, nil).
// A passphrase that does not match yields errs.ErrAuthFailed; corrupt data yields errs.ErrStorage.
func (s *SessionStore) RetrieveSessionEncrypted(ctx context.Context, id, passphrase string) (*model.AuthSession, error) {
	s.mu.RLock()
	_, ok, err := s.doc.Get(ctx, sessionKey(id))
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: read session: %w", errs.ErrStorage, err)
	}
	if !ok {
		return nil, nil
	}

	key, _, err := s.deriveKey(ctx, passphrase)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(ctx, id, key)
}

func (s *SessionStore) read(ctx context.Context, id string, key []byte) (*model.AuthSession, error) {
	v, ok, err := s.doc.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: read session: %w", errs.ErrStorage, err)
	}
	if !ok {
		return nil, nil
	}
	blob, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %w", errs.ErrStorage, id, err)
	}
	plain, err := sealer.Open(key, blob, []byte(id))
	if err != nil {
		return nil, err
	}
	var out model.AuthSession
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("%w: decode session %s: %w", errs.ErrStorage, id, err)
	}
	return &out, nil
}

// LookupState resolves a callback state to its session binding. Unknown states yield (nil, nil).
func (s *SessionStore) LookupState(ctx context.Context, state string) (*model.StateBinding, error) {
	if state == "" {
		return nil, nil
	}
	salt, err := s.GetOrCreateSalt(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	v, ok, err := s.doc.Get(ctx, stateKey(state))
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: read state index: %w", errs.ErrStorage, err)
	}
	if !ok {
		return nil, nil
	}

	var rec stateRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, fmt.Errorf("%w: decode state index: %w", errs.ErrStorage, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(rec.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: decode state index: %w", errs.ErrStorage, err)
	}
	k, err := crypto.DeriveStateKey(state, salt)
	if err != nil {
		return nil, err
	}
	dev, err := sealer.Open(k, sealed, []byte(rec.SessionID))
	if err != nil {
		return nil, err
	}
	return &model.StateBinding{SessionID: rec.SessionID, DeviceID: string(dev), ExpiresAt: rec.ExpiresAt}, nil
}

// ExpiredSessionIDs lists sessions whose indexed expiry is before now.
func (s *SessionStore) ExpiredSessionIDs(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs, err := s.stateRecords(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range recs {
		if now.After(r.rec.ExpiresAt) {
			out = append(out, r.rec.SessionID)
		}
	}
	return out, nil
}

type keyedRecord struct {
	key string
	rec stateRecord
}

func (s *SessionStore) stateRecords(ctx context.Context) ([]keyedRecord, error) {
	keys, err := s.doc.Keys(ctx, StatePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list state index: %w", errs.ErrStorage, err)
	}
	out := make([]keyedRecord, 0, len(keys))
	for _, k := range keys {
		v, ok, err := s.doc.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("%w: read state index: %w", errs.ErrStorage, err)
		}
		if !ok {
			continue
		}
		var rec stateRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("%w: decode state index %s: %w", errs.ErrStorage, k, err)
		}
		out = append(out, keyedRecord{key: k, rec: rec})
	}
	return out, nil
}

// SessionIDs lists the ids of all stored sessions.
func (s *SessionStore) SessionIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys, err := s.doc.Keys(ctx, SessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %w", errs.ErrStorage, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, SessionPrefix))
	}
	return ids, nil
}

// ClearSession removes a session and its state index entry. Clearing an absent session succeeds.
// The id is remembered so that in-flight writers cannot bring it back.
func (s *SessionStore) ClearSession(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	unlock := s.locks.Lock(id)
	defer unlock()

	s.markCleared(id)

	recs, err := s.stateRecords(ctx)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.rec.SessionID != id {
			continue
		}
		if err := s.doc.Delete(ctx, r.key); err != nil {
			return fmt.Errorf("%w: delete state index: %w", errs.ErrStorage, err)
		}
	}
	if err := s.doc.Delete(ctx, sessionKey(id)); err != nil {
		return fmt.Errorf("%w: delete session: %w", errs.ErrStorage, err)
	}
	if err := s.doc.Save(ctx); err != nil {
		return fmt.Errorf("%w: save: %w", errs.ErrStorage, err)
	}
	return nil
}

// ClearAllSessions removes every session and index entry. The salt is kept.
func (s *SessionStore) ClearAllSessions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.doc.Keys(ctx, SessionPrefix)
	if err != nil {
		return fmt.Errorf("%w: list sessions: %w", errs.ErrStorage, err)
	}
	states, err := s.doc.Keys(ctx, StatePrefix)
	if err != nil {
		return fmt.Errorf("%w: list state index: %w", errs.ErrStorage, err)
	}

	ids := make([]string, 0, len(sessions))
	for _, k := range sessions {
		ids = append(ids, strings.TrimPrefix(k, SessionPrefix))
	}
	s.markCleared(ids...)

	for _, k := range append(sessions, states...) {
		if err := s.doc.Delete(ctx, k); err != nil {
			return fmt.Errorf("%w: delete %s: %w", errs.ErrStorage, k, err)
		}
	}
	if err := s.doc.Save(ctx); err != nil {
		return fmt.Errorf("%w: save: %w", errs.ErrStorage, err)
	}
	return nil
}
