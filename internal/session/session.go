// Package session is the single source of truth for "is a user logged in,
// and as whom".
//
// The current session is an immutable snapshot. Login, Logout and Restore are
// the only transitions; each one swaps in a new snapshot, so readers never
// observe a half-updated session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/store"
	"github.com/moumen26/insurance-client-side/internal/token"
)

var (
	ErrNoSession = errors.New("not logged in")
	ErrExpired   = errors.New("session expired")
)

// Session authenticated user snapshot. Treat as read-only.
type Session struct {
	Token   string
	Claims  *token.Claims
	Profile domain.Profile
}

// UserID id embedded in the token, never an editable profile field.
func (s *Session) UserID() domain.ID {
	if s == nil || s.Claims == nil {
		return ""
	}
	return domain.ID(s.Claims.ID)
}

// record persisted shape under the session key
type record struct {
	Token string         `json:"token"`
	User  domain.Profile `json:"user"`
}

type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds the current session and mirrors it to durable storage.
type Store struct {
	kv     store.KV
	key    string
	logger *zap.Logger
	now    func() time.Time

	current atomic.Pointer[Session]
	mu      sync.Mutex // serializes transitions

	restoreOnce sync.Once
	restoreErr  error

	subsMu  sync.Mutex
	subs    map[int]func(*Session)
	nextSub int
}

func New(kv store.KV, key string, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		key:    key,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func(*Session)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login persists {token, user} and makes it the current session. The
// in-memory session is set even when persisting fails; the storage error is
// returned so the caller can warn that the login will not survive a restart.
func (s *Store) Login(ctx context.Context, tokenString string, profile domain.Profile) (*Session, error) {
	claims, err := token.Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: empty token", token.ErrMalformed)
	}

	next := &Session{Token: tokenString, Claims: claims, Profile: profile}

	s.mu.Lock()
	var persistErr error
	if b, err := json.Marshal(record{Token: tokenString, User: profile}); err != nil {
		persistErr = fmt.Errorf("failed to encode session: %w", err)
	} else if err := s.kv.Set(ctx, s.key, string(b), 0); err != nil {
		persistErr = fmt.Errorf("failed to persist session: %w", err)
	}
	s.current.Store(next)
	s.mu.Unlock()

	if persistErr != nil {
		s.logger.Warn("Session not persisted", zap.Error(persistErr))
	}
	s.logger.Info("Logged in",
		zap.String("user_id", claims.ID),
		zap.Time("expires_at", claims.ExpiresAt()),
	)
	s.notify(next)
	return next, persistErr
}

// Logout always ends logged out. Storage errors are logged, not returned.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	s.clear(ctx)
	s.mu.Unlock()

	s.logger.Info("Logged out")
	s.notify(nil)
}

// clear must be called with mu held.
func (s *Store) clear(ctx context.Context) {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.logger.Warn("Failed to remove stored session", zap.Error(err))
	}
	s.current.Store(nil)
}

// Restore loads the stored session once per Store. Later calls return the
// current session without touching storage. Bad stored data never fails the
// caller: it is removed and the store ends logged out. The returned error only
// reports a storage read failure.
func (s *Store) Restore(ctx context.Context) (*Session, error) {
	s.restoreOnce.Do(func() {
		s.restoreErr = s.restore(ctx)
		s.notify(s.current.Load())
	})
	return s.Current(), s.restoreErr
}

func (s *Store) restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.current.Store(nil)
		if errors.Is(err, store.ErrMiss) {
			s.logger.Debug("No stored session")
			return nil
		}
		s.logger.Error("Failed to read stored session", zap.Error(err))
		return fmt.Errorf("failed to read stored session: %w", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.logger.Warn("Discarding unreadable stored session", zap.Error(err))
		s.clear(ctx)
		return nil
	}

	claims, err := token.Decode(rec.Token)
	if err != nil || claims == nil {
		s.logger.Warn("Discarding stored session with malformed token", zap.Error(err))
		s.clear(ctx)
		return nil
	}

	if claims.Expired(s.now()) {
		s.logger.Info("Stored session expired",
			zap.String("user_id", claims.ID),
			zap.Time("expired_at", claims.ExpiresAt()),
		)
		s.clear(ctx)
		return nil
	}

	s.current.Store(&Session{Token: rec.Token, Claims: claims, Profile: rec.User})
	s.logger.Info("Session restored", zap.String("user_id", claims.ID))
	return nil
}

// Current live session, or nil. An expired session reads as nil; Require
// performs the forced logout.
func (s *Store) Current() *Session {
	cur := s.current.Load()
	if cur == nil || cur.Claims.Expired(s.now()) {
		return nil
	}
	return cur
}

// Require returns the live session for a protected operation. An expired
// token found here forces a logout.
func (s *Store) Require(ctx context.Context) (*Session, error) {
	cur := s.current.Load()
	if cur == nil {
		return nil, ErrNoSession
	}
	if !cur.Claims.Expired(s.now()) {
		return cur, nil
	}

	s.mu.Lock()
	// a concurrent transition may already have replaced it
	if s.current.Load() != cur {
		s.mu.Unlock()
		return s.Require(ctx)
	}
	s.clear(ctx)
	s.mu.Unlock()

	s.logger.Info("Session expired, logging out", zap.String("user_id", cur.Claims.ID))
	s.notify(nil)
	return nil, ErrExpired
}

// Token bearer token of the live session.
func (s *Store) Token(ctx context.Context) (string, error) {
	cur, err := s.Require(ctx)
	if err != nil {
		return "", err
	}
	return cur.Token, nil
}

// UserID of the live session, empty when logged out.
func (s *Store) UserID() domain.ID {
	return s.Current().UserID()
}

// Subscribe registers fn for every transition. fn receives the new snapshot
// (nil when logged out) and must not block.
func (s *Store) Subscribe(fn func(*Session)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify(cur *Session) {
	s.subsMu.Lock()
	fns := make([]func(*Session), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(cur)
	}
}
