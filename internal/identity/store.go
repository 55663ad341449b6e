// Package identity holds the authenticated visitor's identity and persists it
// in the visitor's storage so a reload rebuilds it without a network call.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/storage"
)

// Persisted key names. They are part of the storage contract: a reload
// reads exactly these.
const (
	KeyToken    = "token"
	KeyRole     = "role"
	KeyUserID   = "userId"
	KeyUserName = "userName"
)

var identityKeys = []string{KeyToken, KeyRole, KeyUserID, KeyUserName}

// Store is the visitor's identity.
//
// All four identity fields are written and cleared together through one
// storage.Apply call, and the in-memory copy is swapped only after the write
// succeeded, so no reader ever observes a token without a role or the other
// way round. The cart keys are never touched here.
type Store struct {
	storage storage.Storage
	logger  *slog.Logger

	// writeMu is held across a storage write and the matching in-memory
	// swap, so storage and memory agree once concurrent writers finish.
	writeMu sync.Mutex

	mu        sync.RWMutex
	current   model.Identity
	observers map[int]func(model.Identity)
	nextObs   int
}

// NewStore creates an unauthenticated Store. Call Read to recover a
// persisted identity.
func NewStore(s storage.Storage, logger *slog.Logger) *Store {
	return &Store{
		storage:   s,
		logger:    logger,
		observers: make(map[int]func(model.Identity)),
	}
}

// Current returns the identity as last set, cleared or read.
func (s *Store) Current() model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the identity. Every field must be non-empty.
func (s *Store) Set(ctx context.Context, token string, role model.Role, userID, name string) error {
	next := model.Identity{Token: token, Role: role, UserID: userID, DisplayName: name}
	if !next.Complete() {
		return fmt.Errorf("identity: refusing partial identity (userID=%q)", userID)
	}
	if _, ok := model.ParseRole(string(role)); !ok {
		return fmt.Errorf("identity: unknown role %q", role)
	}

	s.writeMu.Lock()
	err := s.storage.Apply(ctx,
		storage.Put(KeyToken, next.Token),
		storage.Put(KeyRole, string(next.Role)),
		storage.Put(KeyUserID, next.UserID),
		storage.Put(KeyUserName, next.DisplayName),
	)
	if err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("identity: persisting identity for user %s: %w", userID, err)
	}
	notify := s.install(next)
	s.writeMu.Unlock()

	notify()
	s.logger.Info("identity set",
		slog.String("userID", next.UserID),
		slog.String("role", string(next.Role)),
	)
	return nil
}

// DecodeAndSet decodes the token's display claims and stores them. When the
// token is malformed the identity is left untouched and the error is an
// *auth.MalformedTokenError.
func (s *Store) DecodeAndSet(ctx context.Context, token string) (model.Identity, error) {
	claims, err := auth.DecodeUnverified(token)
	if err != nil {
		s.logger.Warn("identity: rejecting token", slog.String("error", err.Error()))
		return s.Current(), err
	}
	if err := s.Set(ctx, token, claims.Role, claims.Subject, claims.Name); err != nil {
		return s.Current(), err
	}
	return s.Current(), nil
}

// Clear forgets the identity.
func (s *Store) Clear(ctx context.Context) error {
	changes := make([]storage.Change, 0, len(identityKeys))
	for _, k := range identityKeys {
		changes = append(changes, storage.Delete(k))
	}
	s.writeMu.Lock()
	if err := s.storage.Apply(ctx, changes...); err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("identity: clearing identity: %w", err)
	}
	prev := s.Current()
	notify := s.install(model.Identity{})
	s.writeMu.Unlock()

	notify()
	if prev.Authenticated() {
		s.logger.Info("identity cleared", slog.String("userID", prev.UserID))
	}
	return nil
}

// Read recovers the persisted identity. Missing, partial or invalid values
// degrade to the anonymous identity; Read never fails.
func (s *Store) Read(ctx context.Context) model.Identity {
	s.writeMu.Lock()
	restored := s.load(ctx)
	notify := s.install(restored)
	s.writeMu.Unlock()

	notify()
	return restored
}

// load reads the four persisted fields. Callers hold writeMu.
func (s *Store) load(ctx context.Context) model.Identity {
	values := make(map[string]string, len(identityKeys))
	for _, k := range identityKeys {
		v, ok, err := s.storage.Get(ctx, k)
		if err != nil {
			s.logger.Warn("identity: storage read failed, continuing anonymous",
				slog.String("key", k),
				slog.String("error", err.Error()),
			)
			return model.Identity{}
		}
		if !ok || v == "" {
			return model.Identity{}
		}
		values[k] = v
	}

	role, ok := model.ParseRole(values[KeyRole])
	if !ok {
		s.logger.Warn("identity: stored role is invalid, continuing anonymous",
			slog.String("role", values[KeyRole]),
		)
		return model.Identity{}
	}

	return model.Identity{
		Token:       values[KeyToken],
		Role:        role,
		UserID:      values[KeyUserID],
		DisplayName: values[KeyUserName],
	}
}

// Subscribe registers fn to be called after every identity change. The
// returned function unregisters it.
func (s *Store) Subscribe(fn func(model.Identity)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// install sets next as the current identity and returns the function that
// notifies observers of the change. The caller runs notify after releasing
// writeMu.
func (s *Store) install(next model.Identity) (notify func()) {
	s.mu.Lock()
	changed := s.current != next
	s.current = next
	var fns []func(model.Identity)
	if changed {
		fns = make([]func(model.Identity), 0, len(s.observers))
		for _, fn := range s.observers {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	return func() {
		for _, fn := range fns {
			fn(next)
		}
	}
}
