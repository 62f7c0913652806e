// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/storage"
)

// Store is an in-memory implementation of storage.ClientStore,
// storage.RequestStore, and storage.UserStore.
//
// All aggregates are deep-copied on the way in and out, so callers can never
// mutate stored state except through a Save, and the revision CAS under the
// store mutex gives the same exactly-one-winner guarantee a distributed
// backend provides with conditional writes.
type Store struct {
	mu sync.RWMutex

	clients  map[string]*domain.Client
	requests map[domain.ID]*domain.AuthorizationRequest
	codes    map[string]domain.ID       // authorization code -> request id
	created  map[domain.ID]time.Time    // request id -> first save
	users    map[domain.ID]*domain.User
	emails   map[domain.Email]domain.ID // unique email index

	requestTTL      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ClientStore  = (*Store)(nil)
	_ storage.RequestStore = (*Store)(nil)
	_ storage.UserStore    = (*Store)(nil)
)

// defaultRequestTTL bounds how long an authorization request may sit in the
// store without a code before cleanup reaps it. /authorize is reachable
// without credentials, so abandoned requests must not accumulate.
const defaultRequestTTL = time.Hour

// New creates an in-memory store with the default cleanup interval
// (1 minute) for expired authorization requests.
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates an in-memory store with a custom cleanup interval.
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		clients:         make(map[string]*domain.Client),
		requests:        make(map[domain.ID]*domain.AuthorizationRequest),
		codes:           make(map[string]domain.ID),
		created:         make(map[domain.ID]time.Time),
		users:           make(map[domain.ID]*domain.User),
		emails:          make(map[domain.Email]domain.ID),
		requestTTL:      defaultRequestTTL,
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}
	go s.cleanupLoop()
	return s
}

// SetLogger replaces the store's logger. Call before serving traffic.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ==================== ClientStore ====================

// SaveClient stores a client registration.
func (s *Store) SaveClient(_ context.Context, client *domain.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *client
	s.clients[client.ID] = &clone
	return nil
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", id, storage.ErrNotFound)
	}
	clone := *client
	return &clone, nil
}

// ==================== RequestStore ====================

// SaveRequest stores an authorization request, compare-and-swap on Revision.
func (s *Store) SaveRequest(_ context.Context, req *domain.AuthorizationRequest) error {
	if req == nil || req.ID.IsZero() {
		return fmt.Errorf("invalid authorization request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.requests[req.ID]
	switch {
	case !exists && req.Revision != 0:
		return fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
	case exists && stored.Revision != req.Revision:
		return fmt.Errorf("request %s: revision %d != stored %d: %w",
			req.ID, req.Revision, stored.Revision, storage.ErrRevisionConflict)
	}

	req.Revision++
	clone := req.Clone()
	s.requests[req.ID] = clone
	if !exists {
		s.created[req.ID] = time.Now()
	}
	if clone.Code != nil {
		s.codes[clone.Code.Code] = clone.ID
	}
	return nil
}

// GetRequest retrieves an authorization request by id.
func (s *Store) GetRequest(_ context.Context, id domain.ID) (*domain.AuthorizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return req.Clone(), nil
}

// GetRequestByCode retrieves the request owning an authorization code.
func (s *Store) GetRequestByCode(_ context.Context, code string) (*domain.AuthorizationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code: %w", storage.ErrNotFound)
	}
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return req.Clone(), nil
}

// ==================== UserStore ====================

// SaveUser stores a user, compare-and-swap on Revision, enforcing the unique
// email index.
func (s *Store) SaveUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID.IsZero() {
		return fmt.Errorf("invalid user")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.users[user.ID]
	switch {
	case !exists && user.Revision != 0:
		return fmt.Errorf("user %s: %w", user.ID, storage.ErrNotFound)
	case exists && stored.Revision != user.Revision:
		return fmt.Errorf("user %s: revision %d != stored %d: %w",
			user.ID, user.Revision, stored.Revision, storage.ErrRevisionConflict)
	}

	if owner, taken := s.emails[user.Email]; taken && owner != user.ID {
		return fmt.Errorf("email %s: %w", user.Email, storage.ErrDuplicateEmail)
	}

	user.Revision++
	clone := user.Clone()
	s.users[user.ID] = clone
	s.emails[user.Email] = user.ID
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(_ context.Context, id domain.ID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return user.Clone(), nil
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(_ context.Context, email domain.Email) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, fmt.Errorf("email %s: %w", email, storage.ErrNotFound)
	}
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return user.Clone(), nil
}

// CountByEmail reports how many users carry the given email. The unique
// index makes the answer 0 or 1.
func (s *Store) CountByEmail(_ context.Context, email domain.Email) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.emails[email]; ok {
		return 1, nil
	}
	return 0, nil
}

// ==================== Cleanup ====================

// cleanupLoop periodically drops redeemed and expired requests along with
// their code index entries, and abandoned requests that never received a
// code once they outlive requestTTL. Users and clients are never reaped.
func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup(now time.Time) {
	cutoff := domain.NumericDateFromTime(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, req := range s.requests {
		if req.Code == nil {
			if now.Sub(s.created[id]) >= s.requestTTL {
				delete(s.requests, id)
				delete(s.created, id)
				removed++
			}
			continue
		}
		if req.Code.IsExchanged() || !cutoff.Before(req.Code.Expires) {
			delete(s.codes, req.Code.Code)
			delete(s.requests, id)
			delete(s.created, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("cleaned up finished authorization requests", "count", removed)
	}
}
