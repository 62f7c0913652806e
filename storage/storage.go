// Package storage defines the persistence contracts for clients, users, and
// authorization requests, plus the sentinel errors implementations use to
// signal the conflicts the protocol engine must arbitrate on.
//
// Aggregates carry a Revision counter. SaveRequest and SaveUser are
// compare-and-swap on that revision: a save whose in-memory revision no
// longer matches the stored one fails with ErrRevisionConflict. This is the
// cross-process arbitration point for single-use codes and refresh-token
// rotation; the in-memory state machine alone cannot serialize two requests
// hitting different processes.
package storage

import (
	"context"
	"errors"

	"github.com/strandauth/strand/domain"
)

// Sentinel errors. Stores wrap them with detail; callers test with errors.Is
// and translate them into domain errors at the facade boundary.
var (
	// ErrNotFound signals the requested aggregate does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrRevisionConflict signals a compare-and-swap save lost the race to a
	// concurrent writer.
	ErrRevisionConflict = errors.New("storage: revision conflict")

	// ErrDuplicateEmail signals the store's unique email index rejected a
	// user save. The index, not the facade's pre-check, is the authoritative
	// guard against the check-then-act registration race.
	ErrDuplicateEmail = errors.New("storage: email already registered")
)

// ClientStore persists registered OAuth clients. Clients are immutable, so
// there is no revision protocol: SaveClient overwrites.
type ClientStore interface {
	// SaveClient stores a client registration.
	SaveClient(ctx context.Context, client *domain.Client) error

	// GetClient retrieves a client by id (ErrNotFound).
	GetClient(ctx context.Context, id string) (*domain.Client, error)
}

// RequestStore persists authorization requests and the codes they own.
type RequestStore interface {
	// SaveRequest stores a request, compare-and-swap on Revision. On success
	// the passed aggregate's Revision is advanced to the stored value.
	SaveRequest(ctx context.Context, req *domain.AuthorizationRequest) error

	// GetRequest retrieves a request by id (ErrNotFound).
	GetRequest(ctx context.Context, id domain.ID) (*domain.AuthorizationRequest, error)

	// GetRequestByCode retrieves the request owning the given authorization
	// code string (ErrNotFound).
	GetRequestByCode(ctx context.Context, code string) (*domain.AuthorizationRequest, error)
}

// UserStore persists users and their refresh-token lists.
type UserStore interface {
	// SaveUser stores a user, compare-and-swap on Revision. A new user whose
	// email is already indexed fails with ErrDuplicateEmail. On success the
	// passed aggregate's Revision is advanced to the stored value.
	SaveUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by id (ErrNotFound).
	GetUser(ctx context.Context, id domain.ID) (*domain.User, error)

	// GetUserByEmail retrieves a user by email (ErrNotFound).
	GetUserByEmail(ctx context.Context, email domain.Email) (*domain.User, error)

	// CountByEmail reports how many users carry the given email. Used by the
	// registration uniqueness checks; the unique index in SaveUser
	// remains the authoritative guard.
	CountByEmail(ctx context.Context, email domain.Email) (int, error)
}
