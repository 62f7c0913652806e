// Package redis provides a Redis-backed implementation of all storage
// interfaces for multi-instance deployments. Revision compare-and-swap is
// implemented with WATCH/MULTI transactions, so two processes racing to
// redeem the same authorization code or rotate the same refresh token still
// produce exactly one winner.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/instrumentation"
	"github.com/strandauth/strand/security"
	"github.com/strandauth/strand/storage"
)

// Default connection timeouts and key lifetimes.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultKeyPrefix namespaces every key this store writes.
	DefaultKeyPrefix = "strand:"

	// DefaultRequestTTL bounds how long authorization requests (and their
	// code index entries) survive. Requests are short-lived by protocol;
	// the TTL is a backstop against unbounded growth, not a lifecycle rule.
	DefaultRequestTTL = time.Hour
)

// casRetries bounds how often a WATCH transaction is retried after a
// concurrent writer invalidates it.
const casRetries = 3

// Key type segments. Full keys look like "strand:request:<id>".
const (
	keyTypeClient    = "client"
	keyTypeRequest   = "request"
	keyTypeCode      = "code"
	keyTypeUser      = "user"
	keyTypeUserEmail = "user-email"
)

// Config holds the connection settings for a single-node or clustered
// Redis deployment.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate against Redis ACLs. Both may be
	// empty for an unauthenticated instance.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces keys for multi-tenancy (default "strand:").
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTTL bounds authorization request lifetime (default 1h).
	RequestTTL time.Duration
}

// Store is a Redis implementation of storage.ClientStore,
// storage.RequestStore, and storage.UserStore.
//
// Aggregates are serialized to JSON; an optional Encryptor seals them at
// rest so a Redis snapshot leaks no emails, password hashes, or codes.
type Store struct {
	client     goredis.UniversalClient
	keyPrefix  string
	requestTTL time.Duration
	encryptor  *security.Encryptor
	metrics    *instrumentation.Metrics
}

// Compile-time interface checks.
var (
	_ storage.ClientStore  = (*Store)(nil)
	_ storage.RequestStore = (*Store)(nil)
	_ storage.UserStore    = (*Store)(nil)
)

// New connects to Redis and verifies connectivity before returning a store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(client, cfg.KeyPrefix)
	if cfg.RequestTTL > 0 {
		s.requestTTL = cfg.RequestTTL
	}
	return s, nil
}

// NewWithClient wraps a pre-configured client. Useful for tests (miniredis)
// and for callers that manage their own connection pooling or failover.
func NewWithClient(client goredis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{
		client:     client,
		keyPrefix:  keyPrefix,
		requestTTL: DefaultRequestTTL,
	}
}

// SetEncryptor enables at-rest encryption of stored aggregates. Call before
// serving traffic; values written under one key cannot be read without it.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptor = enc
}

// SetInstrumentation records per-operation metrics. Nil is safe and disables
// recording.
func (s *Store) SetInstrumentation(metrics *instrumentation.Metrics) {
	s.metrics = metrics
}

// Close releases the underlying client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(keyType, id string) string {
	return s.keyPrefix + keyType + ":" + id
}

// seal serializes an aggregate, encrypting when an encryptor is configured.
func (s *Store) seal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	if s.encryptor != nil {
		return s.encryptor.Encrypt(string(data))
	}
	return string(data), nil
}

// open reverses seal.
func (s *Store) open(data string, v any) error {
	if s.encryptor != nil {
		plaintext, err := s.encryptor.Decrypt(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt: %w", err)
		}
		data = plaintext
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal: %w", err)
	}
	return nil
}

// observe records one storage operation's outcome and latency.
func (s *Store) observe(ctx context.Context, operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
}

// ==================== ClientStore ====================

// SaveClient stores a client registration. Clients are immutable, so this
// is a plain overwrite with no revision protocol and no expiry.
func (s *Store) SaveClient(ctx context.Context, client *domain.Client) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "save_client", start, err) }()

	if client == nil || client.ID == "" {
		return errors.New("invalid client")
	}
	payload, err := s.seal(client)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(keyTypeClient, client.ID), payload, 0).Err()
}

// GetClient retrieves a client by id.
func (s *Store) GetClient(ctx context.Context, id string) (client *domain.Client, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "get_client", start, err) }()

	data, err := s.client.Get(ctx, s.key(keyTypeClient, id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("client %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	client = new(domain.Client)
	if err := s.open(data, client); err != nil {
		return nil, err
	}
	return client, nil
}

// ==================== RequestStore ====================

// SaveRequest stores an authorization request, compare-and-swap on Revision.
// The request key and its code index entry are written in one transaction
// under WATCH, so a concurrent save of the same request invalidates this one
// instead of silently interleaving.
func (s *Store) SaveRequest(ctx context.Context, req *domain.AuthorizationRequest) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "save_request", start, err) }()

	if req == nil || req.ID.IsZero() {
		return errors.New("invalid authorization request")
	}

	key := s.key(keyTypeRequest, req.ID.String())
	next := req.Revision + 1

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			if req.Revision != 0 {
				return fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
			}
		case err != nil:
			return fmt.Errorf("failed to get request: %w", err)
		default:
			var stored domain.AuthorizationRequest
			if err := s.open(data, &stored); err != nil {
				return err
			}
			if stored.Revision != req.Revision {
				return fmt.Errorf("request %s: revision %d != stored %d: %w",
					req.ID, req.Revision, stored.Revision, storage.ErrRevisionConflict)
			}
		}

		clone := req.Clone()
		clone.Revision = next
		payload, err := s.seal(clone)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.requestTTL)
			if clone.Code != nil {
				pipe.Set(ctx, s.key(keyTypeCode, clone.Code.Code), clone.ID.String(), s.requestTTL)
			}
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key); err != nil {
		return err
	}
	req.Revision = next
	return nil
}

// GetRequest retrieves an authorization request by id.
func (s *Store) GetRequest(ctx context.Context, id domain.ID) (req *domain.AuthorizationRequest, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "get_request", start, err) }()

	data, err := s.client.Get(ctx, s.key(keyTypeRequest, id.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	req = new(domain.AuthorizationRequest)
	if err := s.open(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

// GetRequestByCode retrieves the request owning an authorization code via
// the code index.
func (s *Store) GetRequestByCode(ctx context.Context, code string) (req *domain.AuthorizationRequest, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "get_request_by_code", start, err) }()

	raw, err := s.client.Get(ctx, s.key(keyTypeCode, code)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("authorization code: %w", storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get code index: %w", err)
	}

	id, err := domain.ParseID(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt code index entry: %w", err)
	}
	return s.GetRequest(ctx, id)
}

// ==================== UserStore ====================

// SaveUser stores a user, compare-and-swap on Revision. The unique email
// index lives in the same WATCH transaction, so two concurrent first-time
// registrations of one email produce exactly one winner; the loser gets
// storage.ErrDuplicateEmail.
func (s *Store) SaveUser(ctx context.Context, user *domain.User) (err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "save_user", start, err) }()

	if user == nil || user.ID.IsZero() {
		return errors.New("invalid user")
	}

	key := s.key(keyTypeUser, user.ID.String())
	emailKey := s.key(keyTypeUserEmail, user.Email.String())
	next := user.Revision + 1

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, goredis.Nil):
			if user.Revision != 0 {
				return fmt.Errorf("user %s: %w", user.ID, storage.ErrNotFound)
			}
		case err != nil:
			return fmt.Errorf("failed to get user: %w", err)
		default:
			var stored domain.User
			if err := s.open(data, &stored); err != nil {
				return err
			}
			if stored.Revision != user.Revision {
				return fmt.Errorf("user %s: revision %d != stored %d: %w",
					user.ID, user.Revision, stored.Revision, storage.ErrRevisionConflict)
			}
		}

		owner, err := tx.Get(ctx, emailKey).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to get email index: %w", err)
		}
		if err == nil && owner != user.ID.String() {
			return fmt.Errorf("email %s: %w", user.Email, storage.ErrDuplicateEmail)
		}

		clone := user.Clone()
		clone.Revision = next
		payload, err := s.seal(clone)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.Set(ctx, emailKey, user.ID.String(), 0)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, key, emailKey); err != nil {
		return err
	}
	user.Revision = next
	return nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id domain.ID) (user *domain.User, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "get_user", start, err) }()

	data, err := s.client.Get(ctx, s.key(keyTypeUser, id.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user = new(domain.User)
	if err := s.open(data, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail retrieves a user through the email index.
func (s *Store) GetUserByEmail(ctx context.Context, email domain.Email) (user *domain.User, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "get_user_by_email", start, err) }()

	raw, err := s.client.Get(ctx, s.key(keyTypeUserEmail, email.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("email %s: %w", email, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get email index: %w", err)
	}

	id, err := domain.ParseID(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt email index entry: %w", err)
	}
	return s.GetUser(ctx, id)
}

// CountByEmail reports how many users carry the given email. The unique
// index makes the answer 0 or 1.
func (s *Store) CountByEmail(ctx context.Context, email domain.Email) (n int, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "count_by_email", start, err) }()

	exists, err := s.client.Exists(ctx, s.key(keyTypeUserEmail, email.String())).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check email index: %w", err)
	}
	return int(exists), nil
}

// watch runs txf under WATCH on the given keys, retrying when a concurrent
// writer invalidates the transaction. A writer that keeps winning is
// indistinguishable from a lost CAS, so exhaustion maps to
// storage.ErrRevisionConflict.
func (s *Store) watch(ctx context.Context, txf func(tx *goredis.Tx) error, keys ...string) error {
	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("transaction kept losing to concurrent writers: %w", storage.ErrRevisionConflict)
}
