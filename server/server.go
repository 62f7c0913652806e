package server

import (
	"fmt"
	"log/slog"

	"github.com/strandauth/strand/domain"
	"github.com/strandauth/strand/instrumentation"
	"github.com/strandauth/strand/security"
	"github.com/strandauth/strand/storage"
)

// Server coordinates the authorization-code flow across the domain state
// machines, the stores, and the token signer.
type Server struct {
	clients  storage.ClientStore
	requests storage.RequestStore
	users    storage.UserStore

	signer  domain.Signer
	hasher  domain.PasswordHasher
	clock   domain.Clock
	codeGen domain.CodeGenerator

	Auditor     *security.Auditor
	RateLimiter *security.RateLimiter // guards the password prompt per identifier
	Metrics     *instrumentation.Metrics
	Logger      *slog.Logger
	Config      *Config
}

// New creates a protocol engine over the given stores and signer. Clock,
// hasher, and code generator default to the production implementations;
// override them with the setters for tests.
func New(
	clients storage.ClientStore,
	requests storage.RequestStore,
	users storage.UserStore,
	signer domain.Signer,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := config.validate(); err != nil {
		return nil, err
	}

	return &Server{
		clients:  clients,
		requests: requests,
		users:    users,
		signer:   signer,
		hasher:   security.NewBcryptHasher(0),
		clock:    security.NewSystemClock(),
		codeGen:  security.NewCodeGenerator(),
		Config:   config,
		Logger:   logger,
	}, nil
}

// SetClock overrides the clock. Intended for tests.
func (s *Server) SetClock(clock domain.Clock) {
	if clock != nil {
		s.clock = clock
	}
}

// SetPasswordHasher overrides the password hasher.
func (s *Server) SetPasswordHasher(hasher domain.PasswordHasher) {
	if hasher != nil {
		s.hasher = hasher
	}
}

// SetCodeGenerator overrides the authorization code generator.
func (s *Server) SetCodeGenerator(gen domain.CodeGenerator) {
	if gen != nil {
		s.codeGen = gen
	}
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the prompt rate limiter.
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation wires the metric instruments.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst != nil {
		s.Metrics = inst.Metrics()
	}
}
