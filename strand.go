// Package strand is an OAuth 2.0 authorization-code-with-PKCE identity
// provider: user registration, an authorization-request state machine with
// single-use codes, HS256-signed access/refresh/ID tokens, and refresh-token
// rotation. The protocol engine lives in the server package; this package
// adds the HTTP transport and a convenience constructor that wires both.
package strand

import (
	"log/slog"

	"github.com/strandauth/strand/server"
	"github.com/strandauth/strand/signer"
	"github.com/strandauth/strand/storage"
)

// Store is the combined persistence surface a provider needs. The memory
// and redis stores both satisfy it.
type Store interface {
	storage.ClientStore
	storage.RequestStore
	storage.UserStore
}

// Provider bundles a wired protocol engine with its HTTP transport.
type Provider struct {
	Server  *server.Server
	Handler *Handler
}

// New wires a provider over the given store, signing the tokens with an
// HS256 secret (32 bytes minimum). Config must carry at least the Issuer;
// everything else gets secure defaults.
func New(store Store, secret []byte, config *server.Config, logger *slog.Logger) (*Provider, error) {
	sig, err := signer.New(secret)
	if err != nil {
		return nil, err
	}

	srv, err := server.New(store, store, store, sig, config, logger)
	if err != nil {
		return nil, err
	}

	return &Provider{
		Server:  srv,
		Handler: NewHandler(srv, logger),
	}, nil
}
