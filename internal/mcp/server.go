// Package mcp serves a logged-in vault over the Model Context Protocol.
//
// Tools expose credential metadata, health and expiry only. No tool returns
// a secret value, in full or in part.
package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anima-vault/anima/internal/logging"
	"github.com/anima-vault/anima/pkg/vault"
)

// Server exposes one Session to an MCP client.
type Server struct {
	server  *mcp.Server
	session *vault.Session
	logger  logging.Logger
	now     func() time.Time
}

// ServerOptions configures NewServer. The zero value is usable.
type ServerOptions struct {
	Version string
	Logger  logging.Logger
	// Now stamps days-remaining calculations; nil uses time.Now.
	Now func() time.Time
}

// NewServer wraps session, which must be open.
func NewServer(session *vault.Session, opts *ServerOptions) (*Server, error) {
	if session == nil || !session.IsOpen() {
		return nil, errors.New("mcp: an open session is required")
	}
	if opts == nil {
		opts = &ServerOptions{}
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "anima",
			Version: version,
		}, nil),
		session: session,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credential_list",
		Description: "List saved credentials with site, username, category, strength and expiry. Never returns passwords.",
	}, s.handleCredentialList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credential_lookup",
		Description: "Look up one credential by id and return its metadata. Never returns the password.",
	}, s.handleCredentialLookup)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "credential_expiring",
		Description: "List credentials whose rotation period ends within the given number of days, expired ones first.",
	}, s.handleCredentialExpiring)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_health",
		Description: "Score the vault (0-100) and list weak, reused, expiring and expired credentials.",
	}, s.handleVaultHealth)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "category_list",
		Description: "List the category names available for credentials.",
	}, s.handleCategoryList)
}

// Run serves over stdio until ctx is done or the client disconnects, then
// logs the session out.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close(context.WithoutCancel(ctx))

	s.logger.Info(ctx, "mcp server started", "user", s.session.Username())
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close logs the session out. Closing twice is not an error.
func (s *Server) Close(ctx context.Context) error {
	if err := s.session.Logout(ctx); err != nil && !errors.Is(err, vault.ErrLocked) {
		return err
	}
	return nil
}
