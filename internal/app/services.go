package app

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"dbmcp/internal/database"
	"dbmcp/internal/transport"
	"dbmcp/pkg/logging"
)

// serverName and serverVersion identify this implementation to clients
// during the protocol handshake.
const (
	serverName    = "dbmcp"
	serverVersion = "1.0.0"
)

// Services holds the initialized components of a dbmcp instance.
//
// Initialization order matters: the database must exist before the tool
// handlers that close over it, and the protocol handler must exist before
// the transport that routes messages into it.
type Services struct {
	// DB is the embedded SQLite handle shared by all tool invocations.
	DB *database.DB

	// MCPServer is the protocol handler holding the registered tools. In
	// stateful mode it is shared by every session engine.
	MCPServer *server.MCPServer

	// Transport is the HTTP facade serving the protocol endpoint.
	Transport *transport.Server
}

// InitializeServices creates the database, the protocol handler with its
// tool surface, and the transport facade, in dependency order. The context
// bounds the blocking setup work (database ping, authorization-server
// discovery).
func InitializeServices(ctx context.Context, cfg *Config) (*Services, error) {
	fileCfg := cfg.File

	db, err := database.Open(ctx, fileCfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(true),
	)
	database.RegisterTools(mcpServer, db, fileCfg.Auth.WriteScope)
	logging.Info("Services", "Registered database tools (write scope: %q)", fileCfg.Auth.WriteScope)

	opts := transport.Options{
		Host:        fileCfg.Transport.Host,
		Port:        fileCfg.Transport.Port,
		Endpoint:    fileCfg.Transport.Endpoint,
		Mode:        fileCfg.Transport.Mode,
		KeepAlive:   time.Duration(fileCfg.Transport.KeepAliveSeconds) * time.Second,
		HistorySize: fileCfg.Transport.HistorySize,
		MaxSessions: fileCfg.Transport.MaxSessions,
		Handler:     mcpServer,
	}
	if fileCfg.Auth.Enabled {
		opts.Auth = &transport.AuthOptions{
			Issuer:          fileCfg.Auth.Issuer,
			JWKSURI:         fileCfg.Auth.JWKSURI,
			Audience:        fileCfg.Auth.Audience,
			ScopesSupported: fileCfg.Auth.ScopesSupported,
			PublicPaths:     fileCfg.Auth.PublicPaths,
			ClockSkew:       time.Duration(fileCfg.Auth.ClockSkewSeconds) * time.Second,
		}
	}

	ts, err := transport.New(ctx, opts)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing transport: %w", err)
	}

	return &Services{
		DB:        db,
		MCPServer: mcpServer,
		Transport: ts,
	}, nil
}
