package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dbmcp/internal/app"
)

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveConfigPath specifies the YAML configuration file. When empty, the
// built-in defaults apply.
var serveConfigPath string

// Transport flag overrides. Zero values leave the configured value alone.
var (
	serveHost     string
	servePort     int
	serveEndpoint string
	serveMode     string
)

// serveDB points the embedded database at a file. The default is an
// in-memory database that disappears on exit.
var serveDB string

// Auth flag overrides.
var (
	serveAuthEnabled  bool
	serveAuthIssuer   string
	serveAuthJWKSURI  string
	serveAuthAudience string
)

// serveCmd defines the serve command, the main command of dbmcp. It starts
// the HTTP transport and serves the database tool surface until
// interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dbmcp server",
	Long: `Starts the dbmcp server: an MCP endpoint over plain HTTP backed by an
embedded SQLite database.

The server speaks JSON-RPC over POST with optional server-push streams
over GET (SSE). Two session modes are available:

1. Stateful mode (default):
   - Each initialize handshake opens a session identified by the
     Mcp-Session-Id header.
   - Sessions carry server-push streams with replay after reconnection.

2. Stateless mode (--mode stateless):
   - Every request is served by one shared engine; no session identifiers
     and no push streams. Suitable behind load balancers without sticky
     routing.

Configuration is read from an optional YAML file (--config); command-line
flags override file values. Bearer-token protection is enabled with
--auth-enabled plus an issuer (discovery) or an explicit JWKS URI.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	overrides := app.Overrides{
		Host:         serveHost,
		Port:         servePort,
		Endpoint:     serveEndpoint,
		Mode:         serveMode,
		DBPath:       serveDB,
		AuthIssuer:   serveAuthIssuer,
		AuthJWKSURI:  serveAuthJWKSURI,
		AuthAudience: serveAuthAudience,
	}
	// Only an explicitly passed flag may flip the file setting.
	if cmd.Flags().Changed("auth-enabled") {
		overrides.AuthEnabled = &serveAuthEnabled
	}

	cfg := app.NewConfig(serveDebug, serveConfigPath, overrides)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

// init registers the serve command and its flags with the root command.
func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to the YAML configuration file")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides configuration)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides configuration)")
	serveCmd.Flags().StringVar(&serveEndpoint, "endpoint", "", "Protocol endpoint path (overrides configuration)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Session mode: stateful or stateless (overrides configuration)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite database file (overrides configuration; default in-memory)")
	serveCmd.Flags().BoolVar(&serveAuthEnabled, "auth-enabled", false, "Require bearer tokens on the protocol endpoint")
	serveCmd.Flags().StringVar(&serveAuthIssuer, "auth-issuer", "", "Authorization server base URL for discovery")
	serveCmd.Flags().StringVar(&serveAuthJWKSURI, "auth-jwks-uri", "", "Explicit JWKS URI (skips discovery)")
	serveCmd.Flags().StringVar(&serveAuthAudience, "auth-audience", "", "Expected token audience / resource identifier")
}
