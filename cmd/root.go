package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"dbmcp/internal/config"
)

// Exit codes for CLI commands, usable by scripts and process supervisors.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeConfig indicates the configuration was rejected.
	ExitCodeConfig = 2
)

// rootCmd represents the base command for the dbmcp application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dbmcp",
	Short: "MCP server exposing SQLite database tools over HTTP",
	Long: `dbmcp serves Model Context Protocol tools backed by an embedded SQLite
database over plain HTTP: JSON-RPC requests over POST, optional server-push
streams over GET, concurrent sessions multiplexed by the Mcp-Session-Id
header, and optional OAuth 2.0 bearer-token validation on the resource
side.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the
// application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application. It initializes
// and executes the root command, which in turn handles subcommands and
// flags. This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "dbmcp version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes for automation.
func getExitCode(err error) int {
	var validation *config.ValidationError
	if errors.As(err, &validation) {
		return ExitCodeConfig
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
