// Package app provides application bootstrap and lifecycle management for
// dbmcp.
//
// The package assembles the pieces the rest of the repository exports:
//
//   - Config and Overrides (config.go) carry the CLI flag values and merge
//     them over the loaded file configuration.
//   - NewApplication (bootstrap.go) runs the bootstrap phase: logging
//     first, then configuration loading and validation, then service
//     construction.
//   - InitializeServices (services.go) builds the database handle, the MCP
//     protocol handler with its registered tool surface, and the transport
//     facade, in dependency order.
//   - Application.Run (bootstrap.go) starts the transport, blocks until
//     the context is canceled, and shuts down in reverse order: sessions
//     and listener first, database last.
//
// The CLI layer under cmd/ owns flag parsing and signal handling; nothing
// in this package installs signal handlers.
package app
