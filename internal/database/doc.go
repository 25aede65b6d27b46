// Package database provides the embedded SQLite engine behind the MCP tool
// surface.
//
// DB is a single-connection handle over modernc.org/sqlite (pure Go, no
// cgo). One open connection serializes writers and keeps the empty-path
// in-memory mode alive for the process lifetime. RegisterTools installs the
// six tools clients see: read_query, write_query, create_table,
// list_tables, describe_table, and export_schema.
//
// Two guard rails separate the read and write paths: read_query accepts
// only statements starting with a read-only keyword, and write_query
// bounces read statements back. When a write scope is configured, mutating
// tools additionally check the authenticated principal's scopes and return
// a tool error, never a transport failure, when the scope is missing.
package database
