// Package logging provides subsystem-tagged structured logging for dbmcp,
// built on Go's standard slog package.
//
// All log entries carry a subsystem identifier for categorization, a
// printf-formatted message, and, for errors, the error value as a structured
// attribute:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	logging.Info("Bootstrap", "listening on %s", addr)
//	logging.Debug("Session", "created session %s", id)
//	logging.Error("Database", err, "query failed")
//
// Subsystems in use: Bootstrap, Config, Services, Transport, Session, Auth,
// JWKS, Database.
//
// Level filtering happens at the handler, so messages below the configured
// level cost no allocation. ParseLevel converts the configuration string
// form ("debug", "info", "warn", "error") into a LogLevel.
package logging
