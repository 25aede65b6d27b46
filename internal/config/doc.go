// Package config defines the dbmcp configuration model and its YAML loader.
//
// Configuration is optional: without a file, defaults apply and the server
// runs as a local stateful MCP endpoint with auth disabled and an in-memory
// database. A file provided via --config is decoded strictly (unknown keys
// are errors), defaults fill the gaps, and Validate catches contradictions
// before anything binds a port.
//
// The transport mode (stateful or stateless) is a deployment-time choice
// and immutable for the process lifetime; there is deliberately no reload
// mechanism.
package config
