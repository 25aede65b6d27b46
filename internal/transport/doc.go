// Package transport carries the MCP protocol over plain HTTP, multiplexing
// many concurrent logical sessions over one listener.
//
// The Server facade wires four pieces:
//
//   - A routing strategy for the configured mode. Stateful mode classifies
//     each request on the protocol endpoint by verb and the Mcp-Session-Id
//     header: POST delivers messages (creating a session when the body is
//     an initiation), GET attaches a server-push event stream with
//     Last-Event-ID replay, DELETE terminates the session. Stateless mode
//     binds every POST to one shared engine and has no sessions or streams.
//   - A Registry of live sessions, inserted into only after a successful
//     handshake and pruned synchronously on every close signal (explicit
//     DELETE, client disconnect mid-stream, or shutdown).
//   - Per-session Engines that deliver decoded messages to the protocol
//     handler, buffer server-initiated notifications for replay, and own
//     the push stream.
//   - The optional access gate and protected-resource metadata route from
//     the auth package. The health route and metadata route stay public.
//
// Every transport-level failure on the protocol endpoint is written as a
// JSON-RPC error envelope, so clients have one parsing path regardless of
// which layer rejected the request.
package transport
