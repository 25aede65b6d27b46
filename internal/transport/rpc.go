package transport

import (
	"encoding/json"
	"net/http"

	"dbmcp/pkg/logging"
)

// JSON-RPC error codes used by the transport layer. Handler-level errors
// carry their own codes and pass through untouched.
const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeBadRequest      = -32000
	codeSessionNotFound = -32001
	codeInternalError   = -32603
)

type rpcErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcErrorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcErrorDetail  `json:"error"`
}

// writeRPCError writes a JSON-RPC error envelope with the given HTTP
// status. Every transport-level failure on the protocol endpoint goes
// through here so clients have a single parsing path. A nil id is encoded
// as null.
func writeRPCError(w http.ResponseWriter, status, code int, message string, id json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	envelope := rpcErrorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErrorDetail{Code: code, Message: message},
	}
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		logging.Debug("Transport", "Failed to write error response: %v", err)
	}
}

func writeProtocolError(w http.ResponseWriter, perr *protocolError) {
	writeRPCError(w, perr.status, perr.code, perr.message, perr.id)
}
