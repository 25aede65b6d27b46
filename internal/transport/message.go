package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// maxBodyBytes caps POST bodies on the protocol endpoint.
const maxBodyBytes = 4 << 20

var jsonNull = []byte("null")

// protocolError is a wire-level defect detected while reading a request
// body, before any engine is involved. It carries everything needed to
// write the error envelope.
type protocolError struct {
	status  int
	code    int
	message string
	id      json.RawMessage
}

func (e *protocolError) Error() string {
	return e.message
}

// parsedMessage is one JSON-RPC message decoded just far enough to route
// it. The raw bytes are what actually reach the protocol handler.
type parsedMessage struct {
	raw    json.RawMessage
	id     json.RawMessage
	method string
}

func (m parsedMessage) isInitiation() bool {
	return m.method == string(mcp.MethodInitialize)
}

// payload is one decoded POST body: a single message or a batch. The batch
// flag is kept so the response mirrors the request shape.
type payload struct {
	messages []parsedMessage
	batch    bool
}

// isInitiation reports whether the payload starts a session: a lone
// initiation message, or a batch whose first element is one.
func (p *payload) isInitiation() bool {
	return len(p.messages) > 0 && p.messages[0].isInitiation()
}

// readPayload reads and decodes a POST body. The returned protocolError is
// ready to write; the caller does not interpret it further.
func readPayload(w http.ResponseWriter, r *http.Request) (*payload, *protocolError) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &protocolError{
				status:  http.StatusRequestEntityTooLarge,
				code:    codeInvalidRequest,
				message: "request body too large",
			}
		}
		return nil, &protocolError{
			status:  http.StatusBadRequest,
			code:    codeParseError,
			message: "failed to read request body",
		}
	}
	return parseBody(body)
}

func parseBody(body []byte) (*payload, *protocolError) {
	data := bytes.TrimSpace(body)
	if len(data) == 0 || !json.Valid(data) {
		return nil, &protocolError{
			status:  http.StatusBadRequest,
			code:    codeParseError,
			message: "parse error",
		}
	}

	if data[0] != '[' {
		msg, perr := decodeMessage(data)
		if perr != nil {
			return nil, perr
		}
		return &payload{messages: []parsedMessage{msg}}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, &protocolError{
			status:  http.StatusBadRequest,
			code:    codeParseError,
			message: "parse error",
		}
	}
	if len(elements) == 0 {
		return nil, &protocolError{
			status:  http.StatusBadRequest,
			code:    codeInvalidRequest,
			message: "invalid request: empty batch",
		}
	}

	messages := make([]parsedMessage, 0, len(elements))
	for _, element := range elements {
		msg, perr := decodeMessage(element)
		if perr != nil {
			return nil, perr
		}
		messages = append(messages, msg)
	}
	return &payload{messages: messages, batch: true}, nil
}

// decodeMessage probes a single message for the fields routing needs. A
// valid message carries a method (request or notification) or a result or
// error member (a response travelling client to server).
func decodeMessage(raw json.RawMessage) (parsedMessage, *protocolError) {
	var probe struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return parsedMessage{}, &protocolError{
			status:  http.StatusBadRequest,
			code:    codeInvalidRequest,
			message: "invalid request",
		}
	}
	if probe.Method == "" && probe.Result == nil && probe.Error == nil {
		return parsedMessage{}, &protocolError{
			status:  http.StatusBadRequest,
			code:    codeInvalidRequest,
			message: "invalid request",
			id:      normalizeID(probe.ID),
		}
	}
	return parsedMessage{
		raw:    raw,
		id:     normalizeID(probe.ID),
		method: probe.Method,
	}, nil
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 || bytes.Equal(id, jsonNull) {
		return nil
	}
	return id
}
