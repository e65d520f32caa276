package mcpgateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

var (
	// ErrMalformedJSON means the body is not JSON at all.
	ErrMalformedJSON = errors.New("malformed JSON")
	// ErrInvalidEnvelope means the body is JSON but not a JSON-RPC 2.0 request.
	ErrInvalidEnvelope = errors.New("invalid JSON-RPC envelope")
)

// Request is a validated inbound JSON-RPC envelope. ID holds the raw id
// bytes so they can be echoed back verbatim.
type Request struct {
	JSONRPC string
	ID      json.RawMessage
	Method  string
	Params  json.RawMessage
}

// IsNotification reports whether the request must not be answered.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

type wireRequest struct {
	JSONRPC *string         `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// ParseRequest validates body at the ingress boundary. Anything that is not
// a single JSON-RPC 2.0 request or notification is rejected.
func ParseRequest(body []byte) (*Request, error) {
	if !json.Valid(body) {
		return nil, ErrMalformedJSON
	}
	var w wireRequest
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if w.JSONRPC == nil || *w.JSONRPC != mcp.JSONRPC_VERSION {
		return nil, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidEnvelope, mcp.JSONRPC_VERSION)
	}
	if w.Method == nil || *w.Method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidEnvelope)
	}
	id := bytes.TrimSpace(w.ID)
	if bytes.Equal(id, []byte("null")) {
		id = nil
	}
	if len(id) > 0 && !validID(id) {
		return nil, fmt.Errorf("%w: id must be a string or a number", ErrInvalidEnvelope)
	}
	params := bytes.TrimSpace(w.Params)
	if bytes.Equal(params, []byte("null")) {
		params = nil
	}
	return &Request{
		JSONRPC: *w.JSONRPC,
		ID:      id,
		Method:  *w.Method,
		Params:  params,
	}, nil
}

func validID(raw json.RawMessage) bool {
	switch raw[0] {
	case '"':
		return true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	default:
		return false
	}
}

// Response is an outbound JSON-RPC envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is the error member of a JSON-RPC response.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewResult builds a success response echoing id.
func NewResult(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: mcp.JSONRPC_VERSION, ID: id, Result: result}
}

// NewError builds an error response echoing id.
func NewError(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error:   &ResponseError{Code: code, Message: message},
	}
}
