// Package rpc serves a turn controller over line-delimited JSON-RPC 2.0 on
// stdio. Requests come in on one line each; responses and notifications go
// out the same way.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted.
const Version = "2.0"

// Standard JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	ServerError    = -32000
)

// Request is an incoming call. A request without an id is a notification
// and gets no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the caller expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response answers a Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// Notification is a server-initiated message without an id.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// NewResponse creates a successful response. A nil result is sent as null
// so the caller always sees a result member.
func NewResponse(id json.RawMessage, result any) *Response {
	if result == nil {
		result = json.RawMessage("null")
	}
	return &Response{JSONRPC: Version, ID: normalizeID(id), Result: result}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: Version,
		ID:      normalizeID(id),
		Error:   &Error{Code: code, Message: message},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// parseRequest decodes one line. A decode failure is reported as a parse
// error, a missing method or bad version as an invalid request.
func parseRequest(line []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, &Error{Code: ParseError, Message: "parse error: " + err.Error()}
	}
	if req.JSONRPC != Version {
		return &req, &Error{Code: InvalidRequest, Message: fmt.Sprintf("invalid jsonrpc version %q", req.JSONRPC)}
	}
	if req.Method == "" {
		return &req, &Error{Code: InvalidRequest, Message: "method is required"}
	}
	return &req, nil
}

// decodeParams unmarshals params into v. Absent params leave v untouched.
func decodeParams(params json.RawMessage, v any) *Error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{Code: InvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}
