package rpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only accepted value of the jsonrpc member.
const Version = "2.0"

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

var nullID = json.RawMessage("null")

// Request is a decoded envelope. ID holds the literal id value and is nil
// for notifications.
type Request struct {
	JSONRPC string
	Method  string
	Params  json.RawMessage
	ID      json.RawMessage
}

func (r *Request) IsNotification() bool {
	return r.ID == nil
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

func newError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func success(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, Result: result, ID: orNull(id)}
}

func failure(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: Version, Error: err, ID: orNull(id)}
}

func orNull(id json.RawMessage) json.RawMessage {
	if id == nil {
		return nullID
	}
	return id
}

// decodeRequest validates the envelope. The returned id is set whenever the
// body carried one, even if the envelope is otherwise invalid.
func decodeRequest(body []byte) (*Request, json.RawMessage, *Error) {
	if !json.Valid(body) {
		return nil, nil, newError(CodeParseError, "Parse error")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, nil, newError(CodeInvalidRequest, "Invalid Request: expected a JSON object")
	}

	var id json.RawMessage
	if raw, ok := fields["id"]; ok {
		id = raw
	}

	var version string
	if raw, ok := fields["jsonrpc"]; !ok || json.Unmarshal(raw, &version) != nil || version != Version {
		return nil, id, newError(CodeInvalidRequest, "Invalid Request: jsonrpc must be %q", Version)
	}

	var method string
	if raw, ok := fields["method"]; !ok || json.Unmarshal(raw, &method) != nil || method == "" {
		return nil, id, newError(CodeInvalidRequest, "Invalid Request: method must be a string")
	}

	req := &Request{
		JSONRPC: version,
		Method:  method,
		ID:      id,
	}
	if raw, ok := fields["params"]; ok && string(raw) != "null" {
		req.Params = raw
	}
	return req, id, nil
}
