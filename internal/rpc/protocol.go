// Package rpc implements the command surface: a fixed set of JSON-RPC style
// methods for subscribers and operators.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Error codes follow the JSON-RPC 2.0 convention.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Version is the protocol version echoed in every response.
const Version = "2.0"

// Request is one command invocation.
type Request struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response carries either Result or Error. ID echoes the request id and is
// null when the request had none.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a structured command failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

var nullID = json.RawMessage("null")

func newResponse(id json.RawMessage, result any, rpcErr *Error) Response {
	if len(id) == 0 {
		id = nullID
	}
	return Response{JSONRPC: Version, ID: id, Result: result, Error: rpcErr}
}
