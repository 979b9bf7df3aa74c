package rpc

import (
	"fmt"
)

// NetworkError reports a transport-level failure: the request could not be
// sent, the connection failed, the HTTP status was not 200 or the response
// body was not a JSON-RPC envelope. It aborts the enclosing operation.
type NetworkError struct {
	Method     string
	Endpoint   string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("rpc %s %s: http status %d: %v", e.Method, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("rpc %s %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
