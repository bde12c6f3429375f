package rpc

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/daoregistry-go/auth"
	"github.com/bitfsorg/daoregistry-go/registry"
)

var (
	// ErrConnectionFailed indicates the registry host could not be reached.
	ErrConnectionFailed = errors.New("rpc: connection failed")

	// ErrInvalidResponse indicates the host returned a malformed response.
	ErrInvalidResponse = errors.New("rpc: invalid response")

	// ErrStaleNonce indicates a batch nonce not greater than the last accepted one.
	ErrStaleNonce = registry.ErrStaleNonce

	// ErrInvalidParams indicates method parameters could not be decoded.
	ErrInvalidParams = errors.New("rpc: invalid params")

	// ErrMethodNotFound indicates an unknown method name.
	ErrMethodNotFound = errors.New("rpc: method not found")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("rpc: required parameter is nil")
)

// JSON-RPC error codes returned by the registry host.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeStaleNonce       = -32001
	CodeInvalidSignature = -32002
	CodeUnauthorized     = -32003
)

// Error is an error object carried in a JSON-RPC response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap maps well-known codes back to their sentinel errors so callers can
// match remote failures with errors.Is.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeUnauthorized:
		return registry.ErrUnauthorized
	case CodeStaleNonce:
		return ErrStaleNonce
	case CodeInvalidSignature:
		return auth.ErrInvalidSignature
	case CodeInvalidParams:
		return ErrInvalidParams
	case CodeMethodNotFound:
		return ErrMethodNotFound
	}
	return nil
}

// errorCode classifies err for the wire and for metrics labels.
func errorCode(err error) (int, string) {
	switch {
	case err == nil:
		return 0, "ok"
	case errors.Is(err, registry.ErrUnauthorized):
		return CodeUnauthorized, "unauthorized"
	case errors.Is(err, ErrStaleNonce):
		return CodeStaleNonce, "stale_nonce"
	case errors.Is(err, auth.ErrInvalidSignature), errors.Is(err, auth.ErrInvalidPubKey):
		return CodeInvalidSignature, "invalid_signature"
	case errors.Is(err, ErrInvalidParams), errors.Is(err, registry.ErrInvalidAddress),
		errors.Is(err, auth.ErrNilParam):
		return CodeInvalidParams, "invalid_params"
	case errors.Is(err, ErrMethodNotFound):
		return CodeMethodNotFound, "method_not_found"
	}
	return CodeInternal, "internal"
}
