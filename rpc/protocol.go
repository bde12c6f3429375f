// Package rpc hosts the membership registry behind a JSON-RPC 1.0 endpoint and
// provides the matching client.
package rpc

import "encoding/json"

// Method names served by the registry host.
const (
	MethodRegisterMembersSnapshotBatch = "registerMembersSnapshotBatch"
	MethodGetDaoVoteWeight             = "getDaoVoteWeight"
	MethodGetDaoMembers                = "getDaoMembers"
)

// DefaultMaxRequestBytes caps request bodies when no limit is configured.
const DefaultMaxRequestBytes = 16 << 20

// request is a JSON-RPC 1.0 request payload.
type request struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

// response is a JSON-RPC 1.0 response payload. Result and Error are always
// present; exactly one of them is non-null.
type response struct {
	Result interface{}     `json:"result"`
	Error  *Error          `json:"error"`
	ID     json.RawMessage `json:"id"`
}

// clientRequest is the outbound form of request.
type clientRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// clientResponse is the inbound form of response.
type clientResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}
