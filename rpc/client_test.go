package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/daoregistry-go/registry"
)

func TestClient_ConnectionError(t *testing.T) {
	client := NewClient(ClientConfig{URL: "http://localhost:1"})
	_, err := client.GetDaoMembers(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.False(t, IsRemote(err))
}

func TestClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{URL: server.URL})
	err := client.Call(context.Background(), MethodGetDaoMembers, nil, nil)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestClient_IDMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(clientResponse{ID: 999, Result: json.RawMessage(`[]`)})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{URL: server.URL})
	_, err := client.GetDaoMembers(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClient_SendsParams(t *testing.T) {
	var got clientRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(clientResponse{ID: got.ID, Result: json.RawMessage(`"42"`)})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{URL: server.URL})
	token := registry.TokenID("ITHEUM-fce905")
	w, err := client.GetDaoVoteWeight(context.Background(), makeAddr(1), &token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), w.Int64())

	assert.Equal(t, "1.0", got.JSONRPC)
	assert.Equal(t, MethodGetDaoVoteWeight, got.Method)
	assert.Equal(t, []interface{}{makeAddr(1).String(), "ITHEUM-fce905"}, got.Params)
}

func TestClient_BadWeightInResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req clientRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(clientResponse{ID: req.ID, Result: json.RawMessage(`"lots"`)})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{URL: server.URL})
	_, err := client.GetDaoVoteWeight(context.Background(), makeAddr(1), nil)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClient_NilBatch(t *testing.T) {
	client := NewClient(ClientConfig{URL: "http://localhost:1"})
	assert.ErrorIs(t, client.RegisterMembersSnapshotBatch(context.Background(), nil), ErrNilParam)
}

func TestError_UnwrapsSentinels(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{CodeUnauthorized, registry.ErrUnauthorized},
		{CodeStaleNonce, ErrStaleNonce},
		{CodeInvalidParams, ErrInvalidParams},
		{CodeMethodNotFound, ErrMethodNotFound},
	}
	for _, tc := range tests {
		err := error(&Error{Code: tc.code, Message: "x"})
		assert.ErrorIs(t, err, tc.want)
	}
	assert.Nil(t, (&Error{Code: CodeInternal}).Unwrap())
}
