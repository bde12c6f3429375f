package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bitfsorg/daoregistry-go/auth"
	"github.com/bitfsorg/daoregistry-go/registry"
)

// ClientConfig holds the connection parameters for a registry host.
type ClientConfig struct {
	URL string

	// Timeout bounds a single call. Zero means 30 seconds.
	Timeout time.Duration
}

// Client is a JSON-RPC 1.0 client for the registry host. The typed registry
// methods are built on top of Call.
type Client struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

// NewClient creates a client with a pooled HTTP transport.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url: cfg.URL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		},
	}
}

// Call invokes method on the host and decodes the result into result.
//
// Call returns ErrConnectionFailed if the HTTP request fails and
// ErrInvalidResponse if the response cannot be decoded. Errors reported by
// the host are returned as *Error, which unwraps to the matching sentinel
// (registry.ErrUnauthorized, ErrStaleNonce, ...).
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := clientRequest{
		JSONRPC: "1.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("rpc: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: HTTP %d: %s", ErrConnectionFailed, resp.StatusCode, string(respBody))
	}

	var rpcResp clientResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}

	if rpcResp.ID != reqBody.ID {
		return fmt.Errorf("%w: response ID mismatch: expected %d, got %d",
			ErrInvalidResponse, reqBody.ID, rpcResp.ID)
	}

	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%w: unmarshal result: %w", ErrInvalidResponse, err)
		}
	}
	return nil
}

// RegisterMembersSnapshotBatch submits a signed batch.
func (c *Client) RegisterMembersSnapshotBatch(ctx context.Context, batch *auth.SignedBatch) error {
	if batch == nil {
		return fmt.Errorf("%w: batch", ErrNilParam)
	}
	return c.Call(ctx, MethodRegisterMembersSnapshotBatch, []interface{}{batch}, nil)
}

// GetDaoVoteWeight returns the weight of addr, zero for non-members.
func (c *Client) GetDaoVoteWeight(ctx context.Context, addr registry.Address, token *registry.TokenID) (*big.Int, error) {
	params := []interface{}{addr.String()}
	if token != nil {
		params = append(params, string(*token))
	}
	var raw string
	if err := c.Call(ctx, MethodGetDaoVoteWeight, params, &raw); err != nil {
		return nil, err
	}
	w, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: weight %q", ErrInvalidResponse, raw)
	}
	return w, nil
}

// GetDaoMembers returns all members in registry order.
func (c *Client) GetDaoMembers(ctx context.Context, token *registry.TokenID) ([]registry.Member, error) {
	var params []interface{}
	if token != nil {
		params = []interface{}{string(*token)}
	}
	var raw [][2]string
	if err := c.Call(ctx, MethodGetDaoMembers, params, &raw); err != nil {
		return nil, err
	}

	members := make([]registry.Member, len(raw))
	for i, pair := range raw {
		addr, err := registry.ParseAddress(pair[0])
		if err != nil {
			return nil, fmt.Errorf("%w: member %d: %w", ErrInvalidResponse, i, err)
		}
		w, ok := new(big.Int).SetString(pair[1], 10)
		if !ok {
			return nil, fmt.Errorf("%w: member %d: weight %q", ErrInvalidResponse, i, pair[1])
		}
		members[i] = registry.Member{Address: addr, Weight: w}
	}
	return members, nil
}

// IsRemote reports whether err was returned by the host rather than the
// transport.
func IsRemote(err error) bool {
	var rpcErr *Error
	return errors.As(err, &rpcErr)
}
