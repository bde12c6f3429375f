// Package snapshot computes a membership snapshot from token holder listings
// and submits it to the registry host in signed batches.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Holder is one account in a holder listing. Balance is a raw integer
// amount in the token's smallest unit.
type Holder struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// HolderSource lists token and collection holders page by page.
type HolderSource interface {
	TokenAccounts(ctx context.Context, tokenID string, from, size int) ([]Holder, error)
	CollectionAccounts(ctx context.Context, collectionID string, from, size int) ([]Holder, error)
	TokenDecimals(ctx context.Context, tokenID string) (int, error)
}

// maxAPIResponseBytes caps a single holder page.
const maxAPIResponseBytes = 32 << 20

// APIClient implements HolderSource against a REST indexer API exposing
// tokens/{id}/accounts, nfts/{id}/accounts and tokens/{id}.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// Compile-time interface check.
var _ HolderSource = (*APIClient)(nil)

// NewAPIClient creates an APIClient. A zero timeout means 30 seconds.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// TokenAccounts returns holders of a fungible token.
func (c *APIClient) TokenAccounts(ctx context.Context, tokenID string, from, size int) ([]Holder, error) {
	q := url.Values{}
	q.Set("from", strconv.Itoa(from))
	q.Set("size", strconv.Itoa(size))

	var out []Holder
	if err := c.get(ctx, "tokens/"+url.PathEscape(tokenID)+"/accounts", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CollectionAccounts returns holders of a semi-fungible collection item,
// flagged accounts included.
func (c *APIClient) CollectionAccounts(ctx context.Context, collectionID string, from, size int) ([]Holder, error) {
	q := url.Values{}
	q.Set("includeFlagged", "true")
	q.Set("from", strconv.Itoa(from))
	q.Set("size", strconv.Itoa(size))

	var out []Holder
	if err := c.get(ctx, "nfts/"+url.PathEscape(collectionID)+"/accounts", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TokenDecimals returns the number of decimals of a fungible token.
func (c *APIClient) TokenDecimals(ctx context.Context, tokenID string) (int, error) {
	var def struct {
		Decimals *int `json:"decimals"`
	}
	if err := c.get(ctx, "tokens/"+url.PathEscape(tokenID), nil, &def); err != nil {
		return 0, err
	}
	if def.Decimals == nil {
		return 0, fmt.Errorf("%w: token %s has no decimals", ErrAPI, tokenID)
	}
	return *def.Decimals, nil
}

func (c *APIClient) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + "/" + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("snapshot: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrAPI, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: GET %s: HTTP %d: %s", ErrAPI, u, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrAPI, u, err)
	}
	return nil
}
