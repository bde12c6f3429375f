package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/daoregistry-go/auth"
	"github.com/bitfsorg/daoregistry-go/metrics"
	"github.com/bitfsorg/daoregistry-go/registry"
)

func makeAddr(seed byte) registry.Address {
	var addr registry.Address
	for i := range addr {
		addr[i] = seed
	}
	return addr
}

func member(seed byte, weight int64) registry.Member {
	return registry.Member{Address: makeAddr(seed), Weight: big.NewInt(weight)}
}

// plainStore hides the nonce methods of the wrapped store.
type plainStore struct{ registry.Store }

// faultyStore fails the next n nonce-recording writes.
type faultyStore struct {
	*registry.MemStore
	failures int
}

func (s *faultyStore) UpsertWithNonce(entries []registry.Member, nonce uint64) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.MemStore.UpsertWithNonce(entries, nonce)
}

type fixture struct {
	owner   *ec.PrivateKey
	reg     *registry.Registry
	store   *registry.MemStore
	metrics *metrics.Metrics
	server  *httptest.Server
	client  *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	owner, err := ec.NewPrivateKey()
	require.NoError(t, err)
	ownerAddr, err := registry.AddressFromPublicKey(owner.PubKey())
	require.NoError(t, err)

	store := registry.NewMemStore()
	reg, err := registry.New(store, ownerAddr)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	srv, err := NewServer(ServerConfig{
		Registry:        reg,
		Metrics:         m,
		Mainnet:         true,
		MaxRequestBytes: 64 << 10,
	})
	require.NoError(t, err)

	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	return &fixture{
		owner:   owner,
		reg:     reg,
		store:   store,
		metrics: m,
		server:  hs,
		client:  NewClient(ClientConfig{URL: hs.URL}),
	}
}

func (f *fixture) submit(t *testing.T, priv *ec.PrivateKey, nonce uint64, entries ...registry.Member) error {
	t.Helper()
	batch, err := auth.SignBatch(priv, nonce, entries)
	require.NoError(t, err)
	return f.client.RegisterMembersSnapshotBatch(context.Background(), batch)
}

// postRaw sends body unchanged and decodes the JSON-RPC envelope.
func postRaw(t *testing.T, url, body string) (int, clientResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out clientResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestNewServer_NilParams(t *testing.T) {
	reg, err := registry.New(plainStore{registry.NewMemStore()}, makeAddr(1))
	require.NoError(t, err)

	_, err = NewServer(ServerConfig{})
	assert.ErrorIs(t, err, ErrNilParam)

	_, err = NewServer(ServerConfig{Registry: reg})
	assert.ErrorIs(t, err, registry.ErrNoNonceStore)
}

func TestServer_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := makeAddr(0xA1), makeAddr(0xB2), makeAddr(0xC3)

	require.NoError(t, f.submit(t, f.owner, 1,
		registry.Member{Address: a, Weight: big.NewInt(100)},
		registry.Member{Address: b, Weight: big.NewInt(50)},
	))

	w, err := f.client.GetDaoVoteWeight(ctx, a, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.Int64())

	w, err = f.client.GetDaoVoteWeight(ctx, c, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Sign())

	members, err := f.client.GetDaoMembers(ctx, nil)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, a, members[0].Address)
	assert.Equal(t, b, members[1].Address)

	stranger, err := ec.NewPrivateKey()
	require.NoError(t, err)
	err = f.submit(t, stranger, 2, registry.Member{Address: c, Weight: big.NewInt(10)})
	assert.ErrorIs(t, err, registry.ErrUnauthorized)
	assert.True(t, IsRemote(err))

	after, err := f.client.GetDaoMembers(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, members, after)
}

func TestServer_TokenHintIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.submit(t, f.owner, 1, member(1, 7)))

	token := registry.TokenID("ITHEUM-fce905")
	w, err := f.client.GetDaoVoteWeight(ctx, makeAddr(1), &token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), w.Int64())

	members, err := f.client.GetDaoMembers(ctx, &token)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestServer_LargeWeightsRoundTrip(t *testing.T) {
	f := newFixture(t)
	huge, ok := new(big.Int).SetString("123456789012345678901234567890123456789", 10)
	require.True(t, ok)
	neg := big.NewInt(-5)

	require.NoError(t, f.submit(t, f.owner, 1,
		registry.Member{Address: makeAddr(1), Weight: huge},
		registry.Member{Address: makeAddr(2), Weight: neg},
	))

	members, err := f.client.GetDaoMembers(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, 0, huge.Cmp(members[0].Weight))
	assert.Equal(t, 0, neg.Cmp(members[1].Weight))
}

func TestServer_StaleNonce(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.submit(t, f.owner, 5, member(1, 1)))

	err := f.submit(t, f.owner, 5, member(1, 2))
	assert.ErrorIs(t, err, ErrStaleNonce)
	err = f.submit(t, f.owner, 4, member(1, 3))
	assert.ErrorIs(t, err, ErrStaleNonce)

	w, err := f.reg.GetDaoVoteWeight(makeAddr(1), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Int64())

	require.NoError(t, f.submit(t, f.owner, 6, member(1, 4)))
	last, err := f.store.LastNonce()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), last)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StaleNonces))
}

func TestServer_UnauthorizedDoesNotAdvanceNonce(t *testing.T) {
	f := newFixture(t)
	stranger, err := ec.NewPrivateKey()
	require.NoError(t, err)

	err = f.submit(t, stranger, 100, member(1, 1))
	require.ErrorIs(t, err, registry.ErrUnauthorized)

	last, err := f.store.LastNonce()
	require.NoError(t, err)
	assert.Zero(t, last)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Unauthorized))

	require.NoError(t, f.submit(t, f.owner, 1, member(1, 1)))
}

func TestServer_TamperedBatchRejected(t *testing.T) {
	f := newFixture(t)

	batch, err := auth.SignBatch(f.owner, 1, []registry.Member{member(1, 10)})
	require.NoError(t, err)
	batch.Entries = []registry.Member{member(1, 1000)}

	err = f.client.RegisterMembersSnapshotBatch(context.Background(), batch)
	assert.ErrorIs(t, err, auth.ErrInvalidSignature)

	n, err := f.reg.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServer_MetricsUpdated(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.submit(t, f.owner, 1, member(1, 1), member(2, 2), member(1, 3)))

	_, err := f.client.GetDaoMembers(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Members))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.RequestTotal.WithLabelValues(MethodRegisterMembersSnapshotBatch, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		f.metrics.RequestTotal.WithLabelValues(MethodGetDaoMembers, "ok")))
}

func TestServer_ProtocolErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"parse_error", `{not json`, CodeParseError},
		{"unknown_method", `{"jsonrpc":"1.0","id":1,"method":"transferOwnership","params":[]}`, CodeMethodNotFound},
		{"weight_no_params", `{"jsonrpc":"1.0","id":1,"method":"getDaoVoteWeight","params":[]}`, CodeInvalidParams},
		{"weight_bad_address", `{"jsonrpc":"1.0","id":1,"method":"getDaoVoteWeight","params":["nope"]}`, CodeInvalidParams},
		{"weight_bad_token", `{"jsonrpc":"1.0","id":1,"method":"getDaoVoteWeight","params":["1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", 5]}`, CodeInvalidParams},
		{"members_too_many", `{"jsonrpc":"1.0","id":1,"method":"getDaoMembers","params":["a","b"]}`, CodeInvalidParams},
		{"register_no_batch", `{"jsonrpc":"1.0","id":1,"method":"registerMembersSnapshotBatch","params":[]}`, CodeInvalidParams},
		{"register_bad_batch", `{"jsonrpc":"1.0","id":1,"method":"registerMembersSnapshotBatch","params":[{"pubkey":"zz"}]}`, CodeInvalidSignature},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := postRaw(t, f.server.URL, tc.body)
			assert.Equal(t, http.StatusOK, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestServer_NullTokenAccepted(t *testing.T) {
	f := newFixture(t)
	status, resp := postRaw(t, f.server.URL,
		`{"jsonrpc":"1.0","id":3,"method":"getDaoVoteWeight","params":["1BgGZ9tcN4rm9KBzDn7KprQz87SZ26SAMH", null]}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Nil(t, resp.Error)
	assert.Equal(t, int64(3), resp.ID)
	assert.JSONEq(t, `"0"`, string(resp.Result))
}

func TestServer_RejectsGet(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_RequestTooLarge(t *testing.T) {
	f := newFixture(t)
	body := `{"jsonrpc":"1.0","id":1,"method":"getDaoMembers","params":["` + strings.Repeat("x", 65<<10) + `"]}`
	status, resp := postRaw(t, f.server.URL, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
}

func TestServer_FailedWriteIsNotReplayable(t *testing.T) {
	owner, err := ec.NewPrivateKey()
	require.NoError(t, err)
	ownerAddr, err := registry.AddressFromPublicKey(owner.PubKey())
	require.NoError(t, err)

	store := &faultyStore{MemStore: registry.NewMemStore(), failures: 1}
	reg, err := registry.New(store, ownerAddr)
	require.NoError(t, err)
	srv, err := NewServer(ServerConfig{Registry: reg})
	require.NoError(t, err)
	hs := httptest.NewServer(srv)
	defer hs.Close()
	client := NewClient(ClientConfig{URL: hs.URL})

	batch, err := auth.SignBatch(owner, 1, []registry.Member{member(1, 10)})
	require.NoError(t, err)

	err = client.RegisterMembersSnapshotBatch(context.Background(), batch)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeInternal, rpcErr.Code)

	n, err := reg.Len()
	require.NoError(t, err)
	assert.Zero(t, n, "failed write must not apply entries")
	last, err := store.LastNonce()
	require.NoError(t, err)
	assert.Zero(t, last)

	// The same signed batch goes through once the store recovers, then never again.
	require.NoError(t, client.RegisterMembersSnapshotBatch(context.Background(), batch))
	err = client.RegisterMembersSnapshotBatch(context.Background(), batch)
	assert.ErrorIs(t, err, ErrStaleNonce)

	members, err := reg.GetDaoMembers(nil)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(10), members[0].Weight.Int64())
}
