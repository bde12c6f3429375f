package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bitfsorg/daoregistry-go/auth"
	"github.com/bitfsorg/daoregistry-go/logging"
	"github.com/bitfsorg/daoregistry-go/metrics"
	"github.com/bitfsorg/daoregistry-go/registry"
)

// ServerConfig wires a Server to its registry and ambient services.
type ServerConfig struct {
	// Registry must be backed by a registry.NonceStore.
	Registry *registry.Registry

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Mainnet selects the address encoding of results.
	Mainnet bool

	// MaxRequestBytes defaults to DefaultMaxRequestBytes.
	MaxRequestBytes int64
}

// Server is an http.Handler exposing the registry operations over JSON-RPC.
type Server struct {
	reg      *registry.Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
	mainnet  bool
	maxBytes int64
}

// Compile-time interface check.
var _ http.Handler = (*Server)(nil)

// NewServer creates a Server from cfg.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("%w: registry", ErrNilParam)
	}
	if _, err := cfg.Registry.LastNonce(); err != nil {
		return nil, fmt.Errorf("rpc: registry nonce: %w", err)
	}
	s := &Server{
		reg:      cfg.Registry,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		mainnet:  cfg.Mainnet,
		maxBytes: cfg.MaxRequestBytes,
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.Named("rpc")
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxRequestBytes
	}
	s.updateMemberGauge()
	return s, nil
}

// ServeHTTP decodes one JSON-RPC request and writes its response.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.log.Warn("request body too large", zap.Int64("limit", s.maxBytes))
			s.writeResponse(w, http.StatusRequestEntityTooLarge, response{
				Error: &Error{Code: CodeInvalidRequest, Message: "request too large"},
			})
			return
		}
		s.writeResponse(w, http.StatusBadRequest, response{
			Error: &Error{Code: CodeInvalidRequest, Message: "read request: " + err.Error()},
		})
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, http.StatusOK, response{
			Error: &Error{Code: CodeParseError, Message: "parse error: " + err.Error()},
		})
		return
	}

	start := time.Now()
	result, err := s.dispatch(r.Context(), req.Method, req.Params)
	code, label := errorCode(err)
	if s.metrics != nil {
		s.metrics.ObserveRequest(req.Method, label, start)
	}

	resp := response{Result: result, ID: req.ID}
	if err != nil {
		resp.Result = nil
		resp.Error = &Error{Code: code, Message: err.Error()}
		fields := []zap.Field{zap.String("method", req.Method), zap.Int("code", code), zap.Error(err)}
		if code == CodeInternal {
			s.log.Error("request failed", fields...)
		} else {
			s.log.Info("request rejected", fields...)
		}
	} else {
		s.log.Debug("request served", zap.String("method", req.Method), zap.Duration("elapsed", time.Since(start)))
	}
	s.writeResponse(w, http.StatusOK, resp)
}

func (s *Server) writeResponse(w http.ResponseWriter, status int, resp response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func (s *Server) dispatch(ctx context.Context, method string, params []json.RawMessage) (interface{}, error) {
	switch method {
	case MethodRegisterMembersSnapshotBatch:
		return s.registerMembersSnapshotBatch(ctx, params)
	case MethodGetDaoVoteWeight:
		return s.getDaoVoteWeight(params)
	case MethodGetDaoMembers:
		return s.getDaoMembers(params)
	}
	return nil, fmt.Errorf("%w: %q", ErrMethodNotFound, method)
}

func (s *Server) registerMembersSnapshotBatch(_ context.Context, params []json.RawMessage) (interface{}, error) {
	if len(params) != 1 {
		return nil, fmt.Errorf("%w: expected [batch], got %d params", ErrInvalidParams, len(params))
	}
	var batch auth.SignedBatch
	if err := json.Unmarshal(params[0], &batch); err != nil {
		return nil, fmt.Errorf("%w: batch: %w", ErrInvalidParams, err)
	}

	caller, err := batch.Verify()
	if err != nil {
		return nil, err
	}

	err = s.reg.RegisterMembersSnapshotBatchWithNonce(caller, batch.Nonce, batch.Entries)
	switch {
	case errors.Is(err, registry.ErrUnauthorized):
		if s.metrics != nil {
			s.metrics.Unauthorized.Inc()
		}
		s.log.Warn("batch from non-owner", logging.Address("caller", caller))
		return nil, err
	case errors.Is(err, registry.ErrStaleNonce):
		if s.metrics != nil {
			s.metrics.StaleNonces.Inc()
		}
		return nil, err
	case err != nil:
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BatchSize.Observe(float64(len(batch.Entries)))
	}
	s.updateMemberGauge()
	s.log.Info("snapshot batch registered",
		logging.Address("owner", caller),
		zap.Int("entries", len(batch.Entries)),
		zap.Uint64("nonce", batch.Nonce))
	return nil, nil
}

func (s *Server) getDaoVoteWeight(params []json.RawMessage) (interface{}, error) {
	if len(params) < 1 || len(params) > 2 {
		return nil, fmt.Errorf("%w: expected [address, token?], got %d params", ErrInvalidParams, len(params))
	}
	var raw string
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return nil, fmt.Errorf("%w: address: %w", ErrInvalidParams, err)
	}
	addr, err := registry.ParseAddress(raw)
	if err != nil {
		return nil, err
	}
	var token *registry.TokenID
	if len(params) == 2 {
		if token, err = decodeToken(params[1]); err != nil {
			return nil, err
		}
	}

	w, err := s.reg.GetDaoVoteWeight(addr, token)
	if err != nil {
		return nil, err
	}
	return w.String(), nil
}

func (s *Server) getDaoMembers(params []json.RawMessage) (interface{}, error) {
	if len(params) > 1 {
		return nil, fmt.Errorf("%w: expected [token?], got %d params", ErrInvalidParams, len(params))
	}
	var token *registry.TokenID
	if len(params) == 1 {
		var err error
		if token, err = decodeToken(params[0]); err != nil {
			return nil, err
		}
	}

	members, err := s.reg.GetDaoMembers(token)
	if err != nil {
		return nil, err
	}
	out := make([][2]string, len(members))
	for i, m := range members {
		out[i] = [2]string{m.Address.Encode(s.mainnet), weightString(m.Weight)}
	}
	return out, nil
}

// decodeToken accepts a string or null.
func decodeToken(raw json.RawMessage) (*registry.TokenID, error) {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: token: %w", ErrInvalidParams, err)
	}
	if s == nil {
		return nil, nil
	}
	t := registry.TokenID(*s)
	return &t, nil
}

func weightString(w *big.Int) string {
	if w == nil {
		return "0"
	}
	return w.String()
}

func (s *Server) updateMemberGauge() {
	if s.metrics == nil {
		return
	}
	n, err := s.reg.Len()
	if err != nil {
		s.log.Warn("count members", zap.Error(err))
		return
	}
	s.metrics.Members.Set(float64(n))
}

// ListenAndServe serves s on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() { errC <- srv.ListenAndServe() }()
	s.log.Info("listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
