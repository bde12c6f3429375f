package registry

import "errors"

var (
	// ErrUnauthorized indicates a non-owner caller attempted to mutate the registry.
	ErrUnauthorized = errors.New("registry: unauthorized caller")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("registry: required parameter is nil")

	// ErrInvalidAddress indicates an address string or hash could not be decoded.
	ErrInvalidAddress = errors.New("registry: invalid address")

	// ErrInvalidBatchData indicates serialized batch bytes are malformed.
	ErrInvalidBatchData = errors.New("registry: invalid batch data")

	// ErrStaleNonce indicates a batch nonce not greater than the last accepted one.
	ErrStaleNonce = errors.New("registry: stale batch nonce")

	// ErrNoNonceStore indicates the backing store does not record batch nonces.
	ErrNoNonceStore = errors.New("registry: store does not record nonces")

	// ErrCorruptRecord indicates a persisted record could not be decoded.
	ErrCorruptRecord = errors.New("registry: corrupt stored record")

	// ErrNoOwner indicates the store has no owner principal recorded.
	ErrNoOwner = errors.New("registry: no owner recorded")
)
