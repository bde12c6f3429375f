package snapshot

import "errors"

var (
	// ErrAPI indicates the holder API returned an error or malformed data.
	ErrAPI = errors.New("snapshot: holder API request failed")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("snapshot: required parameter is nil")

	// ErrInvalidMinHold indicates a minimum balance that is not a non-negative decimal.
	ErrInvalidMinHold = errors.New("snapshot: invalid minimum balance")

	// ErrUnresolvedHolders indicates too many qualifying holders could not be
	// mapped to member addresses.
	ErrUnresolvedHolders = errors.New("snapshot: holders could not be resolved")

	// ErrInvalidChunkSize indicates a non-positive batch size.
	ErrInvalidChunkSize = errors.New("snapshot: chunk size must be positive")
)
