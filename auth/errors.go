package auth

import "errors"

var (
	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("auth: required parameter is nil")

	// ErrInvalidPubKey indicates the signer public key could not be parsed.
	ErrInvalidPubKey = errors.New("auth: invalid public key")

	// ErrInvalidSignature indicates the signature is malformed or does not verify.
	ErrInvalidSignature = errors.New("auth: invalid signature")
)
