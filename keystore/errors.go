package keystore

import "errors"

var (
	// ErrDecryptionFailed indicates wrong password or corrupted key file.
	ErrDecryptionFailed = errors.New("keystore: decryption failed (wrong password or corrupted data)")

	// ErrChecksumMismatch indicates the key checksum did not verify after decryption.
	ErrChecksumMismatch = errors.New("keystore: key checksum mismatch")

	// ErrInvalidKey indicates the decrypted bytes are not a secp256k1 private key.
	ErrInvalidKey = errors.New("keystore: invalid private key")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("keystore: required parameter is nil")

	// ErrKeyExists indicates Save would overwrite an existing key file.
	ErrKeyExists = errors.New("keystore: key file already exists")
)
