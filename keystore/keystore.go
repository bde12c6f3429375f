// Package keystore keeps the registry owner key in a password-encrypted file.
//
// File format: salt(16B) || nonce(12B) || AES-256-GCM(argon2id(password, salt), nonce, key||checksum)
// where key is the 32-byte secp256k1 scalar and checksum is SHA256(key)[:4].
package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"golang.org/x/crypto/argon2"
)

const (
	// Argon2id parameters for key encryption.
	Argon2Time        = 3
	Argon2Memory      = 64 * 1024 // 64 MB
	Argon2Parallelism = 4
	Argon2KeyLen      = 32

	SaltLen     = 16
	NonceLen    = 12
	ChecksumLen = 4
	KeyLen      = 32
)

// GenerateKey creates a new random owner key.
func GenerateKey() (*ec.PrivateKey, error) {
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("keystore: generate key: %w", err)
	}
	return priv, nil
}

// Encrypt seals priv under password.
func Encrypt(priv *ec.PrivateKey, password string) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: private key", ErrNilParam)
	}
	key := priv.Serialize()

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(key)
	plaintext := make([]byte, 0, len(key)+ChecksumLen)
	plaintext = append(plaintext, key...)
	plaintext = append(plaintext, sum[:ChecksumLen]...)

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, SaltLen+NonceLen+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt reverses Encrypt.
func Decrypt(encrypted []byte, password string) (*ec.PrivateKey, error) {
	if len(encrypted) < SaltLen+NonceLen+ChecksumLen {
		return nil, ErrDecryptionFailed
	}
	salt := encrypted[:SaltLen]
	nonce := encrypted[SaltLen : SaltLen+NonceLen]
	ciphertext := encrypted[SaltLen+NonceLen:]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(plaintext) != KeyLen+ChecksumLen {
		return nil, ErrInvalidKey
	}

	key := plaintext[:KeyLen]
	sum := sha256.Sum256(key)
	if !bytes.Equal(plaintext[KeyLen:], sum[:ChecksumLen]) {
		return nil, ErrChecksumMismatch
	}

	priv, _ := ec.PrivateKeyFromBytes(key)
	if priv == nil {
		return nil, ErrInvalidKey
	}
	return priv, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := argon2.IDKey([]byte(password), salt, Argon2Time, Argon2Memory, Argon2Parallelism, Argon2KeyLen)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("keystore: AES cipher creation failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: GCM creation failed: %w", err)
	}
	return gcm, nil
}

// Save encrypts priv and writes it to path with 0600 permissions. An
// existing file is never overwritten.
func Save(path string, priv *ec.PrivateKey, password string) error {
	data, err := Encrypt(priv, password)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("keystore: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrKeyExists, path)
		}
		return fmt.Errorf("keystore: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	return f.Close()
}

// Load reads and decrypts the key file at path.
func Load(path, password string) (*ec.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	return Decrypt(data, password)
}
