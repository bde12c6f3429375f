// Package paymail resolves Paymail handles (alias@domain) to member
// addresses.
//
// Resolution discovers the domain's capabilities via .well-known/bsvalias,
// optionally locating the host through a _bsvalias._tcp SRV record, then
// fetches the alias public key from the PKI capability and hashes it into a
// registry address.
package paymail

import (
	"fmt"
	"strings"
)

// ParseHandle splits a Paymail handle into alias and domain. The alias is
// lowercased; Paymail aliases are case-insensitive.
func ParseHandle(handle string) (alias, domain string, err error) {
	handle = strings.TrimSpace(handle)
	at := strings.IndexByte(handle, '@')
	if at <= 0 || at == len(handle)-1 || strings.Count(handle, "@") != 1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	alias = strings.ToLower(handle[:at])
	domain = strings.ToLower(handle[at+1:])
	if strings.ContainsAny(alias, " /:") || strings.ContainsAny(domain, " /:") || !strings.Contains(domain, ".") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return alias, domain, nil
}

// IsHandle reports whether s parses as a Paymail handle.
func IsHandle(s string) bool {
	_, _, err := ParseHandle(s)
	return err == nil
}

// validateCompressedPubKey checks that raw bytes represent a valid compressed public key.
// A compressed secp256k1 public key is exactly 33 bytes with prefix 0x02 or 0x03.
func validateCompressedPubKey(pub []byte) error {
	if len(pub) != 33 {
		return fmt.Errorf("%w: expected 33 bytes, got %d", ErrInvalidPubKey, len(pub))
	}
	if pub[0] != 0x02 && pub[0] != 0x03 {
		return fmt.Errorf("%w: invalid prefix byte 0x%02x", ErrInvalidPubKey, pub[0])
	}
	return nil
}
