package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitfsorg/daoregistry-go/registry"
)

// WriteFile stores members in the batch encoding (nonce 0) for review before
// submission.
func WriteFile(path string, members []registry.Member) error {
	data, err := registry.SerializeBatch(0, members)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("snapshot: create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}

// ReadFile loads members written by WriteFile.
func ReadFile(path string) ([]registry.Member, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	_, members, err := registry.DeserializeBatch(data)
	if err != nil {
		return nil, err
	}
	return members, nil
}
