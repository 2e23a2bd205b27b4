package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"

	"picking-sync-backend/internal/store"
)

// Hash derives a stable device identifier from host characteristics. The
// id is advisory; it attributes sessions and dead letters to a device but
// carries no authorization weight.
func Hash() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to read hostname: %w", err)
	}
	sum := sha256.Sum256([]byte(hostname + "|" + runtime.GOOS + "|" + runtime.GOARCH))
	return hex.EncodeToString(sum[:]), nil
}

// EnsureStored returns the persisted device id, deriving and storing one on
// first run. The stored value wins over a re-derived one so the id survives
// hostname changes.
func EnsureStored(ctx context.Context, s store.Store) (string, error) {
	stored, err := s.DeviceHash(ctx)
	if err == nil && stored != "" {
		return stored, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	hash, err := Hash()
	if err != nil {
		return "", err
	}
	if err := s.SetDeviceHash(ctx, hash); err != nil {
		return "", err
	}
	return hash, nil
}
