// Package cache stores serialized engine records keyed by the content hash of
// the plan they were built from, so hosts can skip rebuilding engines they
// have already seen.
//
// Three tiers ship with the package: an in-memory tier (bigcache), a disk
// tier and a Google Cloud Storage tier. Tiered composes them write-through on
// save and fall-through on load.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DirEnvVar overrides where the default disk cache lives.
const DirEnvVar = "TRT_ENGINE_CACHE"

// ErrNotFound is returned by Load when no record is stored under the key.
var ErrNotFound = errors.New("engine record not found in cache")

// EngineCache stores and retrieves serialized engine records by key.
type EngineCache interface {
	// Save stores the record under key, overwriting any previous record.
	Save(ctx context.Context, key string, record []byte) error

	// Load retrieves the record stored under key, or an error wrapping
	// ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Has reports whether a record is stored under key, without fetching it.
	Has(ctx context.Context, key string) bool
}

// DefaultDir returns the disk-cache directory: DirEnvVar if set, otherwise a
// "torch_tensorrt" subdirectory of the user cache directory.
func DefaultDir() (string, error) {
	if dir := os.Getenv(DirEnvVar); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrapf(err, "no user cache directory, set %s", DirEnvVar)
	}
	return filepath.Join(base, "torch_tensorrt", "engines"), nil
}

// Key derives the canonical cache key for an engine built from the given plan
// bytes: the hex SHA-256 of the bytes, stable across hosts.
func Key(planBytes []byte) string {
	sum := sha256.Sum256(planBytes)
	return hex.EncodeToString(sum[:])
}

// validKey rejects keys that are not hex digests, which keeps disk and object
// paths derived from keys trivially safe.
func validKey(key string) error {
	if len(key) != sha256.Size*2 {
		return errors.Errorf("cache key %q: want a %d-character hex digest", key, sha256.Size*2)
	}
	if _, err := hex.DecodeString(key); err != nil {
		return errors.Errorf("cache key %q is not hex", key)
	}
	return nil
}

// Tiered composes caches from fastest to slowest. Save writes through every
// tier; Load falls through to the first hit and backfills the faster tiers
// that missed.
type Tiered struct {
	tiers []EngineCache
}

var _ EngineCache = (*Tiered)(nil)

// NewTiered composes the given tiers, fastest first.
func NewTiered(tiers ...EngineCache) *Tiered {
	return &Tiered{tiers: tiers}
}

// Save writes the record to every tier. All tiers are attempted; the first
// failure is returned.
func (c *Tiered) Save(ctx context.Context, key string, record []byte) error {
	var firstErr error
	for _, tier := range c.tiers {
		if err := tier.Save(ctx, key, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Load returns the record from the fastest tier that has it.
func (c *Tiered) Load(ctx context.Context, key string) ([]byte, error) {
	for i, tier := range c.tiers {
		record, err := tier.Load(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, missed := range c.tiers[:i] {
			if err := missed.Save(ctx, key, record); err != nil {
				klog.Warningf("engine cache: backfill of key %s failed: %+v", key, err)
			}
		}
		return record, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "key %s (searched %d tiers)", key, len(c.tiers))
}

// Has reports whether any tier stores the key.
func (c *Tiered) Has(ctx context.Context, key string) bool {
	for _, tier := range c.tiers {
		if tier.Has(ctx, key) {
			return true
		}
	}
	return false
}
