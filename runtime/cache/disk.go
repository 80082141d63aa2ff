package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Disk is an engine cache backed by a directory, one file per record.
// Writes go to a temporary file first and are renamed into place, so
// concurrent readers never observe a partial record.
type Disk struct {
	dir string
}

var _ EngineCache = (*Disk)(nil)

// NewDisk opens (creating if needed) a disk cache rooted at dir.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create engine cache directory %s", dir)
	}
	return &Disk{dir: dir}, nil
}

func (c *Disk) path(key string) string {
	return filepath.Join(c.dir, key+".trte")
}

// Save stores the record under key.
func (c *Disk) Save(_ context.Context, key string, record []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, key+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "disk cache: cannot create temporary file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(record); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "disk cache: writing key %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "disk cache: writing key %s", key)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "disk cache: committing key %s", key)
	}
	klog.V(2).Infof("disk cache: saved key %s (%d bytes)", key, len(record))
	return nil
}

// Load retrieves the record stored under key.
func (c *Disk) Load(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	record, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNotFound, "key %s in %s", key, c.dir)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "disk cache: reading key %s", key)
	}
	return record, nil
}

// Has reports whether a record file exists for key.
func (c *Disk) Has(_ context.Context, key string) bool {
	if validKey(key) != nil {
		return false
	}
	_, err := os.Stat(c.path(key))
	return err == nil
}
