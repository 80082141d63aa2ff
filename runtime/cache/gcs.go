package cache

import (
	"context"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// GCS is an engine cache backed by a Google Cloud Storage bucket, the shared
// slow tier for fleets of hosts loading the same engines. Credentials come
// from the usual application-default chain.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ EngineCache = (*GCS)(nil)

// NewGCS opens a cache writing objects under gs://bucket/prefix/.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "gcs cache: cannot create storage client")
	}
	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (c *GCS) object(key string) *storage.ObjectHandle {
	return c.client.Bucket(c.bucket).Object(path.Join(c.prefix, key+".trte"))
}

// Save stores the record under key.
func (c *GCS) Save(ctx context.Context, key string, record []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	w := c.object(key).NewWriter(ctx)
	if _, err := w.Write(record); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "gcs cache: writing key %s to gs://%s/%s", key, c.bucket, c.prefix)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "gcs cache: committing key %s to gs://%s/%s", key, c.bucket, c.prefix)
	}
	log := klog.FromContext(ctx)
	log.V(2).Info("gcs cache: saved record", "key", key, "bytes", len(record), "bucket", c.bucket, "prefix", c.prefix)
	return nil
}

// Load retrieves the record stored under key.
func (c *GCS) Load(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	r, err := c.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "key %s in gs://%s/%s", key, c.bucket, c.prefix)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "gcs cache: opening key %s", key)
	}
	defer r.Close()
	record, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "gcs cache: reading key %s", key)
	}
	return record, nil
}

// Has reports whether an object exists for key.
func (c *GCS) Has(ctx context.Context, key string) bool {
	if validKey(key) != nil {
		return false
	}
	_, err := c.object(key).Attrs(ctx)
	return err == nil
}

// Close releases the underlying storage client.
func (c *GCS) Close() error {
	return c.client.Close()
}
