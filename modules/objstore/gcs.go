package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	"github.com/museup/muse/modules/hash"
)

// GCSStore is an alternate production Object Store backend for operators
// running the hub on Google Cloud, satisfying the exact same content-
// addressed Store contract as S3Store and LocalStore.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore builds a GCS-backed Store using application default
// credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, wrapIO("gcs-new-client", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSStore) object(id hash.Hash) *storage.ObjectHandle {
	enc := id.String()
	name := enc[:2] + "/" + enc[2:]
	if g.prefix != "" {
		name = g.prefix + "/" + name
	}
	return g.client.Bucket(g.bucket).Object(name)
}

func (g *GCSStore) Put(ctx context.Context, r io.Reader) (hash.Hash, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return hash.Zero, wrapIO("read", err)
	}
	return g.PutBytes(ctx, b)
}

func (g *GCSStore) PutBytes(ctx context.Context, b []byte) (hash.Hash, error) {
	id := hash.Sum(b)
	exists, err := g.Exists(ctx, id)
	if err != nil {
		return hash.Zero, err
	}
	if exists {
		return id, nil
	}
	w := g.object(id).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(b)); err != nil {
		_ = w.Close()
		return hash.Zero, wrapIO("gcs-write", err)
	}
	if err := w.Close(); err != nil {
		// A DoesNotExist precondition failure means another writer raced us
		// to the same content-addressed key; that's fine, the bytes match.
		if existsNow, eerr := g.Exists(ctx, id); eerr == nil && existsNow {
			return id, nil
		}
		return hash.Zero, wrapIO("gcs-close", err)
	}
	return id, nil
}

func (g *GCSStore) Open(ctx context.Context, id hash.Hash) (io.ReadCloser, error) {
	r, err := g.object(id).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, NotFound(id)
		}
		return nil, wrapIO("gcs-read", err)
	}
	return r, nil
}

func (g *GCSStore) Get(ctx context.Context, id hash.Hash) ([]byte, error) {
	rc, err := g.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrapIO("read", err)
	}
	return b, nil
}

func (g *GCSStore) Exists(ctx context.Context, id hash.Hash) (bool, error) {
	_, err := g.object(id).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, wrapIO("gcs-attrs", err)
}

func (g *GCSStore) Size(ctx context.Context, id hash.Hash) (int64, error) {
	attrs, err := g.object(id).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, NotFound(id)
		}
		return 0, wrapIO("gcs-attrs", err)
	}
	return attrs.Size, nil
}
