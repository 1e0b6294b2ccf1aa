package objstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/museup/muse/modules/hash"
)

// LocalStore is the filesystem-backed Store used by a client-side
// repository, laid out under .muse/objects/<first-two>/<remaining-62> per
// spec §6.
//
// Writes go to a temp file in an "incoming" scratch directory, are hashed
// while copied, and are only linked into their final content-addressed
// path via os.Rename once complete — the same atomicity idiom as the
// teacher's fileStorer.HashTo (modules/zeta/backend/file_storer.go): a
// crash mid-write can never leave a partial object visible under its
// final name.
type LocalStore struct {
	root     string // .muse/objects
	incoming string // .muse/objects/incoming (scratch dir for temp files)
	compress bool
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore returns a Store rooted at dir (typically <repo>/.muse/objects).
func NewLocalStore(dir string, compress bool) *LocalStore {
	return &LocalStore{root: dir, incoming: filepath.Join(dir, "incoming"), compress: compress}
}

func (s *LocalStore) path(id hash.Hash) string {
	enc := id.String()
	return filepath.Join(s.root, enc[:2], enc[2:])
}

func (s *LocalStore) Put(ctx context.Context, r io.Reader) (hash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return hash.Zero, err
	}
	if err := os.MkdirAll(s.incoming, 0o755); err != nil {
		return hash.Zero, wrapIO("mkdir", err)
	}
	tmp, err := os.CreateTemp(s.incoming, "obj-")
	if err != nil {
		return hash.Zero, wrapIO("create-temp", err)
	}
	tmpPath := tmp.Name()
	hasher := hash.NewHasher()
	var writeErr error
	if s.compress {
		zw, zerr := zstd.NewWriter(tmp)
		if zerr != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return hash.Zero, wrapIO("zstd-writer", zerr)
		}
		_, writeErr = io.Copy(io.MultiWriter(zw, hasher), r)
		if cerr := zw.Close(); writeErr == nil {
			writeErr = cerr
		}
	} else {
		_, writeErr = io.Copy(io.MultiWriter(tmp, hasher), r)
	}
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return hash.Zero, wrapIO("write", writeErr)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return hash.Zero, wrapIO("fsync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return hash.Zero, wrapIO("close", err)
	}

	id := hasher.Sum()
	final := s.path(id)
	if _, err := os.Stat(final); err == nil {
		// Already present: idempotent no-op, discard the freshly written copy.
		_ = os.Remove(tmpPath)
		return id, nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return hash.Zero, wrapIO("mkdir", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return hash.Zero, wrapIO("rename", err)
	}
	_ = os.Chmod(final, 0o444)
	return id, nil
}

func (s *LocalStore) PutBytes(ctx context.Context, b []byte) (hash.Hash, error) {
	return s.Put(ctx, bytes.NewReader(b))
}

func (s *LocalStore) Open(ctx context.Context, id hash.Hash) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(id))
	if os.IsNotExist(err) {
		return nil, NotFound(id)
	}
	if err != nil {
		return nil, wrapIO("open", err)
	}
	if !s.compress {
		return f, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, wrapIO("zstd-reader", err)
	}
	return &zstdReadCloser{decoder: zr, file: f}, nil
}

func (s *LocalStore) Get(ctx context.Context, id hash.Hash) ([]byte, error) {
	rc, err := s.Open(ctx, id)
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

func (s *LocalStore) Exists(ctx context.Context, id hash.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, wrapIO("stat", err)
	}
	return true, nil
}

// Size returns the on-disk size of the stored (possibly compressed) object,
// not the size of its decompressed content.
func (s *LocalStore) Size(ctx context.Context, id hash.Hash) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(s.path(id))
	if os.IsNotExist(err) {
		return 0, NotFound(id)
	}
	if err != nil {
		return 0, wrapIO("stat", err)
	}
	return info.Size(), nil
}

type zstdReadCloser struct {
	decoder *zstd.Decoder
	file    *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.decoder.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.decoder.Close()
	return z.file.Close()
}

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ioErr{op: op, err: err}
}

type ioErr struct {
	op  string
	err error
}

func (e *ioErr) Error() string { return "objstore: " + e.op + ": " + e.err.Error() }
func (e *ioErr) Unwrap() error { return e.err }
