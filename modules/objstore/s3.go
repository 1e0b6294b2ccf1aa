package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/museup/muse/modules/hash"
)

// S3Store is a production Object Store backend for the hub server,
// content-addressed the same way as LocalStore but backed by an S3 bucket
// so object bytes never need to live on the hub's local disk.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds an S3-backed Store using the default AWS credential
// chain (environment, shared config, EC2/ECS role).
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, wrapIO("s3-load-config", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (s *S3Store) key(id hash.Hash) string {
	enc := id.String()
	if s.prefix == "" {
		return enc[:2] + "/" + enc[2:]
	}
	return s.prefix + "/" + enc[:2] + "/" + enc[2:]
}

func (s *S3Store) Put(ctx context.Context, r io.Reader) (hash.Hash, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return hash.Zero, wrapIO("read", err)
	}
	return s.PutBytes(ctx, b)
}

func (s *S3Store) PutBytes(ctx context.Context, b []byte) (hash.Hash, error) {
	id := hash.Sum(b)
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return hash.Zero, err
	}
	if exists {
		return id, nil
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return hash.Zero, wrapIO("s3-put", err)
	}
	return id, nil
}

func (s *S3Store) Open(ctx context.Context, id hash.Hash) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, NotFound(id)
		}
		return nil, wrapIO("s3-get", err)
	}
	return out.Body, nil
}

func (s *S3Store) Get(ctx context.Context, id hash.Hash) ([]byte, error) {
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

func (s *S3Store) Exists(ctx context.Context, id hash.Hash) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, wrapIO("s3-head", err)
}

func (s *S3Store) Size(ctx context.Context, id hash.Hash) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, NotFound(id)
		}
		return 0, wrapIO("s3-head", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}
