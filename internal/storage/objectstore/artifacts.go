// Package objectstore keeps lineage artifacts in an S3-compatible bucket,
// one object per content hash.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/animus-labs/swapval/internal/lineage"
)

const contentType = "application/json"

// Client is the subset of *minio.Client used by the artifact store.
type Client interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (*minio.Object, error)
}

type ArtifactStore struct {
	client Client
	bucket string
	prefix string
	read   func(ctx context.Context, key string) ([]byte, error)
}

func NewArtifactStore(client Client, bucket, prefix string) (*ArtifactStore, error) {
	if client == nil {
		return nil, errors.New("object store client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	s := &ArtifactStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
	s.read = s.readObject
	return s, nil
}

func (s *ArtifactStore) key(hash string) string {
	// Two-character fan-out keeps listings small.
	if len(hash) > 2 {
		return path.Join(s.prefix, hash[:2], hash)
	}
	return path.Join(s.prefix, hash)
}

// Put uploads data unless an object with the same hash already exists.
func (s *ArtifactStore) Put(ctx context.Context, hash string, data []byte) error {
	if strings.TrimSpace(hash) == "" {
		return errors.New("hash is required")
	}
	key := s.key(hash)
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("stat artifact %s: %w", hash, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"sha256": hash},
	})
	if err != nil {
		return fmt.Errorf("put artifact %s: %w", hash, err)
	}
	return nil
}

func (s *ArtifactStore) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := s.read(ctx, s.key(hash))
	if err != nil {
		if isNotFound(err) {
			return nil, lineage.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get artifact %s: %w", hash, err)
	}
	return data, nil
}

func (s *ArtifactStore) readObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
