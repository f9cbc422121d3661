package storage

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sqlkeep/sqlkeep/internal/config"
	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

// S3Backend stores artifacts as objects under <basePath>/<key>/<name> in one
// bucket. Works against AWS S3 and any S3-compatible endpoint (MinIO etc).
type S3Backend struct {
	client   *minio.Client
	bucket   string
	basePath string
	endpoint string
}

func NewS3Backend(cfg config.StorageConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, apperrors.New(apperrors.TypeConfig, "s3 storage requires a bucket", "Set storage.bucket or the connection's s3_bucket.")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}

	// Static credentials from config when present, otherwise the usual
	// AWS environment/IAM chain. Never logged, never part of artifact names.
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.IAM{},
		})
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to initialize s3 client", "Check storage.endpoint and credentials.")
	}

	return &S3Backend{
		client:   client,
		bucket:   cfg.Bucket,
		basePath: strings.Trim(cfg.Path, "/"),
		endpoint: endpoint,
	}, nil
}

func (s *S3Backend) objectName(key, name string) string {
	return path.Join(s.basePath, key, name)
}

func (s *S3Backend) Put(ctx context.Context, key, name string, r io.Reader) (string, error) {
	obj := s.objectName(key, name)

	// Unknown length streaming upload; minio commits the object only when the
	// multipart upload completes, so a failed dump never leaves a partial
	// object under the final name.
	_, err := s.client.PutObject(ctx, s.bucket, obj, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to upload backup to s3", "Check bucket permissions and network connectivity.")
	}

	return "s3://" + s.bucket + "/" + obj, nil
}

func (s *S3Backend) List(ctx context.Context, key string) ([]ObjectInfo, error) {
	prefix := s.objectName(key, "") + "/"

	var objects []ObjectInfo
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, apperrors.Wrap(obj.Err, apperrors.TypeStorageList, "failed to list s3 objects", "Check bucket permissions.")
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue // common prefix, not an artifact
		}
		objects = append(objects, ObjectInfo{
			Name: path.Base(obj.Key),
			Size: obj.Size,
		})
	}
	return objects, nil
}

func (s *S3Backend) Delete(ctx context.Context, key, name string) error {
	// RemoveObject succeeds for missing objects, matching the idempotent
	// delete contract.
	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(key, name), minio.RemoveObjectOptions{})
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeStorageDelete, "failed to delete s3 object", "Check bucket permissions.")
	}
	return nil
}

func (s *S3Backend) Location() string {
	return "s3://" + s.bucket + "/" + s.basePath
}
