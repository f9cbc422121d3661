package storage

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sqlkeep/sqlkeep/internal/config"
)

func TestS3Backend_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucketName := "testbucket"

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "minio/minio",
			Env: map[string]string{
				"MINIO_ACCESS_KEY": accessKey,
				"MINIO_SECRET_KEY": secretKey,
			},
			Cmd:          []string{"server", "/data"},
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForHTTP("/minio/health/ready").WithPort("9000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s, err := NewS3Backend(config.StorageConfig{
		Driver:    "s3",
		Bucket:    bucketName,
		Path:      "backups",
		Endpoint:  fmt.Sprintf("%s:%d", host, port.Int()),
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    false,
	})
	require.NoError(t, err)

	err = s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	require.NoError(t, err)

	t.Run("PutAndList", func(t *testing.T) {
		content := "-- dump of appdb"
		loc, err := s.Put(ctx, "appdb", "appdb-20240101T030000Z.sql", strings.NewReader(content))
		require.NoError(t, err)
		assert.Equal(t, "s3://testbucket/backups/appdb/appdb-20240101T030000Z.sql", loc)

		_, err = s.Put(ctx, "appdb", "appdb-20240102T030000Z.sql", strings.NewReader(content))
		require.NoError(t, err)

		_, err = s.Put(ctx, "orders", "orders-20240101T030000Z.sql", strings.NewReader("-- orders"))
		require.NoError(t, err)

		objects, err := s.List(ctx, "appdb")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		for _, o := range objects {
			assert.True(t, strings.HasPrefix(o.Name, "appdb-"))
			assert.Equal(t, int64(len(content)), o.Size)
		}
	})

	t.Run("DeleteScopedToKey", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, "appdb", "appdb-20240101T030000Z.sql"))

		objects, err := s.List(ctx, "appdb")
		require.NoError(t, err)
		assert.Len(t, objects, 1)

		objects, err = s.List(ctx, "orders")
		require.NoError(t, err)
		assert.Len(t, objects, 1)
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "appdb", "never-existed.sql"))
	})
}
