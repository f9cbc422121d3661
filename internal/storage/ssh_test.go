package storage

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

func TestNewSSHBackend_Defaults(t *testing.T) {
	u, err := url.Parse("ssh://backup@db.internal/./backups")
	require.NoError(t, err)

	b, err := NewSSHBackend(u)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:22", b.host)
	assert.Equal(t, "backups", b.remotePath)
	assert.Equal(t, "ssh://db.internal:22/backups", b.Location())
}

func TestNewSSHBackend_ExplicitPort(t *testing.T) {
	u, err := url.Parse("ssh://backup@db.internal:2222/srv/backups")
	require.NoError(t, err)

	b, err := NewSSHBackend(u)
	require.NoError(t, err)
	assert.Equal(t, "db.internal:2222", b.host)
	assert.Equal(t, "/srv/backups", b.remotePath)
}

func TestSSHBackend_ConcurrentConnectFailures(t *testing.T) {
	// No password, no agent, no keys in HOME: connect must fail with an auth
	// error before dialing. Concurrent callers all hit the guarded connect.
	t.Setenv("SSH_AUTH_SOCK", "")
	t.Setenv("HOME", t.TempDir())

	u, err := url.Parse("ssh://backup@db.internal/backups")
	require.NoError(t, err)
	b, err := NewSSHBackend(u)
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Delete(ctx, "appdb", "appdb-20240101T030000Z.sql.gz")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.Equal(t, apperrors.TypeAuth, apperrors.KindOf(err))
	}
	assert.Nil(t, b.client)
	assert.Nil(t, b.sftpClient)
	require.NoError(t, b.Close())
}
