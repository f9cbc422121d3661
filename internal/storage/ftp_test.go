package storage

import (
	"context"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

// fakeFTPConn is an in-memory ftpConn that records the commands it receives
// and tracks how many are in flight at once.
type fakeFTPConn struct {
	mu    sync.Mutex
	files map[string][]byte
	ops   []string

	listErr error

	active    int32
	maxActive int32
}

func newFakeFTPConn() *fakeFTPConn {
	return &fakeFTPConn{files: make(map[string][]byte)}
}

// enter marks one command in flight; commands on a single control connection
// must never overlap.
func (c *fakeFTPConn) enter() func() {
	n := atomic.AddInt32(&c.active, 1)
	for {
		max := atomic.LoadInt32(&c.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&c.maxActive, max, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	return func() { atomic.AddInt32(&c.active, -1) }
}

func (c *fakeFTPConn) record(op string) {
	c.mu.Lock()
	c.ops = append(c.ops, op)
	c.mu.Unlock()
}

func (c *fakeFTPConn) Stor(p string, r io.Reader) error {
	defer c.enter()()
	c.record("STOR " + p)
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.files[p] = data
	c.mu.Unlock()
	return nil
}

func (c *fakeFTPConn) Rename(from, to string) error {
	defer c.enter()()
	c.record("RNTO " + to)
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[from]
	if !ok {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "no such file"}
	}
	delete(c.files, from)
	c.files[to] = data
	return nil
}

func (c *fakeFTPConn) Delete(p string) error {
	defer c.enter()()
	c.record("DELE " + p)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.files[p]; !ok {
		return &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "no such file"}
	}
	delete(c.files, p)
	return nil
}

func (c *fakeFTPConn) List(p string) ([]*ftp.Entry, error) {
	defer c.enter()()
	if c.listErr != nil {
		return nil, c.listErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var entries []*ftp.Entry
	for name, data := range c.files {
		if path.Dir(name) != p {
			continue
		}
		entries = append(entries, &ftp.Entry{
			Name: path.Base(name),
			Type: ftp.EntryTypeFile,
			Size: uint64(len(data)),
		})
	}
	return entries, nil
}

func (c *fakeFTPConn) ChangeDir(p string) error { defer c.enter()(); return nil }
func (c *fakeFTPConn) MakeDir(p string) error   { defer c.enter()(); return nil }

func (c *fakeFTPConn) FileSize(p string) (int64, error) {
	defer c.enter()()
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[p]
	if !ok {
		return 0, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "no such file"}
	}
	return int64(len(data)), nil
}

func (c *fakeFTPConn) Quit() error { return nil }

func newTestFTPBackend(conn ftpConn) *FTPBackend {
	return &FTPBackend{conn: conn, remotePath: "/backups", host: "ftp.internal:21"}
}

func TestFTPBackend_ParallelPutsSerialize(t *testing.T) {
	conn := newFakeFTPConn()
	backend := newTestFTPBackend(conn)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("db%02d-20240101T0300%02dZ.sql.gz", i, i)
			_, err := backend.Put(ctx, fmt.Sprintf("db%02d", i), name, strings.NewReader("dump"))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// One command at a time on the control connection, ever.
	assert.Equal(t, int32(1), atomic.LoadInt32(&conn.maxActive))
	assert.Len(t, conn.files, 8)
	for name := range conn.files {
		assert.False(t, strings.HasSuffix(name, ".tmp"), "leftover temp upload %s", name)
	}
}

func TestFTPBackend_PutUploadsTmpThenRenames(t *testing.T) {
	conn := newFakeFTPConn()
	backend := newTestFTPBackend(conn)

	location, err := backend.Put(context.Background(), "appdb", "appdb-20240101T030000Z.sql.gz", strings.NewReader("dump"))
	require.NoError(t, err)
	assert.Equal(t, "ftp://ftp.internal:21/backups/appdb/appdb-20240101T030000Z.sql.gz", location)

	require.Len(t, conn.ops, 2)
	assert.Equal(t, "STOR /backups/appdb/appdb-20240101T030000Z.sql.gz.tmp", conn.ops[0])
	assert.Equal(t, "RNTO /backups/appdb/appdb-20240101T030000Z.sql.gz", conn.ops[1])
}

func TestFTPBackend_ListMissingKeyIsEmpty(t *testing.T) {
	conn := newFakeFTPConn()
	conn.listErr = &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "no such directory"}
	backend := newTestFTPBackend(conn)

	objects, err := backend.List(context.Background(), "appdb")
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestFTPBackend_ListFailureSurfaces(t *testing.T) {
	conn := newFakeFTPConn()
	conn.listErr = &textproto.Error{Code: ftp.StatusNotAvailable, Msg: "service not available"}
	backend := newTestFTPBackend(conn)

	_, err := backend.List(context.Background(), "appdb")
	require.Error(t, err)
	assert.Equal(t, apperrors.TypeStorageList, apperrors.KindOf(err))
}

func TestFTPBackend_ListHidesInFlightUploads(t *testing.T) {
	conn := newFakeFTPConn()
	conn.files["/backups/appdb/appdb-20240101T030000Z.sql.gz"] = []byte("dump")
	conn.files["/backups/appdb/appdb-20240102T030000Z.sql.gz.tmp"] = []byte("partial")
	backend := newTestFTPBackend(conn)

	objects, err := backend.List(context.Background(), "appdb")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "appdb-20240101T030000Z.sql.gz", objects[0].Name)
}

func TestFTPBackend_DeleteIdempotent(t *testing.T) {
	conn := newFakeFTPConn()
	conn.files["/backups/appdb/appdb-20240101T030000Z.sql.gz"] = []byte("dump")
	backend := newTestFTPBackend(conn)
	ctx := context.Background()

	require.NoError(t, backend.Delete(ctx, "appdb", "appdb-20240101T030000Z.sql.gz"))
	assert.Empty(t, conn.files)

	// Deleting a missing artifact is not an error.
	require.NoError(t, backend.Delete(ctx, "appdb", "appdb-20240101T030000Z.sql.gz"))
}
