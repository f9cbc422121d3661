package storage

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

// ftpConn is the slice of *ftp.ServerConn the backend drives.
type ftpConn interface {
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	List(path string) ([]*ftp.Entry, error)
	ChangeDir(path string) error
	MakeDir(path string) error
	FileSize(path string) (int64, error)
	Quit() error
}

// FTPBackend stores artifacts under remotePath/<key>/<name>. FTP is
// plaintext, so it requires the explicit insecure opt-in.
//
// The control connection is not safe for concurrent use, so every operation
// holds mu; parallel workers serialize here rather than interleave commands.
type FTPBackend struct {
	mu         sync.Mutex
	conn       ftpConn
	remotePath string
	host       string
}

func NewFTPBackend(u *url.URL, opts Options) (*FTPBackend, error) {
	if !opts.AllowInsecure {
		return nil, apperrors.New(apperrors.TypeConfig, "insecure protocol FTP requires explicit opt-in", "Pass --allow-insecure or set allow_insecure: true.")
	}
	user := u.User.Username()
	pass, _ := u.User.Password()
	host := u.Host
	if !strings.Contains(host, ":") {
		host = host + ":21"
	}

	c, err := ftp.Dial(host, ftp.DialWithTimeout(5*time.Second))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect to FTP server", "Check host reachability and port.")
	}

	if err := c.Login(user, pass); err != nil {
		c.Quit()
		return nil, apperrors.Wrap(err, apperrors.TypeAuth, "FTP login failed", "Check the credentials in storage.uri.")
	}

	return &FTPBackend{
		conn:       c,
		remotePath: strings.TrimSuffix(u.Path, "/"),
		host:       host,
	}, nil
}

func (s *FTPBackend) dir(key string) string {
	return path.Join(s.remotePath, key)
}

func (s *FTPBackend) Put(ctx context.Context, key, name string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir(key)
	if err := s.ensureDir(dir); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to create remote directory", "")
	}

	// Upload under a temp name, rename into place once complete.
	final := path.Join(dir, name)
	tmp := final + ".tmp"
	if err := s.conn.Stor(tmp, r); err != nil {
		s.conn.Delete(tmp)
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "FTP upload failed", "Check remote permissions and disk space.")
	}
	if err := s.conn.Rename(tmp, final); err != nil {
		s.conn.Delete(tmp)
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to finalize FTP upload (rename)", "")
	}

	return "ftp://" + s.host + final, nil
}

func (s *FTPBackend) List(ctx context.Context, key string) ([]ObjectInfo, error) {
	s.mu.Lock()
	entries, err := s.conn.List(s.dir(key))
	s.mu.Unlock()
	if err != nil {
		// 550 means the key has no directory yet; anything else is a real
		// backend failure.
		var proto *textproto.Error
		if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.TypeStorageList, "failed to list FTP directory", "Check connectivity and remote permissions.")
	}

	var objects []ObjectInfo
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		// In-flight uploads are not artifacts.
		if strings.HasSuffix(e.Name, ".tmp") {
			continue
		}
		objects = append(objects, ObjectInfo{Name: e.Name, Size: int64(e.Size)})
	}
	return objects, nil
}

func (s *FTPBackend) Delete(ctx context.Context, key, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := path.Join(s.dir(key), name)
	if _, err := s.conn.FileSize(target); err != nil {
		return nil // already gone
	}
	if err := s.conn.Delete(target); err != nil {
		return apperrors.Wrap(err, apperrors.TypeStorageDelete, "failed to delete FTP file", "Check remote permissions.")
	}
	return nil
}

func (s *FTPBackend) Location() string {
	return "ftp://" + s.host + s.remotePath
}

// ensureDir walks the path segments, creating what is missing. Caller holds mu.
func (s *FTPBackend) ensureDir(dir string) error {
	parts := strings.Split(strings.Trim(dir, "/"), "/")
	cur := ""
	for _, p := range parts {
		cur += "/" + p
		// MakeDir fails if it exists; probing with ChangeDir keeps this quiet.
		if err := s.conn.ChangeDir(cur); err != nil {
			if err := s.conn.MakeDir(cur); err != nil {
				return err
			}
		}
	}
	return s.conn.ChangeDir("/")
}

func (s *FTPBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Quit()
}
