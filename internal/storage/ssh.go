package storage

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

// SSHBackend stores artifacts over SFTP under remotePath/<key>/<name>.
// Authentication tries URI password, then the SSH agent, then common
// private keys in ~/.ssh.
//
// The connection is established lazily on first use. connMu guards the
// check-then-dial so parallel workers share one ssh.Client; the sftp.Client
// itself multiplexes concurrent requests safely.
type SSHBackend struct {
	connMu     sync.Mutex
	client     *ssh.Client
	sftpClient *sftp.Client
	remotePath string
	host       string
	user       *url.Userinfo
}

func NewSSHBackend(u *url.URL) (*SSHBackend, error) {
	host := u.Host
	if !strings.Contains(host, ":") {
		host = host + ":22"
	}

	remotePath := strings.TrimPrefix(u.Path, "/./")

	return &SSHBackend{
		remotePath: remotePath,
		host:       host,
		user:       u.User,
	}, nil
}

func (s *SSHBackend) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.sftpClient != nil {
		return nil
	}

	user := s.user.Username()
	pass, _ := s.user.Password()

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	if pass != "" {
		config.Auth = append(config.Auth, ssh.Password(pass))
	} else {
		if authSock := os.Getenv("SSH_AUTH_SOCK"); authSock != "" {
			if conn, err := net.Dial("unix", authSock); err == nil {
				ag := agent.NewClient(conn)
				if signers, err := ag.Signers(); err == nil && len(signers) > 0 {
					config.Auth = append(config.Auth, ssh.PublicKeysCallback(ag.Signers))
				}
			}
		}

		home, err := os.UserHomeDir()
		if err == nil {
			commonKeys := []string{"id_rsa", "id_ed25519", "id_ecdsa"}
			for _, k := range commonKeys {
				keyPath := filepath.Join(home, ".ssh", k)
				if key, err := os.ReadFile(keyPath); err == nil {
					if signer, err := ssh.ParsePrivateKey(key); err == nil {
						config.Auth = append(config.Auth, ssh.PublicKeys(signer))
					}
				}
			}
		}
	}

	if len(config.Auth) == 0 {
		return apperrors.New(apperrors.TypeAuth, "no supported SSH authentication methods found", "Ensure you have an SSH agent running or provide valid private keys/passwords.")
	}

	client, err := ssh.Dial("tcp", s.host, config)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to connect via SSH", "Check host reachability, SSH port, and credentials.")
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return apperrors.Wrap(err, apperrors.TypeConnection, "failed to create SFTP client", "Verify the SFTP subsystem is enabled on the remote host.")
	}

	s.client = client
	s.sftpClient = sftpClient
	return nil
}

func (s *SSHBackend) dir(key string) string {
	return path.Join(s.remotePath, key)
}

func (s *SSHBackend) Put(ctx context.Context, key, name string, r io.Reader) (string, error) {
	if err := s.connect(); err != nil {
		return "", err
	}

	dir := s.dir(key)
	if err := s.sftpClient.MkdirAll(dir); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to create remote directory "+dir, "")
	}

	final := path.Join(dir, name)
	tmp := final + ".tmp"
	f, err := s.sftpClient.Create(tmp)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to create remote file "+tmp, "")
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.sftpClient.Remove(tmp)
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to write remote file", "")
	}
	if err := f.Close(); err != nil {
		s.sftpClient.Remove(tmp)
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to close remote file", "")
	}

	if err := s.sftpClient.PosixRename(tmp, final); err != nil {
		s.sftpClient.Remove(tmp)
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to finalize remote file (rename)", "")
	}

	return s.uri(final), nil
}

func (s *SSHBackend) List(ctx context.Context, key string) ([]ObjectInfo, error) {
	if err := s.connect(); err != nil {
		return nil, err
	}

	entries, err := s.sftpClient.ReadDir(s.dir(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.TypeStorageList, "failed to list remote directory", "")
	}

	var objects []ObjectInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// In-flight uploads are not artifacts.
		if strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		objects = append(objects, ObjectInfo{Name: e.Name(), Size: e.Size()})
	}
	return objects, nil
}

func (s *SSHBackend) Delete(ctx context.Context, key, name string) error {
	if err := s.connect(); err != nil {
		return err
	}

	if err := s.sftpClient.Remove(path.Join(s.dir(key), name)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(err, apperrors.TypeStorageDelete, "failed to delete remote file", "Check remote permissions.")
	}
	return nil
}

func (s *SSHBackend) Location() string {
	return s.uri(s.remotePath)
}

// uri renders a display URI; remotePath may be home-relative.
func (s *SSHBackend) uri(p string) string {
	return "ssh://" + s.host + "/" + strings.TrimPrefix(p, "/")
}

func (s *SSHBackend) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	var firstErr error
	if s.sftpClient != nil {
		firstErr = s.sftpClient.Close()
		s.sftpClient = nil
	}
	if s.client != nil {
		if err := s.client.Close(); firstErr == nil {
			firstErr = err
		}
		s.client = nil
	}
	return firstErr
}
