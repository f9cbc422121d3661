// Package storage provides the pluggable artifact store. Every backend keeps
// one database's artifacts under a logical key and exposes the same three
// operations, so retention pruning works identically against a local
// directory, an object store, or a remote host.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/sqlkeep/sqlkeep/internal/config"
	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

// ObjectInfo describes one stored artifact. Ordering by age is derived from
// the timestamp embedded in Name, never from backend mtime.
type ObjectInfo struct {
	Name string
	Size int64
}

type Backend interface {
	// Put writes the stream under key/name. The write is atomic: a partial
	// artifact is never visible under its final name.
	Put(ctx context.Context, key, name string, r io.Reader) (string, error)
	// List returns all artifacts stored under key.
	List(ctx context.Context, key string) ([]ObjectInfo, error)
	// Delete removes one artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, key, name string) error
	Location() string
}

type Options struct {
	AllowInsecure bool
}

// FromConfig selects and constructs the configured backend. Exactly one
// variant is ever active for a run.
func FromConfig(cfg config.StorageConfig, opts Options) (Backend, error) {
	switch cfg.Driver {
	case "local", "":
		return NewLocalBackend(cfg.Dir), nil
	case "s3":
		return NewS3Backend(cfg)
	case "ftp":
		u, err := parseRemoteURI(cfg.URI, "ftp")
		if err != nil {
			return nil, err
		}
		return NewFTPBackend(u, opts)
	case "ssh", "sftp":
		u, err := parseRemoteURI(cfg.URI, "ssh")
		if err != nil {
			return nil, err
		}
		return NewSSHBackend(u)
	default:
		return nil, apperrors.New(apperrors.TypeConfig,
			fmt.Sprintf("unsupported storage driver: %s", cfg.Driver),
			"Use local, s3, ftp or ssh.")
	}
}

func parseRemoteURI(raw, scheme string) (*url.URL, error) {
	if raw == "" {
		return nil, apperrors.New(apperrors.TypeConfig,
			fmt.Sprintf("storage driver %s requires storage.uri", scheme),
			fmt.Sprintf("Set storage.uri to %s://user:pass@host/path", scheme))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "invalid storage URI", "")
	}
	return u, nil
}
