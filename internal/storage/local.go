package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

// LocalBackend stores artifacts under baseDir/<key>/<name>, creating key
// subdirectories on demand.
type LocalBackend struct {
	baseDir string
}

func NewLocalBackend(baseDir string) *LocalBackend {
	if baseDir == "" {
		baseDir = "./backups"
	}
	return &LocalBackend{baseDir: baseDir}
}

func (s *LocalBackend) Put(ctx context.Context, key, name string, r io.Reader) (string, error) {
	dir := filepath.Join(s.baseDir, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to create backup directory", "Check permissions on "+s.baseDir)
	}

	path := filepath.Join(dir, name)
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to create temp file", "Check permissions and disk space.")
	}
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to write backup data", "Check disk space.")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to sync backup file", "")
	}
	if err := f.Close(); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to close backup file", "")
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return "", apperrors.Wrap(err, apperrors.TypeStorageWrite, "failed to finalize backup file (rename)", "")
	}

	return path, nil
}

func (s *LocalBackend) List(ctx context.Context, key string) ([]ObjectInfo, error) {
	dir := filepath.Join(s.baseDir, key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(err, apperrors.TypeStorageList, "failed to list backup directory", "Check permissions on "+dir)
	}

	var objects []ObjectInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			// in-flight writes are not artifacts
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // raced with a delete
		}
		objects = append(objects, ObjectInfo{Name: e.Name(), Size: info.Size()})
	}
	return objects, nil
}

func (s *LocalBackend) Delete(ctx context.Context, key, name string) error {
	path := filepath.Join(s.baseDir, key, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperrors.Wrap(err, apperrors.TypeStorageDelete, "failed to delete backup file", "Check permissions on "+path)
	}
	return nil
}

func (s *LocalBackend) Location() string {
	return s.baseDir
}
