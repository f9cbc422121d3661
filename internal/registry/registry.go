// Package registry manages the named connection registry file. Each entry
// holds the server coordinates and per-connection storage preferences the
// backup command resolves before a run.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	apperrors "github.com/sqlkeep/sqlkeep/internal/errors"
)

type Connection struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	User          string   `json:"user"`
	Password      string   `json:"password"`
	MysqldumpPath string   `json:"mysqldump_path,omitempty"`
	Excluded      []string `json:"excluded_databases,omitempty"`

	// Optional storage preferences, overriding the global config.
	StorageDriver string `json:"storage_driver,omitempty"`
	Path          string `json:"path,omitempty"` // local dir or object key prefix
	S3Bucket      string `json:"s3_bucket,omitempty"`
}

type Registry struct {
	path  string
	mu    sync.RWMutex
	conns map[string]Connection
}

// DefaultPath resolves the registry location under the user config dir.
func DefaultPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "sqlkeep", "connections.json"), nil
}

func Open(path string) (*Registry, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeConfig, "cannot resolve registry path", "Set XDG_CONFIG_HOME or HOME.")
		}
	}

	r := &Registry{path: path, conns: map[string]Connection{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "failed to read connection registry", "Check permissions on "+path)
	}

	if err := json.Unmarshal(data, &r.conns); err != nil {
		return nil, apperrors.Wrap(err, apperrors.TypeConfig, "connection registry is not valid JSON", "Fix or remove "+path)
	}

	return r, nil
}

func (r *Registry) Get(name string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[name]
	return c, ok
}

// List returns connection names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set adds or replaces a connection and persists the registry.
func (r *Registry) Set(name string, c Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[name] = c
	return r.save()
}

// Remove deletes a connection. Removing an unknown name is an error so the
// CLI can report typos.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[name]; !ok {
		return apperrors.New(apperrors.TypeConfig, fmt.Sprintf("connection %q not found", name), "Run 'sqlkeep connections list' to see available connections.")
	}
	delete(r.conns, name)
	return r.save()
}

func (r *Registry) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, "failed to create registry directory", "Check permissions on "+filepath.Dir(r.path))
	}

	data, err := json.MarshalIndent(r.conns, "", "  ")
	if err != nil {
		return err
	}

	// Registry holds credentials: write restricted to the owning user and
	// swap in atomically.
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return apperrors.Wrap(err, apperrors.TypeConfig, "failed to write connection registry", "Check disk space and permissions.")
	}
	return os.Rename(tmp, r.path)
}
