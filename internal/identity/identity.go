// Package identity resolves the stable installation identifier that namespaces
// every remote collection (savedData/{installationId}/...).
package identity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"scanmap/pkg/platform/sentinel"
)

// Provider returns the installation identifier. Implementations must return the
// same value for the lifetime of the installation.
type Provider interface {
	InstallationID(ctx context.Context) (string, error)
}

// Static is a fixed identifier, used when SCANMAP_INSTALLATION_ID is set.
type Static string

func (s Static) InstallationID(context.Context) (string, error) {
	id := strings.TrimSpace(string(s))
	if id == "" {
		return "", fmt.Errorf("installation id is empty: %w", sentinel.ErrUnavailable)
	}
	return id, nil
}

// FileProvider persists a generated uuid in a file on first use and reads it back afterwards.
type FileProvider struct {
	path string

	mu sync.Mutex
	id string
}

// NewFileProvider returns a provider backed by path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{path: path}
}

func (p *FileProvider) InstallationID(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id != "" {
		return p.id, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id, err := p.read()
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		id, err = p.create()
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("read installation id %s: %w: %w", p.path, sentinel.ErrUnavailable, err)
	}

	p.id = id
	return id, nil
}

func (p *FileProvider) read() (string, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(raw))
	if id == "" {
		return "", fmt.Errorf("installation id file %s is empty: %w", p.path, sentinel.ErrUnavailable)
	}
	return id, nil
}

// create writes a fresh id through a temp file so a crash never leaves a half-written id.
func (p *FileProvider) create() (string, error) {
	id := uuid.NewString()
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w: %w", sentinel.ErrUnavailable, err)
	}
	tmp, err := os.CreateTemp(dir, ".installation-id-*")
	if err != nil {
		return "", fmt.Errorf("create identity file: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(id + "\n"); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write identity file: %w: %w", sentinel.ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close identity file: %w: %w", sentinel.ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return "", fmt.Errorf("persist identity file: %w: %w", sentinel.ErrUnavailable, err)
	}
	return id, nil
}
