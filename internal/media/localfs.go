package media

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RoutePrefix is where the HTTP server exposes stored media.
const RoutePrefix = "/media"

// LocalProvider stores media under a directory on the daemon host and
// serves it through RoutePrefix.
type LocalProvider struct {
	root      string
	publicURL string
}

// NewLocalProvider creates a provider rooted at dir. publicURL is prepended
// to access paths and may be empty for host-relative URLs.
func NewLocalProvider(dir, publicURL string) (*LocalProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &LocalProvider{root: abs, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Root returns the directory media is stored in.
func (p *LocalProvider) Root() string { return p.root }

// Put writes data to the file for key.
func (p *LocalProvider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		_ = f.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return f.Close()
}

// Open reads the file for key.
func (p *LocalProvider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes the file for key.
func (p *LocalProvider) Delete(_ context.Context, key string) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// AccessPath returns the URL the HTTP server serves key under.
func (p *LocalProvider) AccessPath(key string) string {
	return p.publicURL + RoutePrefix + "/" + filepath.ToSlash(filepath.Clean(key))
}

func (p *LocalProvider) hostPath(key string) (string, error) {
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, key)
	}
	joined := filepath.Join(p.root, clean)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, key)
	}
	return joined, nil
}
