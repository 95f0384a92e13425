package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PosixStore is a [Store] rooted at a single directory on the local
// filesystem. Every path is validated and joined under root before any
// syscall, so a validated path can never escape root.
type PosixStore struct {
	root string
}

// NewPosixStore returns a PosixStore rooted at root. root must already exist.
func NewPosixStore(root string) (*PosixStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("docstore: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("docstore: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docstore: root %q is not a directory", abs)
	}
	return &PosixStore{root: abs}, nil
}

func (p *PosixStore) resolve(rel string) (string, error) {
	if err := ValidatePath(rel); err != nil {
		return "", err
	}
	return filepath.Join(p.root, filepath.FromSlash(rel)), nil
}

// Read implements [Store].
func (p *PosixStore) Read(ctx context.Context, path string) (string, error) {
	full, err := p.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("docstore: read %q: %w", path, err)
	}
	return string(data), nil
}

// Write implements [Store].
func (p *PosixStore) Write(ctx context.Context, path, content string) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("docstore: mkdir for %q: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("docstore: write %q: %w", path, err)
	}
	return nil
}

// List implements [Store]: it returns every file path under prefix,
// relative to root, using forward slashes regardless of host OS.
func (p *PosixStore) List(ctx context.Context, prefix string) ([]string, error) {
	base := p.root
	if prefix != "" {
		var err error
		base, err = p.resolve(prefix)
		if err != nil {
			return nil, err
		}
	}

	var out []string
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil {
			return relErr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: list %q: %w", prefix, err)
	}
	return out, nil
}

// IsDir implements [Store].
func (p *PosixStore) IsDir(ctx context.Context, path string) (bool, error) {
	full, err := p.resolve(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("docstore: stat %q: %w", path, err)
	}
	return info.IsDir(), nil
}

// Delete implements [Store].
func (p *PosixStore) Delete(ctx context.Context, path string) error {
	full, err := p.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("docstore: delete %q: %w", path, err)
	}
	return nil
}

var _ Store = (*PosixStore)(nil)
