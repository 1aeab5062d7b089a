package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for references that would escape the upload
// directory.
var ErrInvalidName = errors.New("invalid blob name")

// Disk stores attachments as files in one directory.
type Disk struct {
	dir string
}

// NewDisk creates the upload directory if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Put writes the bytes exclusively; an existing name is an error.
func (d *Disk) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	path, err := d.Path(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreWrite, err)
	}
	return name, nil
}

// Path maps a reference to its file, rejecting anything but a bare name.
func (d *Disk) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(d.dir, name), nil
}
