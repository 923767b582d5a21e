package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/spf13/afero"
)

// Disk stores files in a directory of an afero filesystem.
type Disk struct {
	fs  afero.Fs
	dir string
}

// NewDisk creates the directory if needed and returns a store over it.
func NewDisk(fs afero.Fs, dir string) (*Disk, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{fs: fs, dir: dir}, nil
}

func (d *Disk) path(ref string) string {
	return path.Join(d.dir, path.Base(ref))
}

// Put writes data to a new file.
func (d *Disk) Put(_ context.Context, name string, data []byte) (*Object, error) {
	ref := NewRef()
	if err := afero.WriteFile(d.fs, d.path(ref), data, 0o600); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	info, err := d.fs.Stat(d.path(ref))
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	return &Object{
		Ref:         ref,
		Name:        name,
		ContentType: DetectContentType(data),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

// Get reads a stored file. The content type is sniffed again from the content.
func (d *Disk) Get(_ context.Context, ref string) ([]byte, *Object, error) {
	data, err := afero.ReadFile(d.fs, d.path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	return data, &Object{
		Ref:         ref,
		ContentType: DetectContentType(data),
		Size:        int64(len(data)),
	}, nil
}

// Delete removes a stored file.
func (d *Disk) Delete(_ context.Context, ref string) error {
	if err := d.fs.Remove(d.path(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Close implements Store.
func (d *Disk) Close() error {
	return nil
}
