//go:generate go run go.uber.org/mock/mockgen -source=filestore.go -destination=../mocks/mock_filestore.go -package=mocks

package filestore

import (
	"context"
	"errors"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ErrNotFound is returned when no file exists for a reference.
var ErrNotFound = errors.New("file not found")

// Object describes a stored file.
type Object struct {
	Ref         string
	Name        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Store keeps uploaded files.
type Store interface {
	// Put stores data under a new reference.
	Put(ctx context.Context, name string, data []byte) (*Object, error)
	// Get returns the content and metadata of a stored file.
	Get(ctx context.Context, ref string) ([]byte, *Object, error)
	// Delete removes a stored file. A missing file is not an error.
	Delete(ctx context.Context, ref string) error
	Close() error
}

// NewRef returns a fresh file reference.
func NewRef() string {
	return uuid.NewString()
}

// DetectContentType sniffs the MIME type from the content itself, ignoring
// whatever the client claimed.
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}

// Open returns the JetStream store when natsURL is set and a disk store under
// dir otherwise.
func Open(ctx context.Context, natsURL, bucket, dir string) (Store, error) {
	if natsURL != "" {
		js, err := NewJetStream(ctx, natsURL, bucket)
		if err != nil {
			return nil, err
		}
		return js, nil
	}
	disk, err := NewDisk(afero.NewOsFs(), dir)
	if err != nil {
		return nil, err
	}
	return disk, nil
}
