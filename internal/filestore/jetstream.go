package filestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const headerFileName = "X-File-Name"

// JetStream stores files in a NATS JetStream object store bucket.
type JetStream struct {
	conn  *nats.Conn
	store jetstream.ObjectStore
}

// NewJetStream connects to NATS and opens the bucket, creating it if missing.
func NewJetStream(ctx context.Context, natsURL, bucket string) (*JetStream, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if err != nil {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "Chat file uploads",
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create object store bucket: %w", err)
		}
	}

	return &JetStream{conn: conn, store: store}, nil
}

// Put stores data as a new object.
func (j *JetStream) Put(ctx context.Context, name string, data []byte) (*Object, error) {
	ref := NewRef()
	contentType := DetectContentType(data)
	meta := jetstream.ObjectMeta{
		Name: ref,
		Headers: nats.Header{
			"Content-Type": []string{contentType},
			headerFileName: []string{name},
		},
	}

	info, err := j.store.Put(ctx, meta, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}

	return &Object{
		Ref:         ref,
		Name:        name,
		ContentType: contentType,
		Size:        int64(info.Size),
		ModTime:     info.ModTime,
	}, nil
}

// Get fetches an object.
func (j *JetStream) Get(ctx context.Context, ref string) ([]byte, *Object, error) {
	result, err := j.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	defer result.Close()

	data, err := io.ReadAll(result)
	if err != nil {
		return nil, nil, fmt.Errorf("read object: %w", err)
	}

	info, err := result.Info()
	if err != nil {
		return nil, nil, fmt.Errorf("object info: %w", err)
	}

	obj := &Object{
		Ref:         ref,
		ContentType: "application/octet-stream",
		Size:        int64(info.Size),
		ModTime:     info.ModTime,
	}
	if info.Headers != nil {
		if ct := info.Headers.Get("Content-Type"); ct != "" {
			obj.ContentType = ct
		}
		obj.Name = info.Headers.Get(headerFileName)
	}
	return data, obj, nil
}

// Delete removes an object.
func (j *JetStream) Delete(ctx context.Context, ref string) error {
	if err := j.store.Delete(ctx, ref); err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (j *JetStream) Close() error {
	if j.conn != nil {
		j.conn.Close()
	}
	return nil
}
