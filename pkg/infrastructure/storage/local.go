package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	shared "github.com/tracktiles/server/pkg"
)

// LocalStore implements shared.BlobStore on a directory tree, with the
// bucket as the first path component. Used by the CLI so a sync can run
// against a plain directory instead of GCS.
type LocalStore struct {
	Root string
}

func (l *LocalStore) path(bucket, object string) string {
	return filepath.Join(l.Root, bucket, filepath.FromSlash(object))
}

func (l *LocalStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	data, err := os.ReadFile(l.path(bucket, object))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("object %s: %w", object, shared.ErrNotFound)
	}
	return data, err
}

func (l *LocalStore) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(bucket, object))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("object %s: %w", object, shared.ErrNotFound)
	}
	return f, err
}

func (l *LocalStore) Write(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	path := l.path(bucket, object)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// Write-then-rename so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (l *LocalStore) Delete(ctx context.Context, bucket, object string) error {
	err := os.Remove(l.path(bucket, object))
	if os.IsNotExist(err) {
		return fmt.Errorf("object %s: %w", object, shared.ErrNotFound)
	}
	return err
}
