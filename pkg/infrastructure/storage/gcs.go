package storage

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"

	shared "github.com/tracktiles/server/pkg"
)

// StorageAdapter provides blob storage operations using Google Cloud Storage
type StorageAdapter struct {
	Client *storage.Client
}

func (a *StorageAdapter) Write(ctx context.Context, bucketName, objectName string, data []byte, contentType string) error {
	wc := a.Client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		wc.ContentType = contentType
	}
	if _, err := wc.Write(data); err != nil {
		return err
	}
	return wc.Close()
}

func (a *StorageAdapter) Read(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	rc, err := a.NewReader(ctx, bucketName, objectName)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// NewReader opens the object for streaming. The sync finalizer reads the
// prior dataset through this so the full archive is never held in memory.
func (a *StorageAdapter) NewReader(ctx context.Context, bucketName, objectName string) (io.ReadCloser, error) {
	rc, err := a.Client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return rc, nil
}

func (a *StorageAdapter) Delete(ctx context.Context, bucketName, objectName string) error {
	err := a.Client.Bucket(bucketName).Object(objectName).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return shared.ErrNotFound
	}
	return err
}
