package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSObjectStore is the concrete implementation of ObjectStore
// that interacts with Google Cloud Storage.
type GCSObjectStore struct {
	client *storage.Client
}

// NewGCSObjectStore creates a client using Application Default Credentials.
func NewGCSObjectStore(ctx context.Context) (*GCSObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSObjectStore: create storage client: %w", err)
	}
	return &GCSObjectStore{client: client}, nil
}

// Close closes the storage client.
func (s *GCSObjectStore) Close() error {
	return s.client.Close()
}

// Put uploads data, optionally only when the object does not exist yet.
func (s *GCSObjectStore) Put(ctx context.Context, bucket, object string, data []byte, contentType string, ifAbsent bool) (ObjectAttrs, error) {
	obj := s.client.Bucket(bucket).Object(object)
	if ifAbsent {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	}
	attrs, err := s.write(ctx, obj, data, contentType)
	if err != nil {
		return ObjectAttrs{}, fmt.Errorf("Put: %w", err)
	}
	return attrs, nil
}

// Replace overwrites the object if its generation is still generation.
func (s *GCSObjectStore) Replace(ctx context.Context, bucket, object string, data []byte, contentType string, generation int64) (ObjectAttrs, error) {
	obj := s.client.Bucket(bucket).Object(object).If(storage.Conditions{GenerationMatch: generation})
	attrs, err := s.write(ctx, obj, data, contentType)
	if err != nil {
		return ObjectAttrs{}, fmt.Errorf("Replace: %w", err)
	}
	return attrs, nil
}

func (s *GCSObjectStore) write(ctx context.Context, obj *storage.ObjectHandle, data []byte, contentType string) (ObjectAttrs, error) {
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return ObjectAttrs{}, fmt.Errorf("write to GCS writer: %w", mapError(err))
	}
	// Close finalizes the upload; precondition failures surface here.
	if err := w.Close(); err != nil {
		return ObjectAttrs{}, fmt.Errorf("finalize upload: %w", mapError(err))
	}

	attrs := w.Attrs()
	return ObjectAttrs{Generation: attrs.Generation, Created: attrs.Created}, nil
}

// Get reads the whole object.
func (s *GCSObjectStore) Get(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: open GCS object reader: %w", mapError(err))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("Get: read GCS object: %w", err)
	}
	return data, nil
}

// Stat returns the object's generation and creation time.
func (s *GCSObjectStore) Stat(ctx context.Context, bucket, object string) (ObjectAttrs, error) {
	attrs, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return ObjectAttrs{}, fmt.Errorf("Stat: %w", mapError(err))
	}
	return ObjectAttrs{Generation: attrs.Generation, Created: attrs.Created}, nil
}

// Delete removes the object, conditioned on generation when it is non-zero.
func (s *GCSObjectStore) Delete(ctx context.Context, bucket, object string, generation int64) error {
	obj := s.client.Bucket(bucket).Object(object)
	if generation != 0 {
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}
	if err := obj.Delete(ctx); err != nil {
		return fmt.Errorf("Delete: %w", mapError(err))
	}
	return nil
}

// mapError folds storage and HTTP errors onto the package sentinels while
// keeping the original error in the chain.
func mapError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %w", ErrNotExist, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %w", ErrPreconditionFailed, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotExist, err)
		}
	}
	return err
}
