package gcs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPreconditionFailed is returned when a conditional create or delete
	// does not hold (the object exists, or its generation moved on).
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrNotExist is returned for a missing object.
	ErrNotExist = errors.New("object does not exist")
)

// ObjectAttrs is the object metadata the lock and report code needs.
type ObjectAttrs struct {
	Generation int64
	Created    time.Time
}

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Put writes data to bucket/object. With ifAbsent set the write fails with
	// ErrPreconditionFailed when the object already exists.
	Put(ctx context.Context, bucket, object string, data []byte, contentType string, ifAbsent bool) (ObjectAttrs, error)

	// Replace overwrites the object only while its generation still matches,
	// failing with ErrPreconditionFailed otherwise. The new generation gets a
	// fresh creation time.
	Replace(ctx context.Context, bucket, object string, data []byte, contentType string, generation int64) (ObjectAttrs, error)

	// Get reads the whole object.
	Get(ctx context.Context, bucket, object string) ([]byte, error)

	// Stat returns the object's metadata.
	Stat(ctx context.Context, bucket, object string) (ObjectAttrs, error)

	// Delete removes the object if its generation still matches. A zero
	// generation deletes unconditionally.
	Delete(ctx context.Context, bucket, object string, generation int64) error
}
