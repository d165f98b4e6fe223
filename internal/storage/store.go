// Package storage adapts the object store. Every artifact of a job lives
// under a job-scoped prefix, which makes prefix deletion a safe cleanup
// primitive.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object-store surface the pipeline depends on.
type Store interface {
	// Upload copies a local file to the given object key.
	Upload(ctx context.Context, localPath, key string) error

	// Download copies an object to a local path, creating parent
	// directories as needed.
	Download(ctx context.Context, key, localPath string) error

	// ListFiles returns the object keys under a prefix, excluding
	// directory placeholders.
	ListFiles(ctx context.Context, prefix string) ([]string, error)

	// ReadJSON unmarshals an object into v. Returns ErrNotFound when the
	// key does not exist.
	ReadJSON(ctx context.Context, key string, v any) error

	// WriteJSON marshals v and uploads it via a temp-file-then-upload
	// sequence, so a failed write never leaves a half-written object.
	WriteJSON(ctx context.Context, key string, v any) error

	// DeleteFolder removes every object under a prefix.
	DeleteFolder(ctx context.Context, prefix string) error

	// PresignedPutURL issues a time-limited upload URL for a key.
	PresignedPutURL(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
}
