// Package media retrieves channel-hosted attachments, stores them and links
// them to messages.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMissingMediaInfo indicates an inbound media message without a media
	// id or mime type.
	ErrMissingMediaInfo = errors.New("media id and mime type are required")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)

// Failure kinds used to classify pipeline errors.
const (
	FailAuth     = "auth"
	FailMediaAPI = "media_api"
	FailStorage  = "storage"
	FailUnknown  = "unknown"
)

// PipelineError is a classified media failure.
type PipelineError struct {
	Kind string
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns a client-accessible URL for a storage key.
	AccessPath(key string) string
}
