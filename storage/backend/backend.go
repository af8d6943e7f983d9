// Package backend defines the transport contract implemented by concrete blob stores.
package backend

import (
	"context"
	"io"

	"github.com/nkazure/azblobber/storage/common"
)

// Backend performs exactly one remote call per method. Implementations classify every
// failure with a storage/common error kind.
type Backend interface {
	// Get writes the content of the blob to w.
	Get(ctx context.Context, container, name string, w io.Writer) error

	// Put stores data as the blob. Without o.Overwrite the write fails with
	// common.ErrAlreadyExists when the blob is present.
	Put(ctx context.Context, container, name string, data []byte, o common.PutOptions) error

	// Delete removes the blob.
	Delete(ctx context.Context, container, name string) error

	// Stat returns the properties of the blob.
	Stat(ctx context.Context, container, name string) (common.BlobInfo, error)

	// List returns one page of blobs whose names start with prefix, beginning at marker.
	List(ctx context.Context, container, prefix, marker string) (common.BlobPage, error)

	// ListContainers returns one page of container names, beginning at marker.
	ListContainers(ctx context.Context, marker string) (common.ContainerPage, error)

	// CreateContainer creates the container if it does not exist yet.
	CreateContainer(ctx context.Context, container string) error
}
