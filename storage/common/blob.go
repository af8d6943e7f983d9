// Package common holds the types shared between the blob facade and storage backends.
package common

import "time"

// BlobInfo is a read-only snapshot of one blob's metadata.
// Pointer fields are nil when the store did not report them.
type BlobInfo struct {
	Name          string
	ContainerName string
	Size          *int64
	CreationTime  *time.Time
	LastModified  *time.Time
	ContentType   *string
	ETag          *string
}

// BlobPage is a single page of a blob listing.
type BlobPage struct {
	Blobs      []BlobInfo
	NextMarker string
}

// ContainerPage is a single page of a container listing.
type ContainerPage struct {
	Names      []string
	NextMarker string
}

// PutOptions controls a single upload.
type PutOptions struct {
	// Overwrite replaces an existing blob. When false the write fails with ErrAlreadyExists
	// if the blob is already present.
	Overwrite   bool
	ContentType string
}
