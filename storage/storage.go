// Package storage bounds backend calls with a per-operation timeout and logs them.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/nkazure/azblobber/storage/backend"
	"github.com/nkazure/azblobber/storage/common"
)

// DefaultOperationTimeout bounds a single backend call.
const DefaultOperationTimeout = 5 * time.Minute

// Storage is a backend.Backend that bounds every call with a timeout.
type Storage interface {
	backend.Backend
}

type storage struct {
	logger log.Logger

	b       backend.Backend
	timeout time.Duration
}

// New wraps b. A non-positive timeout selects DefaultOperationTimeout.
func New(l log.Logger, b backend.Backend, timeout time.Duration) Storage {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}

	return &storage{logger: l, b: b, timeout: timeout}
}

// Get writes the content of the blob to w.
func (s *storage) Get(ctx context.Context, container, name string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "get blob", "container", container, "name", name)

	return s.b.Get(ctx, container, name, w)
}

// Put stores data as the blob.
func (s *storage) Put(ctx context.Context, container, name string, data []byte, o common.PutOptions) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "put blob", "container", container, "name", name, "overwrite", o.Overwrite)

	return s.b.Put(ctx, container, name, data, o)
}

// Delete removes the blob.
func (s *storage) Delete(ctx context.Context, container, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "delete blob", "container", container, "name", name)

	return s.b.Delete(ctx, container, name)
}

// Stat returns the properties of the blob.
func (s *storage) Stat(ctx context.Context, container, name string) (common.BlobInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "stat blob", "container", container, "name", name)

	return s.b.Stat(ctx, container, name)
}

// List returns one page of blobs.
func (s *storage) List(ctx context.Context, container, prefix, marker string) (common.BlobPage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "list blobs", "container", container, "prefix", prefix, "marker", marker)

	return s.b.List(ctx, container, prefix, marker)
}

// ListContainers returns one page of container names.
func (s *storage) ListContainers(ctx context.Context, marker string) (common.ContainerPage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "list containers", "marker", marker)

	return s.b.ListContainers(ctx, marker)
}

// CreateContainer creates the container if it does not exist yet.
func (s *storage) CreateContainer(ctx context.Context, container string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	level.Debug(s.logger).Log("msg", "create container", "container", container)

	return s.b.CreateContainer(ctx, container)
}
