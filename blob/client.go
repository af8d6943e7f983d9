// Package blob exposes a container-scoped client for reading, writing, listing and deleting
// blobs in an Azure Storage account.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/nkazure/azblobber/auth"
	"github.com/nkazure/azblobber/storage"
	"github.com/nkazure/azblobber/storage/backend"
	"github.com/nkazure/azblobber/storage/backend/azure"
	"github.com/nkazure/azblobber/storage/common"
)

// DefaultEncoding is used by ReadText unless WithEncoding says otherwise.
const DefaultEncoding = "utf-8"

// Config describes the storage account and the app registration used to reach it.
type Config struct {
	// AccountURL is the blob service endpoint, e.g. https://myaccount.blob.core.windows.net/.
	AccountURL string

	// ContainerName is the default container. It may be empty when every call names one.
	ContainerName string

	// Auth holds the credentials. Empty fields fall back to the environment.
	Auth auth.Config

	// MaxRetryRequests configures the transport retry policy, see azure.Config.
	MaxRetryRequests int
}

// ContainerClient performs blob operations against a default container.
// It is safe for concurrent use.
type ContainerClient struct {
	logger log.Logger
	store  backend.Backend

	// tokens is dropped when the service rejects a token, so the next call acquires a new one.
	tokens *auth.TokenCache

	mu        sync.Mutex
	container string
}

// New creates a ContainerClient that authenticates with a cached OAuth2 token.
func New(l log.Logger, c Config, opts ...Option) (*ContainerClient, error) {
	o := newOptions(opts)

	if c.AccountURL == "" {
		return nil, common.NewError(common.ErrConfig, "new client", errors.New("account URL is required"))
	}

	tokenOpts := o.tokenOpts
	if o.httpClient != nil {
		tokenOpts = append([]auth.Option{auth.WithHTTPClient(o.httpClient)}, tokenOpts...)
	}

	src, err := auth.NewSource(c.Auth.WithEnvFallback(), tokenOpts...)
	if err != nil {
		return nil, err
	}

	if o.sdkLogging {
		azure.EnableSDKLogging(l)
	}

	tokens := auth.NewTokenCache(l, src, tokenOpts...)
	cred := auth.NewCredential(tokens)

	b, err := azure.New(l, azure.Config{
		AccountURL:       c.AccountURL,
		MaxRetryRequests: c.MaxRetryRequests,
		HTTPClient:       o.httpClient,
	}, cred)
	if err != nil {
		return nil, err
	}

	client := NewWithBackend(l, b, c.ContainerName, opts...)
	client.tokens = tokens

	return client, nil
}

// NewWithBackend creates a ContainerClient on top of any backend.
func NewWithBackend(l log.Logger, b backend.Backend, container string, opts ...Option) *ContainerClient {
	o := newOptions(opts)

	return &ContainerClient{
		logger:    l,
		store:     storage.New(l, b, o.timeout),
		container: container,
	}
}

// DefaultContainer returns the container used when a call does not name one.
func (c *ContainerClient) DefaultContainer() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.container
}

// SetDefaultContainer replaces the default container.
func (c *ContainerClient) SetDefaultContainer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.container = name
}

// resolve returns the container for one call. A non-empty override becomes the new default.
func (c *ContainerClient) resolve(override string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if override != "" {
		if override != c.container {
			level.Debug(c.logger).Log("msg", "default container changed by call", "from", c.container, "to", override)
		}

		c.container = override
	}

	if c.container == "" {
		return "", common.NewError(common.ErrConfig, "resolve container", errors.New("no container name given and no default container set"))
	}

	return c.container, nil
}

func (c *ContainerClient) observe(err error) error {
	if c.tokens != nil && errors.Is(err, common.ErrAuth) {
		level.Warn(c.logger).Log("msg", "storage rejected the token, dropping it", "err", err)
		c.tokens.Invalidate()
	}

	return err
}

func (c *ContainerClient) target(op, name string, o callOptions) (string, error) {
	if name == "" {
		return "", common.NewError(common.ErrConfig, op, errors.New("blob name is required"))
	}

	return c.resolve(o.container)
}

// Read returns the whole content of the blob.
func (c *ContainerClient) Read(ctx context.Context, name string, opts ...CallOption) ([]byte, error) {
	o := newCallOptions(opts)

	container, err := c.target("read blob", name, o)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.store.Get(ctx, container, name, &buf); err != nil {
		return nil, c.observe(err)
	}

	return buf.Bytes(), nil
}

// ReadText reads the blob and decodes it, as UTF-8 unless WithEncoding names another
// WHATWG encoding label. Invalid input fails with common.ErrDecode.
func (c *ContainerClient) ReadText(ctx context.Context, name string, opts ...CallOption) (string, error) {
	o := newCallOptions(opts)

	data, err := c.Read(ctx, name, opts...)
	if err != nil {
		return "", err
	}

	return decode(data, o.encoding)
}

func decode(data []byte, label string) (string, error) {
	const op = "decode text"

	// The WHATWG index maps the ASCII labels to windows-1252, which accepts every byte.
	if asciiLabels[strings.ToLower(strings.TrimSpace(label))] {
		for i, b := range data {
			if b >= utf8.RuneSelf {
				return "", common.NewError(common.ErrDecode, op, fmt.Errorf("byte 0x%02x at offset %d is not ASCII", b, i))
			}
		}

		return string(data), nil
	}

	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", common.NewError(common.ErrDecode, op, fmt.Errorf("encoding %q, %w", label, err))
	}

	// The UTF-8 decoder substitutes invalid sequences, so they are rejected up front.
	if n, _ := htmlindex.Name(enc); n == DefaultEncoding {
		if _, _, err := transform.Bytes(encoding.UTF8Validator, data); err != nil {
			return "", common.NewError(common.ErrDecode, op, err)
		}

		return string(data), nil
	}

	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", common.NewError(common.ErrDecode, op, err)
	}

	// Decoders replace invalid input with U+FFFD. A replacement character is only accepted
	// when it was encoded in the input, which re-encoding the text shows.
	if bytes.ContainsRune(out, utf8.RuneError) {
		back, err := enc.NewEncoder().Bytes(out)
		if err != nil || !bytes.Equal(back, data) {
			return "", common.NewError(common.ErrDecode, op, fmt.Errorf("invalid %s input", label))
		}
	}

	return string(out), nil
}

var asciiLabels = map[string]bool{
	"ascii":          true,
	"us-ascii":       true,
	"ansi_x3.4-1968": true,
	"iso646-us":      true,
	"csascii":        true,
}

// Write stores data as the blob. With WithOverwrite(false) the write fails with
// common.ErrAlreadyExists if the blob exists; the check is done by the service.
func (c *ContainerClient) Write(ctx context.Context, name string, data []byte, opts ...CallOption) error {
	o := newCallOptions(opts)

	container, err := c.target("write blob", name, o)
	if err != nil {
		return err
	}

	return c.observe(c.store.Put(ctx, container, name, data, common.PutOptions{Overwrite: o.overwrite, ContentType: o.contentType}))
}

// WriteString stores s encoded as UTF-8.
func (c *ContainerClient) WriteString(ctx context.Context, name, s string, opts ...CallOption) error {
	return c.Write(ctx, name, []byte(s), opts...)
}

// UploadFile reads the local file at path into memory and writes it as the blob.
// The content type is derived from the file extension unless WithContentType is given.
func (c *ContainerClient) UploadFile(ctx context.Context, name, path string, opts ...CallOption) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return common.NewError(common.ErrIO, "upload file", fmt.Errorf("read %s, %w", path, err))
	}

	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		opts = append([]CallOption{WithContentType(t)}, opts...)
	}

	level.Debug(c.logger).Log("msg", "uploading local file", "path", path, "name", name)

	return c.Write(ctx, name, data, opts...)
}

// Update replaces the content of the blob, creating it if needed.
func (c *ContainerClient) Update(ctx context.Context, name string, data []byte, opts ...CallOption) error {
	return c.Write(ctx, name, data, append(opts, WithOverwrite(true))...)
}

// Delete removes the blob. A missing blob fails with common.ErrNotFound.
func (c *ContainerClient) Delete(ctx context.Context, name string, opts ...CallOption) error {
	o := newCallOptions(opts)

	container, err := c.target("delete blob", name, o)
	if err != nil {
		return err
	}

	return c.observe(c.store.Delete(ctx, container, name))
}

// Exists reports whether the blob can be read. Absence is not an error.
func (c *ContainerClient) Exists(ctx context.Context, name string, opts ...CallOption) (bool, error) {
	_, err := c.Stat(ctx, name, opts...)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Stat returns the properties of the blob.
func (c *ContainerClient) Stat(ctx context.Context, name string, opts ...CallOption) (common.BlobInfo, error) {
	o := newCallOptions(opts)

	container, err := c.target("stat blob", name, o)
	if err != nil {
		return common.BlobInfo{}, err
	}

	info, err := c.store.Stat(ctx, container, name)

	return info, c.observe(err)
}

// ListBlobInfo lists the blobs of the container whose names start with the WithPrefix value.
// The container is resolved when ListBlobInfo is called; every range over the returned
// sequence lists again from the first page and follows continuation markers until the end.
func (c *ContainerClient) ListBlobInfo(ctx context.Context, opts ...CallOption) iter.Seq2[common.BlobInfo, error] {
	o := newCallOptions(opts)
	container, err := c.resolve(o.container)

	return func(yield func(common.BlobInfo, error) bool) {
		if err != nil {
			yield(common.BlobInfo{}, err)
			return
		}

		marker := ""
		for {
			page, err := c.store.List(ctx, container, o.prefix, marker)
			if err != nil {
				yield(common.BlobInfo{}, c.observe(err))
				return
			}

			for _, info := range page.Blobs {
				if !yield(info, nil) {
					return
				}
			}

			if page.NextMarker == "" {
				return
			}

			marker = page.NextMarker
		}
	}
}

// ListBlobNames is ListBlobInfo reduced to blob names.
func (c *ContainerClient) ListBlobNames(ctx context.Context, opts ...CallOption) iter.Seq2[string, error] {
	infos := c.ListBlobInfo(ctx, opts...)

	return func(yield func(string, error) bool) {
		for info, err := range infos {
			if !yield(info.Name, err) || err != nil {
				return
			}
		}
	}
}

// ListContainerNames lists every container of the account. It does not use or change
// the default container.
func (c *ContainerClient) ListContainerNames(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		marker := ""
		for {
			page, err := c.store.ListContainers(ctx, marker)
			if err != nil {
				yield("", c.observe(err))
				return
			}

			for _, name := range page.Names {
				if !yield(name, nil) {
					return
				}
			}

			if page.NextMarker == "" {
				return
			}

			marker = page.NextMarker
		}
	}
}

// CreateContainer creates the named container, or the default one when name is empty.
// A non-empty name becomes the default, as with InContainer. An existing container is not an error.
func (c *ContainerClient) CreateContainer(ctx context.Context, name string) error {
	container, err := c.resolve(name)
	if err != nil {
		return err
	}

	return c.observe(c.store.CreateContainer(ctx, container))
}

// Collect drains a listing into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}

		out = append(out, v)
	}

	return out, nil
}
