package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azlog "github.com/Azure/azure-sdk-for-go/sdk/azcore/log"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/nkazure/azblobber/internal"
	"github.com/nkazure/azblobber/storage/common"
)

// DefaultBlobMaxRetryRequests Default value for Azure Blob Storage Max Retry Requests.
const DefaultBlobMaxRetryRequests = 4

// Backend implements backend.Backend for Azure Blob Storage.
type Backend struct {
	logger log.Logger
	cfg    Config
	client *azblob.Client
}

// New creates an AzureBlob backend that authenticates every request with cred.
func New(l log.Logger, c Config, cred azcore.TokenCredential) (*Backend, error) {
	if c.AccountURL == "" {
		return nil, common.NewError(common.ErrConfig, "azure backend", errors.New("account URL is required"))
	}

	if cred == nil {
		return nil, common.NewError(common.ErrConfig, "azure backend", errors.New("credential is required"))
	}

	if c.MaxRetryRequests == 0 {
		c.MaxRetryRequests = DefaultBlobMaxRetryRequests
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries: int32(c.MaxRetryRequests),
				TryTimeout: c.Timeout,
			},
		},
	}
	if c.HTTPClient != nil {
		opts.Transport = c.HTTPClient
	}

	level.Info(l).Log("msg", "creating blob service client", "url", c.AccountURL, "maxRetries", c.MaxRetryRequests)

	client, err := azblob.NewClient(c.AccountURL, cred, opts)
	if err != nil {
		return nil, common.NewError(common.ErrConfig, "azure backend", fmt.Errorf("create client, %w", err))
	}

	return &Backend{logger: l, cfg: c, client: client}, nil
}

// Get writes downloaded content to the given writer.
func (b *Backend) Get(ctx context.Context, container, name string, w io.Writer) error {
	resp, err := b.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return classify("get blob", fmt.Errorf("get the object, %w", err), false)
	}

	defer internal.CloseWithErrLogf(b.logger, resp.Body, "response body, close defer")

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return classify("get blob", fmt.Errorf("copy the object, %w", err), false)
	}

	level.Debug(b.logger).Log("msg", "downloaded blob", "container", container, "name", name, "size", humanize.Bytes(uint64(n)))

	return nil
}

// Put uploads data in a single request. Without o.Overwrite the request carries
// If-None-Match: * so the service rejects it when the blob exists.
func (b *Backend) Put(ctx context.Context, container, name string, data []byte, o common.PutOptions) error {
	level.Info(b.logger).Log("msg", "uploading blob", "container", container, "name", name, "size", humanize.Bytes(uint64(len(data))))

	opts := &azblob.UploadBufferOptions{}
	if o.ContentType != "" {
		contentType := o.ContentType
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}

	if !o.Overwrite {
		etag := azcore.ETagAny
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: &etag},
		}
	}

	if _, err := b.client.UploadBuffer(ctx, container, name, data, opts); err != nil {
		level.Error(b.logger).Log("msg", "failed to upload blob", "container", container, "name", name, "err", err)
		return classify("put blob", fmt.Errorf("put the object, %w", err), !o.Overwrite)
	}

	level.Info(b.logger).Log("msg", "successfully uploaded blob", "container", container, "name", name)

	return nil
}

// Delete removes the blob. A missing blob is reported as common.ErrNotFound.
func (b *Backend) Delete(ctx context.Context, container, name string) error {
	if _, err := b.client.DeleteBlob(ctx, container, name, nil); err != nil {
		return classify("delete blob", fmt.Errorf("delete the object, %w", err), false)
	}

	level.Info(b.logger).Log("msg", "deleted blob", "container", container, "name", name)

	return nil
}

// Stat reads the blob properties without its content.
func (b *Backend) Stat(ctx context.Context, container, name string) (common.BlobInfo, error) {
	bc := b.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)

	props, err := bc.GetProperties(ctx, nil)
	if err != nil {
		return common.BlobInfo{}, classify("stat blob", fmt.Errorf("get the object properties, %w", err), false)
	}

	info := common.BlobInfo{
		Name:          name,
		ContainerName: container,
		Size:          props.ContentLength,
		CreationTime:  props.CreationTime,
		LastModified:  props.LastModified,
		ContentType:   props.ContentType,
	}
	if props.ETag != nil {
		etag := string(*props.ETag)
		info.ETag = &etag
	}

	return info, nil
}

// List returns one page of the flat blob listing.
func (b *Backend) List(ctx context.Context, container, prefix, marker string) (common.BlobPage, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		opts.Prefix = &prefix
	}
	if marker != "" {
		opts.Marker = &marker
	}

	resp, err := b.client.NewListBlobsFlatPager(container, opts).NextPage(ctx)
	if err != nil {
		return common.BlobPage{}, classify("list blobs", fmt.Errorf("list blobs, %w", err), false)
	}

	var page common.BlobPage
	if resp.Segment != nil {
		for _, item := range resp.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}

			page.Blobs = append(page.Blobs, blobInfo(container, item))
		}
	}

	if resp.NextMarker != nil {
		page.NextMarker = *resp.NextMarker
	}

	level.Debug(b.logger).Log("msg", "listed blobs", "container", container, "prefix", prefix, "count", len(page.Blobs), "more", page.NextMarker != "")

	return page, nil
}

// blobInfo copies only the properties present on the listing entry.
func blobInfo(containerName string, item *container.BlobItem) common.BlobInfo {
	info := common.BlobInfo{Name: *item.Name, ContainerName: containerName}

	p := item.Properties
	if p == nil {
		return info
	}

	info.Size = p.ContentLength
	info.CreationTime = p.CreationTime
	info.LastModified = p.LastModified
	info.ContentType = p.ContentType

	if p.ETag != nil {
		etag := string(*p.ETag)
		info.ETag = &etag
	}

	return info
}

// ListContainers returns one page of container names in the account.
func (b *Backend) ListContainers(ctx context.Context, marker string) (common.ContainerPage, error) {
	opts := &azblob.ListContainersOptions{}
	if marker != "" {
		opts.Marker = &marker
	}

	resp, err := b.client.NewListContainersPager(opts).NextPage(ctx)
	if err != nil {
		return common.ContainerPage{}, classify("list containers", fmt.Errorf("list containers, %w", err), false)
	}

	var page common.ContainerPage
	for _, item := range resp.ContainerItems {
		if item != nil && item.Name != nil {
			page.Names = append(page.Names, *item.Name)
		}
	}

	if resp.NextMarker != nil {
		page.NextMarker = *resp.NextMarker
	}

	return page, nil
}

// CreateContainer creates the container. An existing container is not an error.
func (b *Backend) CreateContainer(ctx context.Context, container string) error {
	level.Info(b.logger).Log("msg", "ensuring container exists", "container", container)

	_, err := b.client.CreateContainer(ctx, container, nil)
	switch {
	case err == nil:
		level.Info(b.logger).Log("msg", "container created successfully", "container", container)
		return nil
	case bloberror.HasCode(err, bloberror.ContainerAlreadyExists):
		level.Info(b.logger).Log("msg", "container already exists, continuing", "container", container)
		return nil
	default:
		return classify("create container", fmt.Errorf("create container, %w", err), false)
	}
}

// classify maps an SDK failure to an error kind. Errors already carrying a kind, such as
// token failures raised inside the request pipeline, are returned as they are.
func classify(op string, err error, conditional bool) error {
	var kErr *common.Error
	if errors.As(err, &kErr) {
		return kErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return common.NewError(common.ErrTransport, op, err)
	}

	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return common.NewError(common.ErrTransport, op, err)
	}

	switch {
	case respErr.StatusCode == http.StatusNotFound:
		return common.NewError(common.ErrNotFound, op, err)
	case conditional && (respErr.StatusCode == http.StatusConflict || respErr.StatusCode == http.StatusPreconditionFailed):
		return common.NewError(common.ErrAlreadyExists, op, err)
	case respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden:
		return common.NewError(common.ErrAuth, op, err)
	default:
		return common.NewError(common.ErrTransport, op, err)
	}
}

// EnableSDKLogging forwards request, response and retry events of the SDK to l at debug level.
func EnableSDKLogging(l log.Logger) {
	azlog.SetEvents(azlog.EventRequest, azlog.EventResponse, azlog.EventRetryPolicy)
	azlog.SetListener(func(ev azlog.Event, msg string) {
		level.Debug(l).Log("msg", msg, "event", ev)
	})
}
