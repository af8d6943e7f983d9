package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/kit/log"

	"github.com/nkazure/azblobber/storage/common"
	"github.com/nkazure/azblobber/test"
)

// memBackend keeps blobs in memory and pages listings by pageSize entries.
type memBackend struct {
	mu         sync.Mutex
	pageSize   int
	containers map[string]map[string]memBlob
	listCalls  int
}

type memBlob struct {
	data        []byte
	contentType string
}

func newMemBackend(containers ...string) *memBackend {
	b := &memBackend{pageSize: 2, containers: map[string]map[string]memBlob{}}
	for _, c := range containers {
		b.containers[c] = map[string]memBlob{}
	}

	return b
}

func (b *memBackend) blobs(container string) (map[string]memBlob, error) {
	blobs, ok := b.containers[container]
	if !ok {
		return nil, common.NewError(common.ErrNotFound, "container", errors.New(container))
	}

	return blobs, nil
}

func (b *memBackend) Get(_ context.Context, container, name string, w io.Writer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	blobs, err := b.blobs(container)
	if err != nil {
		return err
	}

	blob, ok := blobs[name]
	if !ok {
		return common.NewError(common.ErrNotFound, "get", errors.New(name))
	}

	_, err = w.Write(blob.data)

	return err
}

func (b *memBackend) Put(_ context.Context, container, name string, data []byte, o common.PutOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	blobs, err := b.blobs(container)
	if err != nil {
		return err
	}

	if _, ok := blobs[name]; ok && !o.Overwrite {
		return common.NewError(common.ErrAlreadyExists, "put", errors.New(name))
	}

	blobs[name] = memBlob{data: append([]byte(nil), data...), contentType: o.ContentType}

	return nil
}

func (b *memBackend) Delete(_ context.Context, container, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	blobs, err := b.blobs(container)
	if err != nil {
		return err
	}

	if _, ok := blobs[name]; !ok {
		return common.NewError(common.ErrNotFound, "delete", errors.New(name))
	}

	delete(blobs, name)

	return nil
}

func (b *memBackend) Stat(_ context.Context, container, name string) (common.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	blobs, err := b.blobs(container)
	if err != nil {
		return common.BlobInfo{}, err
	}

	blob, ok := blobs[name]
	if !ok {
		return common.BlobInfo{}, common.NewError(common.ErrNotFound, "stat", errors.New(name))
	}

	return info(container, name, blob), nil
}

func info(container, name string, blob memBlob) common.BlobInfo {
	size := int64(len(blob.data))
	i := common.BlobInfo{Name: name, ContainerName: container, Size: &size}

	if blob.contentType != "" {
		ct := blob.contentType
		i.ContentType = &ct
	}

	return i
}

func (b *memBackend) List(_ context.Context, container, prefix, marker string) (common.BlobPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listCalls++

	blobs, err := b.blobs(container)
	if err != nil {
		return common.BlobPage{}, err
	}

	var names []string
	for name := range blobs {
		if strings.HasPrefix(name, prefix) && name >= marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var page common.BlobPage
	if len(names) > b.pageSize {
		page.NextMarker = names[b.pageSize]
		names = names[:b.pageSize]
	}

	for _, name := range names {
		page.Blobs = append(page.Blobs, info(container, name, blobs[name]))
	}

	return page, nil
}

func (b *memBackend) ListContainers(_ context.Context, marker string) (common.ContainerPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var names []string
	for name := range b.containers {
		if name >= marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var page common.ContainerPage
	if len(names) > b.pageSize {
		page.NextMarker = names[b.pageSize]
		names = names[:b.pageSize]
	}
	page.Names = names

	return page, nil
}

func (b *memBackend) CreateContainer(_ context.Context, container string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.containers[container]; !ok {
		b.containers[container] = map[string]memBlob{}
	}

	return nil
}

func (b *memBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.listCalls
}

func setup(t *testing.T, container string, containers ...string) (*ContainerClient, *memBackend) {
	t.Helper()

	b := newMemBackend(containers...)

	return NewWithBackend(log.NewNopLogger(), b, container), b
}

func names(t *testing.T, c *ContainerClient, opts ...CallOption) []string {
	t.Helper()

	out, err := Collect(c.ListBlobNames(context.Background(), opts...))
	test.Ok(t, err)

	return out
}

func TestRoundTrip(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	payload := []byte{0x00, 0xff, 0x10, 'a'}
	test.Ok(t, c.Write(ctx, "bin/data", payload))

	got, err := c.Read(ctx, "bin/data")
	test.Ok(t, err)
	test.Equals(t, payload, got)

	test.Ok(t, c.WriteString(ctx, "greeting.txt", "grüß dich"))

	text, err := c.ReadText(ctx, "greeting.txt")
	test.Ok(t, err)
	test.Equals(t, "grüß dich", text)
}

func TestExistenceLifecycle(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	ok, err := c.Exists(ctx, "n.txt")
	test.Ok(t, err)
	test.Assert(t, !ok, "expected blob to be absent before the write")

	test.Ok(t, c.WriteString(ctx, "n.txt", "x"))

	ok, err = c.Exists(ctx, "n.txt")
	test.Ok(t, err)
	test.Assert(t, ok, "expected blob to exist after the write")

	test.Ok(t, c.Delete(ctx, "n.txt"))

	ok, err = c.Exists(ctx, "n.txt")
	test.Ok(t, err)
	test.Assert(t, !ok, "expected blob to be absent after the delete")
}

func TestExistsMissingContainer(t *testing.T) {
	c, _ := setup(t, "missing-container")

	ok, err := c.Exists(context.Background(), "n.txt")
	test.Ok(t, err)
	test.Assert(t, !ok, "expected false for a blob in a missing container")

	c, _ = setup(t, "")

	_, err = c.Exists(context.Background(), "n.txt")
	test.ErrorIs(t, err, common.ErrConfig)
}

func TestListingConsistency(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	for _, n := range []string{"a", "b", "c"} {
		test.Ok(t, c.WriteString(ctx, n, n))
	}

	before := names(t, c)

	test.Ok(t, c.WriteString(ctx, "new", "x"))

	after := names(t, c)
	test.Equals(t, len(before)+1, len(after))
	test.Assert(t, contains(after, "new"), "expected new blob in %v", after)

	test.Ok(t, c.Delete(ctx, "new"))

	final := names(t, c)
	test.Equals(t, before, final)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

func TestNoOverwriteConflict(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	test.Ok(t, c.WriteString(ctx, "n", "p1", WithOverwrite(false)))

	err := c.WriteString(ctx, "n", "p2", WithOverwrite(false))
	test.ErrorIs(t, err, common.ErrAlreadyExists)

	got, err := c.ReadText(ctx, "n")
	test.Ok(t, err)
	test.Equals(t, "p1", got)
}

func TestUpdateAlwaysOverwrites(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	test.Ok(t, c.WriteString(ctx, "n", "old"))
	test.Ok(t, c.Update(ctx, "n", []byte("new"), WithOverwrite(false)))

	got, err := c.ReadText(ctx, "n")
	test.Ok(t, err)
	test.Equals(t, "new", got)
}

func TestDeleteMissing(t *testing.T) {
	c, _ := setup(t, "docs", "docs")

	err := c.Delete(context.Background(), "nothing")
	test.ErrorIs(t, err, common.ErrNotFound)
}

func TestReadMissing(t *testing.T) {
	c, _ := setup(t, "docs", "docs")

	_, err := c.Read(context.Background(), "nothing")
	test.ErrorIs(t, err, common.ErrNotFound)
}

func TestListFollowsContinuation(t *testing.T) {
	c, b := setup(t, "docs", "docs")
	ctx := context.Background()

	for _, n := range []string{"a/1", "a/2", "a/3", "a/4", "a/5", "b/1"} {
		test.Ok(t, c.WriteString(ctx, n, n))
	}

	seq := c.ListBlobNames(ctx, WithPrefix("a/"))

	got, err := Collect(seq)
	test.Ok(t, err)
	test.Equals(t, []string{"a/1", "a/2", "a/3", "a/4", "a/5"}, got)
	test.Equals(t, 3, b.calls())

	// Ranging again starts over.
	again, err := Collect(seq)
	test.Ok(t, err)
	test.Equals(t, got, again)
	test.Equals(t, 6, b.calls())
}

func TestListStopsEarly(t *testing.T) {
	c, b := setup(t, "docs", "docs")
	ctx := context.Background()

	for _, n := range []string{"1", "2", "3", "4", "5"} {
		test.Ok(t, c.WriteString(ctx, n, n))
	}

	for name, err := range c.ListBlobNames(ctx) {
		test.Ok(t, err)
		test.Equals(t, "1", name)

		break
	}

	test.Equals(t, 1, b.calls())
}

func TestListBlobInfo(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	test.Ok(t, c.WriteString(ctx, "a/b.txt", "hello", WithContentType("text/plain")))

	infos, err := Collect(c.ListBlobInfo(ctx))
	test.Ok(t, err)
	test.Equals(t, 1, len(infos))
	test.Equals(t, "a/b.txt", infos[0].Name)
	test.Equals(t, "docs", infos[0].ContainerName)
	test.Equals(t, int64(5), *infos[0].Size)
	test.Equals(t, "text/plain", *infos[0].ContentType)
	test.Assert(t, infos[0].ETag == nil, "expected absent etag to stay nil")
	test.Assert(t, infos[0].CreationTime == nil, "expected absent creation time to stay nil")
}

func TestContainerOverrideBecomesDefault(t *testing.T) {
	c, _ := setup(t, "docs", "docs", "logs")
	ctx := context.Background()

	test.Ok(t, c.WriteString(ctx, "x", "in logs", InContainer("logs")))
	test.Equals(t, "logs", c.DefaultContainer())

	got, err := c.ReadText(ctx, "x")
	test.Ok(t, err)
	test.Equals(t, "in logs", got)

	_, err = c.Read(ctx, "x", InContainer("docs"))
	test.ErrorIs(t, err, common.ErrNotFound)
	test.Equals(t, "docs", c.DefaultContainer())

	c.SetDefaultContainer("logs")
	test.Equals(t, []string{"x"}, names(t, c))
}

func TestMissingContainer(t *testing.T) {
	c, _ := setup(t, "", "docs")
	ctx := context.Background()

	_, err := c.Read(ctx, "x")
	test.ErrorIs(t, err, common.ErrConfig)

	err = c.WriteString(ctx, "x", "y")
	test.ErrorIs(t, err, common.ErrConfig)

	_, err = Collect(c.ListBlobNames(ctx))
	test.ErrorIs(t, err, common.ErrConfig)

	err = c.WriteString(ctx, "", "y", InContainer("docs"))
	test.ErrorIs(t, err, common.ErrConfig)
}

func TestListContainerNamesKeepsDefault(t *testing.T) {
	c, _ := setup(t, "docs", "docs", "logs", "media")

	got, err := Collect(c.ListContainerNames(context.Background()))
	test.Ok(t, err)
	test.Equals(t, []string{"docs", "logs", "media"}, got)
	test.Equals(t, "docs", c.DefaultContainer())
}

func TestCreateContainer(t *testing.T) {
	c, b := setup(t, "docs", "docs")
	ctx := context.Background()

	test.Ok(t, c.CreateContainer(ctx, "media"))
	test.Equals(t, "media", c.DefaultContainer())

	_, ok := b.containers["media"]
	test.Assert(t, ok, "expected container to be created")
}

func TestReadTextDecoding(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	test.Ok(t, c.Write(ctx, "bad", []byte{'o', 'k', 0xff, 0xfe}))

	_, err := c.ReadText(ctx, "bad")
	test.ErrorIs(t, err, common.ErrDecode)

	test.Ok(t, c.Write(ctx, "latin", []byte{'c', 'a', 'f', 0xe9}))

	got, err := c.ReadText(ctx, "latin", WithEncoding("latin1"))
	test.Ok(t, err)
	test.Equals(t, "café", got)

	_, err = c.ReadText(ctx, "latin", WithEncoding("no-such-encoding"))
	test.ErrorIs(t, err, common.ErrDecode)
}

func TestReadTextRejectsInvalidInput(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		encoding string
		data     []byte
	}{
		{name: "utf-16 odd length", encoding: "utf-16le", data: []byte{0x41}},
		{name: "utf-16 unpaired surrogate", encoding: "utf-16le", data: []byte{0x00, 0xd8, 0x41, 0x00}},
		{name: "shift_jis truncated", encoding: "shift_jis", data: []byte{0x81}},
		{name: "euc-jp invalid trail byte", encoding: "euc-jp", data: []byte{0x8e, 0x20}},
		{name: "ascii high byte", encoding: "ascii", data: []byte{0x80}},
		{name: "us-ascii high byte", encoding: "US-ASCII", data: []byte{'o', 'k', 0xe9}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.Ok(t, c.Write(ctx, "bad", tc.data))

			_, err := c.ReadText(ctx, "bad", WithEncoding(tc.encoding))
			test.ErrorIs(t, err, common.ErrDecode)
		})
	}
}

func TestReadTextValidInput(t *testing.T) {
	c, _ := setup(t, "docs", "docs")
	ctx := context.Background()

	for _, tc := range []struct {
		name     string
		encoding string
		data     []byte
		want     string
	}{
		{name: "ascii", encoding: "ascii", data: []byte("plain"), want: "plain"},
		{name: "utf-16", encoding: "utf-16le", data: []byte{0x68, 0x00, 0x69, 0x00}, want: "hi"},
		{name: "utf-16 replacement character", encoding: "utf-16le", data: []byte{0xfd, 0xff}, want: "\uFFFD"},
		{name: "shift_jis", encoding: "shift_jis", data: []byte{0x93, 0xfa, 0x96, 0x7b}, want: "日本"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.Ok(t, c.Write(ctx, "good", tc.data))

			got, err := c.ReadText(ctx, "good", WithEncoding(tc.encoding))
			test.Ok(t, err)
			test.Equals(t, tc.want, got)
		})
	}
}

func TestUploadFile(t *testing.T) {
	c, b := setup(t, "docs", "docs")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "settings.json")
	test.Ok(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))

	test.Ok(t, c.UploadFile(ctx, "conf/settings.json", path))

	got, err := c.Read(ctx, "conf/settings.json")
	test.Ok(t, err)
	test.Assert(t, bytes.Equal([]byte(`{"a":1}`), got), "unexpected content %q", got)
	test.Equals(t, "application/json", b.containers["docs"]["conf/settings.json"].contentType)

	test.Ok(t, c.UploadFile(ctx, "raw", path, WithContentType("application/x-custom")))
	test.Equals(t, "application/x-custom", b.containers["docs"]["raw"].contentType)

	err = c.UploadFile(ctx, "missing", filepath.Join(t.TempDir(), "missing.bin"))
	test.ErrorIs(t, err, common.ErrIO)
	test.ErrorIs(t, err, os.ErrNotExist)
}

func TestConcurrentOverrides(t *testing.T) {
	c, _ := setup(t, "docs", "docs", "logs")
	ctx := context.Background()

	errs := make([]error, 8)

	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			container := "docs"
			if i%2 == 1 {
				container = "logs"
			}

			errs[i] = c.WriteString(ctx, "n", container, InContainer(container))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		test.Ok(t, err)
	}

	for _, container := range []string{"docs", "logs"} {
		got, err := c.ReadText(ctx, "n", InContainer(container))
		test.Ok(t, err)
		test.Equals(t, container, got)
	}
}
