// Package azuretest provides in-process fakes of the Azure Blob REST service and of an
// OAuth2 identity provider for tests.
package azuretest

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Blob is a stored blob.
type Blob struct {
	Data         []byte
	ContentType  string
	ETag         string
	CreationTime time.Time
	LastModified time.Time
}

// BlobService is a TLS server speaking the subset of the Blob REST API used by azblob:
// put, get, head and delete blob, create container, and flat listings of blobs and containers.
type BlobService struct {
	*httptest.Server

	mu         sync.Mutex
	pageSize   int
	token      string
	containers map[string]map[string]*Blob
	requests   []string
	etag       int
	now        func() time.Time
}

// NewBlobService starts a BlobService with the given containers. It is closed with the test.
func NewBlobService(t testing.TB, containers ...string) *BlobService {
	t.Helper()

	s := &BlobService{
		containers: map[string]map[string]*Blob{},
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
	for _, c := range containers {
		s.containers[c] = map[string]*Blob{}
	}

	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)

	return s
}

// AccountURL is the service endpoint to configure clients with.
func (s *BlobService) AccountURL() string {
	return s.URL + "/"
}

// SetPageSize caps every listing page, so tests exercise continuation markers.
func (s *BlobService) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pageSize = n
}

// SetToken makes token the only accepted bearer token.
func (s *BlobService) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// Requests returns "METHOD /path" for every request received so far.
func (s *BlobService) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.requests...)
}

// Blob returns a copy of the named blob.
func (s *BlobService) Blob(container, name string) (Blob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.containers[container][name]
	if !ok {
		return Blob{}, false
	}

	return *b, true
}

// PutBlob stores a blob directly, bypassing HTTP.
func (s *BlobService) PutBlob(container, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.containers[container]; !ok {
		s.containers[container] = map[string]*Blob{}
	}

	s.store(container, name, data, "")
}

func (s *BlobService) store(container, name string, data []byte, contentType string) *Blob {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.etag++
	now := s.now()

	b := &Blob{
		Data:         append([]byte(nil), data...),
		ContentType:  contentType,
		ETag:         fmt.Sprintf("\"0x%X\"", s.etag),
		CreationTime: now,
		LastModified: now,
	}
	if prev, ok := s.containers[container][name]; ok {
		b.CreationTime = prev.CreationTime
	}

	s.containers[container][name] = b

	return b
}

func (s *BlobService) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, r.Method+" "+r.URL.Path)

	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "InvalidAuthenticationInfo")
		return
	}

	container, name, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	q := r.URL.Query()

	switch {
	case container == "" && q.Get("comp") == "list":
		s.listContainers(w, r)
	case name == "" && q.Get("restype") == "container" && q.Get("comp") == "list":
		s.listBlobs(w, r, container)
	case name == "" && q.Get("restype") == "container" && r.Method == http.MethodPut:
		s.createContainer(w, container)
	case name != "":
		s.serveBlob(w, r, container, name)
	default:
		writeError(w, http.StatusBadRequest, "UnsupportedQueryParameter")
	}
}

func (s *BlobService) authorized(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || tok == "" {
		return false
	}

	return s.token == "" || tok == s.token
}

func (s *BlobService) serveBlob(w http.ResponseWriter, r *http.Request, container, name string) {
	blobs, ok := s.containers[container]
	if !ok {
		writeError(w, http.StatusNotFound, "ContainerNotFound")
		return
	}

	b, exists := blobs[name]

	switch r.Method {
	case http.MethodPut:
		if r.Header.Get("If-None-Match") == "*" && exists {
			writeError(w, http.StatusConflict, "BlobAlreadyExists")
			return
		}

		data, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput")
			return
		}

		b = s.store(container, name, data, r.Header.Get("x-ms-blob-content-type"))
		w.Header().Set("ETag", b.ETag)
		w.Header().Set("Last-Modified", b.LastModified.Format(http.TimeFormat))
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet, http.MethodHead:
		if !exists {
			writeError(w, http.StatusNotFound, "BlobNotFound")
			return
		}

		h := w.Header()
		h.Set("Content-Length", strconv.Itoa(len(b.Data)))
		h.Set("Content-Type", b.ContentType)
		h.Set("ETag", b.ETag)
		h.Set("Last-Modified", b.LastModified.Format(http.TimeFormat))
		h.Set("x-ms-creation-time", b.CreationTime.Format(http.TimeFormat))
		h.Set("x-ms-blob-type", "BlockBlob")
		w.WriteHeader(http.StatusOK)

		if r.Method == http.MethodGet {
			_, _ = w.Write(b.Data)
		}
	case http.MethodDelete:
		if !exists {
			writeError(w, http.StatusNotFound, "BlobNotFound")
			return
		}

		delete(blobs, name)
		w.WriteHeader(http.StatusAccepted)
	default:
		writeError(w, http.StatusMethodNotAllowed, "UnsupportedHttpVerb")
	}
}

func (s *BlobService) createContainer(w http.ResponseWriter, container string) {
	if _, ok := s.containers[container]; ok {
		writeError(w, http.StatusConflict, "ContainerAlreadyExists")
		return
	}

	s.containers[container] = map[string]*Blob{}
	w.Header().Set("ETag", "\"0x1\"")
	w.Header().Set("Last-Modified", s.now().Format(http.TimeFormat))
	w.WriteHeader(http.StatusCreated)
}

type blobList struct {
	XMLName         xml.Name   `xml:"EnumerationResults"`
	ServiceEndpoint string     `xml:"ServiceEndpoint,attr"`
	ContainerName   string     `xml:"ContainerName,attr"`
	Prefix          string     `xml:"Prefix,omitempty"`
	Marker          string     `xml:"Marker,omitempty"`
	Blobs           []blobItem `xml:"Blobs>Blob"`
	NextMarker      string     `xml:"NextMarker"`
}

type blobItem struct {
	Name       string         `xml:"Name"`
	Properties blobProperties `xml:"Properties"`
}

type blobProperties struct {
	CreationTime  string `xml:"Creation-Time"`
	LastModified  string `xml:"Last-Modified"`
	ETag          string `xml:"Etag"`
	ContentLength int    `xml:"Content-Length"`
	ContentType   string `xml:"Content-Type"`
	BlobType      string `xml:"BlobType"`
}

func (s *BlobService) listBlobs(w http.ResponseWriter, r *http.Request, container string) {
	blobs, ok := s.containers[container]
	if !ok {
		writeError(w, http.StatusNotFound, "ContainerNotFound")
		return
	}

	q := r.URL.Query()
	prefix, marker := q.Get("prefix"), q.Get("marker")

	var names []string
	for name := range blobs {
		if strings.HasPrefix(name, prefix) && name >= marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	names, next := s.page(names, q.Get("maxresults"))

	resp := blobList{
		ServiceEndpoint: s.AccountURL(),
		ContainerName:   container,
		Prefix:          prefix,
		Marker:          marker,
		NextMarker:      next,
	}
	for _, name := range names {
		b := blobs[name]
		resp.Blobs = append(resp.Blobs, blobItem{
			Name: name,
			Properties: blobProperties{
				CreationTime:  b.CreationTime.Format(http.TimeFormat),
				LastModified:  b.LastModified.Format(http.TimeFormat),
				ETag:          b.ETag,
				ContentLength: len(b.Data),
				ContentType:   b.ContentType,
				BlobType:      "BlockBlob",
			},
		})
	}

	writeXML(w, resp)
}

type containerList struct {
	XMLName         xml.Name        `xml:"EnumerationResults"`
	ServiceEndpoint string          `xml:"ServiceEndpoint,attr"`
	Containers      []containerItem `xml:"Containers>Container"`
	NextMarker      string          `xml:"NextMarker"`
}

type containerItem struct {
	Name       string              `xml:"Name"`
	Properties containerProperties `xml:"Properties"`
}

type containerProperties struct {
	LastModified string `xml:"Last-Modified"`
	ETag         string `xml:"Etag"`
}

func (s *BlobService) listContainers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefix, marker := q.Get("prefix"), q.Get("marker")

	var names []string
	for name := range s.containers {
		if strings.HasPrefix(name, prefix) && name >= marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	names, next := s.page(names, q.Get("maxresults"))

	resp := containerList{ServiceEndpoint: s.AccountURL(), NextMarker: next}
	for _, name := range names {
		resp.Containers = append(resp.Containers, containerItem{
			Name: name,
			Properties: containerProperties{
				LastModified: s.now().Format(http.TimeFormat),
				ETag:         "\"0x1\"",
			},
		})
	}

	writeXML(w, resp)
}

// page cuts sorted names to the effective page size. The marker of the next page is the
// first name left out.
func (s *BlobService) page(names []string, maxResults string) ([]string, string) {
	size := s.pageSize
	if n, err := strconv.Atoi(maxResults); err == nil && n > 0 && (size == 0 || n < size) {
		size = n
	}

	if size == 0 || len(names) <= size {
		return names, ""
	}

	return names[:size], names[size]
}

func writeXML(w http.ResponseWriter, v any) {
	out, err := xml.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "InternalError")
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, xml.Header)
	_, _ = w.Write(out)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("x-ms-error-code", code)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, http.StatusText(status))
}
