// Package objectstore defines the object-storage primitives the filesystem layer is
// built on: containers, prefix/delimiter listings, chunked uploads, ranged reads,
// server-side copy and large-object manifests. Storage adapters implement Backend
// and Store; none of their SDK error types cross this boundary.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
)

const (
	// DirectoryContentType marks a zero-length object as a synthetic directory.
	DirectoryContentType = "application/directory"

	// DefaultContentType is used when no type can be guessed from the name.
	DefaultContentType = "application/octet-stream"

	// ListLimit is the page size of object listings.
	ListLimit = 10000

	// Delimiter separates synthetic directories within a key.
	Delimiter = "/"

	// TimeLayout formats ObjectInfo.LastModified.
	TimeLayout = "2006-01-02T15:04:05.000000"

	// ManifestMetadata is the metadata key adapters without native large-object
	// support use to mark a manifest.
	ManifestMetadata = "object-manifest"
)

// Credentials is the per-login connection state: where the account lives and the
// token that authorises requests against it.
type Credentials struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

// ContainerInfo describes a top-level container.
type ContainerInfo struct {
	Name  string
	Count int64
	Bytes int64
}

// ObjectInfo describes one listing entry or the result of a HEAD request.
type ObjectInfo struct {
	Name         string
	Bytes        int64
	ContentType  string
	LastModified string // ISO-8601 without zone, optional fractional seconds
	Hash         string

	// SubDir is set for delimiter roll-ups; Name then ends with the delimiter.
	SubDir bool

	// Manifest is the "container/prefix" a large object is assembled from. Only
	// HeadObject and headed listing entries fill it in.
	Manifest string

	// Headed marks a listing entry whose metadata already came from a HEAD
	// request: Bytes and Hash describe the assembled object and Manifest is
	// authoritative, so it needs no further probe.
	Headed bool
}

// ListOptions narrows an object listing.
type ListOptions struct {
	Prefix    string
	Delimiter string
	Marker    string
	Limit     int
}

// ObjectWriter is a length-unknown upload. Close finalises the object.
type ObjectWriter interface {
	io.WriteCloser
}

// Store is an authenticated connection to one object-storage account.
type Store interface {
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	HeadContainer(ctx context.Context, container string) (ContainerInfo, error)
	CreateContainer(ctx context.Context, container string) error
	DeleteContainer(ctx context.Context, container string) error

	// ListObjects returns at most opts.Limit entries sorted by name, starting
	// after opts.Marker.
	ListObjects(ctx context.Context, container string, opts ListOptions) ([]ObjectInfo, error)
	HeadObject(ctx context.Context, container, key string) (ObjectInfo, error)
	// GetObject streams the object starting at byte offset.
	GetObject(ctx context.Context, container, key string, offset int64) (io.ReadCloser, error)
	CreateObject(ctx context.Context, container, key, contentType string) (ObjectWriter, error)
	CopyObject(ctx context.Context, srcContainer, srcKey, dstContainer, dstKey string) error
	// PutManifest writes an empty object whose content is the concatenation of
	// every object in segmentContainer whose name starts with segmentPrefix.
	PutManifest(ctx context.Context, container, key, segmentContainer, segmentPrefix string) error
	DeleteObject(ctx context.Context, container, key string) error
}

// Backend authenticates users and opens stores for them.
type Backend interface {
	Name() string
	// AuthEndpoint identifies the account namespace; it is part of every cache key.
	AuthEndpoint() string
	Authenticate(ctx context.Context, user, secret string) (Credentials, error)
	// Connect opens a store with previously obtained credentials.
	Connect(ctx context.Context, user, secret string, creds Credentials) (Store, error)
}

// StatusError is the normalised failure every adapter returns: the HTTP status the
// store answered with and its reason.
type StatusError struct {
	Status int
	Reason string
}

// NewStatusError builds a StatusError.
func NewStatusError(status int, format string, args ...interface{}) *StatusError {
	return &StatusError{Status: status, Reason: fmt.Sprintf(format, args...)}
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Reason)
}

// HTTPStatus returns the status code.
func (e *StatusError) HTTPStatus() int { return e.Status }

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// ContentTypeFor guesses a content type from the object name.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// SegmentPrefix is the key prefix under which the parts of a split upload live.
func SegmentPrefix(key string) string {
	return key + ".part/"
}

// SegmentName names part index of a split upload.
func SegmentName(key string, index int) string {
	return fmt.Sprintf("%s%06d", SegmentPrefix(key), index)
}
