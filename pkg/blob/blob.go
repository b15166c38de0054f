// Package blob abstracts the remote content store holding live file bytes
// and immutable version archives.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Store is the remote blob storage consumed by the file and version
// services. Live file content and archived version snapshots both live
// behind this interface, under different key prefixes.
type Store interface {
	// Upload stores content at path, overwriting any existing object.
	Upload(ctx context.Context, path string, content io.Reader, contentType string) error

	// Download returns a reader over the object at path.
	// Returns ErrNotFound if the object does not exist.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, path string) error

	// Copy duplicates an object server-side without round-tripping the
	// bytes. Used to snapshot live content into the archive.
	Copy(ctx context.Context, src, dst string) error

	// CreateFolder creates a folder marker at path.
	CreateFolder(ctx context.Context, path string) error

	// EditLink returns a time-limited URL granting direct access to the
	// object at path.
	EditLink(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Stat returns the size and last-modified time of the object at path.
	// Returns ErrNotFound if the object does not exist.
	Stat(ctx context.Context, path string) (size int64, modified time.Time, err error)
}
