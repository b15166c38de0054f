package versioning

import (
	"errors"
	"time"
)

var (
	// ErrFileNotFound means the named file does not exist or is in
	// the trash
	ErrFileNotFound = errors.New("versioning: file not found")

	// ErrVersionNotFound means the named version does not exist
	ErrVersionNotFound = errors.New("versioning: version not found")
)

// Version is an immutable snapshot of a file's content
type Version struct {
	ID               int64     `json:"id"`
	FileID           int64     `json:"file_id"`
	VersionNumber    int       `json:"version_number"`
	IsCurrentVersion bool      `json:"is_current_version"`
	ArchivePath      string    `json:"archive_path"`
	SizeBytes        int64     `json:"size_bytes"`
	Comment          string    `json:"comment,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        *int64    `json:"created_by,omitempty"`
}

// fileRecord is the slice of the files table the version manager
// needs
type fileRecord struct {
	ID          int64
	Name        string
	FolderID    int64
	StoragePath string
	ContentType string
	SizeBytes   int64
	CreatedBy   *int64
}
