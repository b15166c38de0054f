package files

import (
	"errors"
	"time"
)

var (
	// ErrFileNotFound means the file does not exist (or is in the
	// trash, for operations that require a live file)
	ErrFileNotFound = errors.New("files: file not found")

	// ErrFolderNotFound means the folder does not exist
	ErrFolderNotFound = errors.New("files: folder not found")

	// ErrDuplicateName means the target folder already holds an entry
	// with that name
	ErrDuplicateName = errors.New("files: name already exists in folder")

	// ErrFolderNotEmpty blocks deletion of a folder that still holds
	// files or subfolders
	ErrFolderNotEmpty = errors.New("files: folder is not empty")

	// ErrQuotaExceeded means the upload would push the owner past
	// their storage quota
	ErrQuotaExceeded = errors.New("files: storage quota exceeded")
)

// File is a managed file. Trash is a soft-delete flag plus timestamp;
// trashed files keep their rows and versions until expiry.
type File struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	FolderID         int64      `json:"folder_id"`
	StoragePath      string     `json:"storage_path"`
	ContentType      string     `json:"content_type,omitempty"`
	SizeBytes        int64      `json:"size_bytes"`
	CurrentVersionID *int64     `json:"current_version_id,omitempty"`
	IsDeleted        bool       `json:"is_deleted"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CreatedBy        *int64     `json:"created_by,omitempty"`
}

// Folder is a tree node. Root folders have no parent. Cycles are
// impossible by construction: folders are only created under an
// existing parent or as roots.
type Folder struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	ParentFolderID *int64    `json:"parent_folder_id,omitempty"`
	StoragePath    string    `json:"storage_path"`
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      *int64    `json:"created_by,omitempty"`
}
