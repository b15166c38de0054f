package audit

import (
	"encoding/json"
	"time"
)

// Action represents the category of audited operation
type Action string

const (
	// Access rule events
	ActionAccessGranted Action = "access.granted"
	ActionAccessRevoked Action = "access.revoked"
	ActionAccessDenied  Action = "access.denied"

	// File events
	ActionFileUpload  Action = "file.upload"
	ActionFileEdit    Action = "file.edit"
	ActionFileRename  Action = "file.rename"
	ActionFileMove    Action = "file.move"
	ActionFileTrash   Action = "file.trash"
	ActionFileUntrash Action = "file.untrash"
	ActionFileRestore Action = "file.restore"
	ActionFileDelete  Action = "file.delete"

	// Folder events
	ActionFolderCreate Action = "folder.create"
	ActionFolderRename Action = "folder.rename"
	ActionFolderDelete Action = "folder.delete"

	// Version events
	ActionVersionCreate  Action = "version.create"
	ActionVersionRestore Action = "version.restore"
	ActionVersionPrune   Action = "version.prune"

	// Group events
	ActionGroupCreate       Action = "group.create"
	ActionGroupDelete       Action = "group.delete"
	ActionGroupMemberAdd    Action = "group.member_add"
	ActionGroupMemberRemove Action = "group.member_remove"

	// Maintenance events
	ActionTrashExpired Action = "trash.expired"
	ActionAuditPurged  Action = "audit.purged"
)

// TargetType identifies what kind of object an entry refers to
type TargetType string

const (
	TargetTypeFile    TargetType = "file"
	TargetTypeFolder  TargetType = "folder"
	TargetTypeGroup   TargetType = "group"
	TargetTypeVersion TargetType = "version"
	TargetTypeUser    TargetType = "user"
)

// Entry is a single audit log record
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	Success   bool      `json:"success"`

	// Actor
	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	// Target
	TargetType TargetType `json:"target_type,omitempty"`
	TargetID   *int64     `json:"target_id,omitempty"`
	TargetName string     `json:"target_name,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// ErrorMessage carries the failure reason when Success is false
	ErrorMessage string `json:"error_message,omitempty"`
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an entry from JSON
func FromJSON(data []byte) (*Entry, error) {
	var entry Entry
	err := json.Unmarshal(data, &entry)
	return &entry, err
}

// MaxQueryResults caps any single audit query. Callers page with
// Offset when they need more.
const MaxQueryResults = 1000

// QueryFilter narrows an audit query. Zero-valued fields are ignored.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID     *int64
	Action     Action
	TargetType TargetType
	TargetID   *int64
	Success    *bool

	Limit  int
	Offset int
}
