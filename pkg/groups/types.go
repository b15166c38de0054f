package groups

import (
	"errors"
	"time"
)

var (
	// ErrGroupNotFound is returned when a group does not exist
	ErrGroupNotFound = errors.New("group not found")

	// ErrDuplicateGroup is returned when a group name is already in use
	ErrDuplicateGroup = errors.New("group name already in use")

	// ErrMemberExists is returned when a user is already in the group
	ErrMemberExists = errors.New("user is already a member of the group")
)

// Group is a named set of users that access rules can target
type Group struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
}

// Member is a user's membership in a group
type Member struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	AddedAt  time.Time `json:"added_at"`
	AddedBy  *int64    `json:"added_by,omitempty"`
}
