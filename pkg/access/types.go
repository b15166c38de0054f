package access

import (
	"fmt"
	"strings"
	"time"
)

// AccessType is a bitmask of permission flags
type AccessType uint32

const (
	AccessNone    AccessType = 0
	AccessRead    AccessType = 1
	AccessWrite   AccessType = 2
	AccessDelete  AccessType = 4
	AccessManage  AccessType = 8
	AccessRestore AccessType = 16

	AccessFull = AccessRead | AccessWrite | AccessDelete | AccessManage | AccessRestore
)

// Union combines two bitmasks
func (a AccessType) Union(other AccessType) AccessType {
	return a | other
}

// Has reports whether all flags in required are present
func (a AccessType) Has(required AccessType) bool {
	return a&required == required
}

// IsNone reports whether no flags are set
func (a AccessType) IsNone() bool {
	return a == AccessNone
}

var accessFlagNames = []struct {
	flag AccessType
	name string
}{
	{AccessRead, "read"},
	{AccessWrite, "write"},
	{AccessDelete, "delete"},
	{AccessManage, "manage_access"},
	{AccessRestore, "restore"},
}

func (a AccessType) String() string {
	if a == AccessNone {
		return "none"
	}
	if a.Has(AccessFull) {
		return "full_access"
	}
	var names []string
	for _, f := range accessFlagNames {
		if a.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseAccessType parses a pipe-separated flag list as produced by
// String
func ParseAccessType(s string) (AccessType, error) {
	switch s {
	case "", "none":
		return AccessNone, nil
	case "full_access":
		return AccessFull, nil
	}

	var result AccessType
	for _, part := range strings.Split(s, "|") {
		matched := false
		for _, f := range accessFlagNames {
			if f.name == part {
				result = result.Union(f.flag)
				matched = true
				break
			}
		}
		if !matched {
			return AccessNone, fmt.Errorf("unknown access flag: %q", part)
		}
	}
	return result, nil
}

// ResourceKind identifies what kind of resource an access check
// targets
type ResourceKind string

const (
	KindFile   ResourceKind = "file"
	KindFolder ResourceKind = "folder"
)

// Rule is a persisted access rule. It targets exactly one file or
// folder (or neither, for a group's sitewide default) and names
// exactly one principal, a user or a group.
type Rule struct {
	ID       int64  `json:"id"`
	FileID   *int64 `json:"file_id,omitempty"`
	FolderID *int64 `json:"folder_id,omitempty"`
	UserID   *int64 `json:"user_id,omitempty"`
	GroupID  *int64 `json:"group_id,omitempty"`

	Access            AccessType `json:"access"`
	InheritFromParent bool       `json:"inherit_from_parent"`

	GrantedBy *int64    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidationError describes a malformed grant request
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid access rule: " + e.Reason
}

// Validate checks the single-target and single-principal invariants
// for an explicit grant
func (r *Rule) Validate() error {
	if err := r.validatePrincipal(); err != nil {
		return err
	}
	if r.FileID != nil && r.FolderID != nil {
		return &ValidationError{Reason: "rule targets both a file and a folder"}
	}
	if r.FileID == nil && r.FolderID == nil {
		return &ValidationError{Reason: "rule targets neither a file nor a folder"}
	}
	return nil
}

// ValidateGlobal checks a group's sitewide default rule, which has no
// target
func (r *Rule) ValidateGlobal() error {
	if r.GroupID == nil {
		return &ValidationError{Reason: "global rule requires a group"}
	}
	if r.UserID != nil {
		return &ValidationError{Reason: "global rule cannot name a user"}
	}
	if r.FileID != nil || r.FolderID != nil {
		return &ValidationError{Reason: "global rule cannot target a file or folder"}
	}
	return nil
}

func (r *Rule) validatePrincipal() error {
	if r.UserID != nil && r.GroupID != nil {
		return &ValidationError{Reason: "rule names both a user and a group"}
	}
	if r.UserID == nil && r.GroupID == nil {
		return &ValidationError{Reason: "rule names neither a user nor a group"}
	}
	return nil
}
