package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/groups"
	"github.com/filedepot/filedepot/pkg/versioning"
)

func TestAPI_RequiresAuthentication(t *testing.T) {
	env := newAPIEnv(t)

	// No header at all
	rec := env.request(t, 0, http.MethodGet, "/api/v1/trash", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Header present but not a valid user id
	rec = env.request(t, -1, http.MethodGet, "/api/v1/trash", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_UploadAndDownload(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")

	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello world")

	rec := env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d", fileID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var file files.File
	decodeJSON(t, rec, &file)
	assert.Equal(t, "notes.txt", file.Name)
	assert.Equal(t, int64(len("hello world")), file.SizeBytes)

	rec = env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "notes.txt")
}

func TestAPI_ForbiddenWithoutGrant(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	stranger := env.createUser(t, "bob")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "secret")

	rec := env.request(t, stranger, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, stranger, http.MethodPatch, fmt.Sprintf("/api/v1/files/%d", fileID),
		map[string]string{"name": "stolen.txt"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_InheritedReadIsNotWrite(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	reader := env.createUser(t, "bob")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	env.grant(t, &access.Rule{
		FolderID:          &folderID,
		UserID:            &reader,
		Access:            access.AccessRead,
		InheritFromParent: true,
	})

	rec := env.request(t, reader, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, reader, http.MethodPatch, fmt.Sprintf("/api/v1/files/%d", fileID),
		map[string]string{"name": "renamed.txt"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, reader, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/trash", fileID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_TrashFlow(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	rec := env.request(t, owner, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/trash", fileID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Trashed files drop out of the live namespace
	rec = env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d", fileID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, owner, http.MethodGet, "/api/v1/trash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trashed []*files.File
	decodeJSON(t, rec, &trashed)
	require.Len(t, trashed, 1)
	assert.Equal(t, fileID, trashed[0].ID)

	rec = env.request(t, owner, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/restore", fileID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestAPI_PermanentDelete(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	rec := env.request(t, owner, http.MethodPost, fmt.Sprintf("/api/v1/files/%d/trash", fileID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, owner, http.MethodDelete, fmt.Sprintf("/api/v1/files/%d", fileID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.request(t, owner, http.MethodGet, "/api/v1/trash", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trashed []*files.File
	decodeJSON(t, rec, &trashed)
	assert.Empty(t, trashed)
}

func TestAPI_VersionLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")

	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "first draft")
	sameID := env.uploadFile(t, owner, folderID, "notes.txt", "second draft")
	require.Equal(t, fileID, sameID)

	rec := env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/versions", fileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []*versioning.Version
	decodeJSON(t, rec, &versions)
	require.Len(t, versions, 2)

	var oldVersion, current *versioning.Version
	for _, v := range versions {
		if v.IsCurrentVersion {
			current = v
		} else {
			oldVersion = v
		}
	}
	require.NotNil(t, oldVersion)
	require.NotNil(t, current)
	assert.Equal(t, 2, current.VersionNumber)

	rec = env.request(t, owner, http.MethodGet,
		fmt.Sprintf("/api/v1/files/%d/versions/%d/content", fileID, oldVersion.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first draft", rec.Body.String())

	rec = env.request(t, owner, http.MethodPost,
		fmt.Sprintf("/api/v1/files/%d/versions/%d/restore", fileID, oldVersion.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first draft", rec.Body.String())
}

func TestAPI_VersionOfAnotherFileIsHidden(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")

	fileID := env.uploadFile(t, owner, folderID, "a.txt", "aaa")
	otherID := env.uploadFile(t, owner, folderID, "b.txt", "bbb")

	rec := env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/versions", otherID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []*versioning.Version
	decodeJSON(t, rec, &versions)
	require.Len(t, versions, 1)

	// Reaching b's version through a's path must 404
	rec = env.request(t, owner, http.MethodGet,
		fmt.Sprintf("/api/v1/files/%d/versions/%d/content", fileID, versions[0].ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_GrantAndRevokeRules(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	reader := env.createUser(t, "bob")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	rec := env.request(t, reader, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Owner holds manage through the folder grant and can share
	rec = env.request(t, owner, http.MethodPost, "/api/v1/access/rules", map[string]interface{}{
		"file_id": fileID,
		"user_id": reader,
		"access":  "read",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var rule access.Rule
	decodeJSON(t, rec, &rule)
	require.NotZero(t, rule.ID)

	rec = env.request(t, reader, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Readers cannot grant
	rec = env.request(t, reader, http.MethodPost, "/api/v1/access/rules", map[string]interface{}{
		"file_id": fileID,
		"user_id": reader,
		"access":  "full_access",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, owner, http.MethodDelete, fmt.Sprintf("/api/v1/access/rules/%d", rule.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, owner, http.MethodDelete, fmt.Sprintf("/api/v1/access/rules/%d", rule.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.request(t, reader, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPI_GrantValidation(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	// Both a file and a folder target
	rec := env.request(t, owner, http.MethodPost, "/api/v1/access/rules", map[string]interface{}{
		"file_id":   fileID,
		"folder_id": folderID,
		"user_id":   owner,
		"access":    "read",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No principal
	rec = env.request(t, owner, http.MethodPost, "/api/v1/access/rules", map[string]interface{}{
		"file_id": fileID,
		"access":  "read",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown access flag
	rec = env.request(t, owner, http.MethodPost, "/api/v1/access/rules", map[string]interface{}{
		"file_id": fileID,
		"user_id": owner,
		"access":  "superuser",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_EffectiveAccessQuery(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	reader := env.createUser(t, "bob")
	folderID := env.createFolder(t, owner, "docs")
	fileID := env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	env.grant(t, &access.Rule{FileID: &fileID, UserID: &reader, Access: access.AccessRead})

	// Self-query needs no extra rights
	rec := env.request(t, reader, http.MethodGet, fmt.Sprintf("/api/v1/access/effective?file_id=%d", fileID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		UserID int64  `json:"user_id"`
		Flags  string `json:"flags"`
	}
	decodeJSON(t, rec, &resp)
	assert.Equal(t, reader, resp.UserID)
	assert.Equal(t, "read", resp.Flags)

	// Querying someone else requires manage on the resource
	rec = env.request(t, reader, http.MethodGet,
		fmt.Sprintf("/api/v1/access/effective?file_id=%d&user_id=%d", fileID, owner), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, owner, http.MethodGet,
		fmt.Sprintf("/api/v1/access/effective?file_id=%d&user_id=%d", fileID, reader), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &resp)
	assert.Equal(t, reader, resp.UserID)

	rec = env.request(t, owner, http.MethodGet, "/api/v1/access/effective", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_GroupLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	admin := env.createUser(t, "alice")
	member := env.createUser(t, "bob")

	rec := env.request(t, admin, http.MethodPost, "/api/v1/groups",
		map[string]string{"name": "editors", "description": "can edit docs"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var group groups.Group
	decodeJSON(t, rec, &group)
	require.NotZero(t, group.ID)

	rec = env.request(t, admin, http.MethodPost, "/api/v1/groups",
		map[string]string{"name": "editors"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, admin, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/members", group.ID),
		map[string]int64{"user_id": member})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.request(t, admin, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/members", group.ID),
		map[string]int64{"user_id": member})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.request(t, admin, http.MethodGet, fmt.Sprintf("/api/v1/groups/%d/members", group.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var members []*groups.Member
	decodeJSON(t, rec, &members)
	require.Len(t, members, 1)
	assert.Equal(t, "bob", members[0].Username)

	rec = env.request(t, admin, http.MethodDelete,
		fmt.Sprintf("/api/v1/groups/%d/members/%d", group.ID, member), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, admin, http.MethodDelete,
		fmt.Sprintf("/api/v1/groups/%d/members/%d", group.ID, member), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_GroupDefaultAccess(t *testing.T) {
	env := newAPIEnv(t)
	admin := env.createUser(t, "alice")
	member := env.createUser(t, "bob")
	folderID := env.createFolder(t, admin, "docs")
	fileID := env.uploadFile(t, admin, folderID, "notes.txt", "hello")

	rec := env.request(t, admin, http.MethodPost, "/api/v1/groups", map[string]string{"name": "staff"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var group groups.Group
	decodeJSON(t, rec, &group)

	rec = env.request(t, admin, http.MethodPost, fmt.Sprintf("/api/v1/groups/%d/members", group.ID),
		map[string]int64{"user_id": member})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.request(t, member, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, admin, http.MethodPut, fmt.Sprintf("/api/v1/groups/%d/default-access", group.ID),
		map[string]string{"access": "read"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The sitewide default is listed on the group but takes no part in
	// per-resource resolution
	rec = env.request(t, member, http.MethodGet, fmt.Sprintf("/api/v1/groups/%d/permissions", group.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []access.Rule
	decodeJSON(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Nil(t, listed[0].FileID)
	assert.Nil(t, listed[0].FolderID)
	assert.Equal(t, access.AccessRead, listed[0].Access)

	rec = env.request(t, member, http.MethodGet, fmt.Sprintf("/api/v1/files/%d/content", fileID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Setting the default again updates the same rule in place
	rec = env.request(t, admin, http.MethodPut, fmt.Sprintf("/api/v1/groups/%d/default-access", group.ID),
		map[string]string{"access": "read|write"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated access.Rule
	decodeJSON(t, rec, &updated)
	assert.Equal(t, access.AccessRead|access.AccessWrite, updated.Access)

	rec = env.request(t, member, http.MethodGet, fmt.Sprintf("/api/v1/groups/%d/permissions", group.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed = nil
	decodeJSON(t, rec, &listed)
	require.Len(t, listed, 1)
}

func TestAPI_FolderListingAndRename(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")
	env.uploadFile(t, owner, folderID, "a.txt", "aaa")

	rec := env.request(t, owner, http.MethodPost, "/api/v1/folders",
		map[string]interface{}{"name": "sub", "parent_folder_id": folderID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.request(t, owner, http.MethodGet, fmt.Sprintf("/api/v1/folders/%d", folderID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing folderListing
	decodeJSON(t, rec, &listing)
	assert.Equal(t, "docs", listing.Folder.Name)
	require.Len(t, listing.Folders, 1)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "sub", listing.Folders[0].Name)

	rec = env.request(t, owner, http.MethodPatch, fmt.Sprintf("/api/v1/folders/%d", folderID),
		map[string]string{"name": "documents"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// A folder with contents cannot be deleted
	rec = env.request(t, owner, http.MethodDelete, fmt.Sprintf("/api/v1/folders/%d", folderID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_AuditQuery(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.createUser(t, "alice")
	folderID := env.createFolder(t, owner, "docs")
	env.uploadFile(t, owner, folderID, "notes.txt", "hello")

	rec := env.request(t, owner, http.MethodGet, "/api/v1/audit?action=file.upload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []*audit.Entry
	decodeJSON(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionFileUpload, entries[0].Action)
	assert.Equal(t, "notes.txt", entries[0].TargetName)

	rec = env.request(t, owner, http.MethodGet, "/api/v1/audit?start=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
