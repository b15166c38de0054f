package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/httputil"
	"github.com/filedepot/filedepot/pkg/versioning"
)

func writeVersionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, versioning.ErrFileNotFound), errors.Is(err, versioning.ErrVersionNotFound):
		httputil.WriteNotFound(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessRead) {
		return
	}

	versions, err := s.versions.GetFileVersions(r.Context(), fileID)
	if err != nil {
		writeVersionError(w, err)
		return
	}
	httputil.WriteSuccess(w, versions)
}

// versionForFile loads a version and checks it belongs to the file
// named in the path, so a caller cannot reach another file's history
// through a guessed version id.
func (s *Server) versionForFile(w http.ResponseWriter, r *http.Request, fileID int64) (*versioning.Version, bool) {
	versionID, ok := httputil.ParsePathInt64OrError(w, r, "versionId")
	if !ok {
		return nil, false
	}
	version, err := s.versions.GetVersion(r.Context(), versionID)
	if err != nil {
		writeVersionError(w, err)
		return nil, false
	}
	if version.FileID != fileID {
		httputil.WriteNotFound(w, versioning.ErrVersionNotFound.Error())
		return nil, false
	}
	return version, true
}

func (s *Server) downloadVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessRead) {
		return
	}
	version, ok := s.versionForFile(w, r, fileID)
	if !ok {
		return
	}

	content, err := s.versions.GetVersionContent(r.Context(), version.ID)
	if err != nil {
		writeVersionError(w, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", version.SizeBytes))
	if _, err := io.Copy(w, content); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("version_id", version.ID).Warn("version download interrupted")
	}
}

func (s *Server) restoreVersion(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessRestore) {
		return
	}
	version, ok := s.versionForFile(w, r, fileID)
	if !ok {
		return
	}

	if !s.versions.RestoreVersion(r.Context(), fileID, version.ID, userID) {
		httputil.WriteConflict(w, "version could not be restored")
		return
	}
	httputil.WriteNoContent(w)
}
