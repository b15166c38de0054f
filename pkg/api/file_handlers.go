package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/httputil"
)

const maxUploadBytes = 1 << 30 // 1 GiB

// writeFileError maps the file service's sentinel errors onto HTTP
// statuses
func writeFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, files.ErrFileNotFound), errors.Is(err, files.ErrFolderNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, files.ErrDuplicateName), errors.Is(err, files.ErrFolderNotEmpty):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, files.ErrQuotaExceeded):
		httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

type createFolderRequest struct {
	Name           string `json:"name"`
	ParentFolderID *int64 `json:"parent_folder_id,omitempty"`
}

func (s *Server) createFolder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}

	var req createFolderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "folder name is required")
		return
	}

	if req.ParentFolderID != nil {
		if !s.requireAccess(w, r, userID, access.KindFolder, *req.ParentFolderID, access.AccessWrite) {
			return
		}
	}

	folder, err := s.files.CreateFolder(r.Context(), req.ParentFolderID, req.Name, userID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteCreated(w, folder)
}

type folderListing struct {
	Folder  *files.Folder   `json:"folder"`
	Folders []*files.Folder `json:"folders"`
	Files   []*files.File   `json:"files"`
}

func (s *Server) listFolder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	folderID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFolder, folderID, access.AccessRead) {
		return
	}

	folder, err := s.files.GetFolder(r.Context(), folderID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	subfolders, fs, err := s.files.ListFolder(r.Context(), folderID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteSuccess(w, folderListing{Folder: folder, Folders: subfolders, Files: fs})
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) renameFolder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	folderID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req renameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "folder name is required")
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFolder, folderID, access.AccessWrite) {
		return
	}

	if err := s.files.RenameFolder(r.Context(), folderID, req.Name, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	folderID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFolder, folderID, access.AccessDelete) {
		return
	}

	if err := s.files.DeleteFolder(r.Context(), folderID, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	folderID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFolder, folderID, access.AccessWrite) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.WriteBadRequest(w, "expected multipart form upload")
		return
	}
	part, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "missing file field")
		return
	}
	defer part.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	if name == "" {
		httputil.WriteBadRequest(w, "file name is required")
		return
	}
	contentType := header.Header.Get("Content-Type")

	file, err := s.files.Upload(r.Context(), folderID, name, part, contentType, userID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteCreated(w, file)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
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

	file, err := s.files.GetFile(r.Context(), fileID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteSuccess(w, file)
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
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

	file, content, err := s.files.Download(r.Context(), fileID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	defer content.Close()

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", file.SizeBytes))
	if _, err := io.Copy(w, content); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("file_id", fileID).Warn("download interrupted")
	}
}

func (s *Server) renameFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req renameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "file name is required")
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessWrite) {
		return
	}

	if err := s.files.RenameFile(r.Context(), fileID, req.Name, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type moveRequest struct {
	TargetFolderID int64 `json:"target_folder_id"`
}

func (s *Server) moveFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req moveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessWrite) {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFolder, req.TargetFolderID, access.AccessWrite) {
		return
	}

	if err := s.files.MoveFile(r.Context(), fileID, req.TargetFolderID, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) editLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessWrite) {
		return
	}

	link, err := s.files.EditLink(r.Context(), fileID)
	if err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"url": link})
}

func (s *Server) trashFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessDelete) {
		return
	}

	if err := s.files.Trash(r.Context(), fileID, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) restoreFromTrash(w http.ResponseWriter, r *http.Request) {
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

	if err := s.files.RestoreFromTrash(r.Context(), fileID, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, userID, access.KindFile, fileID, access.AccessDelete) {
		return
	}

	if err := s.files.DeleteForever(r.Context(), fileID, userID); err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listTrash(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}

	trashed, err := s.files.ListTrash(r.Context())
	if err != nil {
		writeFileError(w, err)
		return
	}
	httputil.WriteSuccess(w, trashed)
}
