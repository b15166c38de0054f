// Package api exposes the file manager over HTTP. Authentication is
// delegated to the fronting proxy; handlers trust the X-User-ID header
// it injects and enforce per-resource permissions on top of it.
package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/files"
	"github.com/filedepot/filedepot/pkg/groups"
	"github.com/filedepot/filedepot/pkg/httputil"
	"github.com/filedepot/filedepot/pkg/observability"
	"github.com/filedepot/filedepot/pkg/versioning"
)

// Server is the HTTP API server
type Server struct {
	router *mux.Router

	access   *access.Service
	files    *files.Service
	versions *versioning.Manager
	groups   *groups.Service
	auditLog audit.Logger

	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates the API server and wires its routes
func NewServer(accessSvc *access.Service, filesSvc *files.Service, versions *versioning.Manager, groupsSvc *groups.Service, auditLog audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		access:   accessSvc,
		files:    filesSvc,
		versions: versions,
		groups:   groupsSvc,
		auditLog: auditLog,
		logger:   logger,
		metrics:  metrics,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Folder routes
	api.HandleFunc("/folders", s.createFolder).Methods("POST")
	api.HandleFunc("/folders/{id}", s.listFolder).Methods("GET")
	api.HandleFunc("/folders/{id}", s.renameFolder).Methods("PATCH")
	api.HandleFunc("/folders/{id}", s.deleteFolder).Methods("DELETE")
	api.HandleFunc("/folders/{id}/files", s.uploadFile).Methods("POST")

	// File routes
	api.HandleFunc("/files/{id}", s.getFile).Methods("GET")
	api.HandleFunc("/files/{id}", s.renameFile).Methods("PATCH")
	api.HandleFunc("/files/{id}", s.deleteFile).Methods("DELETE")
	api.HandleFunc("/files/{id}/content", s.downloadFile).Methods("GET")
	api.HandleFunc("/files/{id}/move", s.moveFile).Methods("POST")
	api.HandleFunc("/files/{id}/edit-link", s.editLink).Methods("GET")

	// Trash routes
	api.HandleFunc("/files/{id}/trash", s.trashFile).Methods("POST")
	api.HandleFunc("/files/{id}/restore", s.restoreFromTrash).Methods("POST")
	api.HandleFunc("/trash", s.listTrash).Methods("GET")

	// Version routes
	api.HandleFunc("/files/{id}/versions", s.listVersions).Methods("GET")
	api.HandleFunc("/files/{id}/versions/{versionId}/content", s.downloadVersion).Methods("GET")
	api.HandleFunc("/files/{id}/versions/{versionId}/restore", s.restoreVersion).Methods("POST")

	// Access routes
	api.HandleFunc("/access/effective", s.effectiveAccess).Methods("GET")
	api.HandleFunc("/access/rules", s.grantRule).Methods("POST")
	api.HandleFunc("/access/rules/{id}", s.revokeRule).Methods("DELETE")
	api.HandleFunc("/files/{id}/access", s.fileAccess).Methods("GET")
	api.HandleFunc("/folders/{id}/access", s.folderAccess).Methods("GET")

	// Group routes
	api.HandleFunc("/groups", s.createGroup).Methods("POST")
	api.HandleFunc("/groups", s.listGroups).Methods("GET")
	api.HandleFunc("/groups/{id}", s.getGroup).Methods("GET")
	api.HandleFunc("/groups/{id}", s.updateGroup).Methods("PUT")
	api.HandleFunc("/groups/{id}", s.deleteGroup).Methods("DELETE")
	api.HandleFunc("/groups/{id}/members", s.listGroupMembers).Methods("GET")
	api.HandleFunc("/groups/{id}/members", s.addGroupMember).Methods("POST")
	api.HandleFunc("/groups/{id}/members/{userId}", s.removeGroupMember).Methods("DELETE")
	api.HandleFunc("/groups/{id}/default-access", s.setGroupDefault).Methods("PUT")
	api.HandleFunc("/groups/{id}/permissions", s.groupRules).Methods("GET")

	// Audit routes
	api.HandleFunc("/audit", s.queryAudit).Methods("GET")
}

// Handler returns the server's HTTP handler with the standard
// middleware chain applied
func (s *Server) Handler() http.Handler {
	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		// Upload limit plus headroom for the multipart framing
		httputil.MaxBytesMiddleware(maxUploadBytes+1<<20),
	)
	return chain(s.router)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// actingUser extracts the authenticated user injected by the fronting
// proxy. Returns false after writing a 401 when the header is missing
// or malformed.
func (s *Server) actingUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "missing X-User-ID header")
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid X-User-ID header")
		return 0, false
	}
	return userID, true
}

// requireAccess checks that the user holds the required permissions on
// the resource. Returns false after writing a 403 (or 500) when not.
func (s *Server) requireAccess(w http.ResponseWriter, r *http.Request, userID int64, kind access.ResourceKind, resourceID int64, required access.AccessType) bool {
	allowed, err := s.access.Check(r.Context(), userID, resourceID, kind, required)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return false
	}
	if !allowed {
		httputil.WriteForbidden(w, "insufficient permissions")
		return false
	}
	return true
}
