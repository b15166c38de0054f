package api

import (
	"errors"
	"net/http"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/httputil"
)

func writeAccessError(w http.ResponseWriter, err error) {
	var verr *access.ValidationError
	if errors.As(err, &verr) {
		httputil.WriteBadRequest(w, verr.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}

// effectiveAccess resolves the permission bitmask a user holds on a
// file or folder. Callers may always query themselves; querying
// another user requires manage rights on the resource.
func (s *Server) effectiveAccess(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actingUser(w, r)
	if !ok {
		return
	}

	subjectID, err := httputil.ParseQueryInt64(r, "user_id", actorID)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	fileID, err := httputil.ParseQueryInt64(r, "file_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	folderID, err := httputil.ParseQueryInt64(r, "folder_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var kind access.ResourceKind
	var resourceID int64
	switch {
	case fileID != 0 && folderID != 0:
		httputil.WriteBadRequest(w, "specify file_id or folder_id, not both")
		return
	case fileID != 0:
		kind, resourceID = access.KindFile, fileID
	case folderID != 0:
		kind, resourceID = access.KindFolder, folderID
	default:
		httputil.WriteBadRequest(w, "file_id or folder_id is required")
		return
	}

	if subjectID != actorID {
		if !s.requireAccess(w, r, actorID, kind, resourceID, access.AccessManage) {
			return
		}
	}

	effective, err := s.access.EffectiveAccess(r.Context(), subjectID, resourceID, kind)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id": subjectID,
		"access":  effective,
		"flags":   effective.String(),
	})
}

type grantRequest struct {
	FileID            *int64 `json:"file_id,omitempty"`
	FolderID          *int64 `json:"folder_id,omitempty"`
	UserID            *int64 `json:"user_id,omitempty"`
	GroupID           *int64 `json:"group_id,omitempty"`
	Access            string `json:"access"`
	InheritFromParent bool   `json:"inherit_from_parent"`
}

func (s *Server) grantRule(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actingUser(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	accessValue, err := access.ParseAccessType(req.Access)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	rule := &access.Rule{
		FileID:            req.FileID,
		FolderID:          req.FolderID,
		UserID:            req.UserID,
		GroupID:           req.GroupID,
		Access:            accessValue,
		InheritFromParent: req.InheritFromParent,
	}
	if err := rule.Validate(); err != nil {
		writeAccessError(w, err)
		return
	}

	if rule.FileID != nil {
		if !s.requireAccess(w, r, actorID, access.KindFile, *rule.FileID, access.AccessManage) {
			return
		}
	} else {
		if !s.requireAccess(w, r, actorID, access.KindFolder, *rule.FolderID, access.AccessManage) {
			return
		}
	}

	if err := s.access.Grant(r.Context(), rule, actorID); err != nil {
		writeAccessError(w, err)
		return
	}
	httputil.WriteCreated(w, rule)
}

func (s *Server) revokeRule(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	ruleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	revoked, err := s.access.Revoke(r.Context(), ruleID, actorID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if !revoked {
		httputil.WriteNotFound(w, "access rule not found")
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) fileAccess(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	fileID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, actorID, access.KindFile, fileID, access.AccessManage) {
		return
	}

	rules, err := s.access.FileAccess(r.Context(), fileID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	httputil.WriteSuccess(w, rules)
}

func (s *Server) folderAccess(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	folderID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if !s.requireAccess(w, r, actorID, access.KindFolder, folderID, access.AccessManage) {
		return
	}

	rules, err := s.access.FolderAccess(r.Context(), folderID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	httputil.WriteSuccess(w, rules)
}

type setGroupDefaultRequest struct {
	Access string `json:"access"`
}

func (s *Server) setGroupDefault(w http.ResponseWriter, r *http.Request) {
	actorID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req setGroupDefaultRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	accessValue, err := access.ParseAccessType(req.Access)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	rule, err := s.access.SetGroupDefault(r.Context(), groupID, accessValue, actorID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	httputil.WriteSuccess(w, rule)
}

// groupRules lists every rule naming a group, including its sitewide
// default. This is the only place the default surfaces; it never
// participates in per-resource resolution.
func (s *Server) groupRules(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	rules, err := s.access.GroupRules(r.Context(), groupID)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	httputil.WriteSuccess(w, rules)
}
