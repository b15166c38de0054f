package api

import (
	"errors"
	"net/http"

	"github.com/filedepot/filedepot/pkg/groups"
	"github.com/filedepot/filedepot/pkg/httputil"
)

func writeGroupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, groups.ErrGroupNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, groups.ErrDuplicateGroup), errors.Is(err, groups.ErrMemberExists):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

type groupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}

	var req groupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "group name is required")
		return
	}

	group, err := s.groups.Create(r.Context(), req.Name, req.Description, userID)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteCreated(w, group)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}

	list, err := s.groups.List(r.Context())
	if err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	group, err := s.groups.Get(r.Context(), groupID)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req groupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "group name is required")
		return
	}

	if err := s.groups.Update(r.Context(), groupID, req.Name, req.Description); err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.groups.Delete(r.Context(), groupID, userID); err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	members, err := s.groups.Members(r.Context(), groupID)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

type memberRequest struct {
	UserID int64 `json:"user_id"`
}

func (s *Server) addGroupMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := s.groups.AddMember(r.Context(), groupID, req.UserID, userID); err != nil {
		writeGroupError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actingUser(w, r)
	if !ok {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	memberID, ok := httputil.ParsePathInt64OrError(w, r, "userId")
	if !ok {
		return
	}

	removed, err := s.groups.RemoveMember(r.Context(), groupID, memberID, userID)
	if err != nil {
		writeGroupError(w, err)
		return
	}
	if !removed {
		httputil.WriteNotFound(w, "user is not a member of the group")
		return
	}
	httputil.WriteNoContent(w)
}
