package api

import (
	"net/http"
	"strconv"

	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/httputil"
)

// queryAudit searches the audit trail. Every filter is optional;
// results come back newest first.
func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actingUser(w, r); !ok {
		return
	}

	var filter audit.QueryFilter
	var err error

	if filter.StartTime, err = httputil.ParseQueryTime(r, "start"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if v, qerr := httputil.ParseQueryInt64(r, "user_id", 0); qerr != nil {
		httputil.WriteBadRequest(w, qerr.Error())
		return
	} else if v != 0 {
		filter.UserID = &v
	}
	if v, qerr := httputil.ParseQueryInt64(r, "target_id", 0); qerr != nil {
		httputil.WriteBadRequest(w, qerr.Error())
		return
	} else if v != 0 {
		filter.TargetID = &v
	}

	filter.Action = audit.Action(r.URL.Query().Get("action"))
	filter.TargetType = audit.TargetType(r.URL.Query().Get("target_type"))

	if raw := r.URL.Query().Get("success"); raw != "" {
		success, perr := strconv.ParseBool(raw)
		if perr != nil {
			httputil.WriteBadRequest(w, "invalid boolean for query param success: "+raw)
			return
		}
		filter.Success = &success
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 100); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := s.auditLog.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, entries)
}
