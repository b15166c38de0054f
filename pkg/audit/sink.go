package audit

import (
	"context"
	"fmt"
	"strconv"

	"github.com/filedepot/filedepot/pkg/async"
	"github.com/filedepot/filedepot/pkg/httputil"
	"github.com/filedepot/filedepot/pkg/observability"
)

// Sink is the write side used by the business services. It records
// entries on a best-effort basis: a failing backend is logged to the
// operational logger and counted, but never surfaces an error to the
// caller.
type Sink struct {
	logger  Logger
	opLog   *observability.Logger
	metrics *observability.Metrics
}

// NewSink wraps a backend logger for best-effort recording. metrics
// may be nil.
func NewSink(logger Logger, opLog *observability.Logger, metrics *observability.Metrics) *Sink {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Sink{logger: logger, opLog: opLog, metrics: metrics}
}

// Record writes the entry, swallowing backend failures. The write is
// detached from the request context so that a cancelled request does
// not lose its trail.
func (s *Sink) Record(ctx context.Context, entry *Entry) {
	if entry.IPAddress == "" {
		entry.IPAddress = httputil.CallerIP(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = httputil.RequestID(ctx)
	}

	err := s.logger.Log(async.Detach(ctx), entry)

	if s.metrics != nil {
		s.metrics.AuditEventsTotal.WithLabelValues(string(entry.Action), strconv.FormatBool(entry.Success)).Inc()
		if err != nil {
			s.metrics.AuditWriteFailures.Inc()
		}
	}

	if err != nil && s.opLog != nil {
		s.opLog.WithError(err).
			WithField("action", string(entry.Action)).
			Error("audit write failed")
	}
}

// RecordAccessChange records a grant or revoke of an access rule
func (s *Sink) RecordAccessChange(ctx context.Context, action Action, userID *int64, targetType TargetType, targetID int64, message string) {
	entry := newEntry(action, userID, true)
	entry.TargetType = targetType
	entry.TargetID = &targetID
	entry.Message = message
	s.Record(ctx, entry)
}

// RecordFileAction records an operation on a managed object: a file,
// a folder, or a group
func (s *Sink) RecordFileAction(ctx context.Context, action Action, userID *int64, targetType TargetType, targetID int64, targetName string, success bool) {
	entry := newEntry(action, userID, success)
	entry.TargetType = targetType
	entry.TargetID = &targetID
	entry.TargetName = targetName
	s.Record(ctx, entry)
}

// RecordVersionAction records a version lifecycle event
func (s *Sink) RecordVersionAction(ctx context.Context, action Action, userID *int64, fileID int64, versionNumber int, success bool) {
	entry := newEntry(action, userID, success)
	entry.TargetType = TargetTypeFile
	entry.TargetID = &fileID
	entry.Metadata["version_number"] = versionNumber
	s.Record(ctx, entry)
}

// RecordVersionFailure records a failed version lifecycle event,
// carrying the reason so the trail explains what went wrong
func (s *Sink) RecordVersionFailure(ctx context.Context, action Action, userID *int64, fileID int64, opErr error) {
	entry := newEntry(action, userID, false)
	entry.TargetType = TargetTypeFile
	entry.TargetID = &fileID
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	s.Record(ctx, entry)
}

// RecordMaintenance records a background maintenance event with a
// count of affected objects
func (s *Sink) RecordMaintenance(ctx context.Context, action Action, affected int64, message string) {
	entry := newEntry(action, nil, true)
	entry.Message = message
	entry.Metadata["affected"] = affected
	s.Record(ctx, entry)
}

// RecordDenied records a permission denial
func (s *Sink) RecordDenied(ctx context.Context, userID *int64, targetType TargetType, targetID int64, reason string) {
	entry := newEntry(ActionAccessDenied, userID, false)
	entry.TargetType = targetType
	entry.TargetID = &targetID
	entry.Message = fmt.Sprintf("access denied: %s", reason)
	entry.ErrorMessage = reason
	s.Record(ctx, entry)
}
