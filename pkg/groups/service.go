package groups

import (
	"context"
	"fmt"

	"github.com/filedepot/filedepot/pkg/access"
	"github.com/filedepot/filedepot/pkg/audit"
	"github.com/filedepot/filedepot/pkg/observability"
)

// Service implements group management. Deleting a group explicitly
// cascades to its memberships and the access rules naming it.
type Service struct {
	store  *Store
	rules  *access.Store
	sink   *audit.Sink
	logger *observability.Logger
}

// NewService creates a group service
func NewService(store *Store, rules *access.Store, sink *audit.Sink, logger *observability.Logger) *Service {
	return &Service{store: store, rules: rules, sink: sink, logger: logger}
}

// Create makes a new group
func (s *Service) Create(ctx context.Context, name, description string, userID int64) (*Group, error) {
	group := &Group{Name: name, Description: description, CreatedBy: &userID}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}

	s.sink.RecordFileAction(ctx, audit.ActionGroupCreate, &userID, audit.TargetTypeGroup, group.ID, group.Name, true)
	return group, nil
}

// Get returns a group by ID
func (s *Service) Get(ctx context.Context, groupID int64) (*Group, error) {
	return s.store.GetGroup(ctx, groupID)
}

// List returns every group
func (s *Service) List(ctx context.Context) ([]*Group, error) {
	return s.store.ListGroups(ctx)
}

// Update changes a group's name and description
func (s *Service) Update(ctx context.Context, groupID int64, name, description string) error {
	return s.store.UpdateGroup(ctx, groupID, name, description)
}

// Delete removes a group, its memberships, and every access rule that
// names it, global defaults included
func (s *Service) Delete(ctx context.Context, groupID int64, userID int64) error {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	removed, err := s.rules.DeleteRulesForGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to delete the group's access rules: %w", err)
	}
	if removed > 0 && s.logger != nil {
		s.logger.WithFields(map[string]interface{}{
			"group_id":      groupID,
			"rules_removed": removed,
		}).Info("cascaded group deletion to access rules")
	}

	if err := s.store.DeleteGroupRow(ctx, groupID); err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionGroupDelete, &userID, audit.TargetTypeGroup, groupID, group.Name, true)
	return nil
}

// AddMember puts a user into a group
func (s *Service) AddMember(ctx context.Context, groupID, memberID int64, userID int64) error {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if err := s.store.AddMember(ctx, groupID, memberID, &userID); err != nil {
		return err
	}

	s.sink.RecordFileAction(ctx, audit.ActionGroupMemberAdd, &userID, audit.TargetTypeGroup, groupID,
		fmt.Sprintf("user %d", memberID), true)
	return nil
}

// RemoveMember takes a user out of a group. Returns false if the user
// was not a member.
func (s *Service) RemoveMember(ctx context.Context, groupID, memberID int64, userID int64) (bool, error) {
	removed, err := s.store.RemoveMember(ctx, groupID, memberID)
	if err != nil || !removed {
		return removed, err
	}

	s.sink.RecordFileAction(ctx, audit.ActionGroupMemberRemove, &userID, audit.TargetTypeGroup, groupID,
		fmt.Sprintf("user %d", memberID), true)
	return true, nil
}

// Members lists a group's members
func (s *Service) Members(ctx context.Context, groupID int64) ([]*Member, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, groupID)
}
