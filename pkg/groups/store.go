package groups

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store handles group persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new group store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGroup inserts a group. The name uniqueness check runs first so
// a duplicate surfaces as ErrDuplicateGroup rather than a constraint
// violation.
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM groups WHERE name = $1", group.Name,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check group name: %w", err)
	}
	if count > 0 {
		return ErrDuplicateGroup
	}

	now := time.Now()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, description, created_at, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`,
		group.Name, group.Description, now, group.CreatedBy,
	).Scan(&group.ID)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	group.CreatedAt = now
	return nil
}

// GetGroup retrieves a group by ID, member count included
func (s *Store) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	return s.getGroup(ctx, "g.id = $1", groupID)
}

// GetGroupByName retrieves a group by its name
func (s *Store) GetGroupByName(ctx context.Context, name string) (*Group, error) {
	return s.getGroup(ctx, "g.name = $1", name)
}

func (s *Store) getGroup(ctx context.Context, where string, arg interface{}) (*Group, error) {
	query := fmt.Sprintf(`
		SELECT g.id, g.name, g.description, g.created_at, g.created_by,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM groups g WHERE %s
	`, where)

	g, err := scanGroup(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func scanGroup(scanner interface{ Scan(...interface{}) error }) (*Group, error) {
	var g Group
	var description sql.NullString
	var createdBy sql.NullInt64

	err := scanner.Scan(&g.ID, &g.Name, &description, &g.CreatedAt, &createdBy, &g.MemberCount)
	if err != nil {
		return nil, err
	}

	g.Description = description.String
	if createdBy.Valid {
		id := createdBy.Int64
		g.CreatedBy = &id
	}
	return &g, nil
}

// ListGroups lists every group by name
func (s *Store) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.description, g.created_at, g.created_by,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM groups g ORDER BY g.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	result := make([]*Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return result, nil
}

// UpdateGroup changes a group's name and description
func (s *Store) UpdateGroup(ctx context.Context, groupID int64, name, description string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM groups WHERE name = $1 AND id != $2", name, groupID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check group name: %w", err)
	}
	if count > 0 {
		return ErrDuplicateGroup
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE groups SET name = $1, description = $2 WHERE id = $3",
		name, description, groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated groups: %w", err)
	}
	if affected == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// AddMember puts a user into a group
func (s *Store) AddMember(ctx context.Context, groupID, userID int64, addedBy *int64) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupID, userID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	if count > 0 {
		return ErrMemberExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, added_at, added_by)
		VALUES ($1, $2, $3, $4)
	`, groupID, userID, time.Now(), addedBy)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveMember takes a user out of a group. Returns false if the user
// was not a member.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = $1 AND user_id = $2",
		groupID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove group member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count removed members: %w", err)
	}
	return affected > 0, nil
}

// ListMembers lists a group's members by username
func (s *Store) ListMembers(ctx context.Context, groupID int64) ([]*Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, u.username, m.added_at, m.added_by
		FROM group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = $1
		ORDER BY u.username
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	result := make([]*Member, 0)
	for rows.Next() {
		var m Member
		var addedBy sql.NullInt64
		if err := rows.Scan(&m.UserID, &m.Username, &m.AddedAt, &addedBy); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		if addedBy.Valid {
			id := addedBy.Int64
			m.AddedBy = &id
		}
		result = append(result, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group members: %w", err)
	}
	return result, nil
}

// DeleteGroupRow removes the group row and its memberships
func (s *Store) DeleteGroupRow(ctx context.Context, groupID int64) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM group_members WHERE group_id = $1", groupID); err != nil {
		return fmt.Errorf("failed to delete group members: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM groups WHERE id = $1", groupID); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}
