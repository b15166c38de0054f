package access

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store handles access rule persistence. It also resolves the folder
// parent chain directly so the walk does not depend on the file
// service.
type Store struct {
	db *sql.DB
}

// NewStore creates a new access rule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRule persists a rule and fills in its ID
func (s *Store) CreateRule(ctx context.Context, rule *Rule) error {
	query := `
		INSERT INTO access_rules (file_id, folder_id, user_id, group_id, access, inherit_from_parent, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	now := time.Now()
	err := s.db.QueryRowContext(ctx, query,
		rule.FileID,
		rule.FolderID,
		rule.UserID,
		rule.GroupID,
		int64(rule.Access),
		rule.InheritFromParent,
		rule.GrantedBy,
		now,
	).Scan(&rule.ID)

	if err != nil {
		return fmt.Errorf("failed to create access rule: %w", err)
	}

	rule.CreatedAt = now
	return nil
}

const ruleColumns = "id, file_id, folder_id, user_id, group_id, access, inherit_from_parent, granted_by, created_at"

func scanRule(scanner interface{ Scan(...interface{}) error }) (*Rule, error) {
	var rule Rule
	var fileID, folderID, userID, groupID, grantedBy sql.NullInt64
	var access int64

	err := scanner.Scan(
		&rule.ID,
		&fileID,
		&folderID,
		&userID,
		&groupID,
		&access,
		&rule.InheritFromParent,
		&grantedBy,
		&rule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Access = AccessType(access)
	if fileID.Valid {
		id := fileID.Int64
		rule.FileID = &id
	}
	if folderID.Valid {
		id := folderID.Int64
		rule.FolderID = &id
	}
	if userID.Valid {
		id := userID.Int64
		rule.UserID = &id
	}
	if groupID.Valid {
		id := groupID.Int64
		rule.GroupID = &id
	}
	if grantedBy.Valid {
		id := grantedBy.Int64
		rule.GrantedBy = &id
	}

	return &rule, nil
}

// GetRule retrieves a rule by ID, returning nil when absent
func (s *Store) GetRule(ctx context.Context, ruleID int64) (*Rule, error) {
	query := fmt.Sprintf("SELECT %s FROM access_rules WHERE id = $1", ruleColumns)

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, ruleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule by ID and reports whether it existed
func (s *Store) DeleteRule(ctx context.Context, ruleID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_rules WHERE id = $1", ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete access rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count deleted rules: %w", err)
	}
	return affected > 0, nil
}

// PrincipalAccess unions the access of every rule on the given target
// whose principal is the user or one of the groups. When
// inheritedOnly is set, only rules flagged inherit_from_parent are
// considered.
func (s *Store) PrincipalAccess(ctx context.Context, kind ResourceKind, resourceID int64, userID int64, groupIDs []int64, inheritedOnly bool) (AccessType, error) {
	targetColumn := "folder_id"
	if kind == KindFile {
		targetColumn = "file_id"
	}

	query := fmt.Sprintf("SELECT access FROM access_rules WHERE %s = $1", targetColumn)
	args := []interface{}{resourceID}
	argCount := 2

	// user_id = $2 OR group_id IN ($3, ...)
	principal := fmt.Sprintf("user_id = $%d", argCount)
	args = append(args, userID)
	argCount++
	if len(groupIDs) > 0 {
		placeholders := make([]string, len(groupIDs))
		for i, gid := range groupIDs {
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, gid)
			argCount++
		}
		principal += fmt.Sprintf(" OR group_id IN (%s)", strings.Join(placeholders, ", "))
	}
	query += " AND (" + principal + ")"

	if inheritedOnly {
		query += " AND inherit_from_parent = TRUE"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return AccessNone, fmt.Errorf("failed to query access rules: %w", err)
	}
	defer rows.Close()

	result := AccessNone
	for rows.Next() {
		var access int64
		if err := rows.Scan(&access); err != nil {
			return AccessNone, fmt.Errorf("failed to scan access: %w", err)
		}
		result = result.Union(AccessType(access))
	}
	if err := rows.Err(); err != nil {
		return AccessNone, fmt.Errorf("error iterating access rules: %w", err)
	}

	return result, nil
}

// RulesForTarget lists every rule on a file or folder
func (s *Store) RulesForTarget(ctx context.Context, kind ResourceKind, resourceID int64) ([]*Rule, error) {
	targetColumn := "folder_id"
	if kind == KindFile {
		targetColumn = "file_id"
	}

	query := fmt.Sprintf("SELECT %s FROM access_rules WHERE %s = $1 ORDER BY id", ruleColumns, targetColumn)
	return s.queryRules(ctx, query, resourceID)
}

// RulesForUser lists every rule naming the user directly
func (s *Store) RulesForUser(ctx context.Context, userID int64) ([]*Rule, error) {
	query := fmt.Sprintf("SELECT %s FROM access_rules WHERE user_id = $1 ORDER BY id", ruleColumns)
	return s.queryRules(ctx, query, userID)
}

// RulesForGroup lists every rule naming the group, including its
// global default rule
func (s *Store) RulesForGroup(ctx context.Context, groupID int64) ([]*Rule, error) {
	query := fmt.Sprintf("SELECT %s FROM access_rules WHERE group_id = $1 ORDER BY id", ruleColumns)
	return s.queryRules(ctx, query, groupID)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...interface{}) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access rules: %w", err)
	}
	defer rows.Close()

	rules := make([]*Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access rules: %w", err)
	}
	return rules, nil
}

// GetGlobalGroupRule returns the group's sitewide default rule, nil
// when the group has none
func (s *Store) GetGlobalGroupRule(ctx context.Context, groupID int64) (*Rule, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM access_rules
		WHERE group_id = $1 AND file_id IS NULL AND folder_id IS NULL
		LIMIT 1
	`, ruleColumns)

	rule, err := scanRule(s.db.QueryRowContext(ctx, query, groupID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global group rule: %w", err)
	}
	return rule, nil
}

// UpdateRuleAccess replaces a rule's bitmask in place. Only the group
// default upsert path mutates rules.
func (s *Store) UpdateRuleAccess(ctx context.Context, ruleID int64, accessValue AccessType) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE access_rules SET access = $1 WHERE id = $2",
		int64(accessValue), ruleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update access rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rules: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("access rule not found: %d", ruleID)
	}
	return nil
}

// UserGroupIDs resolves the user's group memberships
func (s *Store) UserGroupIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id FROM group_members WHERE user_id = $1", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group memberships: %w", err)
	}
	defer rows.Close()

	var groupIDs []int64
	for rows.Next() {
		var gid int64
		if err := rows.Scan(&gid); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		groupIDs = append(groupIDs, gid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group memberships: %w", err)
	}
	return groupIDs, nil
}

// FileFolderID returns the containing folder of a file. Trashed files
// keep their rules until permanently deleted, so they resolve like
// live ones.
func (s *Store) FileFolderID(ctx context.Context, fileID int64) (int64, error) {
	var folderID int64
	err := s.db.QueryRowContext(ctx,
		"SELECT folder_id FROM files WHERE id = $1", fileID,
	).Scan(&folderID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("file not found: %d", fileID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get file folder: %w", err)
	}
	return folderID, nil
}

// ParentFolderID returns the parent of a folder, nil for roots
func (s *Store) ParentFolderID(ctx context.Context, folderID int64) (*int64, error) {
	var parent sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT parent_folder_id FROM folders WHERE id = $1", folderID,
	).Scan(&parent)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("folder not found: %d", folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get parent folder: %w", err)
	}
	if !parent.Valid {
		return nil, nil
	}
	id := parent.Int64
	return &id, nil
}

// DeleteRulesForFile removes every rule targeting the file (cascade
// from file deletion)
func (s *Store) DeleteRulesForFile(ctx context.Context, fileID int64) (int64, error) {
	return s.deleteRulesWhere(ctx, "file_id = $1", fileID)
}

// DeleteRulesForFolder removes every rule targeting the folder
func (s *Store) DeleteRulesForFolder(ctx context.Context, folderID int64) (int64, error) {
	return s.deleteRulesWhere(ctx, "folder_id = $1", folderID)
}

// DeleteRulesForGroup removes every rule naming the group
func (s *Store) DeleteRulesForGroup(ctx context.Context, groupID int64) (int64, error) {
	return s.deleteRulesWhere(ctx, "group_id = $1", groupID)
}

// DeleteRulesForUser removes every rule naming the user
func (s *Store) DeleteRulesForUser(ctx context.Context, userID int64) (int64, error) {
	return s.deleteRulesWhere(ctx, "user_id = $1", userID)
}

func (s *Store) deleteRulesWhere(ctx context.Context, condition string, arg interface{}) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_rules WHERE "+condition, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to delete access rules: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rules: %w", err)
	}
	return affected, nil
}
