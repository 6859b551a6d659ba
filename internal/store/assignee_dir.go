package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sanonone/lacuna/pkg/overview"
)

// LookupCanonical implements overview.AssigneeDirectory over the assignees
// table. Patterns carry '%' wildcards; SQLite LIKE is already
// case-insensitive for ASCII, which covers the canonicalized uppercase
// forms the matcher sends.
func (s *Store) LookupCanonical(ctx context.Context, patterns []string, limit int) ([]overview.AssigneeRecord, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	where, args := likeClause("name", patterns)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM assignees WHERE `+where+` ORDER BY name, id LIMIT ?`, args...)
	if err != nil {
		return nil, classify("assignee lookup", err)
	}
	defer rows.Close()
	return scanAssigneeRecords(rows)
}

// LookupAliases matches the patterns against known aliases and returns the
// canonical record each alias points at.
func (s *Store) LookupAliases(ctx context.Context, patterns []string, limit int) ([]overview.AssigneeRecord, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	where, args := likeClause("al.alias", patterns)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.id, a.name FROM assignee_aliases al
		 JOIN assignees a ON a.id = al.assignee_id
		 WHERE `+where+` ORDER BY a.name, a.id LIMIT ?`, args...)
	if err != nil {
		return nil, classify("assignee alias lookup", err)
	}
	defer rows.Close()
	return scanAssigneeRecords(rows)
}

func likeClause(column string, patterns []string) (string, []any) {
	parts := make([]string, len(patterns))
	args := make([]any, len(patterns))
	for i, p := range patterns {
		parts[i] = column + " LIKE ?"
		args[i] = p
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

func scanAssigneeRecords(rows *sql.Rows) ([]overview.AssigneeRecord, error) {
	var out []overview.AssigneeRecord
	for rows.Next() {
		var rec overview.AssigneeRecord
		if err := rows.Scan(&rec.ID, &rec.Label); err != nil {
			return nil, classify("scan assignee", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("assignee lookup", err)
	}
	return out, nil
}
