package storage

import (
	"context"
	"database/sql"
	"fmt"

	"kitty/internal/core"
)

// CreateGroup inserts a group, generating an ID when absent.
func (r *SQLiteRepository) CreateGroup(ctx context.Context, g *core.Group) error {
	if g.ID == "" {
		g.ID = newID()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO groups (id, name, creator_id, created_at) VALUES (?, ?, ?, ?)",
		g.ID, g.Name, g.CreatorID, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (r *SQLiteRepository) GetGroup(ctx context.Context, groupID string) (*core.Group, error) {
	g := &core.Group{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, creator_id FROM groups WHERE id = ?",
		groupID,
	).Scan(&g.ID, &g.Name, &g.CreatorID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

// UpsertUser inserts a user or refreshes name/email for an existing ID.
func (r *SQLiteRepository) UpsertUser(ctx context.Context, u *core.User) error {
	if u.ID == "" {
		u.ID = newID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		u.ID, u.Name, u.Email, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// AddGroupMember idempotently connects a user to a group.
func (r *SQLiteRepository) AddGroupMember(ctx context.Context, groupID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES (?, ?)
		 ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	return nil
}

// ListGroupUsers returns the members of a group ordered by name.
func (r *SQLiteRepository) ListGroupUsers(ctx context.Context, groupID string) ([]core.User, error) {
	if _, err := r.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.name, u.email
		 FROM users u
		 JOIN group_members gm ON gm.user_id = u.id
		 WHERE gm.group_id = ?
		 ORDER BY u.name`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list group users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}
