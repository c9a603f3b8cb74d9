package storage

import (
	"context"
	"fmt"
	"log/slog"

	"kitty/internal/core"
)

// SeedDemo loads a demo group and roster. Idempotent, safe to run on every
// start when demo mode is enabled.
func (r *SQLiteRepository) SeedDemo(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, creator_id, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		"g1", "Demo Group", "u1", nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("seed group: %w", err)
	}

	users := []core.User{
		{ID: "u1", Name: "Alice", Email: "alice@example.com"},
		{ID: "u2", Name: "Bob", Email: "bob@example.com"},
		{ID: "u3", Name: "Charlie", Email: "charlie@example.com"},
		{ID: "u4", Name: "Diana", Email: "diana@example.com"},
		{ID: "u5", Name: "Shivam", Email: "shivam@example.com"},
	}
	for i := range users {
		if err := r.UpsertUser(ctx, &users[i]); err != nil {
			return fmt.Errorf("seed user %s: %w", users[i].ID, err)
		}
		if err := r.AddGroupMember(ctx, "g1", users[i].ID); err != nil {
			return fmt.Errorf("seed membership %s: %w", users[i].ID, err)
		}
	}

	slog.InfoContext(ctx, "Demo data seeded", "group_id", "g1", "users", len(users))
	return nil
}
