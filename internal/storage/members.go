package storage

import (
	"context"
	"database/sql"
	"fmt"

	"kitty/internal/core"
)

// UpsertCategoryMember idempotently opts a user in to a category. Repeated
// joins are no-ops; concurrent joins converge to a single roster row.
func (r *SQLiteRepository) UpsertCategoryMember(ctx context.Context, userID, categoryID string) error {
	if err := r.categoryExists(ctx, categoryID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO category_members (user_id, category_id) VALUES (?, ?)
		 ON CONFLICT(user_id, category_id) DO NOTHING`,
		userID, categoryID,
	)
	if err != nil {
		return fmt.Errorf("upsert category member: %w", err)
	}
	return nil
}

// DeleteCategoryMember removes the user's opt-in rows for a category.
// Leaving a category one never joined is a no-op.
func (r *SQLiteRepository) DeleteCategoryMember(ctx context.Context, userID, categoryID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM category_members WHERE user_id = ? AND category_id = ?",
		userID, categoryID,
	)
	if err != nil {
		return fmt.Errorf("delete category member: %w", err)
	}
	return nil
}

// GetCategory retrieves a category with its roster.
func (r *SQLiteRepository) GetCategory(ctx context.Context, categoryID string) (*core.ExpenseCategory, error) {
	c := &core.ExpenseCategory{}
	var rule string
	err := r.db.QueryRowContext(ctx,
		"SELECT id, event_id, name, spending_limit_cents, total_pooled_cents, rule_type FROM expense_categories WHERE id = ?",
		categoryID,
	).Scan(&c.ID, &c.EventID, &c.Name, &c.SpendingLimit.Cents, &c.TotalPooled.Cents, &rule)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, categoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	c.Rule = core.RuleType(rule)

	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id FROM category_members WHERE category_id = ? ORDER BY user_id",
		categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("get category members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m := core.CategoryMember{CategoryID: categoryID}
		if err := rows.Scan(&m.UserID); err != nil {
			return nil, fmt.Errorf("scan category member: %w", err)
		}
		c.Members = append(c.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category members: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) categoryExists(ctx context.Context, categoryID string) error {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM expense_categories WHERE id = ?", categoryID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, categoryID)
	}
	if err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	return nil
}
