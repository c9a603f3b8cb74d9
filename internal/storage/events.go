package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"kitty/internal/core"
)

// CreateEventParams carries everything needed to create an event with its
// participants and categories in one transaction.
type CreateEventParams struct {
	Name             string
	GroupID          string
	BudgetGoalCents  int64 // 0 means derive from category limits
	ParticipantIDs   []string
	Categories       []CreateCategoryParams
}

type CreateCategoryParams struct {
	Name               string
	SpendingLimitCents int64
	Rule               core.RuleType
	MemberIDs          []string
}

// CreateEvent inserts the event, one participant row per user, one category
// per supplied category, and the opt-in rosters, all in one transaction.
// The budget goal defaults to the sum of category limits when not supplied.
func (r *SQLiteRepository) CreateEvent(ctx context.Context, p CreateEventParams) (*core.Event, error) {
	if _, err := r.GetGroup(ctx, p.GroupID); err != nil {
		return nil, err
	}

	goal := p.BudgetGoalCents
	if goal == 0 {
		for _, c := range p.Categories {
			goal += c.SpendingLimitCents
		}
	}

	eventID := newID()
	createdAt := nowMillis()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO events (id, name, group_id, budget_goal_cents, total_pooled_cents, created_at) VALUES (?, ?, ?, ?, 0, ?)",
		eventID, p.Name, p.GroupID, goal, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	for _, userID := range p.ParticipantIDs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO participants (event_id, user_id, role) VALUES (?, ?, ?)",
			eventID, userID, core.RoleParticipant,
		)
		if err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	for _, c := range p.Categories {
		rule := c.Rule
		if rule == "" {
			rule = core.EqualSplit
		}
		categoryID := newID()
		_, err = tx.ExecContext(ctx,
			"INSERT INTO expense_categories (id, event_id, name, spending_limit_cents, total_pooled_cents, rule_type) VALUES (?, ?, ?, ?, 0, ?)",
			categoryID, eventID, c.Name, c.SpendingLimitCents, string(rule),
		)
		if err != nil {
			return nil, fmt.Errorf("insert category: %w", err)
		}
		for _, userID := range c.MemberIDs {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO category_members (user_id, category_id) VALUES (?, ?)",
				userID, categoryID,
			)
			if err != nil {
				return nil, fmt.Errorf("insert category member: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Event created",
		"event_id", eventID,
		"group_id", p.GroupID,
		"participants", len(p.ParticipantIDs),
		"categories", len(p.Categories),
		"budget_goal_cents", goal)

	return r.GetEvent(ctx, eventID)
}

// GetEvent retrieves an event with nested participants and categories.
// A stored goal of zero with non-zero category limits is repaired on read.
func (r *SQLiteRepository) GetEvent(ctx context.Context, eventID string) (*core.Event, error) {
	e := &core.Event{}
	var created int64
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, group_id, budget_goal_cents, total_pooled_cents, created_at FROM events WHERE id = ?",
		eventID,
	).Scan(&e.ID, &e.Name, &e.GroupID, &e.BudgetGoal.Cents, &e.TotalPooled.Cents, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	e.CreatedAt = millisToTime(created)

	if err := r.loadEventChildren(ctx, e); err != nil {
		return nil, err
	}

	e.BudgetGoal = e.DeriveBudgetGoal()
	return e, nil
}

// ListEvents returns all events, newest first, with nested rows populated.
func (r *SQLiteRepository) ListEvents(ctx context.Context) ([]core.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, group_id, budget_goal_cents, total_pooled_cents, created_at FROM events ORDER BY created_at DESC, id DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var e core.Event
		var created int64
		if err := rows.Scan(&e.ID, &e.Name, &e.GroupID, &e.BudgetGoal.Cents, &e.TotalPooled.Cents, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.CreatedAt = millisToTime(created)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	for i := range events {
		if err := r.loadEventChildren(ctx, &events[i]); err != nil {
			return nil, err
		}
		events[i].BudgetGoal = events[i].DeriveBudgetGoal()
	}
	return events, nil
}

func (r *SQLiteRepository) loadEventChildren(ctx context.Context, e *core.Event) error {
	pRows, err := r.db.QueryContext(ctx,
		`SELECT p.user_id, p.role, u.name
		 FROM participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.event_id = ?
		 ORDER BY u.name`,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("get participants: %w", err)
	}
	defer pRows.Close()

	for pRows.Next() {
		p := core.Participant{EventID: e.ID}
		if err := pRows.Scan(&p.UserID, &p.Role, &p.UserName); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		e.Participants = append(e.Participants, p)
	}
	if err := pRows.Err(); err != nil {
		return fmt.Errorf("iterate participants: %w", err)
	}

	cRows, err := r.db.QueryContext(ctx,
		"SELECT id, name, spending_limit_cents, total_pooled_cents, rule_type FROM expense_categories WHERE event_id = ? ORDER BY name",
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("get categories: %w", err)
	}
	defer cRows.Close()

	for cRows.Next() {
		c := core.ExpenseCategory{EventID: e.ID}
		var rule string
		if err := cRows.Scan(&c.ID, &c.Name, &c.SpendingLimit.Cents, &c.TotalPooled.Cents, &rule); err != nil {
			return fmt.Errorf("scan category: %w", err)
		}
		c.Rule = core.RuleType(rule)
		e.Categories = append(e.Categories, c)
	}
	if err := cRows.Err(); err != nil {
		return fmt.Errorf("iterate categories: %w", err)
	}

	for i := range e.Categories {
		mRows, err := r.db.QueryContext(ctx,
			"SELECT user_id FROM category_members WHERE category_id = ? ORDER BY user_id",
			e.Categories[i].ID,
		)
		if err != nil {
			return fmt.Errorf("get category members: %w", err)
		}
		for mRows.Next() {
			m := core.CategoryMember{CategoryID: e.Categories[i].ID}
			if err := mRows.Scan(&m.UserID); err != nil {
				mRows.Close()
				return fmt.Errorf("scan category member: %w", err)
			}
			e.Categories[i].Members = append(e.Categories[i].Members, m)
		}
		mRows.Close()
		if err := mRows.Err(); err != nil {
			return fmt.Errorf("iterate category members: %w", err)
		}
	}

	return nil
}
