package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"kitty/internal/core"
)

// DepositResult is the updated category with its parent event attached,
// plus the transaction row appended by the write.
type DepositResult struct {
	Category    core.ExpenseCategory
	Event       core.Event
	Transaction core.Transaction
}

// Deposit applies a signed amount to a category and its parent event and
// appends the audit row, all in one database transaction.
//
// The category total is bumped first with an atomic "add N" update; zero
// affected rows means the category id is stale and the whole operation
// rolls back with ErrCategoryNotFound. The parent event id is resolved
// from the category row inside the same transaction, never taken from the
// caller, so the event updated is always the category's true parent.
func (r *SQLiteRepository) Deposit(ctx context.Context, userID, categoryID string, amountCents int64, note string) (*DepositResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE expense_categories SET total_pooled_cents = total_pooled_cents + ? WHERE id = ?",
		amountCents, categoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("update category total: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, categoryID)
	}

	out := &DepositResult{}
	c := &out.Category
	var rule string
	err = tx.QueryRowContext(ctx,
		"SELECT id, event_id, name, spending_limit_cents, total_pooled_cents, rule_type FROM expense_categories WHERE id = ?",
		categoryID,
	).Scan(&c.ID, &c.EventID, &c.Name, &c.SpendingLimit.Cents, &c.TotalPooled.Cents, &rule)
	if err != nil {
		return nil, fmt.Errorf("read updated category: %w", err)
	}
	c.Rule = core.RuleType(rule)

	_, err = tx.ExecContext(ctx,
		"UPDATE events SET total_pooled_cents = total_pooled_cents + ? WHERE id = ?",
		amountCents, c.EventID,
	)
	if err != nil {
		return nil, fmt.Errorf("update event total: %w", err)
	}

	txn := &out.Transaction
	txn.ID = newID()
	txn.Amount = core.Money{Cents: amountCents}
	txn.UserID = userID
	txn.EventID = c.EventID
	txn.CategoryID = categoryID
	txn.Status = core.StatusSuccess
	txn.Note = note
	created := nowMillis()
	txn.CreatedAt = millisToTime(created)

	_, err = tx.ExecContext(ctx,
		"INSERT INTO transactions (id, amount_cents, user_id, event_id, category_id, status, note, created_at, synced, sync_attempts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0)",
		txn.ID, amountCents, userID, c.EventID, categoryID, string(core.StatusSuccess), note, created,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	e := &out.Event
	var eventCreated int64
	err = tx.QueryRowContext(ctx,
		"SELECT id, name, group_id, budget_goal_cents, total_pooled_cents, created_at FROM events WHERE id = ?",
		c.EventID,
	).Scan(&e.ID, &e.Name, &e.GroupID, &e.BudgetGoal.Cents, &e.TotalPooled.Cents, &eventCreated)
	if err != nil {
		return nil, fmt.Errorf("read parent event: %w", err)
	}
	e.CreatedAt = millisToTime(eventCreated)

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	slog.InfoContext(ctx, "Deposit recorded",
		"transaction_id", txn.ID,
		"category_id", categoryID,
		"event_id", c.EventID,
		"user_id", userID,
		"amount_cents", amountCents)

	return out, nil
}

// ListTransactions returns the event's audit trail, newest first, joined
// with user and category display names. Keyset pagination: before is the
// id of the last transaction of the previous page, empty for the first.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, eventID string, limit int, before string) ([]core.Transaction, error) {
	query := `SELECT t.id, t.amount_cents, t.user_id, t.event_id, t.category_id, t.status, t.note, t.created_at,
	                 COALESCE(u.name, ''), COALESCE(c.name, '')
	          FROM transactions t
	          LEFT JOIN users u ON u.id = t.user_id
	          LEFT JOIN expense_categories c ON c.id = t.category_id
	          WHERE t.event_id = ?`
	args := []any{eventID}

	if before != "" {
		var cursorCreated int64
		err := r.db.QueryRowContext(ctx,
			"SELECT created_at FROM transactions WHERE id = ?", before,
		).Scan(&cursorCreated)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: cursor %s", ErrTxNotFound, before)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		query += " AND (t.created_at < ? OR (t.created_at = ? AND t.id < ?))"
		args = append(args, cursorCreated, cursorCreated, before)
	}

	query += " ORDER BY t.created_at DESC, t.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		var t core.Transaction
		var status string
		var created int64
		if err := rows.Scan(&t.ID, &t.Amount.Cents, &t.UserID, &t.EventID, &t.CategoryID,
			&status, &t.Note, &created, &t.UserName, &t.CategoryName); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Status = core.TransactionStatus(status)
		t.CreatedAt = millisToTime(created)
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return txns, nil
}

// GetTransaction retrieves a single ledger row with display names, used by
// the export worker.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (*core.Transaction, error) {
	var t core.Transaction
	var status string
	var created int64
	err := r.db.QueryRowContext(ctx,
		`SELECT t.id, t.amount_cents, t.user_id, t.event_id, t.category_id, t.status, t.note, t.created_at,
		        COALESCE(u.name, ''), COALESCE(c.name, '')
		 FROM transactions t
		 LEFT JOIN users u ON u.id = t.user_id
		 LEFT JOIN expense_categories c ON c.id = t.category_id
		 WHERE t.id = ?`,
		id,
	).Scan(&t.ID, &t.Amount.Cents, &t.UserID, &t.EventID, &t.CategoryID,
		&status, &t.Note, &created, &t.UserName, &t.CategoryName)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	t.Status = core.TransactionStatus(status)
	t.CreatedAt = millisToTime(created)
	return &t, nil
}

// GetPendingSyncTransactions returns ledger rows not yet exported, oldest
// first so the spreadsheet stays in chronological order.
func (r *SQLiteRepository) GetPendingSyncTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.amount_cents, t.user_id, t.event_id, t.category_id, t.status, t.note, t.created_at,
		        COALESCE(u.name, ''), COALESCE(c.name, '')
		 FROM transactions t
		 LEFT JOIN users u ON u.id = t.user_id
		 LEFT JOIN expense_categories c ON c.id = t.category_id
		 WHERE t.synced = 0
		 ORDER BY t.created_at ASC, t.id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get pending transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		var t core.Transaction
		var status string
		var created int64
		if err := rows.Scan(&t.ID, &t.Amount.Cents, &t.UserID, &t.EventID, &t.CategoryID,
			&status, &t.Note, &created, &t.UserName, &t.CategoryName); err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		t.Status = core.TransactionStatus(status)
		t.CreatedAt = millisToTime(created)
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending transactions: %w", err)
	}
	return txns, nil
}

// MarkSynced marks a transaction as exported to the spreadsheet.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET synced = 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("mark transaction synced: %w", err)
	}
	slog.InfoContext(ctx, "Transaction marked as exported", "transaction_id", id)
	return nil
}

// MarkSyncError bumps the attempt counter; the row stays pending so the
// periodic scan retries it.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE transactions SET sync_attempts = sync_attempts + 1 WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("mark transaction sync error: %w", err)
	}
	slog.WarnContext(ctx, "Transaction export failed, will retry", "transaction_id", id)
	return nil
}
