package services

import (
	"context"
	"fmt"
	"log/slog"

	"kitty/internal/amqp"
	"kitty/internal/core"
	"kitty/internal/log"
	"kitty/internal/storage"
)

// ValidationError marks a caller mistake in the request payload, as
// opposed to an infrastructure failure.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// MembershipAction selects what SetCategoryMembership does.
type MembershipAction string

const (
	ActionJoin  MembershipAction = "JOIN"
	ActionLeave MembershipAction = "LEAVE"
)

// LedgerService orchestrates ledger operations across SQLite and AMQP.
type LedgerService struct {
	storage    *storage.SQLiteRepository
	amqpClient *amqp.Client
}

func NewLedgerService(storage *storage.SQLiteRepository, amqpClient *amqp.Client) *LedgerService {
	return &LedgerService{
		storage:    storage,
		amqpClient: amqpClient,
	}
}

// CreateEvent validates and persists an event with its participants and
// expense categories.
func (s *LedgerService) CreateEvent(ctx context.Context, p storage.CreateEventParams) (*core.Event, error) {
	if p.Name == "" {
		return nil, &ValidationError{Field: "name", Msg: "event name is required"}
	}
	if p.GroupID == "" {
		return nil, &ValidationError{Field: "groupId", Msg: "group id is required"}
	}
	if p.BudgetGoalCents < 0 {
		return nil, &ValidationError{Field: "budgetGoal", Msg: "budget goal cannot be negative"}
	}
	for i, c := range p.Categories {
		if c.Name == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("categories[%d].name", i), Msg: "category name is required"}
		}
		if c.SpendingLimitCents < 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("categories[%d].spendingLimit", i), Msg: "spending limit cannot be negative"}
		}
		if c.Rule != "" {
			if _, err := GetSplitRule(c.Rule); err != nil {
				return nil, &ValidationError{Field: fmt.Sprintf("categories[%d].rule", i), Msg: err.Error()}
			}
		}
	}

	return s.storage.CreateEvent(ctx, p)
}

// GetEvent returns one event with nested participants and categories.
func (s *LedgerService) GetEvent(ctx context.Context, eventID string) (*core.Event, error) {
	return s.storage.GetEvent(ctx, eventID)
}

// ListEvents returns all events, newest first.
func (s *LedgerService) ListEvents(ctx context.Context) ([]core.Event, error) {
	return s.storage.ListEvents(ctx)
}

// SetCategoryMembership opts a user in or out of a category. Both
// directions are idempotent.
func (s *LedgerService) SetCategoryMembership(ctx context.Context, userID, categoryID string, action MembershipAction) error {
	if userID == "" {
		return &ValidationError{Field: "userId", Msg: "user id is required"}
	}
	if categoryID == "" {
		return &ValidationError{Field: "categoryId", Msg: "category id is required"}
	}

	switch action {
	case ActionJoin:
		return s.storage.UpsertCategoryMember(ctx, userID, categoryID)
	case ActionLeave:
		return s.storage.DeleteCategoryMember(ctx, userID, categoryID)
	default:
		return &ValidationError{Field: "action", Msg: fmt.Sprintf("unknown action %q", action)}
	}
}

// Deposit records a contribution against a category and publishes the
// export message. A publish failure never fails the deposit, the worker's
// periodic scan picks the row up later.
func (s *LedgerService) Deposit(ctx context.Context, userID, categoryID string, amount core.Money, note string) (*storage.DepositResult, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Msg: "user id is required"}
	}
	if categoryID == "" {
		return nil, &ValidationError{Field: "categoryId", Msg: "category id is required"}
	}
	if amount.Cents <= 0 {
		return nil, &ValidationError{Field: "amount", Msg: "amount must be positive"}
	}

	res, err := s.storage.Deposit(ctx, userID, categoryID, amount.Cents, note)
	if err != nil {
		return nil, fmt.Errorf("record deposit: %w", err)
	}

	slog.InfoContext(ctx, "Deposit recorded",
		log.FieldOperation, log.OpDeposit,
		log.FieldTxID, res.Transaction.ID,
		log.FieldUserID, userID,
		log.FieldCategoryID, categoryID,
		log.FieldAmountCents, amount.Cents)

	s.publishSyncMessage(ctx, res.Transaction.ID)
	return res, nil
}

// Refund reverses part or all of a user's contribution. The caller sends
// the refunded amount as a positive value, the ledger stores it negated
// so the audit trail shows the direction of the money.
func (s *LedgerService) Refund(ctx context.Context, userID, categoryID string, amount core.Money, note string) (*storage.DepositResult, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Msg: "user id is required"}
	}
	if categoryID == "" {
		return nil, &ValidationError{Field: "categoryId", Msg: "category id is required"}
	}
	if amount.Cents <= 0 {
		return nil, &ValidationError{Field: "amount", Msg: "refund amount must be positive"}
	}
	if note == "" {
		note = "refund"
	}

	res, err := s.storage.Deposit(ctx, userID, categoryID, -amount.Cents, note)
	if err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}

	slog.InfoContext(ctx, "Refund recorded",
		log.FieldOperation, log.OpRefund,
		log.FieldTxID, res.Transaction.ID,
		log.FieldUserID, userID,
		log.FieldCategoryID, categoryID,
		log.FieldAmountCents, amount.Cents)

	s.publishSyncMessage(ctx, res.Transaction.ID)
	return res, nil
}

// OutstandingDues computes the unsettled per-category shares a user owes
// for an event, applying each category's registered split rule.
func (s *LedgerService) OutstandingDues(ctx context.Context, eventID, userID string) ([]core.CategoryDue, core.Money, error) {
	if userID == "" {
		return nil, core.Money{}, &ValidationError{Field: "userId", Msg: "user id is required"}
	}

	event, err := s.storage.GetEvent(ctx, eventID)
	if err != nil {
		return nil, core.Money{}, err
	}

	// The whole ledger for the event is small enough to scan in memory.
	ledger, err := s.storage.ListTransactions(ctx, eventID, allTransactions, "")
	if err != nil {
		return nil, core.Money{}, fmt.Errorf("load ledger: %w", err)
	}

	dues := core.OutstandingDues(*event, userID, ledger)

	rules := make(map[string]core.ExpenseCategory, len(event.Categories))
	for _, c := range event.Categories {
		rules[c.ID] = c
	}
	for i := range dues {
		d := &dues[i]
		if d.Settled || d.MemberCount == 0 {
			continue
		}
		cat, ok := rules[d.CategoryID]
		if !ok {
			continue
		}
		rule, err := GetSplitRule(cat.Rule)
		if err != nil {
			slog.WarnContext(ctx, "Unknown split rule, keeping equal share",
				log.FieldCategoryID, d.CategoryID, "rule", string(cat.Rule))
			continue
		}
		d.Share = rule.Share(cat.SpendingLimit, d.MemberCount)
	}

	return dues, core.TotalDue(dues), nil
}

// AuditLog returns one page of the event's transaction history, newest
// first. before is the id of the previous page's last row, empty for the
// first page.
func (s *LedgerService) AuditLog(ctx context.Context, eventID string, limit int, before string) ([]core.Transaction, error) {
	return s.storage.ListTransactions(ctx, eventID, limit, before)
}

// ListGroupUsers returns the members of a group sorted by name.
func (s *LedgerService) ListGroupUsers(ctx context.Context, groupID string) ([]core.User, error) {
	if groupID == "" {
		return nil, &ValidationError{Field: "group", Msg: "group id is required"}
	}
	return s.storage.ListGroupUsers(ctx, groupID)
}

// Ping reports storage health for readiness probes.
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.storage.Ping(ctx)
}

// allTransactions is the scan limit used when dues need the full ledger.
const allTransactions = 100000

func (s *LedgerService) publishSyncMessage(ctx context.Context, id string) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping sync message")
		return
	}
	if err := s.amqpClient.PublishTransactionSync(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			log.FieldTxID, id, "error", err)
	}
}

// Close closes both storage and AMQP connections.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}

	return nil
}
