package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"kitty/internal/core"
	"kitty/internal/storage"
)

func newTestService(t *testing.T) *LedgerService {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "kitty.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.SeedDemo(context.Background()); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	// nil AMQP client: publishing is skipped, deposits still succeed
	return NewLedgerService(repo, nil)
}

func createTripEvent(t *testing.T, svc *LedgerService) *core.Event {
	t.Helper()
	event, err := svc.CreateEvent(context.Background(), storage.CreateEventParams{
		Name:           "Goa Trip",
		GroupID:        "g1",
		ParticipantIDs: []string{"u1", "u2", "u3", "u4", "u5"},
		Categories: []storage.CreateCategoryParams{
			{Name: "Accommodation", SpendingLimitCents: 30000},
			{Name: "Food", SpendingLimitCents: 20000},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	return event
}

func TestCreateEventValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params storage.CreateEventParams
		field  string
	}{
		{
			name:   "missing name",
			params: storage.CreateEventParams{GroupID: "g1"},
			field:  "name",
		},
		{
			name:   "missing group",
			params: storage.CreateEventParams{Name: "Trip"},
			field:  "groupId",
		},
		{
			name:   "negative goal",
			params: storage.CreateEventParams{Name: "Trip", GroupID: "g1", BudgetGoalCents: -1},
			field:  "budgetGoal",
		},
		{
			name: "unnamed category",
			params: storage.CreateEventParams{Name: "Trip", GroupID: "g1",
				Categories: []storage.CreateCategoryParams{{SpendingLimitCents: 100}}},
			field: "categories[0].name",
		},
		{
			name: "unknown rule",
			params: storage.CreateEventParams{Name: "Trip", GroupID: "g1",
				Categories: []storage.CreateCategoryParams{{Name: "Food", Rule: "GOLDEN_RATIO"}}},
			field: "categories[0].rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateEvent(ctx, tt.params)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("CreateEvent() error = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestDepositValidation(t *testing.T) {
	svc := newTestService(t)
	event := createTripEvent(t, svc)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	tests := []struct {
		name       string
		userID     string
		categoryID string
		cents      int64
	}{
		{"zero amount", "u1", categoryID, 0},
		{"negative amount", "u1", categoryID, -500},
		{"missing user", "", categoryID, 500},
		{"missing category", "u1", "", 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Deposit(ctx, tt.userID, tt.categoryID, core.Money{Cents: tt.cents}, "")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Deposit() error = %v, want ValidationError", err)
			}
		})
	}
}

func TestDepositUnknownCategory(t *testing.T) {
	svc := newTestService(t)
	createTripEvent(t, svc)

	_, err := svc.Deposit(context.Background(), "u1", "ghost", core.Money{Cents: 500}, "")
	if !errors.Is(err, storage.ErrCategoryNotFound) {
		t.Errorf("Deposit() error = %v, want ErrCategoryNotFound", err)
	}
}

func TestRefundReversesDeposit(t *testing.T) {
	svc := newTestService(t)
	event := createTripEvent(t, svc)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	if _, err := svc.Deposit(ctx, "u1", categoryID, core.Money{Cents: 6000}, ""); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	res, err := svc.Refund(ctx, "u1", categoryID, core.Money{Cents: 6000}, "double charge")
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if res.Transaction.Amount.Cents != -6000 {
		t.Errorf("refund amount = %d, want -6000", res.Transaction.Amount.Cents)
	}
	if res.Category.TotalPooled.Cents != 0 {
		t.Errorf("category total after refund = %d, want 0", res.Category.TotalPooled.Cents)
	}

	// Refund amounts arrive positive, a negative payload is a caller bug.
	_, err = svc.Refund(ctx, "u1", categoryID, core.Money{Cents: -100}, "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Refund(-100) error = %v, want ValidationError", err)
	}
}

func TestSetCategoryMembership(t *testing.T) {
	svc := newTestService(t)
	event := createTripEvent(t, svc)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	if err := svc.SetCategoryMembership(ctx, "u1", categoryID, ActionJoin); err != nil {
		t.Fatalf("join error = %v", err)
	}
	if err := svc.SetCategoryMembership(ctx, "u1", categoryID, ActionJoin); err != nil {
		t.Fatalf("second join error = %v", err)
	}
	if err := svc.SetCategoryMembership(ctx, "u1", categoryID, ActionLeave); err != nil {
		t.Fatalf("leave error = %v", err)
	}

	err := svc.SetCategoryMembership(ctx, "u1", categoryID, "EJECT")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("unknown action error = %v, want ValidationError", err)
	}
}

func TestOutstandingDues(t *testing.T) {
	svc := newTestService(t)
	event := createTripEvent(t, svc)
	ctx := context.Background()
	food := event.Categories[1] // 20000 cents, no explicit roster

	// No opt-ins: every participant owes limit / participant count.
	dues, total, err := svc.OutstandingDues(ctx, event.ID, "u1")
	if err != nil {
		t.Fatalf("OutstandingDues() error = %v", err)
	}
	if len(dues) != 2 {
		t.Fatalf("dues = %d categories, want 2", len(dues))
	}
	var foodDue *core.CategoryDue
	for i := range dues {
		if dues[i].CategoryID == food.ID {
			foodDue = &dues[i]
		}
	}
	if foodDue == nil {
		t.Fatal("food category missing from dues")
	}
	if foodDue.Share.Cents != 4000 {
		t.Errorf("food share = %d, want 4000 (20000 / 5)", foodDue.Share.Cents)
	}
	if total.Cents != 4000+6000 {
		t.Errorf("total due = %d, want 10000", total.Cents)
	}

	// After paying food, the category reads settled with a zero share.
	if _, err := svc.Deposit(ctx, "u1", food.ID, core.Money{Cents: 4000}, ""); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	dues, total, err = svc.OutstandingDues(ctx, event.ID, "u1")
	if err != nil {
		t.Fatalf("OutstandingDues() after deposit error = %v", err)
	}
	for _, d := range dues {
		if d.CategoryID == food.ID {
			if !d.Settled {
				t.Error("food should be settled after deposit")
			}
			if d.Share.Cents != 0 {
				t.Errorf("settled share = %d, want 0", d.Share.Cents)
			}
		}
	}
	if total.Cents != 6000 {
		t.Errorf("total due after settling food = %d, want 6000", total.Cents)
	}
}

func TestOutstandingDuesExplicitRoster(t *testing.T) {
	svc := newTestService(t)
	event := createTripEvent(t, svc)
	ctx := context.Background()
	food := event.Categories[1]

	// Two explicit members: the share is limit / 2, and non-members owe
	// nothing for the category.
	for _, u := range []string{"u1", "u2"} {
		if err := svc.SetCategoryMembership(ctx, u, food.ID, ActionJoin); err != nil {
			t.Fatalf("join error = %v", err)
		}
	}

	dues, _, err := svc.OutstandingDues(ctx, event.ID, "u1")
	if err != nil {
		t.Fatalf("OutstandingDues() error = %v", err)
	}
	for _, d := range dues {
		if d.CategoryID == food.ID && d.Share.Cents != 10000 {
			t.Errorf("food share = %d, want 10000 (20000 / 2)", d.Share.Cents)
		}
	}

	dues, _, err = svc.OutstandingDues(ctx, event.ID, "u3")
	if err != nil {
		t.Fatalf("OutstandingDues() error = %v", err)
	}
	for _, d := range dues {
		if d.CategoryID == food.ID {
			t.Error("u3 did not opt in, food should not appear in dues")
		}
	}
}

func TestAuditLogPaging(t *testing.T) {
	svc := newTestService(t)
	event := createTripEvent(t, svc)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	for i := 0; i < 3; i++ {
		if _, err := svc.Deposit(ctx, "u1", categoryID, core.Money{Cents: 1000}, ""); err != nil {
			t.Fatalf("Deposit() error = %v", err)
		}
	}

	page, err := svc.AuditLog(ctx, event.ID, 2, "")
	if err != nil {
		t.Fatalf("AuditLog() error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("first page = %d rows, want 2", len(page))
	}
	rest, err := svc.AuditLog(ctx, event.ID, 2, page[1].ID)
	if err != nil {
		t.Fatalf("AuditLog() second page error = %v", err)
	}
	if len(rest) != 1 {
		t.Errorf("second page = %d rows, want 1", len(rest))
	}
}

func TestLedgerService_Close(t *testing.T) {
	t.Run("nil components", func(t *testing.T) {
		svc := &LedgerService{}
		if err := svc.Close(); err != nil {
			t.Fatalf("Close should not return error with nil components: %v", err)
		}
	})
}
