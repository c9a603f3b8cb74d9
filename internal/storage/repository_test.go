package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"kitty/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "kitty.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seededEvent(t *testing.T, repo *SQLiteRepository) *core.Event {
	t.Helper()
	ctx := context.Background()
	if err := repo.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	event, err := repo.CreateEvent(ctx, CreateEventParams{
		Name:           "Goa Trip",
		GroupID:        "g1",
		ParticipantIDs: []string{"u1", "u2", "u3", "u4", "u5"},
		Categories: []CreateCategoryParams{
			{Name: "Accommodation", SpendingLimitCents: 30000, Rule: core.EqualSplit},
			{Name: "Food", SpendingLimitCents: 20000, Rule: core.EqualSplit},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	return event
}

func TestCreateEventDerivesBudgetGoal(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)

	if event.BudgetGoal.Cents != 50000 {
		t.Errorf("BudgetGoal = %d cents, want 50000", event.BudgetGoal.Cents)
	}
	if len(event.Participants) != 5 {
		t.Errorf("participants = %d, want 5", len(event.Participants))
	}
	if len(event.Categories) != 2 {
		t.Errorf("categories = %d, want 2", len(event.Categories))
	}
}

func TestCreateEventExplicitGoalWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}

	event, err := repo.CreateEvent(ctx, CreateEventParams{
		Name:            "Office Party",
		GroupID:         "g1",
		BudgetGoalCents: 100000,
		ParticipantIDs:  []string{"u1"},
		Categories: []CreateCategoryParams{
			{Name: "Drinks", SpendingLimitCents: 5000},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if event.BudgetGoal.Cents != 100000 {
		t.Errorf("BudgetGoal = %d cents, want explicit 100000", event.BudgetGoal.Cents)
	}
}

func TestCreateEventUnknownGroup(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.CreateEvent(context.Background(), CreateEventParams{
		Name:    "Orphan",
		GroupID: "nope",
	})
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("CreateEvent() error = %v, want ErrGroupNotFound", err)
	}
}

func TestDepositUpdatesBothTotals(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	res, err := repo.Deposit(ctx, "u1", categoryID, 5000, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if res.Category.TotalPooled.Cents != 5000 {
		t.Errorf("category total = %d, want 5000", res.Category.TotalPooled.Cents)
	}
	if res.Event.TotalPooled.Cents != 5000 {
		t.Errorf("event total = %d, want 5000", res.Event.TotalPooled.Cents)
	}
	if res.Transaction.Status != core.StatusSuccess {
		t.Errorf("transaction status = %q, want %q", res.Transaction.Status, core.StatusSuccess)
	}

	// A second deposit accumulates on top of the first.
	res, err = repo.Deposit(ctx, "u2", categoryID, 2500, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if res.Category.TotalPooled.Cents != 7500 {
		t.Errorf("category total after second deposit = %d, want 7500", res.Category.TotalPooled.Cents)
	}
	if res.Event.TotalPooled.Cents != 7500 {
		t.Errorf("event total after second deposit = %d, want 7500", res.Event.TotalPooled.Cents)
	}
}

func TestConcurrentDepositsAllLand(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	const depositors = 20
	const amount = int64(100)

	var wg sync.WaitGroup
	errs := make(chan error, depositors)
	for i := 0; i < depositors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Deposit(ctx, "u1", categoryID, amount, ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Deposit() error = %v", err)
	}

	got, err := repo.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if got.TotalPooled.Cents != depositors*amount {
		t.Errorf("event total = %d, want %d", got.TotalPooled.Cents, depositors*amount)
	}
	cat, err := repo.GetCategory(ctx, categoryID)
	if err != nil {
		t.Fatalf("GetCategory() error = %v", err)
	}
	if cat.TotalPooled.Cents != depositors*amount {
		t.Errorf("category total = %d, want %d", cat.TotalPooled.Cents, depositors*amount)
	}
	txns, err := repo.ListTransactions(ctx, event.ID, depositors+1, "")
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txns) != depositors {
		t.Errorf("transactions = %d, want %d", len(txns), depositors)
	}
}

func TestDepositUnknownCategoryLeavesNoTrace(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()

	_, err := repo.Deposit(ctx, "u1", "no-such-category", 5000, "")
	if !errors.Is(err, ErrCategoryNotFound) {
		t.Fatalf("Deposit() error = %v, want ErrCategoryNotFound", err)
	}

	got, err := repo.GetEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetEvent() error = %v", err)
	}
	if got.TotalPooled.Cents != 0 {
		t.Errorf("event total after failed deposit = %d, want 0", got.TotalPooled.Cents)
	}
	txns, err := repo.ListTransactions(ctx, event.ID, 10, "")
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("transactions after failed deposit = %d, want 0", len(txns))
	}
}

func TestDepositNegativeAmount(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	if _, err := repo.Deposit(ctx, "u1", categoryID, 5000, ""); err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	res, err := repo.Deposit(ctx, "u1", categoryID, -2000, "refund: overpaid")
	if err != nil {
		t.Fatalf("Deposit() refund error = %v", err)
	}
	if res.Category.TotalPooled.Cents != 3000 {
		t.Errorf("category total after refund = %d, want 3000", res.Category.TotalPooled.Cents)
	}
	if res.Transaction.Amount.Cents != -2000 {
		t.Errorf("refund transaction amount = %d, want -2000", res.Transaction.Amount.Cents)
	}
}

func TestCategoryMembershipIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	for i := 0; i < 2; i++ {
		if err := repo.UpsertCategoryMember(ctx, "u1", categoryID); err != nil {
			t.Fatalf("UpsertCategoryMember() round %d error = %v", i, err)
		}
	}
	cat, err := repo.GetCategory(ctx, categoryID)
	if err != nil {
		t.Fatalf("GetCategory() error = %v", err)
	}
	if len(cat.Members) != 1 {
		t.Errorf("members after double opt-in = %d, want 1", len(cat.Members))
	}

	for i := 0; i < 2; i++ {
		if err := repo.DeleteCategoryMember(ctx, "u1", categoryID); err != nil {
			t.Fatalf("DeleteCategoryMember() round %d error = %v", i, err)
		}
	}
	cat, err = repo.GetCategory(ctx, categoryID)
	if err != nil {
		t.Fatalf("GetCategory() error = %v", err)
	}
	if len(cat.Members) != 0 {
		t.Errorf("members after double leave = %d, want 0", len(cat.Members))
	}
}

func TestUpsertCategoryMemberUnknownCategory(t *testing.T) {
	repo := newTestRepo(t)
	seededEvent(t, repo)

	err := repo.UpsertCategoryMember(context.Background(), "u1", "no-such-category")
	if !errors.Is(err, ErrCategoryNotFound) {
		t.Errorf("UpsertCategoryMember() error = %v, want ErrCategoryNotFound", err)
	}
}

func TestListTransactionsPagination(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	for i := 0; i < 5; i++ {
		if _, err := repo.Deposit(ctx, "u1", categoryID, int64(1000*(i+1)), ""); err != nil {
			t.Fatalf("Deposit() #%d error = %v", i, err)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := repo.ListTransactions(ctx, event.ID, 2, cursor)
		if err != nil {
			t.Fatalf("ListTransactions() error = %v", err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 2 {
			t.Fatalf("page size = %d, want <= 2", len(page))
		}
		for _, txn := range page {
			if seen[txn.ID] {
				t.Fatalf("transaction %s returned twice", txn.ID)
			}
			seen[txn.ID] = true
			if txn.UserName != "Alice" {
				t.Errorf("UserName = %q, want Alice", txn.UserName)
			}
			if txn.CategoryName != "Accommodation" {
				t.Errorf("CategoryName = %q, want Accommodation", txn.CategoryName)
			}
		}
		cursor = page[len(page)-1].ID
		pages++
	}
	if len(seen) != 5 {
		t.Errorf("paged transactions = %d, want 5", len(seen))
	}
	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
}

func TestListTransactionsBadCursor(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)

	_, err := repo.ListTransactions(context.Background(), event.ID, 10, "bogus")
	if !errors.Is(err, ErrTxNotFound) {
		t.Errorf("ListTransactions() error = %v, want ErrTxNotFound", err)
	}
}

func TestSyncLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	event := seededEvent(t, repo)
	ctx := context.Background()
	categoryID := event.Categories[0].ID

	res, err := repo.Deposit(ctx, "u1", categoryID, 5000, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}

	pending, err := repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 1 || pending[0].ID != res.Transaction.ID {
		t.Fatalf("pending = %v, want single transaction %s", pending, res.Transaction.ID)
	}

	// An export failure keeps the row pending for the periodic scan.
	if err := repo.MarkSyncError(ctx, res.Transaction.ID); err != nil {
		t.Fatalf("MarkSyncError() error = %v", err)
	}
	pending, err = repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending after sync error = %d, want 1", len(pending))
	}

	if err := repo.MarkSynced(ctx, res.Transaction.ID); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	pending, err = repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after sync = %d, want 0", len(pending))
	}
}

func TestListGroupUsers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if err := repo.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	// Running the seed twice must not duplicate anything.
	if err := repo.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo() rerun error = %v", err)
	}

	users, err := repo.ListGroupUsers(ctx, "g1")
	if err != nil {
		t.Fatalf("ListGroupUsers() error = %v", err)
	}
	if len(users) != 5 {
		t.Fatalf("users = %d, want 5", len(users))
	}
	if users[0].Name != "Alice" {
		t.Errorf("first user = %q, want Alice (sorted by name)", users[0].Name)
	}

	_, err = repo.ListGroupUsers(ctx, "ghost")
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("ListGroupUsers(ghost) error = %v, want ErrGroupNotFound", err)
	}
}
