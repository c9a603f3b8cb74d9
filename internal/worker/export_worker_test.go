package worker

import (
	"context"
	"path/filepath"
	"testing"

	"kitty/internal/amqp"
	"kitty/internal/sheets/memory"
	"kitty/internal/storage"
)

func newWorkerFixture(t *testing.T) (*ExportWorker, *storage.SQLiteRepository, *memory.Store) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "kitty.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	ctx := context.Background()
	if err := repo.SeedDemo(ctx); err != nil {
		t.Fatalf("SeedDemo() error = %v", err)
	}
	store := memory.New()
	return NewExportWorker(repo, store, 10), repo, store
}

func depositOne(t *testing.T, repo *storage.SQLiteRepository) *storage.DepositResult {
	t.Helper()
	ctx := context.Background()
	event, err := repo.CreateEvent(ctx, storage.CreateEventParams{
		Name:           "Trip",
		GroupID:        "g1",
		ParticipantIDs: []string{"u1", "u2"},
		Categories: []storage.CreateCategoryParams{
			{Name: "Food", SpendingLimitCents: 10000},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	res, err := repo.Deposit(ctx, "u1", event.Categories[0].ID, 4000, "")
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	return res
}

func TestHandleSyncMessage(t *testing.T) {
	w, repo, store := newWorkerFixture(t)
	ctx := context.Background()
	res := depositOne(t, repo)

	msg := amqp.NewTransactionSyncMessage(res.Transaction.ID)
	if err := w.HandleSyncMessage(ctx, msg); err != nil {
		t.Fatalf("HandleSyncMessage() error = %v", err)
	}

	rows := store.Rows()
	if len(rows) != 1 || rows[0].ID != res.Transaction.ID {
		t.Fatalf("sheet rows = %v, want the deposited transaction", rows)
	}
	if rows[0].UserName != "Alice" || rows[0].CategoryName != "Food" {
		t.Errorf("exported names = %q/%q, want Alice/Food", rows[0].UserName, rows[0].CategoryName)
	}

	pending, err := repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after export = %d, want 0", len(pending))
	}
}

func TestRedeliveryDoesNotDuplicateRows(t *testing.T) {
	w, repo, store := newWorkerFixture(t)
	ctx := context.Background()
	res := depositOne(t, repo)

	// At-least-once delivery: the same message can arrive again after the
	// synced flag was lost. The sheet must still hold a single row.
	msg := amqp.NewTransactionSyncMessage(res.Transaction.ID)
	for i := 0; i < 2; i++ {
		if err := w.HandleSyncMessage(ctx, msg); err != nil {
			t.Fatalf("HandleSyncMessage() delivery %d error = %v", i+1, err)
		}
	}

	if rows := store.Rows(); len(rows) != 1 {
		t.Errorf("sheet rows after redelivery = %d, want 1", len(rows))
	}
}

func TestHandleSyncMessageUnknownTransaction(t *testing.T) {
	w, _, _ := newWorkerFixture(t)

	err := w.HandleSyncMessage(context.Background(), amqp.NewTransactionSyncMessage("ghost"))
	if err == nil {
		t.Fatal("HandleSyncMessage() should fail for an unknown transaction")
	}
}

func TestProcessPendingRetriesAfterFailure(t *testing.T) {
	w, repo, store := newWorkerFixture(t)
	ctx := context.Background()
	depositOne(t, repo)

	// First export attempt fails, the row must stay pending.
	store.FailNext(1)
	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending() error = %v", err)
	}
	pending, err := repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending after failed export = %d, want 1", len(pending))
	}

	// Second scan succeeds.
	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending() retry error = %v", err)
	}
	pending, err = repo.GetPendingSyncTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingSyncTransactions() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after retry = %d, want 0", len(pending))
	}
	if len(store.Rows()) != 1 {
		t.Errorf("sheet rows = %d, want 1", len(store.Rows()))
	}
}

func TestStartupCheckDrainsBacklog(t *testing.T) {
	w, repo, store := newWorkerFixture(t)
	ctx := context.Background()

	event, err := repo.CreateEvent(ctx, storage.CreateEventParams{
		Name:           "Trip",
		GroupID:        "g1",
		ParticipantIDs: []string{"u1", "u2", "u3"},
		Categories: []storage.CreateCategoryParams{
			{Name: "Food", SpendingLimitCents: 10000},
		},
	})
	if err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := repo.Deposit(ctx, u, event.Categories[0].ID, 1000, ""); err != nil {
			t.Fatalf("Deposit(%s) error = %v", u, err)
		}
	}

	if err := w.StartupCheck(ctx); err != nil {
		t.Fatalf("StartupCheck() error = %v", err)
	}
	if len(store.Rows()) != 3 {
		t.Errorf("sheet rows after startup check = %d, want 3", len(store.Rows()))
	}
}
