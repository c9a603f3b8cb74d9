package worker

import (
	"context"
	"fmt"
	"log/slog"

	"kitty/internal/amqp"
	"kitty/internal/core"
	"kitty/internal/log"
	"kitty/internal/sheets"
	"kitty/internal/storage"
)

// ExportWorker pushes ledger rows from SQLite to the spreadsheet. The
// AMQP consumer gives low latency, the periodic pending scan covers lost
// messages and downtime.
type ExportWorker struct {
	storage   *storage.SQLiteRepository
	writer    sheets.LedgerWriter
	batchSize int
}

func NewExportWorker(storage *storage.SQLiteRepository, writer sheets.LedgerWriter, batchSize int) *ExportWorker {
	return &ExportWorker{
		storage:   storage,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleSyncMessage processes a single transaction sync message from AMQP.
func (w *ExportWorker) HandleSyncMessage(ctx context.Context, msg *amqp.TransactionSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message", log.FieldTxID, msg.ID)

	txn, err := w.storage.GetTransaction(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get transaction from storage: %w", err)
	}

	if err := w.exportTransaction(ctx, *txn); err != nil {
		return fmt.Errorf("export transaction: %w", err)
	}
	return nil
}

// ProcessPending exports transactions the consumer never saw. Backup
// mechanism for lost AMQP messages.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncTransactions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending transactions: %w", err)
	}

	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending transactions", "count", len(pending))

	for _, txn := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.exportTransaction(ctx, txn); err != nil {
			slog.ErrorContext(ctx, "Failed to export transaction",
				log.FieldTxID, txn.ID, "error", err)
			continue
		}
	}

	return nil
}

// StartupCheck drains the pending backlog when the worker boots, in a
// batch several times larger than the periodic scan.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.storage.GetPendingSyncTransactions(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending transactions for startup check: %w", err)
	}

	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending transactions found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending transactions on startup, processing...",
		"count", len(pending))

	successCount := 0
	errorCount := 0

	for _, txn := range pending {
		if err := w.exportTransaction(ctx, txn); err != nil {
			slog.ErrorContext(ctx, "Failed to export transaction during startup",
				log.FieldTxID, txn.ID, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.InfoContext(ctx, "Startup export completed",
		"total", len(pending),
		"exported", successCount,
		"errors", errorCount)

	return nil
}

func (w *ExportWorker) exportTransaction(ctx context.Context, txn core.Transaction) error {
	ref, err := w.writer.Append(ctx, txn)
	if err != nil {
		if markErr := w.storage.MarkSyncError(ctx, txn.ID); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error",
				log.FieldTxID, txn.ID, "error", markErr)
		}
		return fmt.Errorf("append to sheet: %w", err)
	}

	if err := w.storage.MarkSynced(ctx, txn.ID); err != nil {
		// The row reached the sheet, keep going and let the pending scan
		// reconcile the flag.
		slog.ErrorContext(ctx, "Failed to mark as synced",
			log.FieldTxID, txn.ID, "error", err)
	}

	slog.InfoContext(ctx, "Exported transaction",
		log.FieldTxID, txn.ID,
		log.FieldSheetsRef, ref,
		log.FieldAmountCents, txn.Amount.Cents)

	return nil
}
