package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/store"
	"github.com/transfa/interbank-service/pkg/rabbitmq"
)

// InterruptedDetail is stored on pending records abandoned before the foreign
// bank acknowledged them.
const InterruptedDetail = "interrupted before delivery acknowledgement"

// ReconcileReport summarizes one reconciliation run.
type ReconcileReport struct {
	Scanned   int
	Completed int
	Failed    int
	Errors    int
}

// Reconciler settles records left pending by an interrupted transfer.
// Delivered records are completed; stale undelivered ones are failed.
type Reconciler struct {
	ledger     *Ledger
	events     rabbitmq.Publisher
	logger     *slog.Logger
	staleAfter time.Duration
	batchSize  int
	now        func() time.Time
}

func NewReconciler(ledger *Ledger, events rabbitmq.Publisher, staleAfter time.Duration, batchSize int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		ledger:     ledger,
		events:     events,
		logger:     logger.With("component", "reconciler"),
		staleAfter: staleAfter,
		batchSize:  batchSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run processes at most one batch.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	records, err := r.ledger.Unsettled(ctx, r.now().Add(-r.staleAfter), r.batchSize)
	if err != nil {
		return report, err
	}
	report.Scanned = len(records)

	for i := range records {
		tx := &records[i]
		if tx.DeliveredAt != nil {
			r.completeDelivered(ctx, tx, &report)
			continue
		}
		r.failStale(ctx, tx, &report)
	}

	if report.Scanned > 0 {
		r.logger.Info("reconciliation run finished", "scanned", report.Scanned, "completed", report.Completed, "failed", report.Failed, "errors", report.Errors)
	}
	return report, nil
}

func (r *Reconciler) completeDelivered(ctx context.Context, tx *domain.Transaction, report *ReconcileReport) {
	counterparty := ""
	if tx.CounterpartyName != nil {
		counterparty = *tx.CounterpartyName
	}

	err := r.ledger.Complete(ctx, tx, counterparty)
	switch {
	case err == nil:
		report.Completed++
		publishTransferEvent(ctx, r.events, r.logger, domain.EventTransferCompleted, tx)
	case errors.Is(err, store.ErrTransactionFinalized):
	case errors.Is(err, store.ErrInsufficientFunds):
		r.logger.Error("delivered transfer could not be debited", "transaction_id", tx.ID, "outcome", "manual_review")
		if failErr := r.ledger.Fail(ctx, tx, manualReviewDetail); failErr != nil {
			report.Errors++
			r.logger.Error("failed to mark transaction failed", "transaction_id", tx.ID, "error", failErr)
			return
		}
		report.Failed++
		publishTransferEvent(ctx, r.events, r.logger, domain.EventTransferFailed, tx)
	default:
		report.Errors++
		r.logger.Error("failed to complete delivered transaction", "transaction_id", tx.ID, "error", err)
	}
}

func (r *Reconciler) failStale(ctx context.Context, tx *domain.Transaction, report *ReconcileReport) {
	err := r.ledger.Fail(ctx, tx, InterruptedDetail)
	switch {
	case err == nil:
		report.Failed++
		r.logger.Warn("stale pending transaction failed", "transaction_id", tx.ID, "created_at", tx.CreatedAt)
		publishTransferEvent(ctx, r.events, r.logger, domain.EventTransferFailed, tx)
	case errors.Is(err, store.ErrTransactionFinalized):
	default:
		report.Errors++
		r.logger.Error("failed to fail stale transaction", "transaction_id", tx.ID, "error", err)
	}
}
