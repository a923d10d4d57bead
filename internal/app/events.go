package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/pkg/rabbitmq"
)

const publishTimeout = 5 * time.Second

// publishTransferEvent emits a terminal transfer event. Failures are logged
// and never affect the ledger.
func publishTransferEvent(ctx context.Context, publisher rabbitmq.Publisher, logger *slog.Logger, routingKey string, tx *domain.Transaction) {
	if publisher == nil || tx == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := publisher.Publish(ctx, routingKey, domain.NewTransferEvent(tx)); err != nil {
		logger.Warn("failed to publish transfer event", "routing_key", routingKey, "transaction_id", tx.ID, "error", err)
	}
}
