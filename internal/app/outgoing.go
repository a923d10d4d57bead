/**
 * @description
 * Outgoing transfers. A transfer to an account of this bank settles locally
 * in one database transaction. A transfer to a foreign account is recorded
 * as pending, routed through the central registry, signed with the bank key
 * and delivered to the foreign bank, which either accepts it (the local
 * debit is then applied) or rejects it (the record is failed).
 *
 * @notes
 * - Validation failures never create a record. Once a record is pending,
 *   every handled failure fails it with a detail before returning.
 * - Nothing is retried. A delivered transfer whose local completion fails is
 *   left delivered and pending for the reconciler.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/keys"
	"github.com/transfa/interbank-service/internal/store"
	"github.com/transfa/interbank-service/pkg/bankclient"
	"github.com/transfa/interbank-service/pkg/rabbitmq"
)

// manualReviewDetail is stored on a delivered transfer whose local debit
// could not be applied.
const manualReviewDetail = "delivered to foreign bank but local debit rejected: insufficient funds; manual review required"

// TransferDeliverer hands a signed token to a foreign bank.
type TransferDeliverer interface {
	Deliver(ctx context.Context, transactionURL, token string) (string, error)
}

// OutgoingTransferOrchestrator runs transfers initiated by local customers.
type OutgoingTransferOrchestrator struct {
	identity  *BankIdentity
	ledger    *Ledger
	registry  Registry
	deliverer TransferDeliverer
	events    rabbitmq.Publisher
	logger    *slog.Logger
}

func NewOutgoingTransferOrchestrator(identity *BankIdentity, ledger *Ledger, registry Registry, deliverer TransferDeliverer, events rabbitmq.Publisher, logger *slog.Logger) *OutgoingTransferOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutgoingTransferOrchestrator{
		identity:  identity,
		ledger:    ledger,
		registry:  registry,
		deliverer: deliverer,
		events:    events,
		logger:    logger.With("component", "outgoing_transfer"),
	}
}

// Transfer moves req.Amount out of req.AccountFrom.
func (o *OutgoingTransferOrchestrator) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	req.AccountFrom = strings.TrimSpace(req.AccountFrom)
	req.AccountTo = strings.TrimSpace(req.AccountTo)

	source, err := o.ledger.Account(ctx, req.AccountFrom)
	if err != nil {
		return nil, err
	}
	if !source.IsActive {
		return nil, newError(ErrAccountNotFound, "Source account is not active", nil)
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := validateExplanation(req.Explanation); err != nil {
		return nil, err
	}
	if err := validateAccountIdentifier("Destination account", req.AccountTo); err != nil {
		return nil, err
	}
	if req.AccountTo == source.Number {
		return nil, newError(ErrValidation, "Source and destination accounts must differ", nil)
	}

	if o.identity.OwnsAccount(req.AccountTo) {
		return o.transferInternal(ctx, source, req)
	}
	return o.transferExternal(ctx, source, req)
}

func (o *OutgoingTransferOrchestrator) transferInternal(ctx context.Context, source *domain.Account, req domain.TransferRequest) (*domain.TransferResult, error) {
	destination, err := o.ledger.Account(ctx, req.AccountTo)
	if err != nil {
		return nil, tag(err, "Destination account not found")
	}
	if !destination.IsActive {
		return nil, newError(ErrAccountNotFound, "Destination account is not active", nil)
	}
	if destination.Currency != source.Currency {
		return nil, newError(ErrValidation, fmt.Sprintf("Currency mismatch: %s to %s", source.Currency, destination.Currency), nil)
	}
	if err := o.checkFunds(ctx, source, req); err != nil {
		return nil, err
	}

	tx, err := o.ledger.Settle(ctx, PendingTransfer{
		Direction:   domain.DirectionInternal,
		AccountFrom: source.Number,
		AccountTo:   destination.Number,
		Amount:      req.Amount,
		Currency:    source.Currency,
		Explanation: req.Explanation,
		SenderName:  source.OwnerName,
		IsInternal:  true,
	}, destination.OwnerName)
	if err != nil {
		o.logger.Warn("internal transfer rejected", "from", source.Number, "to", destination.Number, "error", err)
		return nil, tag(err, errorMessageFor(err))
	}

	o.logger.Info("internal transfer completed", "transaction_id", tx.ID, "from", source.Number, "to", destination.Number, "amount", tx.Amount.StringFixed(2))
	publishTransferEvent(ctx, o.events, o.logger, domain.EventTransferCompleted, tx)
	return resultOf(tx), nil
}

func (o *OutgoingTransferOrchestrator) transferExternal(ctx context.Context, source *domain.Account, req domain.TransferRequest) (*domain.TransferResult, error) {
	if !o.identity.IsRegistered() {
		return nil, newError(ErrNotRegistered, "Bank is not registered with the central bank", nil)
	}
	if o.identity.Keys == nil {
		return nil, newError(ErrKeyFormat, "Bank signing key not configured", nil)
	}
	if err := o.checkFunds(ctx, source, req); err != nil {
		return nil, err
	}

	tx, err := o.ledger.CreatePending(ctx, PendingTransfer{
		Direction:         domain.DirectionOutgoing,
		AccountFrom:       source.Number,
		AccountToExternal: req.AccountTo,
		Amount:            req.Amount,
		Currency:          source.Currency,
		Explanation:       req.Explanation,
		SenderName:        source.OwnerName,
	})
	if err != nil {
		return nil, err
	}
	log := o.logger.With("transaction_id", tx.ID, "to", req.AccountTo)

	prefix := domain.BankPrefixOf(req.AccountTo)
	bank, err := o.registry.LookupBank(ctx, prefix)
	if err != nil {
		return o.fail(ctx, log, tx, "registry lookup failed: "+err.Error(), tag(err, lookupMessage(err, prefix)))
	}

	token, err := keys.Sign(newTransferClaims(tx), o.identity.Keys.Private, o.identity.KeyID)
	if err != nil {
		return o.fail(ctx, log, tx, "signing failed: "+err.Error(), tag(err, "Failed to sign transfer"))
	}

	receiverName, err := o.deliverer.Deliver(ctx, bank.TransactionURL, token)
	if err != nil {
		return o.fail(ctx, log, tx, deliveryDetail(err), newError(ErrTransportFailure, "Transfer rejected by destination bank: "+deliveryDetail(err), err))
	}

	if err := o.ledger.MarkDelivered(ctx, tx, receiverName); err != nil {
		log.Error("failed to record delivery acknowledgement", "error", err)
	}
	return o.complete(ctx, log, tx, receiverName)
}

func (o *OutgoingTransferOrchestrator) complete(ctx context.Context, log *slog.Logger, tx *domain.Transaction, receiverName string) (*domain.TransferResult, error) {
	err := o.ledger.Complete(ctx, tx, receiverName)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrTransactionFinalized):
		// The reconciler may have finished the record first.
		current, findErr := o.ledger.Transaction(ctx, tx.ID)
		if findErr != nil {
			return nil, fmt.Errorf("failed to reload transaction %s: %w", tx.ID, findErr)
		}
		*tx = *current
		if tx.Status == domain.StatusCompleted {
			return resultOf(tx), nil
		}
		return resultOf(tx), finalizedFailure(tx, err)
	case errors.Is(err, store.ErrInsufficientFunds):
		log.Error("delivered transfer could not be debited", "outcome", "manual_review", "error", err)
		if failErr := o.ledger.Fail(ctx, tx, manualReviewDetail); failErr != nil {
			log.Error("failed to mark transaction failed", "error", failErr)
		} else {
			publishTransferEvent(ctx, o.events, o.logger, domain.EventTransferFailed, tx)
		}
		return resultOf(tx), newError(ErrInsufficientFunds, "Insufficient funds", err)
	default:
		log.Error("delivered transfer left pending for reconciliation", "outcome", "pending", "error", err)
		tx.CounterpartyName = &receiverName
		return resultOf(tx), nil
	}

	log.Info("outgoing transfer completed", "outcome", "completed", "receiver", receiverName, "amount", tx.Amount.StringFixed(2))
	publishTransferEvent(ctx, o.events, o.logger, domain.EventTransferCompleted, tx)
	return resultOf(tx), nil
}

func (o *OutgoingTransferOrchestrator) fail(ctx context.Context, log *slog.Logger, tx *domain.Transaction, detail string, cause error) (*domain.TransferResult, error) {
	log.Warn("outgoing transfer failed", "outcome", "failed", "reason", detail)
	if err := o.ledger.Fail(ctx, tx, detail); err != nil {
		log.Error("failed to mark transaction failed", "error", err)
	} else {
		publishTransferEvent(ctx, o.events, o.logger, domain.EventTransferFailed, tx)
	}
	return resultOf(tx), cause
}

func (o *OutgoingTransferOrchestrator) checkFunds(ctx context.Context, source *domain.Account, req domain.TransferRequest) error {
	ok, err := o.ledger.HasSufficientFunds(ctx, source, req.Amount)
	if err != nil {
		return err
	}
	if !ok {
		return newError(ErrInsufficientFunds, "Insufficient funds", nil)
	}
	return nil
}

// finalizedFailure describes a record another process failed first. The
// stored detail is reported as is.
func finalizedFailure(tx *domain.Transaction, cause error) error {
	detail := "Transfer failed"
	if tx.ErrorMessage != nil && *tx.ErrorMessage != "" {
		detail = *tx.ErrorMessage
	}
	if detail == manualReviewDetail {
		return newError(ErrInsufficientFunds, "Insufficient funds", cause)
	}
	return newError(ErrTransportFailure, detail, cause)
}

func resultOf(tx *domain.Transaction) *domain.TransferResult {
	result := &domain.TransferResult{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Internal:      tx.IsInternal,
	}
	if tx.CounterpartyName != nil {
		result.ReceiverName = *tx.CounterpartyName
	}
	if tx.ErrorMessage != nil {
		result.Error = *tx.ErrorMessage
	}
	return result
}

func lookupMessage(err error, prefix string) string {
	switch classify(err) {
	case ErrBankNotFound:
		return fmt.Sprintf("Destination bank %q not found", prefix)
	case ErrNotRegistered:
		return "Bank is not registered with the central bank"
	default:
		return "Central bank connectivity issues"
	}
}

func deliveryDetail(err error) string {
	var remote *bankclient.RemoteError
	if errors.As(err, &remote) {
		if remote.Message != "" {
			return remote.Message
		}
		return fmt.Sprintf("destination bank returned status %d", remote.StatusCode)
	}
	return err.Error()
}

func errorMessageFor(err error) string {
	switch classify(err) {
	case ErrInsufficientFunds:
		return "Insufficient funds"
	case ErrAccountNotFound:
		return "Account not found"
	}
	return err.Error()
}
