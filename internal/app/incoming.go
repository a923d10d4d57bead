/**
 * @description
 * Incoming bank-to-bank transfers. A token is only trusted after the sender
 * bank has been confirmed with the central registry, its published key has
 * been fetched, and the RS256 signature has been verified against that key.
 * Nothing is written before verification succeeds; the credit is then
 * settled in a single database transaction.
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
	"github.com/transfa/interbank-service/pkg/rabbitmq"
)

// UnknownSenderName is the counterparty recorded when a sender gives no name.
const UnknownSenderName = "Unknown sender"

// KeyFetcher downloads a foreign bank's key set.
type KeyFetcher interface {
	FetchJWKS(ctx context.Context, jwksURL string) (keys.JWKS, error)
}

// ReceiveResult is returned to the sending bank.
type ReceiveResult struct {
	TransactionID string
	ReceiverName  string
}

// IncomingTransferReceiver verifies and settles transfers from foreign banks.
type IncomingTransferReceiver struct {
	identity *BankIdentity
	ledger   *Ledger
	registry Registry
	keys     KeyFetcher
	events   rabbitmq.Publisher
	limiter  *SenderLimiter
	logger   *slog.Logger
}

func NewIncomingTransferReceiver(identity *BankIdentity, ledger *Ledger, registry Registry, fetcher KeyFetcher, events rabbitmq.Publisher, logger *slog.Logger) *IncomingTransferReceiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncomingTransferReceiver{
		identity: identity,
		ledger:   ledger,
		registry: registry,
		keys:     fetcher,
		events:   events,
		logger:   logger.With("component", "incoming_transfer"),
	}
}

// SetSenderLimiter enables the per-sender budget. It is charged only after
// the signature has been verified, so a forged token cannot spend another
// bank's allowance.
func (r *IncomingTransferReceiver) SetSenderLimiter(limiter *SenderLimiter) {
	r.limiter = limiter
}

// Receive verifies token and credits the destination account.
func (r *IncomingTransferReceiver) Receive(ctx context.Context, token string) (*ReceiveResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, newError(ErrValidation, "Missing jwt", nil)
	}

	var claims TransferClaims
	header, err := keys.ParseUnverified(token, &claims)
	if err != nil {
		return nil, r.reject(tag(err, "Malformed transfer token"), "parse")
	}

	accountTo := strings.TrimSpace(claims.AccountTo)
	accountFrom := strings.TrimSpace(claims.AccountFrom)
	if accountTo == "" || !r.identity.OwnsAccount(accountTo) {
		return nil, r.reject(newError(ErrValidation, "Destination account does not belong to this bank", nil), "destination_prefix")
	}
	if err := validateAccountIdentifier("Source account", accountFrom); err != nil {
		return nil, r.reject(err, "source")
	}
	if r.identity.OwnsAccount(accountFrom) {
		return nil, r.reject(newError(ErrValidation, "Source account must belong to a foreign bank", nil), "source_prefix")
	}
	amount, err := claims.ParsedAmount()
	if err != nil {
		return nil, r.reject(err, "amount")
	}
	if err := validateAmount(amount); err != nil {
		return nil, r.reject(err, "amount")
	}
	currency := domain.NormalizeCurrency(claims.Currency)
	if currency == "" {
		return nil, r.reject(newError(ErrValidation, "Missing currency", nil), "currency")
	}
	if err := validateExplanation(claims.Explanation); err != nil {
		return nil, r.reject(err, "explanation")
	}

	destination, err := r.ledger.Account(ctx, accountTo)
	if err != nil {
		return nil, r.reject(tag(err, "Account not found"), "destination")
	}
	if !destination.IsActive {
		return nil, r.reject(newError(ErrAccountNotFound, "Account not found", nil), "destination_inactive")
	}
	if destination.Currency != currency {
		return nil, r.reject(newError(ErrValidation, fmt.Sprintf("Currency mismatch: account holds %s", destination.Currency), nil), "currency_mismatch")
	}

	// One lookup both validates the sender bank and yields its key URL.
	senderBank, err := r.registry.LookupBank(ctx, domain.BankPrefixOf(accountFrom))
	if err != nil {
		if classify(err) == ErrBankNotFound {
			return nil, r.reject(newError(ErrBankNotFound, "Sender bank not found", err), "sender_bank")
		}
		return nil, r.reject(tag(err, "Central bank connectivity issues"), "sender_lookup")
	}

	set, err := r.keys.FetchJWKS(ctx, senderBank.JWKSURL)
	if err != nil {
		return nil, r.reject(tag(err, "Failed to fetch sender keys"), "jwks_fetch")
	}
	jwk, ok := set.Find(header.KeyID)
	if !ok {
		return nil, r.reject(newError(ErrUnsupportedKey, fmt.Sprintf("No key found for kid %q", header.KeyID), nil), "unknown_kid")
	}
	publicKey, err := keys.JWKToPublicKey(jwk)
	if err != nil {
		return nil, r.reject(tag(err, "Invalid sender key"), "jwk")
	}

	var verified TransferClaims
	if err := keys.Verify(token, publicKey, &verified); err != nil {
		return nil, r.reject(tag(err, "Invalid signature"), "signature")
	}
	if err := r.limiter.AllowSender(ctx, domain.BankPrefixOf(accountFrom)); err != nil {
		return nil, r.reject(err, "rate_limited")
	}

	counterparty := strings.TrimSpace(verified.SenderName)
	if counterparty == "" {
		counterparty = UnknownSenderName
	}
	tx, err := r.ledger.Settle(ctx, PendingTransfer{
		Direction:           domain.DirectionIncoming,
		AccountTo:           destination.Number,
		AccountFromExternal: accountFrom,
		Amount:              amount,
		Currency:            currency,
		Explanation:         verified.Explanation,
		SenderName:          counterparty,
	}, counterparty)
	if err != nil {
		return nil, r.reject(tag(err, errorMessageFor(err)), "settle")
	}

	r.logger.Info("incoming transfer completed", "outcome", "completed", "transaction_id", tx.ID, "from", accountFrom, "to", destination.Number, "amount", amount.StringFixed(2))
	publishTransferEvent(ctx, r.events, r.logger, domain.EventTransferReceived, tx)
	return &ReceiveResult{TransactionID: tx.ID, ReceiverName: destination.OwnerName}, nil
}

func (r *IncomingTransferReceiver) reject(err error, reason string) error {
	level := slog.LevelWarn
	if KindOf(err) == nil || errors.Is(err, ErrRegistryUnreachable) || errors.Is(err, ErrNotRegistered) {
		level = slog.LevelError
	}
	r.logger.Log(context.Background(), level, "incoming transfer rejected", "outcome", "rejected", "reason", reason, "error", err)
	return err
}
