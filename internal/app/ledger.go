/**
 * @description
 * The Ledger owns every state change of transaction records and every
 * balance mutation. Orchestrators decide which transition to take; the
 * Ledger applies it through the repository inside one database transaction.
 *
 * @notes
 * - Balances move only in Complete and Settle, on the transition into
 *   completed, exactly once per record.
 * - No network call is ever made while a balance row is locked.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/store"
)

// PendingTransfer describes a record about to be written.
type PendingTransfer struct {
	Direction           string
	AccountFrom         string
	AccountTo           string
	AccountFromExternal string
	AccountToExternal   string
	Amount              decimal.Decimal
	Currency            string
	Explanation         string
	SenderName          string
	IsInternal          bool
}

// Ledger records transfers and applies their balance mutation.
type Ledger struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewLedger(repo store.Repository, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:   repo,
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewTransactionID returns 32 lowercase hex characters.
func NewTransactionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewAccountNumber returns prefix followed by 32 lowercase hex characters.
func NewAccountNumber(prefix string) string {
	return prefix + NewTransactionID()
}

// CreateUser stores a new account holder.
func (l *Ledger) CreateUser(ctx context.Context, username, fullName string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	fullName = strings.TrimSpace(fullName)
	if username == "" || fullName == "" {
		return nil, newError(ErrValidation, "Username and full name are required", nil)
	}

	user := &domain.User{ID: uuid.New(), Username: username, FullName: fullName, CreatedAt: l.now()}
	if err := l.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, newError(ErrValidation, "Username already exists", err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// OpenAccount creates an active account for username under the bank prefix.
func (l *Ledger) OpenAccount(ctx context.Context, prefix, username, currency string, initialBalance decimal.Decimal) (*domain.Account, error) {
	if len(prefix) != domain.BankPrefixLength {
		return nil, newError(ErrNotRegistered, "Bank prefix is not configured", nil)
	}
	currency = domain.NormalizeCurrency(currency)
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if !domain.IsSupportedCurrency(currency) {
		return nil, newError(ErrValidation, fmt.Sprintf("Unsupported currency %q", currency), nil)
	}
	if initialBalance.IsNegative() || !initialBalance.Equal(initialBalance.Truncate(2)) {
		return nil, newError(ErrValidation, "Initial balance must be non-negative with at most two decimal places", nil)
	}

	user, err := l.repo.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, newError(ErrValidation, "User not found", err)
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	account := &domain.Account{
		ID:        uuid.New(),
		Number:    NewAccountNumber(prefix),
		UserID:    user.ID,
		OwnerName: user.FullName,
		Balance:   initialBalance,
		Currency:  currency,
		IsActive:  true,
		CreatedAt: l.now(),
	}
	if err := l.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	l.logger.Info("account opened", "account", account.Number, "currency", currency)
	return account, nil
}

func (l *Ledger) newRecord(p PendingTransfer, status string) *domain.Transaction {
	return &domain.Transaction{
		ID:                  NewTransactionID(),
		Direction:           p.Direction,
		AccountFrom:         optional(p.AccountFrom),
		AccountTo:           optional(p.AccountTo),
		AccountFromExternal: optional(p.AccountFromExternal),
		AccountToExternal:   optional(p.AccountToExternal),
		Amount:              p.Amount,
		Currency:            p.Currency,
		Explanation:         p.Explanation,
		SenderName:          p.SenderName,
		Status:              status,
		IsInternal:          p.IsInternal,
		CreatedAt:           l.now(),
	}
}

// CreatePending persists a pending record before any network call is made.
func (l *Ledger) CreatePending(ctx context.Context, p PendingTransfer) (*domain.Transaction, error) {
	tx := l.newRecord(p, domain.StatusPending)
	if err := l.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create pending transaction: %w", err)
	}
	return tx, nil
}

// MarkDelivered records that the foreign bank acknowledged the transfer.
// The balance is not touched; Complete (or the reconciler) applies it.
func (l *Ledger) MarkDelivered(ctx context.Context, tx *domain.Transaction, counterpartyName string) error {
	at := l.now()
	if err := l.repo.MarkTransactionDelivered(ctx, tx.ID, counterpartyName, at); err != nil {
		return fmt.Errorf("failed to mark transaction %s delivered: %w", tx.ID, err)
	}
	tx.DeliveredAt = &at
	tx.CounterpartyName = &counterpartyName
	return nil
}

// Complete moves a pending record to completed and applies its mutation.
// tx is updated in place on success.
func (l *Ledger) Complete(ctx context.Context, tx *domain.Transaction, counterpartyName string) error {
	updated, err := l.repo.CompleteTransaction(ctx, tx.ID, counterpartyName, l.now())
	if err != nil {
		return fmt.Errorf("failed to complete transaction %s: %w", tx.ID, err)
	}
	*tx = *updated
	return nil
}

// Settle writes an already completed record and applies its mutation in the
// same database transaction.
func (l *Ledger) Settle(ctx context.Context, p PendingTransfer, counterpartyName string) (*domain.Transaction, error) {
	tx := l.newRecord(p, domain.StatusCompleted)
	completedAt := tx.CreatedAt
	tx.CompletedAt = &completedAt
	tx.CounterpartyName = &counterpartyName
	if err := l.repo.SettleTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to settle transaction: %w", err)
	}
	return tx, nil
}

// Fail moves a pending record to failed with detail. Balances are untouched.
func (l *Ledger) Fail(ctx context.Context, tx *domain.Transaction, detail string) error {
	updated, err := l.repo.FailTransaction(ctx, tx.ID, detail)
	if err != nil {
		return fmt.Errorf("failed to fail transaction %s: %w", tx.ID, err)
	}
	*tx = *updated
	return nil
}

// HasSufficientFunds re-reads the account and compares its balance to amount.
func (l *Ledger) HasSufficientFunds(ctx context.Context, account *domain.Account, amount decimal.Decimal) (bool, error) {
	current, err := l.repo.FindAccountByNumber(ctx, account.Number)
	if err != nil {
		return false, fmt.Errorf("failed to read balance of %s: %w", account.Number, err)
	}
	account.Balance = current.Balance
	return current.Balance.GreaterThanOrEqual(amount), nil
}

func (l *Ledger) Account(ctx context.Context, number string) (*domain.Account, error) {
	account, err := l.repo.FindAccountByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, tag(err, "Account not found")
	}
	return account, nil
}

func (l *Ledger) Transaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return l.repo.FindTransactionByID(ctx, strings.TrimSpace(id))
}

// Transactions lists the history of an account, newest first.
func (l *Ledger) Transactions(ctx context.Context, accountNumber string, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := l.Account(ctx, accountNumber); err != nil {
		return nil, err
	}
	return l.repo.ListTransactionsByAccount(ctx, strings.TrimSpace(accountNumber), limit, offset)
}

// Unsettled returns pending records that were delivered, or that were
// created before cutoff.
func (l *Ledger) Unsettled(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	return l.repo.ListUnsettledTransactions(ctx, cutoff, limit)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
