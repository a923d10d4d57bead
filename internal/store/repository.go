/**
 * @description
 * This file defines the `Repository` interface: every persistence operation
 * the ledger needs. Two implementations exist, PostgreSQL through pgx and an
 * embedded SQLite database through bun, and both honour the same locking and
 * status-transition rules.
 *
 * @dependencies
 * - github.com/shopspring/decimal: balance arithmetic.
 * - internal/domain: the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUsernameTaken        = errors.New("username already exists")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountInactive      = errors.New("account is not active")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrTransactionFinalized = errors.New("transaction already finalized")
	ErrSettingsNotFound     = errors.New("bank settings not found")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Users and accounts
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)

	// Transactions. CompleteTransaction and SettleTransaction are the only
	// methods that touch balances.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error)
	ListTransactionsByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]domain.Transaction, error)
	ListUnsettledTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error)
	MarkTransactionDelivered(ctx context.Context, transactionID, counterpartyName string, deliveredAt time.Time) error
	CompleteTransaction(ctx context.Context, transactionID, counterpartyName string, completedAt time.Time) (*domain.Transaction, error)
	SettleTransaction(ctx context.Context, tx *domain.Transaction) error
	FailTransaction(ctx context.Context, transactionID, detail string) (*domain.Transaction, error)

	// Bank identity
	GetBankSettings(ctx context.Context) (*domain.BankSettings, error)
	SaveBankSettings(ctx context.Context, settings *domain.BankSettings) error

	Close() error
}

type balanceChange struct {
	accountNumber string
	delta         decimal.Decimal
}

// balanceChanges derives the mutation a completed transaction applies: a
// debit of the local source, a credit of the local destination, or both.
// Changes are ordered by account number so concurrent transfers lock rows in
// the same order.
func balanceChanges(tx *domain.Transaction) []balanceChange {
	var changes []balanceChange
	if tx.AccountFrom != nil {
		changes = append(changes, balanceChange{accountNumber: *tx.AccountFrom, delta: tx.Amount.Neg()})
	}
	if tx.AccountTo != nil {
		changes = append(changes, balanceChange{accountNumber: *tx.AccountTo, delta: tx.Amount})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].accountNumber < changes[j].accountNumber
	})
	return changes
}

// applyDelta returns the new balance or ErrInsufficientFunds when a debit
// would take it below zero.
func applyDelta(balance, delta decimal.Decimal) (decimal.Decimal, error) {
	next := balance.Add(delta)
	if next.IsNegative() {
		return balance, ErrInsufficientFunds
	}
	return next, nil
}

// boundPartyNames clips the sender and counterparty names, which may come
// from a foreign bank, to the column width.
func boundPartyNames(tx *domain.Transaction) {
	tx.SenderName = truncate(tx.SenderName, domain.MaxPartyNameLength)
	if tx.CounterpartyName != nil {
		name := truncate(*tx.CounterpartyName, domain.MaxPartyNameLength)
		tx.CounterpartyName = &name
	}
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
