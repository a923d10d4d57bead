package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/store"
)

func TestLedger_OpenAccount(t *testing.T) {
	bank := newTestBank(t, "BNK")
	ctx := context.Background()

	if _, err := bank.ledger.CreateUser(ctx, "alice", "Alice Able"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := bank.ledger.CreateUser(ctx, "alice", "Alice Again"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected duplicate username to be rejected, got %v", err)
	}

	account, err := bank.ledger.OpenAccount(ctx, "BNK", "alice", "usd", dec("12.50"))
	if err != nil {
		t.Fatalf("OpenAccount() error = %v", err)
	}
	if !strings.HasPrefix(account.Number, "BNK") || len(account.Number) != 35 {
		t.Fatalf("unexpected account number %q", account.Number)
	}
	if account.Currency != "USD" || account.OwnerName != "Alice Able" || !account.IsActive {
		t.Fatalf("unexpected account %+v", account)
	}

	stored, err := bank.ledger.Account(ctx, account.Number)
	if err != nil {
		t.Fatalf("Account() error = %v", err)
	}
	if stored.Balance.StringFixed(2) != "12.50" || stored.OwnerName != "Alice Able" {
		t.Fatalf("unexpected stored account %+v", stored)
	}
}

func TestLedger_OpenAccountRejects(t *testing.T) {
	bank := newTestBank(t, "BNK")
	ctx := context.Background()
	if _, err := bank.ledger.CreateUser(ctx, "alice", "Alice Able"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	if _, err := bank.ledger.OpenAccount(ctx, "BNK", "alice", "JPY", dec("0")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unsupported currency rejected, got %v", err)
	}
	if _, err := bank.ledger.OpenAccount(ctx, "BNK", "alice", "EUR", dec("-1")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected negative balance rejected, got %v", err)
	}
	if _, err := bank.ledger.OpenAccount(ctx, "BNK", "nobody", "EUR", dec("0")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown user rejected, got %v", err)
	}
	if _, err := bank.ledger.OpenAccount(ctx, "", "alice", "EUR", dec("0")); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected missing prefix rejected, got %v", err)
	}
}

func TestLedger_TerminalStatusIsImmutable(t *testing.T) {
	bank := newTestBank(t, "BNK")
	bank.openAccount(t, "BNK1111", "Alice Able", "100.00", "EUR")
	ctx := context.Background()

	completed := newPendingOutgoing(t, bank, "10.00")
	if err := bank.ledger.Complete(ctx, completed, "Erin"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := bank.ledger.Fail(ctx, completed, "late failure"); !errors.Is(err, store.ErrTransactionFinalized) {
		t.Fatalf("expected finalized error, got %v", err)
	}
	if err := bank.ledger.Complete(ctx, completed, "Erin"); !errors.Is(err, store.ErrTransactionFinalized) {
		t.Fatalf("expected second completion rejected, got %v", err)
	}

	failed := newPendingOutgoing(t, bank, "10.00")
	if err := bank.ledger.Fail(ctx, failed, strings.Repeat("e", 300)); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if failed.ErrorMessage == nil || len(*failed.ErrorMessage) != domain.MaxErrorMessageLength {
		t.Fatalf("expected truncated detail, got %v", failed.ErrorMessage)
	}
	if err := bank.ledger.Complete(ctx, failed, "Erin"); !errors.Is(err, store.ErrTransactionFinalized) {
		t.Fatalf("expected completion of failed record rejected, got %v", err)
	}

	if got := bank.balance(t, "BNK1111"); got != "90.00" {
		t.Fatalf("expected exactly one debit, got %s", got)
	}
}

func TestLedger_SettleConservesMoney(t *testing.T) {
	bank := newTestBank(t, "BNK")
	bank.openAccount(t, "BNK1111", "Alice Able", "100.00", "EUR")
	bank.openAccount(t, "BNK2222", "Bob Baker", "10.00", "EUR")

	transfer := func(from, to, value string) error {
		_, err := bank.ledger.Settle(context.Background(), PendingTransfer{
			Direction:   domain.DirectionInternal,
			AccountFrom: from,
			AccountTo:   to,
			Amount:      dec(value),
			Currency:    "EUR",
			IsInternal:  true,
		}, "x")
		return err
	}

	for _, step := range []struct{ from, to, value string }{
		{"BNK1111", "BNK2222", "40.00"},
		{"BNK2222", "BNK1111", "5.25"},
		{"BNK1111", "BNK2222", "0.01"},
	} {
		if err := transfer(step.from, step.to, step.value); err != nil {
			t.Fatalf("Settle(%v) error = %v", step, err)
		}
	}
	if err := transfer("BNK2222", "BNK1111", "1000.00"); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected overdraft rejected, got %v", err)
	}

	total := dec(bank.balance(t, "BNK1111")).Add(dec(bank.balance(t, "BNK2222")))
	if total.StringFixed(2) != "110.00" {
		t.Fatalf("expected total 110.00, got %s", total.StringFixed(2))
	}
	if got := bank.balance(t, "BNK1111"); got != "65.24" {
		t.Fatalf("expected 65.24, got %s", got)
	}
}

func TestNewTransactionID(t *testing.T) {
	id := NewTransactionID()
	if len(id) != 32 || strings.ToLower(id) != id || strings.Contains(id, "-") {
		t.Fatalf("unexpected transaction id %q", id)
	}
	if NewTransactionID() == id {
		t.Fatal("expected unique ids")
	}
}
