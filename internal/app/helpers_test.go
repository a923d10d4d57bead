package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
	"github.com/transfa/interbank-service/internal/keys"
	"github.com/transfa/interbank-service/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testBank struct {
	repo     store.Repository
	ledger   *Ledger
	identity *BankIdentity
}

func newTestBank(t *testing.T, prefix string) *testBank {
	t.Helper()
	repo, err := store.NewSQLiteRepository(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	pair, err := keys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	return &testBank{
		repo:   repo,
		ledger: NewLedger(repo, discardLogger()),
		identity: &BankIdentity{
			Name:   prefix + " Bank",
			Prefix: prefix,
			APIKey: "key-" + prefix,
			KeyID:  "1",
			Keys:   pair,
		},
	}
}

func (b *testBank) openAccount(t *testing.T, number, fullName, balance, currency string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	user := &domain.User{ID: uuid.New(), Username: "user-" + number, FullName: fullName, CreatedAt: time.Now().UTC()}
	if err := b.repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	account := &domain.Account{
		ID:        uuid.New(),
		Number:    number,
		UserID:    user.ID,
		OwnerName: fullName,
		Balance:   decimal.RequireFromString(balance),
		Currency:  currency,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.repo.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return account
}

func (b *testBank) balance(t *testing.T, number string) string {
	t.Helper()
	account, err := b.repo.FindAccountByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("FindAccountByNumber(%s) error = %v", number, err)
	}
	return account.Balance.StringFixed(2)
}

func (b *testBank) history(t *testing.T, number string) []domain.Transaction {
	t.Helper()
	txs, err := b.repo.ListTransactionsByAccount(context.Background(), number, 100, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByAccount(%s) error = %v", number, err)
	}
	return txs
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}
