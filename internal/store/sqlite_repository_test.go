package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
)

func newTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedAccount(t *testing.T, repo Repository, number, owner, balance string) *domain.Account {
	t.Helper()
	ctx := context.Background()
	user := &domain.User{ID: uuid.New(), Username: owner, FullName: owner + " Owner", CreatedAt: time.Now().UTC()}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	account := &domain.Account{
		ID:        uuid.New(),
		Number:    number,
		UserID:    user.ID,
		Balance:   decimal.RequireFromString(balance),
		Currency:  "EUR",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateAccount(ctx, account); err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}
	return account
}

func strPtr(s string) *string { return &s }

func pendingOutgoing(id, from, to, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:                id,
		Direction:         domain.DirectionOutgoing,
		AccountFrom:       strPtr(from),
		AccountToExternal: strPtr(to),
		Amount:            decimal.RequireFromString(amount),
		Currency:          "EUR",
		Explanation:       "rent",
		SenderName:        "alice Owner",
		Status:            domain.StatusPending,
		CreatedAt:         time.Now().UTC(),
	}
}

func balanceOf(t *testing.T, repo Repository, number string) string {
	t.Helper()
	account, err := repo.FindAccountByNumber(context.Background(), number)
	if err != nil {
		t.Fatalf("FindAccountByNumber(%s) error = %v", number, err)
	}
	return account.Balance.StringFixed(2)
}

func TestSQLiteRepository_MigrationsAreIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	if err := runMigrations(context.Background(), "sqlite", repo); err != nil {
		t.Fatalf("second migration run error = %v", err)
	}
}

func TestSQLiteRepository_AccountLookupIncludesOwner(t *testing.T) {
	repo := newTestRepository(t)
	seedAccount(t, repo, "BNK1111", "alice", "100.00")

	account, err := repo.FindAccountByNumber(context.Background(), "BNK1111")
	if err != nil {
		t.Fatalf("FindAccountByNumber() error = %v", err)
	}
	if account.OwnerName != "alice Owner" {
		t.Fatalf("expected owner name, got %q", account.OwnerName)
	}
	if !account.Balance.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected balance 100, got %s", account.Balance)
	}

	if _, err := repo.FindAccountByNumber(context.Background(), "BNK9999"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSQLiteRepository_DuplicateUsername(t *testing.T) {
	repo := newTestRepository(t)
	seedAccount(t, repo, "BNK1111", "alice", "0")

	err := repo.CreateUser(context.Background(), &domain.User{ID: uuid.New(), Username: "alice", FullName: "Other", CreatedAt: time.Now()})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestSQLiteRepository_SettleInternalTransferConservesBalance(t *testing.T) {
	repo := newTestRepository(t)
	seedAccount(t, repo, "BNK1111", "alice", "100.00")
	seedAccount(t, repo, "BNK2222", "bob", "10.00")

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:               "tx-internal",
		Direction:        domain.DirectionInternal,
		AccountFrom:      strPtr("BNK1111"),
		AccountTo:        strPtr("BNK2222"),
		Amount:           decimal.RequireFromString("40.00"),
		Currency:         "EUR",
		Status:           domain.StatusCompleted,
		CounterpartyName: strPtr("bob Owner"),
		IsInternal:       true,
		CreatedAt:        now,
		CompletedAt:      &now,
	}
	if err := repo.SettleTransaction(context.Background(), tx); err != nil {
		t.Fatalf("SettleTransaction() error = %v", err)
	}

	if got := balanceOf(t, repo, "BNK1111"); got != "60.00" {
		t.Fatalf("sender balance = %s, want 60.00", got)
	}
	if got := balanceOf(t, repo, "BNK2222"); got != "50.00" {
		t.Fatalf("receiver balance = %s, want 50.00", got)
	}

	stored, err := repo.FindTransactionByID(context.Background(), "tx-internal")
	if err != nil {
		t.Fatalf("FindTransactionByID() error = %v", err)
	}
	if stored.Status != domain.StatusCompleted || !stored.IsInternal || stored.Amount.StringFixed(2) != "40.00" {
		t.Fatalf("unexpected stored record %+v", stored)
	}
}

func TestSQLiteRepository_SettleRejectsOverdraftWithoutWriting(t *testing.T) {
	repo := newTestRepository(t)
	seedAccount(t, repo, "BNK1111", "alice", "5.00")
	seedAccount(t, repo, "BNK2222", "bob", "0.00")

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID: "tx-overdraft", Direction: domain.DirectionInternal,
		AccountFrom: strPtr("BNK1111"), AccountTo: strPtr("BNK2222"),
		Amount: decimal.RequireFromString("5.01"), Currency: "EUR",
		Status: domain.StatusCompleted, IsInternal: true, CreatedAt: now, CompletedAt: &now,
	}
	if err := repo.SettleTransaction(context.Background(), tx); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := balanceOf(t, repo, "BNK2222"); got != "0.00" {
		t.Fatalf("receiver balance changed to %s", got)
	}
	if _, err := repo.FindTransactionByID(context.Background(), "tx-overdraft"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected no record, got %v", err)
	}
}

func TestSQLiteRepository_CompleteIsAppliedOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "100.00")

	if err := repo.CreateTransaction(ctx, pendingOutgoing("tx-out", "BNK1111", "XYZ0001", "30.00")); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	record, err := repo.CompleteTransaction(ctx, "tx-out", "Foreign Person", time.Now())
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	if record.Status != domain.StatusCompleted || record.CompletedAt == nil {
		t.Fatalf("unexpected record after completion: %+v", record)
	}

	if _, err := repo.CompleteTransaction(ctx, "tx-out", "Foreign Person", time.Now()); !errors.Is(err, ErrTransactionFinalized) {
		t.Fatalf("expected ErrTransactionFinalized on second completion, got %v", err)
	}
	if _, err := repo.FailTransaction(ctx, "tx-out", "late failure"); !errors.Is(err, ErrTransactionFinalized) {
		t.Fatalf("expected ErrTransactionFinalized on fail after completion, got %v", err)
	}
	if got := balanceOf(t, repo, "BNK1111"); got != "70.00" {
		t.Fatalf("balance = %s, want 70.00", got)
	}
}

func TestSQLiteRepository_ConcurrentCompletionsDebitOnce(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "100.00")
	if err := repo.CreateTransaction(ctx, pendingOutgoing("tx-race", "BNK1111", "XYZ0001", "25.00")); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.CompleteTransaction(ctx, "tx-race", "X", time.Now()); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one successful completion, got %d", successes)
	}
	if got := balanceOf(t, repo, "BNK1111"); got != "75.00" {
		t.Fatalf("balance = %s, want 75.00", got)
	}
}

func TestSQLiteRepository_CompleteRejectsOverdraft(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "10.00")
	if err := repo.CreateTransaction(ctx, pendingOutgoing("tx-big", "BNK1111", "XYZ0001", "10.01")); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	if _, err := repo.CompleteTransaction(ctx, "tx-big", "X", time.Now()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	stored, err := repo.FindTransactionByID(ctx, "tx-big")
	if err != nil {
		t.Fatalf("FindTransactionByID() error = %v", err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected record to stay pending after rollback, got %s", stored.Status)
	}
}

func TestSQLiteRepository_FailTruncatesDetail(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "10.00")
	if err := repo.CreateTransaction(ctx, pendingOutgoing("tx-fail", "BNK1111", "XYZ0001", "1.00")); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	record, err := repo.FailTransaction(ctx, "tx-fail", string(long))
	if err != nil {
		t.Fatalf("FailTransaction() error = %v", err)
	}
	if record.ErrorMessage == nil || len(*record.ErrorMessage) != domain.MaxErrorMessageLength {
		t.Fatalf("expected truncated error detail, got %v", record.ErrorMessage)
	}
	if got := balanceOf(t, repo, "BNK1111"); got != "10.00" {
		t.Fatalf("balance changed on failure: %s", got)
	}

	if _, err := repo.FailTransaction(ctx, "missing", "x"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestSQLiteRepository_ListUnsettledTransactions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "100.00")

	old := pendingOutgoing("tx-stale", "BNK1111", "XYZ0001", "1.00")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	fresh := pendingOutgoing("tx-fresh", "BNK1111", "XYZ0001", "1.00")
	delivered := pendingOutgoing("tx-delivered", "BNK1111", "XYZ0001", "1.00")
	for _, tx := range []*domain.Transaction{old, fresh, delivered} {
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction(%s) error = %v", tx.ID, err)
		}
	}
	if err := repo.MarkTransactionDelivered(ctx, "tx-delivered", "Foreign", time.Now()); err != nil {
		t.Fatalf("MarkTransactionDelivered() error = %v", err)
	}

	list, err := repo.ListUnsettledTransactions(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListUnsettledTransactions() error = %v", err)
	}
	got := map[string]bool{}
	for _, tx := range list {
		got[tx.ID] = true
	}
	if len(got) != 2 || !got["tx-stale"] || !got["tx-delivered"] {
		t.Fatalf("unexpected unsettled set %v", got)
	}
}

func TestSQLiteRepository_HistoryNewestFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "100.00")
	seedAccount(t, repo, "BNK2222", "bob", "0.00")

	first := pendingOutgoing("tx-1", "BNK1111", "XYZ0001", "1.00")
	first.CreatedAt = time.Now().UTC().Add(-time.Minute)
	second := pendingOutgoing("tx-2", "BNK1111", "XYZ0001", "2.00")
	for _, tx := range []*domain.Transaction{first, second} {
		if err := repo.CreateTransaction(ctx, tx); err != nil {
			t.Fatalf("CreateTransaction() error = %v", err)
		}
	}

	list, err := repo.ListTransactionsByAccount(ctx, "BNK1111", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByAccount() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "tx-2" || list[1].ID != "tx-1" {
		t.Fatalf("unexpected history order %+v", list)
	}

	other, err := repo.ListTransactionsByAccount(ctx, "BNK2222", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactionsByAccount() error = %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected empty history for BNK2222, got %d", len(other))
	}
}

func TestSQLiteRepository_BankSettingsUpsert(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	if _, err := repo.GetBankSettings(ctx); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound, got %v", err)
	}

	settings := &domain.BankSettings{BankName: "Test Bank", KeyID: "1", PrivateKeyPEM: "pem"}
	if err := repo.SaveBankSettings(ctx, settings); err != nil {
		t.Fatalf("SaveBankSettings() error = %v", err)
	}
	settings.BankPrefix = "BNK"
	settings.APIKey = "secret"
	if err := repo.SaveBankSettings(ctx, settings); err != nil {
		t.Fatalf("SaveBankSettings() second call error = %v", err)
	}

	loaded, err := repo.GetBankSettings(ctx)
	if err != nil {
		t.Fatalf("GetBankSettings() error = %v", err)
	}
	if loaded.BankName != "Test Bank" || loaded.BankPrefix != "BNK" || loaded.APIKey != "secret" || loaded.PrivateKeyPEM != "pem" {
		t.Fatalf("unexpected settings %+v", loaded)
	}
}

func TestBalanceChanges_OrderedByAccountNumber(t *testing.T) {
	tx := &domain.Transaction{
		AccountFrom: strPtr("BNK9"),
		AccountTo:   strPtr("BNK1"),
		Amount:      decimal.RequireFromString("3"),
	}
	changes := balanceChanges(tx)
	if len(changes) != 2 || changes[0].accountNumber != "BNK1" || !changes[0].delta.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if changes[1].accountNumber != "BNK9" || !changes[1].delta.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("unexpected debit %+v", changes[1])
	}
}

func TestBoundPartyNames(t *testing.T) {
	long := strings.Repeat("é", 300)
	tx := &domain.Transaction{SenderName: long, CounterpartyName: strPtr(long)}
	boundPartyNames(tx)

	if n := len([]rune(tx.SenderName)); n != domain.MaxPartyNameLength {
		t.Fatalf("sender name length = %d, want %d", n, domain.MaxPartyNameLength)
	}
	if n := len([]rune(*tx.CounterpartyName)); n != domain.MaxPartyNameLength {
		t.Fatalf("counterparty name length = %d, want %d", n, domain.MaxPartyNameLength)
	}

	short := &domain.Transaction{SenderName: "Sam"}
	boundPartyNames(short)
	if short.SenderName != "Sam" || short.CounterpartyName != nil {
		t.Fatalf("short names changed: %+v", short)
	}
}

func TestSQLiteRepository_DeliveredNameFromForeignBankIsBounded(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK1111", "alice", "100.00")

	if err := repo.CreateTransaction(ctx, pendingOutgoing("tx-long-name", "BNK1111", "EXT0001", "10.00")); err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}
	receiver := strings.Repeat("R", 300)
	if err := repo.MarkTransactionDelivered(ctx, "tx-long-name", receiver, time.Now()); err != nil {
		t.Fatalf("MarkTransactionDelivered() error = %v", err)
	}
	delivered, err := repo.FindTransactionByID(ctx, "tx-long-name")
	if err != nil {
		t.Fatalf("FindTransactionByID() error = %v", err)
	}
	if delivered.DeliveredAt == nil || len(*delivered.CounterpartyName) != domain.MaxPartyNameLength {
		t.Fatalf("expected delivered marker with bounded name, got %+v", delivered)
	}

	record, err := repo.CompleteTransaction(ctx, "tx-long-name", receiver, time.Now())
	if err != nil {
		t.Fatalf("CompleteTransaction() error = %v", err)
	}
	if len(*record.CounterpartyName) != domain.MaxPartyNameLength {
		t.Fatalf("completed name length = %d", len(*record.CounterpartyName))
	}
	if got := balanceOf(t, repo, "BNK1111"); got != "90.00" {
		t.Fatalf("sender balance = %s, want 90.00", got)
	}
}

func TestSQLiteRepository_SettleBoundsSenderName(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	seedAccount(t, repo, "BNK2222", "bob", "0.00")

	now := time.Now().UTC()
	sender := strings.Repeat("S", 300)
	tx := &domain.Transaction{
		ID:                  "tx-incoming-long",
		Direction:           domain.DirectionIncoming,
		AccountTo:           strPtr("BNK2222"),
		AccountFromExternal: strPtr("SND0001"),
		Amount:              decimal.RequireFromString("5.00"),
		Currency:            "EUR",
		SenderName:          sender,
		CounterpartyName:    strPtr(sender),
		Status:              domain.StatusCompleted,
		CreatedAt:           now,
		CompletedAt:         &now,
	}
	if err := repo.SettleTransaction(ctx, tx); err != nil {
		t.Fatalf("SettleTransaction() error = %v", err)
	}

	stored, err := repo.FindTransactionByID(ctx, "tx-incoming-long")
	if err != nil {
		t.Fatalf("FindTransactionByID() error = %v", err)
	}
	if len(stored.SenderName) != domain.MaxPartyNameLength || len(*stored.CounterpartyName) != domain.MaxPartyNameLength {
		t.Fatalf("expected bounded names, got %d / %d", len(stored.SenderName), len(*stored.CounterpartyName))
	}
}
