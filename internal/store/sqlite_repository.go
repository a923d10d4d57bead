/**
 * @description
 * Embedded SQLite implementation of the `Repository` interface, built on bun
 * with the pure Go modernc.org/sqlite driver. The pool is pinned to a single
 * connection: SQLite allows one writer at a time, and serializing every
 * transaction through one connection gives the same isolation the PostgreSQL
 * backend gets from row locks.
 *
 * @dependencies
 * - github.com/uptrace/bun: query builder and model mapping.
 * - modernc.org/sqlite: pure Go SQLite driver registered as "sqlite".
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

type userModel struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID        string    `bun:"id,pk"`
	Username  string    `bun:"username"`
	FullName  string    `bun:"full_name"`
	CreatedAt time.Time `bun:"created_at"`
}

type accountModel struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`

	ID            string    `bun:"id,pk"`
	AccountNumber string    `bun:"account_number"`
	UserID        string    `bun:"user_id"`
	Balance       string    `bun:"balance"`
	Currency      string    `bun:"currency"`
	IsActive      bool      `bun:"is_active"`
	CreatedAt     time.Time `bun:"created_at"`
}

type transactionModel struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	TransactionID       string     `bun:"transaction_id,pk"`
	Direction           string     `bun:"direction"`
	AccountFrom         *string    `bun:"account_from"`
	AccountTo           *string    `bun:"account_to"`
	AccountFromExternal *string    `bun:"account_from_external"`
	AccountToExternal   *string    `bun:"account_to_external"`
	Amount              string     `bun:"amount"`
	Currency            string     `bun:"currency"`
	Explanation         string     `bun:"explanation"`
	SenderName          string     `bun:"sender_name"`
	CounterpartyName    *string    `bun:"counterparty_name"`
	Status              string     `bun:"status"`
	ErrorMessage        *string    `bun:"error_message"`
	IsInternal          bool       `bun:"is_internal"`
	CreatedAt           time.Time  `bun:"created_at"`
	DeliveredAt         *time.Time `bun:"delivered_at"`
	CompletedAt         *time.Time `bun:"completed_at"`
}

type bankSettingsModel struct {
	bun.BaseModel `bun:"table:bank_settings"`

	ID             int       `bun:"id,pk"`
	BankName       string    `bun:"bank_name"`
	BankPrefix     string    `bun:"bank_prefix"`
	APIKey         string    `bun:"api_key"`
	TransactionURL string    `bun:"transaction_url"`
	JWKSURL        string    `bun:"jwks_url"`
	RegistryURL    string    `bun:"registry_url"`
	KeyID          string    `bun:"key_id"`
	PrivateKeyPEM  string    `bun:"private_key_pem"`
	PublicKeyPEM   string    `bun:"public_key_pem"`
	UpdatedAt      time.Time `bun:"updated_at"`
}

// SQLiteRepository is the embedded SQLite implementation of Repository.
type SQLiteRepository struct {
	db *bun.DB
}

// NewSQLiteRepository opens dsn with the modernc driver, applies migrations
// and returns a ready repository. ":memory:" gives a private database that
// lives as long as the repository.
func NewSQLiteRepository(ctx context.Context, dsn string) (*SQLiteRepository, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if !strings.Contains(dsn, ":memory:") {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	r := &SQLiteRepository{db: bun.NewDB(sqlDB, sqlitedialect.New())}
	if err := runMigrations(ctx, "sqlite", r); err != nil {
		_ = r.db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMP)`)
	return err
}

func (r *SQLiteRepository) migrationApplied(ctx context.Context, version string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM schema_migrations WHERE version = ?", version).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *SQLiteRepository) applyMigration(ctx context.Context, m migration) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)", m.version, time.Now().UTC())
		return err
	})
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// CreateUser inserts a new user.
func (r *SQLiteRepository) CreateUser(ctx context.Context, user *domain.User) error {
	m := &userModel{ID: user.ID.String(), Username: user.Username, FullName: user.FullName, CreatedAt: user.CreatedAt.UTC()}
	_, err := r.db.NewInsert().Model(m).Exec(ctx)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrUsernameTaken
	}
	return err
}

// FindUserByUsername retrieves a user by username, case-insensitively.
func (r *SQLiteRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var m userModel
	err := r.db.NewSelect().Model(&m).
		Where("lower(u.username) = lower(?)", strings.TrimSpace(username)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &domain.User{ID: id, Username: m.Username, FullName: m.FullName, CreatedAt: m.CreatedAt}, nil
}

// CreateAccount inserts a new account with its opening balance.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	m := &accountModel{
		ID:            account.ID.String(),
		AccountNumber: account.Number,
		UserID:        account.UserID.String(),
		Balance:       account.Balance.StringFixed(2),
		Currency:      account.Currency,
		IsActive:      account.IsActive,
		CreatedAt:     account.CreatedAt.UTC(),
	}
	_, err := r.db.NewInsert().Model(m).Exec(ctx)
	return err
}

// FindAccountByNumber retrieves an account together with its owner's name.
func (r *SQLiteRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	var m accountModel
	err := r.db.NewSelect().Model(&m).Where("a.account_number = ?", accountNumber).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	var owner userModel
	if err := r.db.NewSelect().Model(&owner).Where("u.id = ?", m.UserID).Limit(1).Scan(ctx); err != nil {
		return nil, fmt.Errorf("load owner of %s: %w", accountNumber, err)
	}
	return m.toDomain(owner.FullName)
}

func (m *accountModel) toDomain(ownerName string) (*domain.Account, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse account id: %w", err)
	}
	userID, err := uuid.Parse(m.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse account owner id: %w", err)
	}
	balance, err := decimal.NewFromString(m.Balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance of %s: %w", m.AccountNumber, err)
	}
	return &domain.Account{
		ID:        id,
		Number:    m.AccountNumber,
		UserID:    userID,
		OwnerName: ownerName,
		Balance:   balance,
		Currency:  m.Currency,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
	}, nil
}

func newTransactionModel(tx *domain.Transaction) *transactionModel {
	boundPartyNames(tx)
	return &transactionModel{
		TransactionID:       tx.ID,
		Direction:           tx.Direction,
		AccountFrom:         tx.AccountFrom,
		AccountTo:           tx.AccountTo,
		AccountFromExternal: tx.AccountFromExternal,
		AccountToExternal:   tx.AccountToExternal,
		Amount:              tx.Amount.StringFixed(2),
		Currency:            tx.Currency,
		Explanation:         tx.Explanation,
		SenderName:          tx.SenderName,
		CounterpartyName:    tx.CounterpartyName,
		Status:              tx.Status,
		ErrorMessage:        tx.ErrorMessage,
		IsInternal:          tx.IsInternal,
		CreatedAt:           tx.CreatedAt.UTC(),
		DeliveredAt:         utcPtr(tx.DeliveredAt),
		CompletedAt:         utcPtr(tx.CompletedAt),
	}
}

func (m *transactionModel) toDomain() (*domain.Transaction, error) {
	amount, err := decimal.NewFromString(m.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount of %s: %w", m.TransactionID, err)
	}
	return &domain.Transaction{
		ID:                  m.TransactionID,
		Direction:           m.Direction,
		AccountFrom:         m.AccountFrom,
		AccountTo:           m.AccountTo,
		AccountFromExternal: m.AccountFromExternal,
		AccountToExternal:   m.AccountToExternal,
		Amount:              amount,
		Currency:            m.Currency,
		Explanation:         m.Explanation,
		SenderName:          m.SenderName,
		CounterpartyName:    m.CounterpartyName,
		Status:              m.Status,
		ErrorMessage:        m.ErrorMessage,
		IsInternal:          m.IsInternal,
		CreatedAt:           m.CreatedAt,
		DeliveredAt:         m.DeliveredAt,
		CompletedAt:         m.CompletedAt,
	}, nil
}

func transactionsToDomain(models []transactionModel) ([]domain.Transaction, error) {
	out := make([]domain.Transaction, 0, len(models))
	for i := range models {
		tx, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// CreateTransaction inserts a transaction record without touching balances.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	_, err := r.db.NewInsert().Model(newTransactionModel(tx)).Exec(ctx)
	return err
}

func findSQLiteTransaction(ctx context.Context, db bun.IDB, transactionID string) (*domain.Transaction, error) {
	var m transactionModel
	err := db.NewSelect().Model(&m).Where("t.transaction_id = ?", transactionID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return m.toDomain()
}

// FindTransactionByID retrieves a single transaction record.
func (r *SQLiteRepository) FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return findSQLiteTransaction(ctx, r.db, transactionID)
}

// ListTransactionsByAccount returns the history of an account, newest first.
func (r *SQLiteRepository) ListTransactionsByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]domain.Transaction, error) {
	var models []transactionModel
	err := r.db.NewSelect().Model(&models).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("t.account_from = ?", accountNumber).WhereOr("t.account_to = ?", accountNumber)
		}).
		OrderExpr("t.created_at DESC, t.transaction_id").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return transactionsToDomain(models)
}

// ListUnsettledTransactions returns pending records that were either
// delivered or created before createdBefore.
func (r *SQLiteRepository) ListUnsettledTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	var models []transactionModel
	err := r.db.NewSelect().Model(&models).
		Where("t.status = ?", domain.StatusPending).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("t.delivered_at IS NOT NULL").WhereOr("t.created_at < ?", createdBefore.UTC())
		}).
		OrderExpr("t.created_at").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return transactionsToDomain(models)
}

// MarkTransactionDelivered stamps the durable delivery marker on a pending record.
func (r *SQLiteRepository) MarkTransactionDelivered(ctx context.Context, transactionID, counterpartyName string, deliveredAt time.Time) error {
	counterpartyName = truncate(counterpartyName, domain.MaxPartyNameLength)
	res, err := r.db.NewUpdate().Model((*transactionModel)(nil)).
		Set("delivered_at = ?", deliveredAt.UTC()).
		Set("counterparty_name = ?", counterpartyName).
		Where("transaction_id = ?", transactionID).
		Where("status = ?", domain.StatusPending).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.finalizedOrMissing(ctx, transactionID)
	}
	return nil
}

func (r *SQLiteRepository) finalizedOrMissing(ctx context.Context, transactionID string) error {
	if _, err := findSQLiteTransaction(ctx, r.db, transactionID); err != nil {
		return err
	}
	return ErrTransactionFinalized
}

// CompleteTransaction moves a pending record to completed and applies its
// balance mutation in the same database transaction.
func (r *SQLiteRepository) CompleteTransaction(ctx context.Context, transactionID, counterpartyName string, completedAt time.Time) (*domain.Transaction, error) {
	completedAt = completedAt.UTC()
	counterpartyName = truncate(counterpartyName, domain.MaxPartyNameLength)
	var record *domain.Transaction
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		record, err = findSQLiteTransaction(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if record.Status != domain.StatusPending {
			return ErrTransactionFinalized
		}
		if err := applySQLiteBalanceChanges(ctx, tx, record); err != nil {
			return err
		}
		_, err = tx.NewUpdate().Model((*transactionModel)(nil)).
			Set("status = ?", domain.StatusCompleted).
			Set("counterparty_name = ?", counterpartyName).
			Set("completed_at = ?", completedAt).
			Where("transaction_id = ?", transactionID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	record.Status = domain.StatusCompleted
	record.CounterpartyName = &counterpartyName
	record.CompletedAt = &completedAt
	return record, nil
}

// SettleTransaction inserts an already-completed record and applies its
// balance mutation atomically. There is no pending window.
func (r *SQLiteRepository) SettleTransaction(ctx context.Context, record *domain.Transaction) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := applySQLiteBalanceChanges(ctx, tx, record); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(newTransactionModel(record)).Exec(ctx)
		return err
	})
}

func applySQLiteBalanceChanges(ctx context.Context, tx bun.Tx, record *domain.Transaction) error {
	for _, change := range balanceChanges(record) {
		var m accountModel
		err := tx.NewSelect().Model(&m).Where("a.account_number = ?", change.accountNumber).Limit(1).Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if !m.IsActive {
			return ErrAccountInactive
		}

		current, err := decimal.NewFromString(m.Balance)
		if err != nil {
			return fmt.Errorf("parse balance of %s: %w", change.accountNumber, err)
		}
		next, err := applyDelta(current, change.delta)
		if err != nil {
			return err
		}
		if _, err := tx.NewUpdate().Model((*accountModel)(nil)).
			Set("balance = ?", next.StringFixed(2)).
			Where("account_number = ?", change.accountNumber).
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FailTransaction moves a pending record to failed. Balances are untouched.
func (r *SQLiteRepository) FailTransaction(ctx context.Context, transactionID, detail string) (*domain.Transaction, error) {
	detail = truncate(detail, domain.MaxErrorMessageLength)
	var record *domain.Transaction
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		record, err = findSQLiteTransaction(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if record.Status != domain.StatusPending {
			return ErrTransactionFinalized
		}
		_, err = tx.NewUpdate().Model((*transactionModel)(nil)).
			Set("status = ?", domain.StatusFailed).
			Set("error_message = ?", detail).
			Where("transaction_id = ?", transactionID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	record.Status = domain.StatusFailed
	record.ErrorMessage = &detail
	return record, nil
}

// GetBankSettings loads the single bank identity row.
func (r *SQLiteRepository) GetBankSettings(ctx context.Context) (*domain.BankSettings, error) {
	var m bankSettingsModel
	err := r.db.NewSelect().Model(&m).Where("id = 1").Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &domain.BankSettings{
		BankName:       m.BankName,
		BankPrefix:     m.BankPrefix,
		APIKey:         m.APIKey,
		TransactionURL: m.TransactionURL,
		JWKSURL:        m.JWKSURL,
		RegistryURL:    m.RegistryURL,
		KeyID:          m.KeyID,
		PrivateKeyPEM:  m.PrivateKeyPEM,
		PublicKeyPEM:   m.PublicKeyPEM,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

// SaveBankSettings upserts the single bank identity row.
func (r *SQLiteRepository) SaveBankSettings(ctx context.Context, s *domain.BankSettings) error {
	s.UpdatedAt = time.Now().UTC()
	m := &bankSettingsModel{
		ID:             1,
		BankName:       s.BankName,
		BankPrefix:     s.BankPrefix,
		APIKey:         s.APIKey,
		TransactionURL: s.TransactionURL,
		JWKSURL:        s.JWKSURL,
		RegistryURL:    s.RegistryURL,
		KeyID:          s.KeyID,
		PrivateKeyPEM:  s.PrivateKeyPEM,
		PublicKeyPEM:   s.PublicKeyPEM,
		UpdatedAt:      s.UpdatedAt,
	}
	_, err := r.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("bank_name = EXCLUDED.bank_name").
		Set("bank_prefix = EXCLUDED.bank_prefix").
		Set("api_key = EXCLUDED.api_key").
		Set("transaction_url = EXCLUDED.transaction_url").
		Set("jwks_url = EXCLUDED.jwks_url").
		Set("registry_url = EXCLUDED.registry_url").
		Set("key_id = EXCLUDED.key_id").
		Set("private_key_pem = EXCLUDED.private_key_pem").
		Set("public_key_pem = EXCLUDED.public_key_pem").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
