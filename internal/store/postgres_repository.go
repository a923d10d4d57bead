/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Balance mutations
 * run inside a single database transaction that locks the transaction row and
 * every affected account row with SELECT ... FOR UPDATE.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - github.com/shopspring/decimal: NUMERIC columns are read as text and parsed.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/interbank-service/internal/domain"
)

const pgUniqueViolation = "23505"

const pgTransactionColumns = `transaction_id, direction, account_from, account_to, account_from_external,
	account_to_external, amount::text, currency, explanation, sender_name, counterparty_name, status,
	error_message, is_internal, created_at, delivered_at, completed_at`

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies the embedded PostgreSQL migrations.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return runMigrations(ctx, "postgres", r)
}

func (r *PostgresRepository) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`)
	return err
}

func (r *PostgresRepository) migrationApplied(ctx context.Context, version string) (bool, error) {
	var exists int
	err := r.db.QueryRow(ctx, "SELECT 1 FROM schema_migrations WHERE version = $1", version).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *PostgresRepository) applyMigration(ctx context.Context, m migration) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2)", m.version, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}

// CreateUser inserts a new user.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, username, full_name, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.FullName, user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrUsernameTaken
	}
	return err
}

// FindUserByUsername retrieves a user by username, case-insensitively.
func (r *PostgresRepository) FindUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := r.db.QueryRow(ctx,
		`SELECT id, username, full_name, created_at FROM users WHERE lower(username) = lower(btrim($1))`,
		username).Scan(&user.ID, &user.Username, &user.FullName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateAccount inserts a new account with its opening balance.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (id, account_number, user_id, balance, currency, is_active, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		account.ID, account.Number, account.UserID, account.Balance.StringFixed(2), account.Currency, account.IsActive, account.CreatedAt)
	return err
}

// FindAccountByNumber retrieves an account together with its owner's name.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	var (
		account domain.Account
		balance string
	)
	err := r.db.QueryRow(ctx,
		`SELECT a.id, a.account_number, a.user_id, u.full_name, a.balance::text, a.currency, a.is_active, a.created_at
		 FROM accounts a JOIN users u ON u.id = a.user_id
		 WHERE a.account_number = $1`,
		accountNumber).Scan(&account.ID, &account.Number, &account.UserID, &account.OwnerName, &balance, &account.Currency, &account.IsActive, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if account.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance of %s: %w", accountNumber, err)
	}
	return &account, nil
}

// CreateTransaction inserts a transaction record without touching balances.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	return insertPgTransaction(ctx, r.db, tx)
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertPgTransaction(ctx context.Context, db pgExecer, tx *domain.Transaction) error {
	boundPartyNames(tx)
	_, err := db.Exec(ctx,
		`INSERT INTO transactions (transaction_id, direction, account_from, account_to, account_from_external,
			account_to_external, amount, currency, explanation, sender_name, counterparty_name, status,
			error_message, is_internal, created_at, delivered_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		tx.ID, tx.Direction, tx.AccountFrom, tx.AccountTo, tx.AccountFromExternal,
		tx.AccountToExternal, tx.Amount.StringFixed(2), tx.Currency, tx.Explanation, tx.SenderName, tx.CounterpartyName, tx.Status,
		tx.ErrorMessage, tx.IsInternal, tx.CreatedAt, tx.DeliveredAt, tx.CompletedAt)
	return err
}

func scanPgTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		amount string
	)
	err := row.Scan(&tx.ID, &tx.Direction, &tx.AccountFrom, &tx.AccountTo, &tx.AccountFromExternal,
		&tx.AccountToExternal, &amount, &tx.Currency, &tx.Explanation, &tx.SenderName, &tx.CounterpartyName, &tx.Status,
		&tx.ErrorMessage, &tx.IsInternal, &tx.CreatedAt, &tx.DeliveredAt, &tx.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount of %s: %w", tx.ID, err)
	}
	return &tx, nil
}

func collectPgTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanPgTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// FindTransactionByID retrieves a single transaction record.
func (r *PostgresRepository) FindTransactionByID(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+pgTransactionColumns+` FROM transactions WHERE transaction_id = $1`, transactionID)
	return scanPgTransaction(row)
}

// ListTransactionsByAccount returns the history of an account, newest first.
func (r *PostgresRepository) ListTransactionsByAccount(ctx context.Context, accountNumber string, limit, offset int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+pgTransactionColumns+` FROM transactions
		 WHERE account_from = $1 OR account_to = $1
		 ORDER BY created_at DESC, transaction_id
		 LIMIT $2 OFFSET $3`,
		accountNumber, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectPgTransactions(rows)
}

// ListUnsettledTransactions returns pending records that were either
// delivered or created before createdBefore.
func (r *PostgresRepository) ListUnsettledTransactions(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+pgTransactionColumns+` FROM transactions
		 WHERE status = 'pending' AND (delivered_at IS NOT NULL OR created_at < $1)
		 ORDER BY created_at
		 LIMIT $2`,
		createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectPgTransactions(rows)
}

// MarkTransactionDelivered stamps the durable delivery marker on a pending record.
func (r *PostgresRepository) MarkTransactionDelivered(ctx context.Context, transactionID, counterpartyName string, deliveredAt time.Time) error {
	counterpartyName = truncate(counterpartyName, domain.MaxPartyNameLength)
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET delivered_at = $2, counterparty_name = $3
		 WHERE transaction_id = $1 AND status = 'pending'`,
		transactionID, deliveredAt, counterpartyName)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.finalizedOrMissing(ctx, transactionID)
	}
	return nil
}

func (r *PostgresRepository) finalizedOrMissing(ctx context.Context, transactionID string) error {
	var status string
	err := r.db.QueryRow(ctx, "SELECT status FROM transactions WHERE transaction_id = $1", transactionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTransactionNotFound
	}
	if err != nil {
		return err
	}
	return ErrTransactionFinalized
}

// CompleteTransaction moves a pending record to completed and applies its
// balance mutation in the same database transaction.
func (r *PostgresRepository) CompleteTransaction(ctx context.Context, transactionID, counterpartyName string, completedAt time.Time) (*domain.Transaction, error) {
	counterpartyName = truncate(counterpartyName, domain.MaxPartyNameLength)
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx)

	// Lock the record first so a concurrent completion waits here.
	record, err := scanPgTransaction(dbTx.QueryRow(ctx,
		`SELECT `+pgTransactionColumns+` FROM transactions WHERE transaction_id = $1 FOR UPDATE`, transactionID))
	if err != nil {
		return nil, err
	}
	if record.Status != domain.StatusPending {
		return nil, ErrTransactionFinalized
	}

	if err := applyPgBalanceChanges(ctx, dbTx, record); err != nil {
		return nil, err
	}

	if _, err := dbTx.Exec(ctx,
		`UPDATE transactions SET status = 'completed', counterparty_name = $2, completed_at = $3
		 WHERE transaction_id = $1`,
		transactionID, counterpartyName, completedAt); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, err
	}

	record.Status = domain.StatusCompleted
	record.CounterpartyName = &counterpartyName
	record.CompletedAt = &completedAt
	return record, nil
}

// SettleTransaction inserts an already-completed record and applies its
// balance mutation atomically. There is no pending window.
func (r *PostgresRepository) SettleTransaction(ctx context.Context, tx *domain.Transaction) error {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer dbTx.Rollback(ctx)

	if err := applyPgBalanceChanges(ctx, dbTx, tx); err != nil {
		return err
	}
	if err := insertPgTransaction(ctx, dbTx, tx); err != nil {
		return err
	}
	return dbTx.Commit(ctx)
}

func applyPgBalanceChanges(ctx context.Context, dbTx pgx.Tx, record *domain.Transaction) error {
	for _, change := range balanceChanges(record) {
		var (
			balance  string
			isActive bool
		)
		// Use FOR UPDATE to lock the row, preventing race conditions.
		err := dbTx.QueryRow(ctx,
			"SELECT balance::text, is_active FROM accounts WHERE account_number = $1 FOR UPDATE",
			change.accountNumber).Scan(&balance, &isActive)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrAccountNotFound
			}
			return err
		}
		if !isActive {
			return ErrAccountInactive
		}

		current, err := decimal.NewFromString(balance)
		if err != nil {
			return fmt.Errorf("parse balance of %s: %w", change.accountNumber, err)
		}
		next, err := applyDelta(current, change.delta)
		if err != nil {
			return err
		}
		if _, err := dbTx.Exec(ctx,
			"UPDATE accounts SET balance = $2::numeric WHERE account_number = $1",
			change.accountNumber, next.StringFixed(2)); err != nil {
			return err
		}
	}
	return nil
}

// FailTransaction moves a pending record to failed. Balances are untouched.
func (r *PostgresRepository) FailTransaction(ctx context.Context, transactionID, detail string) (*domain.Transaction, error) {
	detail = truncate(detail, domain.MaxErrorMessageLength)
	row := r.db.QueryRow(ctx,
		`UPDATE transactions SET status = 'failed', error_message = $2
		 WHERE transaction_id = $1 AND status = 'pending'
		 RETURNING `+pgTransactionColumns,
		transactionID, detail)
	record, err := scanPgTransaction(row)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil, r.finalizedOrMissing(ctx, transactionID)
	}
	return record, err
}

// GetBankSettings loads the single bank identity row.
func (r *PostgresRepository) GetBankSettings(ctx context.Context) (*domain.BankSettings, error) {
	var s domain.BankSettings
	err := r.db.QueryRow(ctx,
		`SELECT bank_name, bank_prefix, api_key, transaction_url, jwks_url, registry_url, key_id,
			private_key_pem, public_key_pem, updated_at
		 FROM bank_settings WHERE id = 1`).Scan(&s.BankName, &s.BankPrefix, &s.APIKey, &s.TransactionURL, &s.JWKSURL,
		&s.RegistryURL, &s.KeyID, &s.PrivateKeyPEM, &s.PublicKeyPEM, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	return &s, nil
}

// SaveBankSettings upserts the single bank identity row.
func (r *PostgresRepository) SaveBankSettings(ctx context.Context, s *domain.BankSettings) error {
	s.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx,
		`INSERT INTO bank_settings (id, bank_name, bank_prefix, api_key, transaction_url, jwks_url, registry_url,
			key_id, private_key_pem, public_key_pem, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			bank_name = EXCLUDED.bank_name,
			bank_prefix = EXCLUDED.bank_prefix,
			api_key = EXCLUDED.api_key,
			transaction_url = EXCLUDED.transaction_url,
			jwks_url = EXCLUDED.jwks_url,
			registry_url = EXCLUDED.registry_url,
			key_id = EXCLUDED.key_id,
			private_key_pem = EXCLUDED.private_key_pem,
			public_key_pem = EXCLUDED.public_key_pem,
			updated_at = EXCLUDED.updated_at`,
		s.BankName, s.BankPrefix, s.APIKey, s.TransactionURL, s.JWKSURL, s.RegistryURL,
		s.KeyID, s.PrivateKeyPEM, s.PublicKeyPEM, s.UpdatedAt)
	return err
}
