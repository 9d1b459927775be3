package bankaccount

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists linked bank accounts.
type Repository interface {
	Create(ctx context.Context, account BankAccount) error
	Get(ctx context.Context, id string) (BankAccount, error)
	ListByUser(ctx context.Context, userID string) ([]BankAccount, error)
	Delete(ctx context.Context, id, userID string) error
	MarkVerified(ctx context.Context, id string) error
}

const bankAccountColumns = `id, user_id, bank_name, account_number, account_type, verified, created_at`

// PostgresRepository stores bank accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a bank account record.
func (r *PostgresRepository) Create(ctx context.Context, account BankAccount) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(account.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO bank_accounts (`+bankAccountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, userID, account.BankName, account.AccountNumber, account.AccountType, account.Verified, account.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyLinked
	}
	return err
}

// Get fetches a bank account by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (BankAccount, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return BankAccount{}, ErrNotFound
	}
	return scanBankAccount(r.db.QueryRow(ctx, `SELECT `+bankAccountColumns+` FROM bank_accounts WHERE id = $1`, accountID))
}

// ListByUser returns the user's linked accounts, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]BankAccount, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+bankAccountColumns+` FROM bank_accounts
        WHERE user_id = $1 ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BankAccount
	for rows.Next() {
		account, err := scanBankAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, rows.Err()
}

// Delete removes an account owned by userID.
func (r *PostgresRepository) Delete(ctx context.Context, id, userID string) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `DELETE FROM bank_accounts WHERE id = $1 AND user_id = $2`, accountID, uid)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVerified flags the account as verified.
func (r *PostgresRepository) MarkVerified(ctx context.Context, id string) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE bank_accounts SET verified = TRUE WHERE id = $1`, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBankAccount(row pgx.Row) (BankAccount, error) {
	var (
		a         BankAccount
		id        uuid.UUID
		userID    uuid.UUID
		createdAt time.Time
	)
	if err := row.Scan(&id, &userID, &a.BankName, &a.AccountNumber, &a.AccountType, &a.Verified, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BankAccount{}, ErrNotFound
		}
		return BankAccount{}, err
	}
	a.ID = id.String()
	a.UserID = userID.String()
	a.CreatedAt = createdAt.UTC()
	return a, nil
}
