package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgCheckViolation      = "23514"
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

const transactionColumns = `id::text, kind, sender_id::text, COALESCE(receiver_id::text, ''), amount, asset,
        unit_price, reference, status, description, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists accounts and transactions in PostgreSQL. Balances
// carry a CHECK (balance >= 0) constraint so the database rejects any write
// that would overdraw an account.
type PostgresStore struct {
	db  *pgxpool.Pool
	now func() time.Time
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool, opts ...Option) *PostgresStore {
	o := buildOptions(opts)
	return &PostgresStore{db: db, now: o.now}
}

// EnsureAccounts creates the zero-balance money and gold accounts for a user.
func (s *PostgresStore) EnsureAccounts(ctx context.Context, userID string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("user %q: %w", userID, ErrAccountNotFound)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO accounts (user_id, asset, balance)
        VALUES ($1, $2, 0), ($1, $3, 0)
        ON CONFLICT (user_id, asset) DO NOTHING`, uid, AssetMoney, AssetGold)
	return mapPgError(err, "ensure accounts "+userID)
}

// Balance returns the committed balance, zero when the account does not exist yet.
func (s *PostgresStore) Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error) {
	return balance(ctx, s.db, key, false)
}

// Get fetches one transaction by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	return getTransaction(ctx, s.db, id, false)
}

// ListByParticipant returns transactions where the user is sender or
// receiver, newest first.
func (s *PostgresStore) ListByParticipant(ctx context.Context, userID string, filter Filter) ([]Transaction, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}
	where, args := participantWhere(uid, filter)
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan transaction: %w", ErrPersistence, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list transactions: %w", ErrPersistence, err)
	}
	return out, nil
}

// CountByParticipant counts transactions matching the filter, ignoring paging.
func (s *PostgresStore) CountByParticipant(ctx context.Context, userID string, filter Filter) (int, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, nil
	}
	where, args := participantWhere(uid, filter)
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count transactions: %w", ErrPersistence, err)
	}
	return count, nil
}

// Atomically runs fn inside a single database transaction.
func (s *PostgresStore) Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrPersistence, err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrPersistence, err)
	}
	return nil
}

type postgresTx struct {
	tx  pgx.Tx
	now func() time.Time
}

func (t *postgresTx) Balance(ctx context.Context, key AccountKey) (decimal.Decimal, error) {
	return balance(ctx, t.tx, key, true)
}

// ApplyDelta updates the existing row first. A credit to a missing account
// creates it at zero and retries; a debit of a missing account can never
// succeed. The CHECK constraint rejects debits past zero.
func (t *postgresTx) ApplyDelta(ctx context.Context, key AccountKey, delta decimal.Decimal) (decimal.Decimal, error) {
	uid, err := uuid.Parse(key.UserID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
	}
	updated, found, err := t.addToBalance(ctx, uid, key, delta)
	if err != nil || found {
		return updated, err
	}

	if delta.IsNegative() {
		var known bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, uid).Scan(&known); err != nil {
			return decimal.Zero, mapPgError(err, key.String())
		}
		if !known {
			return decimal.Zero, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
		}
		return decimal.Zero, fmt.Errorf("%s: %w", key, ErrInsufficientBalance)
	}

	if _, err := t.tx.Exec(ctx, `INSERT INTO accounts (user_id, asset, balance, updated_at)
        VALUES ($1, $2, 0, $3)
        ON CONFLICT (user_id, asset) DO NOTHING`, uid, key.Asset, t.now()); err != nil {
		return decimal.Zero, mapPgError(err, key.String())
	}
	updated, found, err = t.addToBalance(ctx, uid, key, delta)
	if err == nil && !found {
		err = fmt.Errorf("%s: %w", key, ErrAccountNotFound)
	}
	return updated, err
}

func (t *postgresTx) addToBalance(ctx context.Context, uid uuid.UUID, key AccountKey, delta decimal.Decimal) (decimal.Decimal, bool, error) {
	var updated decimal.Decimal
	err := t.tx.QueryRow(ctx, `UPDATE accounts SET balance = balance + $3, updated_at = $4
        WHERE user_id = $1 AND asset = $2
        RETURNING balance`, uid, key.Asset, delta, t.now()).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, mapPgError(err, key.String())
	}
	return updated, true, nil
}

func (t *postgresTx) Append(ctx context.Context, draft Draft) (Transaction, error) {
	if err := draft.validate(); err != nil {
		return Transaction{}, err
	}
	sender, err := uuid.Parse(draft.SenderID)
	if err != nil {
		return Transaction{}, fmt.Errorf("sender %q: %w", draft.SenderID, ErrAccountNotFound)
	}
	var receiver *uuid.UUID
	if draft.ReceiverID != "" {
		r, err := uuid.Parse(draft.ReceiverID)
		if err != nil {
			return Transaction{}, fmt.Errorf("receiver %q: %w", draft.ReceiverID, ErrAccountNotFound)
		}
		receiver = &r
	}
	var price decimal.NullDecimal
	if !draft.UnitPrice.IsZero() {
		price = decimal.NewNullDecimal(draft.UnitPrice)
	}

	now := t.now()
	id := uuid.New()
	row := t.tx.QueryRow(ctx, `INSERT INTO transactions
        (id, kind, sender_id, receiver_id, amount, asset, unit_price, reference, status, description, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        RETURNING `+transactionColumns,
		id, draft.Kind, sender, receiver, draft.Amount, draft.Asset, price, draft.Reference, draft.Status, draft.Description, now)
	rec, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, mapPgError(err, "append transaction")
	}
	return rec, nil
}

func (t *postgresTx) Get(ctx context.Context, id string) (Transaction, error) {
	return getTransaction(ctx, t.tx, id, false)
}

func (t *postgresTx) Transition(ctx context.Context, id string, to Status) (Transaction, error) {
	current, err := getTransaction(ctx, t.tx, id, true)
	if err != nil {
		return Transaction{}, err
	}
	if !CanTransition(current.Status, to) {
		return current, fmt.Errorf("transaction %s %s -> %s: %w", id, current.Status, to, ErrInvalidTransition)
	}
	row := t.tx.QueryRow(ctx, `UPDATE transactions SET status = $2, updated_at = $3
        WHERE id = $1 AND status = $4
        RETURNING `+transactionColumns, current.ID, to, t.now(), StatusPending)
	updated, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return current, fmt.Errorf("transaction %s: %w", id, ErrInvalidTransition)
		}
		return Transaction{}, mapPgError(err, "transition "+id)
	}
	return updated, nil
}

func balance(ctx context.Context, q querier, key AccountKey, forUpdate bool) (decimal.Decimal, error) {
	uid, err := uuid.Parse(key.UserID)
	if err != nil {
		return decimal.Zero, nil
	}
	query := `SELECT balance FROM accounts WHERE user_id = $1 AND asset = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var bal decimal.Decimal
	if err := q.QueryRow(ctx, query, uid, key.Asset).Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("%w: balance %s: %w", ErrPersistence, key, err)
	}
	return bal, nil
}

func getTransaction(ctx context.Context, q querier, id string, forUpdate bool) (Transaction, error) {
	txID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(q.QueryRow(ctx, query, txID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return Transaction{}, fmt.Errorf("%w: get transaction %s: %w", ErrPersistence, id, err)
	}
	return t, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t         Transaction
		kind      string
		asset     string
		status    string
		unitPrice decimal.NullDecimal
	)
	if err := row.Scan(&t.ID, &kind, &t.SenderID, &t.ReceiverID, &t.Amount, &asset,
		&unitPrice, &t.Reference, &status, &t.Description, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.Kind = Kind(kind)
	t.Asset = Asset(asset)
	t.Status = Status(status)
	if unitPrice.Valid {
		t.UnitPrice = unitPrice.Decimal
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func participantWhere(uid uuid.UUID, filter Filter) (string, []any) {
	conds := []string{"(sender_id = $1 OR receiver_id = $1)"}
	args := []any{uid}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	return strings.Join(conds, " AND "), args
}

func mapPgError(err error, what string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCheckViolation:
			return fmt.Errorf("%s: %w", what, ErrInsufficientBalance)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", what, ErrAccountNotFound)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s: duplicate key", ErrPersistence, what)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, what, err)
}
