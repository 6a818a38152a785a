package ledger

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/cryptoc/txguard/internal/database"
)

// SQLStore persists the ledger in Postgres or SQLite. Queries are written
// with ? placeholders and rebound for the engine.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore creates a store over an opened, migrated database.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Begin starts a transaction. Postgres runs it serializable.
func (s *SQLStore) Begin(ctx context.Context) (Tx, error) {
	opts := &sql.TxOptions{}
	if s.db.IsPostgres() {
		opts.Isolation = sql.LevelSerializable
	}
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, forUpdate: s.db.IsPostgres()}, nil
}

func (s *SQLStore) Balances(ctx context.Context, address string) ([]Balance, error) {
	out := []Balance{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT address, token, balance, updated_at
		FROM balances
		WHERE address = ?
		ORDER BY token`), address)
	return out, err
}

func (s *SQLStore) Approvals(ctx context.Context, address string) ([]Approval, error) {
	out := []Approval{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT address, token, spender, kind, amount, unlimited, revoked, updated_at
		FROM approvals
		WHERE address = ? AND revoked = ?
		ORDER BY updated_at DESC`), address, false)
	return out, err
}

func (s *SQLStore) Transactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	out := []Transaction{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, address, kind, function_name, counterparty, risk_level, risk_score, details, created_at
		FROM transactions
		WHERE address = ?
		ORDER BY created_at DESC
		LIMIT ?`), address, limit)
	return out, err
}

func (s *SQLStore) Logs(ctx context.Context, address string, limit int) ([]ActivityLog, error) {
	out := []ActivityLog{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT id, address, action, details, severity, created_at
		FROM activity_logs
		WHERE address = ?
		ORDER BY id DESC
		LIMIT ?`), address, limit)
	return out, err
}

func (s *SQLStore) CountTransactions(ctx context.Context, address string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM transactions WHERE address = ?`), address)
	return n, err
}

func (s *SQLStore) CountLogs(ctx context.Context, address, action string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`
		SELECT COUNT(*) FROM activity_logs WHERE address = ? AND action = ?`), address, action)
	return n, err
}

// Retryable reports whether err aborted a transaction that may succeed when
// re-run: Postgres serialization failures and deadlocks, or a busy SQLite
// database.
func (s *SQLStore) Retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlTx struct {
	tx        *sqlx.Tx
	forUpdate bool
}

func (t *sqlTx) WalletExists(ctx context.Context, address string) (bool, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, t.tx.Rebind(`SELECT COUNT(*) FROM wallets WHERE address = ?`), address)
	return n > 0, err
}

func (t *sqlTx) CreateWallet(ctx context.Context, address string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO wallets (address, created_at) VALUES (?, ?)
		ON CONFLICT (address) DO NOTHING`), address, at)
	return err
}

func (t *sqlTx) Balance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	q := `SELECT balance FROM balances WHERE address = ? AND token = ?`
	if t.forUpdate {
		q += ` FOR UPDATE`
	}
	var bal decimal.Decimal
	err := t.tx.GetContext(ctx, &bal, t.tx.Rebind(q), address, token)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	return bal, err
}

func (t *sqlTx) SetBalance(ctx context.Context, address, token string, amount decimal.Decimal, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO balances (address, token, balance, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (address, token) DO UPDATE
		SET balance = excluded.balance, updated_at = excluded.updated_at`),
		address, token, amount, at)
	return err
}

func (t *sqlTx) Approval(ctx context.Context, address, token, spender string) (*Approval, error) {
	var a Approval
	err := t.tx.GetContext(ctx, &a, t.tx.Rebind(`
		SELECT address, token, spender, kind, amount, unlimited, revoked, updated_at
		FROM approvals
		WHERE address = ? AND token = ? AND spender = ?`), address, token, spender)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *sqlTx) UpsertApproval(ctx context.Context, a *Approval) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO approvals (address, token, spender, kind, amount, unlimited, revoked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address, token, spender) DO UPDATE
		SET kind = excluded.kind,
		    amount = excluded.amount,
		    unlimited = excluded.unlimited,
		    revoked = excluded.revoked,
		    updated_at = excluded.updated_at`),
		a.Address, a.Token, a.Spender, a.Kind, a.Amount, a.Unlimited, a.Revoked, a.UpdatedAt)
	return err
}

func (t *sqlTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
		INSERT INTO transactions
		(id, address, kind, function_name, counterparty, risk_level, risk_score, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		tr.ID, tr.Address, tr.Kind, tr.FunctionName, tr.Counterparty, tr.RiskLevel, tr.RiskScore, tr.Details, tr.CreatedAt)
	return err
}

func (t *sqlTx) InsertLog(ctx context.Context, l *ActivityLog) (int64, error) {
	var id int64
	err := t.tx.QueryRowxContext(ctx, t.tx.Rebind(`
		INSERT INTO activity_logs (address, action, details, severity, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		l.Address, l.Action, l.Details, l.Severity, l.CreatedAt).Scan(&id)
	return id, err
}

func (t *sqlTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
