// Package ledger keeps simulated wallet state: per-token balances, token and
// collection approvals, an append-only transaction history and an activity
// log.
//
// Flow:
//  1. A wallet is created on first reference and seeded with default balances
//  2. An executed transaction's predicted effects are applied in one unit
//  3. Swaps are two-leg effect sets against the swap desk
//  4. Rejections and revocations are recorded in the activity log
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cryptoc/txguard/internal/effects"
	"github.com/cryptoc/txguard/internal/idgen"
	"github.com/cryptoc/txguard/internal/logging"
	"github.com/cryptoc/txguard/internal/metrics"
	"github.com/cryptoc/txguard/internal/retry"
	"github.com/cryptoc/txguard/internal/risk"
	"github.com/cryptoc/txguard/internal/signatures"
	"github.com/cryptoc/txguard/internal/syncutil"
	"github.com/cryptoc/txguard/internal/traces"
	"github.com/cryptoc/txguard/internal/validation"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnsupportedEffect   = errors.New("effect cannot be applied to the ledger")
	ErrUnknownToken        = errors.New("unknown token")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrApprovalNotFound    = errors.New("approval not found")
	ErrLedgerWrite         = errors.New("ledger write failed")
)

// WriteError wraps a storage failure. The unit it belonged to was rolled
// back. errors.Is(err, ErrLedgerWrite) matches any WriteError.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrLedgerWrite }

// Activity log actions.
const (
	ActionWalletCreated       = "WALLET_CREATED"
	ActionTransactionExecuted = "TRANSACTION_EXECUTED"
	ActionTransactionRejected = "TRANSACTION_REJECTED"
	ActionSwapExecuted        = "SWAP_EXECUTED"
	ActionApprovalRevoked     = "APPROVAL_REVOKED"
)

// Severities stored on activity log rows.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Transaction kinds.
const (
	KindExecute = "execute"
	KindSwap    = "swap"
)

// Approval kinds.
const (
	ApprovalToken      = "token"
	ApprovalCollection = "collection"
)

// SwapDesk is the counterparty of every simulated swap.
var SwapDesk = common.HexToAddress("0x00000000000000000000000000000000000000fe")

// Balance is one token balance of one wallet, in whole-token units.
type Balance struct {
	Address   string          `db:"address" json:"-"`
	Token     string          `db:"token" json:"token"`
	Amount    decimal.Decimal `db:"balance" json:"balance"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Approval is an allowance granted by Address. Collection approvals have a
// zero Amount and Unlimited set.
type Approval struct {
	Address   string          `db:"address" json:"-"`
	Token     string          `db:"token" json:"token"`
	Spender   string          `db:"spender" json:"spender"`
	Kind      string          `db:"kind" json:"kind"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Unlimited bool            `db:"unlimited" json:"unlimited"`
	Revoked   bool            `db:"revoked" json:"revoked"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Transaction is an applied effect set.
type Transaction struct {
	ID           string    `db:"id" json:"id"`
	Address      string    `db:"address" json:"address"`
	Kind         string    `db:"kind" json:"kind"`
	FunctionName string    `db:"function_name" json:"functionName"`
	Counterparty string    `db:"counterparty" json:"counterparty,omitempty"`
	RiskLevel    string    `db:"risk_level" json:"riskLevel"`
	RiskScore    int       `db:"risk_score" json:"riskScore"`
	Details      string    `db:"details" json:"details"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// ActivityLog is one audit entry for a wallet.
type ActivityLog struct {
	ID        int64     `db:"id" json:"id"`
	Address   string    `db:"address" json:"address"`
	Action    string    `db:"action" json:"action"`
	Details   string    `db:"details" json:"details"`
	Severity  string    `db:"severity" json:"severity"`
	CreatedAt time.Time `db:"created_at" json:"timestamp"`
}

// Store persists ledger state. Writes go through a Tx.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Balances(ctx context.Context, address string) ([]Balance, error)
	Approvals(ctx context.Context, address string) ([]Approval, error) // active only
	Transactions(ctx context.Context, address string, limit int) ([]Transaction, error)
	Logs(ctx context.Context, address string, limit int) ([]ActivityLog, error)
	CountTransactions(ctx context.Context, address string) (int, error)
	CountLogs(ctx context.Context, address, action string) (int, error)
	Ping(ctx context.Context) error
}

// retryClassifier is implemented by stores whose transactions can be aborted
// by a concurrent writer.
type retryClassifier interface {
	Retryable(err error) bool
}

const (
	txAttempts   = 3
	txRetryDelay = 20 * time.Millisecond
)

// Tx is a scoped unit of work. Rollback after Commit is a no-op.
type Tx interface {
	WalletExists(ctx context.Context, address string) (bool, error)
	CreateWallet(ctx context.Context, address string, at time.Time) error
	// Balance returns zero for a token the wallet never held.
	Balance(ctx context.Context, address, token string) (decimal.Decimal, error)
	SetBalance(ctx context.Context, address, token string, amount decimal.Decimal, at time.Time) error
	// Approval returns nil when no row exists.
	Approval(ctx context.Context, address, token, spender string) (*Approval, error)
	UpsertApproval(ctx context.Context, a *Approval) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	InsertLog(ctx context.Context, l *ActivityLog) (int64, error)
	Commit() error
	Rollback() error
}

// Meta describes the transaction row written by ApplyEffects.
type Meta struct {
	Kind         string
	Function     string
	Counterparty string
	RiskLevel    risk.Level
	RiskScore    int
	Action       string // activity log action; TRANSACTION_EXECUTED when empty
	Details      string // generated from the effects when empty
}

// ApplyResult is returned by a successful ApplyEffects.
type ApplyResult struct {
	TxID     string                     `json:"txId"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// SwapRequest exchanges Amount of FromToken for AmountTo of ToToken.
// A zero AmountTo means the same amount.
type SwapRequest struct {
	Address   common.Address
	FromToken string
	ToToken   string
	Amount    decimal.Decimal
	AmountTo  decimal.Decimal
}

// Stats summarizes a wallet.
type Stats struct {
	TotalTransactions int                        `json:"totalTransactions"`
	ThreatsBlocked    int                        `json:"threatsBlocked"`
	Balances          map[string]decimal.Decimal `json:"balances"`
}

// DefaultSeedBalances is granted to every new wallet unless overridden.
func DefaultSeedBalances() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"ETH":  decimal.RequireFromString("5.42"),
		"USDC": decimal.NewFromInt(2480),
	}
}

// Ledger applies effects to wallets.
type Ledger struct {
	store  Store
	seeds  map[string]decimal.Decimal
	locks  *syncutil.KeyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSeedBalances replaces the default seed set. Keys are token symbols.
func WithSeedBalances(seeds map[string]decimal.Decimal) Option {
	return func(l *Ledger) {
		l.seeds = make(map[string]decimal.Decimal, len(seeds))
		for sym, amt := range seeds {
			l.seeds[tokenKey(sym)] = amt
		}
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  syncutil.NewKeyedMutex(0),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	WithSeedBalances(DefaultSeedBalances())(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying store.
func (l *Ledger) Store() Store {
	return l.store
}

func tokenKey(symbol string) string {
	if t, ok := signatures.TokenBySymbol(symbol); ok {
		return t.Key()
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SeverityFor maps a risk level onto a log severity. Unrecognized levels
// are informational.
func SeverityFor(level risk.Level) string {
	switch level {
	case risk.LevelWarning:
		return SeverityWarning
	case risk.LevelDanger:
		return SeverityCritical
	default:
		return SeverityInfo
	}
}

// withTx runs fn under the address lock inside one store transaction. Stores
// that classify contention aborts get the whole unit re-run.
func (l *Ledger) withTx(ctx context.Context, address, op string, fn func(Tx) error) (err error) {
	ctx, span := traces.StartSpan(ctx, "ledger."+op, traces.Address(address), traces.Op(op))
	defer func() {
		traces.Fail(span, err)
		span.End()
		metrics.LedgerOperationsTotal.WithLabelValues(op, outcome(err)).Inc()
		if errors.Is(err, ErrLedgerWrite) {
			l.log(ctx).Error("ledger write failed", "op", op, "address", address, "error", err)
		}
	}()

	unlock, err := l.locks.LockContext(ctx, address)
	if err != nil {
		return err
	}
	defer unlock()

	policy := retry.Policy{MaxAttempts: 1}
	if rc, ok := l.store.(retryClassifier); ok {
		policy = retry.Policy{MaxAttempts: txAttempts, BaseDelay: txRetryDelay, Retryable: rc.Retryable}
	}
	return retry.Do(ctx, policy, func(attempt int) error {
		if attempt > 1 {
			l.log(ctx).Warn("retrying ledger transaction", "op", op, "address", address, "attempt", attempt)
		}
		return l.runTx(ctx, op, fn)
	})
}

// runTx makes one attempt at fn. The transaction is rolled back on every
// path that does not commit.
func (l *Ledger) runTx(ctx context.Context, op string, fn func(Tx) error) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return &WriteError{Op: op, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &WriteError{Op: op, Err: err}
	}
	committed = true
	return nil
}

func (l *Ledger) log(ctx context.Context) *slog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		return l.logger.With("request_id", id)
	}
	return l.logger
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrLedgerWrite):
		return "error"
	default:
		return "rejected"
	}
}

// ensure creates and seeds the wallet inside tx if it does not exist yet.
func (l *Ledger) ensure(ctx context.Context, tx Tx, op, address string) error {
	exists, err := tx.WalletExists(ctx, address)
	if err != nil {
		return &WriteError{Op: op, Err: err}
	}
	if exists {
		return nil
	}
	at := l.now()
	if err := tx.CreateWallet(ctx, address, at); err != nil {
		return &WriteError{Op: op, Err: err}
	}
	for token, amt := range l.seeds {
		if err := tx.SetBalance(ctx, address, token, amt, at); err != nil {
			return &WriteError{Op: op, Err: err}
		}
	}
	if _, err := tx.InsertLog(ctx, &ActivityLog{
		Address:   address,
		Action:    ActionWalletCreated,
		Details:   "Wallet created with default balances",
		Severity:  SeverityInfo,
		CreatedAt: at,
	}); err != nil {
		return &WriteError{Op: op, Err: err}
	}
	return nil
}

// EnsureWallet creates the wallet with its seed balances. Calling it for an
// existing wallet changes nothing.
func (l *Ledger) EnsureWallet(ctx context.Context, address common.Address) error {
	addr := address.Hex()
	return l.withTx(ctx, addr, "ensure_wallet", func(tx Tx) error {
		return l.ensure(ctx, tx, "ensure_wallet", addr)
	})
}

// ApplyEffects applies effs to address as one unit: balance movements for
// transfers touching the wallet, approval rows for approvals it grants, one
// transaction row and one activity log row. If any running balance would go
// negative nothing is written and ErrInsufficientBalance is returned.
func (l *Ledger) ApplyEffects(ctx context.Context, address common.Address, effs []effects.Effect, meta Meta) (*ApplyResult, error) {
	for _, e := range effs {
		if _, ok := e.(*effects.Unknown); ok {
			return nil, ErrUnsupportedEffect
		}
	}

	addr := address.Hex()
	op := meta.Kind
	if op == "" {
		op = KindExecute
	}
	txID := idgen.WithPrefix("tx_")

	err := l.withTx(ctx, addr, op, func(tx Tx) error {
		if err := l.ensure(ctx, tx, op, addr); err != nil {
			return err
		}

		running := make(map[string]decimal.Decimal)
		var order []string
		for _, e := range effs {
			t, ok := e.(*effects.Transfer)
			if !ok || (t.From != address && t.To != address) {
				continue
			}
			key, units := transferUnits(t)
			if _, seen := running[key]; !seen {
				cur, err := tx.Balance(ctx, addr, key)
				if err != nil {
					return &WriteError{Op: op, Err: err}
				}
				running[key] = cur
				order = append(order, key)
			}
			bal := running[key]
			if t.From == address {
				bal = bal.Sub(units)
			}
			if t.To == address {
				bal = bal.Add(units)
			}
			if bal.IsNegative() {
				return ErrInsufficientBalance
			}
			running[key] = bal
		}

		at := l.now()
		for _, key := range order {
			if err := tx.SetBalance(ctx, addr, key, running[key], at); err != nil {
				return &WriteError{Op: op, Err: err}
			}
		}

		for _, e := range effs {
			a := approvalRow(e, address, at)
			if a == nil {
				continue
			}
			if err := tx.UpsertApproval(ctx, a); err != nil {
				return &WriteError{Op: op, Err: err}
			}
		}

		level := meta.RiskLevel
		if level == "" {
			level = risk.LevelSafe
		}
		details := meta.Details
		if details == "" {
			details = Describe(effs)
		}
		if err := tx.InsertTransaction(ctx, &Transaction{
			ID:           txID,
			Address:      addr,
			Kind:         op,
			FunctionName: meta.Function,
			Counterparty: meta.Counterparty,
			RiskLevel:    string(level),
			RiskScore:    meta.RiskScore,
			Details:      details,
			CreatedAt:    at,
		}); err != nil {
			return &WriteError{Op: op, Err: err}
		}

		action := meta.Action
		if action == "" {
			action = ActionTransactionExecuted
		}
		if _, err := tx.InsertLog(ctx, &ActivityLog{
			Address:   addr,
			Action:    action,
			Details:   details,
			Severity:  SeverityFor(level),
			CreatedAt: at,
		}); err != nil {
			return &WriteError{Op: op, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	balances, err := l.balances(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{TxID: txID, Balances: balances}, nil
}

// transferUnits returns the balance key and whole-unit amount moved by t.
// ERC721 transfers move one item of the collection.
func transferUnits(t *effects.Transfer) (string, decimal.Decimal) {
	if t.Token.Standard == signatures.ERC721 {
		return t.Token.Address.Hex(), decimal.NewFromInt(1)
	}
	return t.Token.Key(), effects.Units(t.Token, t.Amount)
}

func approvalRow(e effects.Effect, owner common.Address, at time.Time) *Approval {
	switch v := e.(type) {
	case *effects.Approve:
		if v.Owner != owner {
			return nil
		}
		revoked := v.Amount == nil || v.Amount.Sign() == 0
		return &Approval{
			Address:   owner.Hex(),
			Token:     v.Token.Key(),
			Spender:   v.Spender.Hex(),
			Kind:      ApprovalToken,
			Amount:    effects.Units(v.Token, v.Amount),
			Unlimited: v.Unlimited,
			Revoked:   revoked,
			UpdatedAt: at,
		}
	case *effects.ApproveAll:
		if v.Owner != owner {
			return nil
		}
		return &Approval{
			Address:   owner.Hex(),
			Token:     v.Collection.Address.Hex(),
			Spender:   v.Operator.Hex(),
			Kind:      ApprovalCollection,
			Amount:    decimal.Zero,
			Unlimited: true,
			Revoked:   !v.Approved,
			UpdatedAt: at,
		}
	}
	return nil
}

// Describe renders a one-line summary of an effect set for history rows.
func Describe(effs []effects.Effect) string {
	parts := make([]string, 0, len(effs))
	for _, e := range effs {
		switch v := e.(type) {
		case *effects.Transfer:
			key, units := transferUnits(v)
			if v.Token.Standard == signatures.ERC721 && v.TokenID != nil {
				parts = append(parts, fmt.Sprintf("transfer %s #%s to %s", key, v.TokenID, v.To.Hex()))
				continue
			}
			parts = append(parts, fmt.Sprintf("transfer %s %s to %s", units.String(), key, v.To.Hex()))
		case *effects.Approve:
			amt := effects.Units(v.Token, v.Amount).String()
			if v.Unlimited {
				amt = "unlimited"
			}
			parts = append(parts, fmt.Sprintf("approve %s %s for %s", amt, v.Token.Key(), v.Spender.Hex()))
		case *effects.ApproveAll:
			verb := "approve all"
			if !v.Approved {
				verb = "revoke all"
			}
			parts = append(parts, fmt.Sprintf("%s %s for %s", verb, v.Collection.Address.Hex(), v.Operator.Hex()))
		case *effects.Unknown:
			parts = append(parts, fmt.Sprintf("call %s on %s", v.Selector, v.Contract.Hex()))
		}
	}
	return strings.Join(parts, "; ")
}

// Swap exchanges one known token for another through the swap desk.
func (l *Ledger) Swap(ctx context.Context, req SwapRequest) (*ApplyResult, error) {
	from, ok := signatures.TokenBySymbol(req.FromToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.FromToken)
	}
	to, ok := signatures.TokenBySymbol(req.ToToken)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, req.ToToken)
	}

	amountTo := req.AmountTo
	if amountTo.IsZero() {
		amountTo = req.Amount
	}
	rawFrom, err := toRaw(from, req.Amount)
	if err != nil {
		return nil, err
	}
	rawTo, err := toRaw(to, amountTo)
	if err != nil {
		return nil, err
	}

	effs := []effects.Effect{
		&effects.Transfer{Token: from, From: req.Address, To: SwapDesk, Amount: rawFrom},
		&effects.Transfer{Token: to, From: SwapDesk, To: req.Address, Amount: rawTo},
	}
	return l.ApplyEffects(ctx, req.Address, effs, Meta{
		Kind:         KindSwap,
		Function:     "swap",
		Counterparty: SwapDesk.Hex(),
		RiskLevel:    risk.LevelSafe,
		Action:       ActionSwapExecuted,
		Details: fmt.Sprintf("Swapped %s %s for %s %s",
			req.Amount.String(), from.Symbol, amountTo.String(), to.Symbol),
	})
}

// toRaw scales a positive whole-unit amount to the token's integer units.
// Amounts finer than the token's decimals are rejected.
func toRaw(t signatures.Token, amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !validation.AmountInRange(amount) {
		return nil, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	shifted := amount.Shift(t.Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %s supports %d decimals", ErrInvalidAmount, t.Symbol, t.Decimals)
	}
	return shifted.BigInt(), nil
}

// RecordActivity appends an activity log row and returns its id.
func (l *Ledger) RecordActivity(ctx context.Context, address common.Address, action, details string, level risk.Level) (int64, error) {
	addr := address.Hex()
	var id int64
	err := l.withTx(ctx, addr, "record_activity", func(tx Tx) error {
		if err := l.ensure(ctx, tx, "record_activity", addr); err != nil {
			return err
		}
		var err error
		id, err = tx.InsertLog(ctx, &ActivityLog{
			Address:   addr,
			Action:    action,
			Details:   details,
			Severity:  SeverityFor(level),
			CreatedAt: l.now(),
		})
		if err != nil {
			return &WriteError{Op: "record_activity", Err: err}
		}
		return nil
	})
	return id, err
}

// RevokeApproval marks an active approval revoked. token may be a symbol or
// a contract address; spender must be an address.
func (l *Ledger) RevokeApproval(ctx context.Context, address common.Address, token string, spender common.Address) error {
	addr := address.Hex()
	key := tokenKey(token)
	if common.IsHexAddress(token) {
		key = signatures.TokenByAddress(common.HexToAddress(token)).Key()
	}

	return l.withTx(ctx, addr, "revoke_approval", func(tx Tx) error {
		a, err := tx.Approval(ctx, addr, key, spender.Hex())
		if err != nil {
			return &WriteError{Op: "revoke_approval", Err: err}
		}
		if a == nil || a.Revoked {
			return ErrApprovalNotFound
		}
		at := l.now()
		a.Revoked = true
		a.UpdatedAt = at
		if err := tx.UpsertApproval(ctx, a); err != nil {
			return &WriteError{Op: "revoke_approval", Err: err}
		}
		if _, err := tx.InsertLog(ctx, &ActivityLog{
			Address:   addr,
			Action:    ActionApprovalRevoked,
			Details:   fmt.Sprintf("Revoked %s approval for %s", key, spender.Hex()),
			Severity:  SeverityInfo,
			CreatedAt: at,
		}); err != nil {
			return &WriteError{Op: "revoke_approval", Err: err}
		}
		return nil
	})
}

// Balances returns the wallet's balances keyed by token, creating the
// wallet first if needed.
func (l *Ledger) Balances(ctx context.Context, address common.Address) (map[string]decimal.Decimal, error) {
	if err := l.EnsureWallet(ctx, address); err != nil {
		return nil, err
	}
	return l.balances(ctx, address.Hex())
}

func (l *Ledger) balances(ctx context.Context, addr string) (map[string]decimal.Decimal, error) {
	rows, err := l.store.Balances(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("ledger balances: %w", err)
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, b := range rows {
		out[b.Token] = b.Amount
	}
	return out, nil
}

// Approvals returns the wallet's active approvals.
func (l *Ledger) Approvals(ctx context.Context, address common.Address) ([]Approval, error) {
	rows, err := l.store.Approvals(ctx, address.Hex())
	if err != nil {
		return nil, fmt.Errorf("ledger approvals: %w", err)
	}
	return rows, nil
}

// Transactions returns the newest transactions first. limit <= 0 means 50.
func (l *Ledger) Transactions(ctx context.Context, address common.Address, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.store.Transactions(ctx, address.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger transactions: %w", err)
	}
	return rows, nil
}

// Logs returns the newest activity log rows first. limit <= 0 means 100.
func (l *Ledger) Logs(ctx context.Context, address common.Address, limit int) ([]ActivityLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.store.Logs(ctx, address.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger logs: %w", err)
	}
	return rows, nil
}

// Stats returns transaction and threat counts plus current balances.
func (l *Ledger) Stats(ctx context.Context, address common.Address) (*Stats, error) {
	balances, err := l.Balances(ctx, address)
	if err != nil {
		return nil, err
	}
	addr := address.Hex()
	total, err := l.store.CountTransactions(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	blocked, err := l.store.CountLogs(ctx, addr, ActionTransactionRejected)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	return &Stats{TotalTransactions: total, ThreatsBlocked: blocked, Balances: balances}, nil
}

// Ping checks the store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
