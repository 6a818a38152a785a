package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type approvalKey struct {
	token   string
	spender string
}

// MemoryStore is an in-memory ledger store for demo/development mode.
// State lives for the life of the process.
//
// A Tx holds the store's write lock until Commit or Rollback; its writes go
// straight to the maps and are undone in reverse order on rollback.
type MemoryStore struct {
	mu        sync.RWMutex
	wallets   map[string]time.Time
	balances  map[string]map[string]*Balance
	approvals map[string]map[approvalKey]*Approval
	txs       []Transaction
	logs      []ActivityLog
	lastLogID int64
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:   make(map[string]time.Time),
		balances:  make(map[string]map[string]*Balance),
		approvals: make(map[string]map[approvalKey]*Approval),
	}
}

func (m *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	return &memoryTx{m: m}, nil
}

func (m *MemoryStore) Balances(ctx context.Context, address string) ([]Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Balance, 0, len(m.balances[address]))
	for _, b := range m.balances[address] {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Token < out[j].Token })
	return out, nil
}

func (m *MemoryStore) Approvals(ctx context.Context, address string) ([]Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Approval, 0)
	for _, a := range m.approvals[address] {
		if !a.Revoked {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) Transactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transaction, 0)
	for i := len(m.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txs[i].Address == address {
			out = append(out, m.txs[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) Logs(ctx context.Context, address string, limit int) ([]ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ActivityLog, 0)
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].Address == address {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) CountTransactions(ctx context.Context, address string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, t := range m.txs {
		if t.Address == address {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountLogs(ctx context.Context, address, action string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, l := range m.logs {
		if l.Address == address && l.Action == action {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memoryTx struct {
	m    *MemoryStore
	undo []func()
	done bool
}

func (t *memoryTx) WalletExists(ctx context.Context, address string) (bool, error) {
	_, ok := t.m.wallets[address]
	return ok, nil
}

func (t *memoryTx) CreateWallet(ctx context.Context, address string, at time.Time) error {
	if _, ok := t.m.wallets[address]; ok {
		return nil
	}
	t.m.wallets[address] = at
	t.undo = append(t.undo, func() { delete(t.m.wallets, address) })
	return nil
}

func (t *memoryTx) Balance(ctx context.Context, address, token string) (decimal.Decimal, error) {
	if b, ok := t.m.balances[address][token]; ok {
		return b.Amount, nil
	}
	return decimal.Zero, nil
}

func (t *memoryTx) SetBalance(ctx context.Context, address, token string, amount decimal.Decimal, at time.Time) error {
	if amount.IsNegative() {
		return ErrInsufficientBalance
	}
	byToken, ok := t.m.balances[address]
	if !ok {
		byToken = make(map[string]*Balance)
		t.m.balances[address] = byToken
	}
	if prev, ok := byToken[token]; ok {
		old := *prev
		t.undo = append(t.undo, func() { *prev = old })
		prev.Amount = amount
		prev.UpdatedAt = at
		return nil
	}
	byToken[token] = &Balance{Address: address, Token: token, Amount: amount, UpdatedAt: at}
	t.undo = append(t.undo, func() { delete(byToken, token) })
	return nil
}

func (t *memoryTx) Approval(ctx context.Context, address, token, spender string) (*Approval, error) {
	if a, ok := t.m.approvals[address][approvalKey{token, spender}]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (t *memoryTx) UpsertApproval(ctx context.Context, a *Approval) error {
	byKey, ok := t.m.approvals[a.Address]
	if !ok {
		byKey = make(map[approvalKey]*Approval)
		t.m.approvals[a.Address] = byKey
	}
	key := approvalKey{a.Token, a.Spender}
	if prev, ok := byKey[key]; ok {
		old := *prev
		t.undo = append(t.undo, func() { *prev = old })
		*prev = *a
		return nil
	}
	cp := *a
	byKey[key] = &cp
	t.undo = append(t.undo, func() { delete(byKey, key) })
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tr *Transaction) error {
	n := len(t.m.txs)
	t.m.txs = append(t.m.txs, *tr)
	t.undo = append(t.undo, func() { t.m.txs = t.m.txs[:n] })
	return nil
}

func (t *memoryTx) InsertLog(ctx context.Context, l *ActivityLog) (int64, error) {
	n, last := len(t.m.logs), t.m.lastLogID
	t.m.lastLogID++
	row := *l
	row.ID = t.m.lastLogID
	t.m.logs = append(t.m.logs, row)
	t.undo = append(t.undo, func() {
		t.m.logs = t.m.logs[:n]
		t.m.lastLogID = last
	})
	return row.ID, nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.undo = nil
	t.m.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.m.mu.Unlock()
	return nil
}
