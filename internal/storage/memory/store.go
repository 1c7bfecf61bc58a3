// Package memory 提供进程内存储，用于测试与无持久化运行。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"risklock/internal/account"
	"risklock/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type tradeKey struct {
	accountID int64
	ticket    int64
}

// Store 是线程安全的内存存储。事务期间持有写锁，回滚时恢复开启事务时的副本。
type Store struct {
	mu sync.Mutex

	accounts  map[int64]account.Account
	trades    map[tradeKey]storage.TradeRecord
	snapshots map[int64]account.RuleSnapshot
	audit     []account.AuditEntry
	events    []storage.Event
	nextID    int64
}

// New 创建空存储。
func New() *Store {
	return &Store{
		accounts:  make(map[int64]account.Account),
		trades:    make(map[tradeKey]storage.TradeRecord),
		snapshots: make(map[int64]account.RuleSnapshot),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	if acct == nil || acct.Name == "" {
		return fmt.Errorf("%w: account name required", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct.ID = s.id()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	s.accounts[acct.ID] = *acct
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return account.Account{}, storage.ErrNotFound
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		if activeOnly && !acct.IsActive {
			continue
		}
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveRules(ctx context.Context, id int64, rules account.RuleConfig, audit *account.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	acct.Rules = rules
	s.accounts[id] = acct
	if audit != nil {
		audit.ID = s.id()
		s.audit = append(s.audit, *audit)
	}
	return nil
}

func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return storage.ErrNotFound
	}
	ts := at.UTC()
	acct.LastNotificationAt = &ts
	s.accounts[id] = acct
	return nil
}

func (s *Store) AuditLog(ctx context.Context, accountID int64, limit int) ([]account.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]account.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if s.audit[i].AccountID == accountID {
			out = append(out, s.audit[i])
		}
	}
	return out, nil
}

func (s *Store) TradesByAccount(ctx context.Context, accountID int64) ([]storage.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.TradeRecord, 0)
	for key, tr := range s.trades {
		if key.accountID == accountID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RuleSnapshot(ctx context.Context, id int64) (account.RuleSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return account.RuleSnapshot{}, storage.ErrNotFound
	}
	return snap, nil
}

func (s *Store) AppendEvent(ctx context.Context, event storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event.ID = s.id()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, event)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]storage.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := make([]storage.Event, 0)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if eventType == "" || s.events[i].Type == eventType {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// BeginTx 获取写锁直到 Commit 或 Rollback。
func (s *Store) BeginTx(ctx context.Context) (storage.LedgerTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &tx{store: s, backup: s.backup()}, nil
}

type backup struct {
	accounts  map[int64]account.Account
	trades    map[tradeKey]storage.TradeRecord
	snapshots map[int64]account.RuleSnapshot
	auditLen  int
	nextID    int64
}

func (s *Store) backup() backup {
	b := backup{
		accounts:  make(map[int64]account.Account, len(s.accounts)),
		trades:    make(map[tradeKey]storage.TradeRecord, len(s.trades)),
		snapshots: make(map[int64]account.RuleSnapshot, len(s.snapshots)),
		auditLen:  len(s.audit),
		nextID:    s.nextID,
	}
	for k, v := range s.accounts {
		b.accounts[k] = v
	}
	for k, v := range s.trades {
		b.trades[k] = v
	}
	for k, v := range s.snapshots {
		b.snapshots[k] = v
	}
	return b
}

type tx struct {
	store  *Store
	backup backup
	done   bool
}

func (t *tx) TradeByTicket(ctx context.Context, accountID, ticket int64) (storage.TradeRecord, error) {
	tr, ok := t.store.trades[tradeKey{accountID, ticket}]
	if !ok {
		return storage.TradeRecord{}, storage.ErrNotFound
	}
	return tr, nil
}

func (t *tx) InsertTrade(ctx context.Context, trade *storage.TradeRecord) error {
	key := tradeKey{trade.AccountID, trade.Ticket}
	if _, exists := t.store.trades[key]; exists {
		return storage.ErrDuplicateKey
	}
	trade.ID = t.store.id()
	if trade.Status == "" {
		trade.Status = storage.TradeStatusOpen
	}
	t.store.trades[key] = *trade
	return nil
}

func (t *tx) UpdateTrade(ctx context.Context, accountID, ticket int64, profit float64, riskScore int, at time.Time) error {
	key := tradeKey{accountID, ticket}
	tr, ok := t.store.trades[key]
	if !ok {
		return storage.ErrNotFound
	}
	tr.Profit = profit
	tr.RiskScore = riskScore
	tr.UpdatedAt = at.UTC()
	t.store.trades[key] = tr
	return nil
}

func (t *tx) InsertRuleSnapshot(ctx context.Context, snapshot *account.RuleSnapshot) error {
	snapshot.ID = t.store.id()
	t.store.snapshots[snapshot.ID] = *snapshot
	return nil
}

func (t *tx) InsertAuditLog(ctx context.Context, entry *account.AuditEntry) error {
	entry.ID = t.store.id()
	t.store.audit = append(t.store.audit, *entry)
	return nil
}

func (t *tx) SetAccountStatus(ctx context.Context, accountID int64, status string) error {
	acct, ok := t.store.accounts[accountID]
	if !ok {
		return storage.ErrNotFound
	}
	acct.LastStatus = status
	t.store.accounts[accountID] = acct
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	s := t.store
	s.accounts = t.backup.accounts
	s.trades = t.backup.trades
	s.snapshots = t.backup.snapshots
	s.audit = s.audit[:t.backup.auditLen]
	s.nextID = t.backup.nextID
	s.mu.Unlock()
	return nil
}
