package storage

import (
	"context"
	"encoding/json"
	"time"

	"risklock/internal/account"
)

// TradeStatusOpen 是对账写入的持仓状态。
const TradeStatusOpen = "OPEN"

// TradeRecord 是持久化的持仓记录，(AccountID, Ticket) 唯一。
type TradeRecord struct {
	ID             int64     `json:"id"`
	AccountID      int64     `json:"account_id"`
	Ticket         int64     `json:"ticket"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Volume         float64   `json:"volume"`
	OpenPrice      float64   `json:"open_price"`
	Profit         float64   `json:"profit"`
	OpenTime       time.Time `json:"open_time"`
	Status         string    `json:"status"`
	Session        string    `json:"session"`
	RiskScore      int       `json:"risk_score"`
	RuleSnapshotID *int64    `json:"rule_snapshot_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Event 是监控流水中的一条记录。
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// LedgerTx 是一次评估对账使用的事务。
type LedgerTx interface {
	// TradeByTicket 未找到时返回 ErrNotFound。
	TradeByTicket(ctx context.Context, accountID, ticket int64) (TradeRecord, error)
	// InsertTrade 写入新持仓并回填 ID。
	InsertTrade(ctx context.Context, trade *TradeRecord) error
	// UpdateTrade 仅更新浮动盈亏与风险评分，不改动规则快照关联。
	UpdateTrade(ctx context.Context, accountID, ticket int64, profit float64, riskScore int, at time.Time) error
	InsertRuleSnapshot(ctx context.Context, snapshot *account.RuleSnapshot) error
	InsertAuditLog(ctx context.Context, entry *account.AuditEntry) error
	SetAccountStatus(ctx context.Context, accountID int64, status string) error
	Commit() error
	Rollback() error
}

// Ledger 开启对账事务。
type Ledger interface {
	BeginTx(ctx context.Context) (LedgerTx, error)
}

// AccountStore 管理账户与规则。
type AccountStore interface {
	CreateAccount(ctx context.Context, acct *account.Account) error
	// GetAccount 未找到时返回 ErrNotFound。
	GetAccount(ctx context.Context, id int64) (account.Account, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]account.Account, error)
	// SaveRules 原子地写入新规则与审计记录，audit 为 nil 时只写规则。
	SaveRules(ctx context.Context, id int64, rules account.RuleConfig, audit *account.AuditEntry) error
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	AuditLog(ctx context.Context, accountID int64, limit int) ([]account.AuditEntry, error)
}

// TradeStore 提供持仓与规则快照查询。
type TradeStore interface {
	TradesByAccount(ctx context.Context, accountID int64) ([]TradeRecord, error)
	RuleSnapshot(ctx context.Context, id int64) (account.RuleSnapshot, error)
}

// EventStore 管理监控流水。
type EventStore interface {
	AppendEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, eventType string, limit int) ([]Event, error)
}

// Store 聚合全部持久化能力。
type Store interface {
	Ledger
	AccountStore
	TradeStore
	EventStore
	Close() error
}
