package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"risklock/internal/account"
	"risklock/internal/config"
	"risklock/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 实现 storage.Store。
type Store struct {
	pool   *Pool
	logger *zap.Logger
}

// New 连接数据库并执行迁移。
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

// NewWithPool 复用已有连接池，不执行迁移。
func NewWithPool(pool *Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const accountColumns = `id, name, owner_email, tier, provider, external_id, is_active, email_alerts_enabled,
	chat_alerts_enabled, chat_target, last_notification_at, last_status, daily_loss_limit_pct,
	max_drawdown_limit_pct, max_daily_trades, max_lot_size, news_trading_allowed, preset_name, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (account.Account, error) {
	var (
		acct account.Account
		tier string
	)
	err := row.Scan(&acct.ID, &acct.Name, &acct.OwnerEmail, &tier, &acct.Provider, &acct.ExternalID,
		&acct.IsActive, &acct.EmailAlertsEnabled, &acct.ChatAlertsEnabled, &acct.ChatTarget,
		&acct.LastNotificationAt, &acct.LastStatus, &acct.Rules.DailyLossLimitPct,
		&acct.Rules.MaxDrawdownLimitPct, &acct.Rules.MaxDailyTrades, &acct.Rules.MaxLotSize,
		&acct.Rules.NewsTradingAllowed, &acct.Rules.PresetName, &acct.CreatedAt)
	if err != nil {
		return account.Account{}, err
	}
	acct.Tier = account.Tier(tier)
	return acct, nil
}

func (s *Store) CreateAccount(ctx context.Context, acct *account.Account) error {
	if acct == nil || acct.Name == "" {
		return fmt.Errorf("%w: account name required", storage.ErrInvalidInput)
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	r := acct.Rules
	err := s.pool.QueryRow(ctx, `
		INSERT INTO broker_accounts (
			name, owner_email, tier, provider, external_id, is_active, email_alerts_enabled,
			chat_alerts_enabled, chat_target, last_status, daily_loss_limit_pct, max_drawdown_limit_pct,
			max_daily_trades, max_lot_size, news_trading_allowed, preset_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`,
		acct.Name, acct.OwnerEmail, string(acct.Tier), acct.Provider, acct.ExternalID, acct.IsActive,
		acct.EmailAlertsEnabled, acct.ChatAlertsEnabled, acct.ChatTarget, acct.LastStatus,
		r.DailyLossLimitPct, r.MaxDrawdownLimitPct, r.MaxDailyTrades, r.MaxLotSize, r.NewsTradingAllowed,
		r.PresetName, acct.CreatedAt,
	).Scan(&acct.ID)
	if err != nil {
		return fmt.Errorf("postgres: 创建账户失败: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM broker_accounts WHERE id = $1`, id))
	if isNotFoundError(err) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("postgres: 查询账户失败: %w", err)
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM broker_accounts`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: 查询账户列表失败: %w", err)
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: 解析账户失败: %w", err)
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (s *Store) SaveRules(ctx context.Context, id int64, rules account.RuleConfig, audit *account.AuditEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: 开启事务失败: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE broker_accounts SET daily_loss_limit_pct = $1, max_drawdown_limit_pct = $2, max_daily_trades = $3,
			max_lot_size = $4, news_trading_allowed = $5, preset_name = $6
		WHERE id = $7`,
		rules.DailyLossLimitPct, rules.MaxDrawdownLimitPct, rules.MaxDailyTrades, rules.MaxLotSize,
		rules.NewsTradingAllowed, rules.PresetName, id,
	)
	if err != nil {
		return fmt.Errorf("postgres: 更新规则失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	if audit != nil {
		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: 提交事务失败: %w", err)
	}
	return nil
}

func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE broker_accounts SET last_notification_at = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres: 更新通知时间失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AuditLog(ctx context.Context, accountID int64, limit int) ([]account.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, action, category, details, created_at FROM audit_logs
		WHERE account_id = $1 ORDER BY id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: 查询审计日志失败: %w", err)
	}
	defer rows.Close()

	var out []account.AuditEntry
	for rows.Next() {
		var entry account.AuditEntry
		var details []byte
		if err := rows.Scan(&entry.ID, &entry.AccountID, &entry.Action, &entry.Category, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: 解析审计日志失败: %w", err)
		}
		entry.Details = details
		out = append(out, entry)
	}
	return out, rows.Err()
}

const tradeColumns = `id, account_id, ticket, symbol, side, volume, open_price, profit, open_time, status,
	session, risk_score, rule_snapshot_id, created_at, updated_at`

func scanTrade(row scanner) (storage.TradeRecord, error) {
	var (
		tr       storage.TradeRecord
		openTime *time.Time
	)
	err := row.Scan(&tr.ID, &tr.AccountID, &tr.Ticket, &tr.Symbol, &tr.Side, &tr.Volume, &tr.OpenPrice,
		&tr.Profit, &openTime, &tr.Status, &tr.Session, &tr.RiskScore, &tr.RuleSnapshotID,
		&tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return storage.TradeRecord{}, err
	}
	if openTime != nil {
		tr.OpenTime = *openTime
	}
	return tr, nil
}

func (s *Store) TradesByAccount(ctx context.Context, accountID int64) ([]storage.TradeRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tradeColumns+` FROM trades WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: 查询持仓失败: %w", err)
	}
	defer rows.Close()

	var out []storage.TradeRecord
	for rows.Next() {
		tr, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: 解析持仓失败: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *Store) RuleSnapshot(ctx context.Context, id int64) (account.RuleSnapshot, error) {
	var snap account.RuleSnapshot
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, daily_loss_limit_pct, max_drawdown_limit_pct, max_daily_trades, max_lot_size,
			news_trading_allowed, preset_name, created_at
		FROM risk_rule_snapshots WHERE id = $1`, id,
	).Scan(&snap.ID, &snap.AccountID, &snap.Rules.DailyLossLimitPct, &snap.Rules.MaxDrawdownLimitPct,
		&snap.Rules.MaxDailyTrades, &snap.Rules.MaxLotSize, &snap.Rules.NewsTradingAllowed,
		&snap.Rules.PresetName, &snap.CreatedAt)
	if isNotFoundError(err) {
		return account.RuleSnapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return account.RuleSnapshot{}, fmt.Errorf("postgres: 查询规则快照失败: %w", err)
	}
	return snap, nil
}

func (s *Store) AppendEvent(ctx context.Context, event storage.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES ($1, $2, $3)`,
		event.Type, string(event.Payload), event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: 写入事件失败: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]storage.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, payload, created_at FROM monitor_events
		WHERE $1 = '' OR event_type = $1
		ORDER BY id DESC LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]storage.Event, 0, limit)
	for rows.Next() {
		var ev storage.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: 解析事件失败: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

// BeginTx 开启对账事务。
func (s *Store) BeginTx(ctx context.Context) (storage.LedgerTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: 开启事务失败: %w", err)
	}
	return &ledgerTx{ctx: ctx, tx: tx}, nil
}

type ledgerTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (l *ledgerTx) TradeByTicket(ctx context.Context, accountID, ticket int64) (storage.TradeRecord, error) {
	tr, err := scanTrade(l.tx.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE account_id = $1 AND ticket = $2`, accountID, ticket))
	if isNotFoundError(err) {
		return storage.TradeRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TradeRecord{}, fmt.Errorf("postgres: 查询持仓失败: %w", err)
	}
	return tr, nil
}

func (l *ledgerTx) InsertTrade(ctx context.Context, trade *storage.TradeRecord) error {
	if trade.Status == "" {
		trade.Status = storage.TradeStatusOpen
	}
	var openTime *time.Time
	if !trade.OpenTime.IsZero() {
		ts := trade.OpenTime.UTC()
		openTime = &ts
	}
	now := time.Now().UTC()
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = now
	}
	if trade.UpdatedAt.IsZero() {
		trade.UpdatedAt = now
	}

	err := l.tx.QueryRow(ctx, `
		INSERT INTO trades (
			account_id, ticket, symbol, side, volume, open_price, profit, open_time, status,
			session, risk_score, rule_snapshot_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		trade.AccountID, trade.Ticket, trade.Symbol, trade.Side, trade.Volume, trade.OpenPrice, trade.Profit,
		openTime, trade.Status, trade.Session, trade.RiskScore, trade.RuleSnapshotID,
		trade.CreatedAt, trade.UpdatedAt,
	).Scan(&trade.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: ticket %d", storage.ErrDuplicateKey, trade.Ticket)
		}
		return fmt.Errorf("postgres: 写入持仓失败: %w", err)
	}
	return nil
}

func (l *ledgerTx) UpdateTrade(ctx context.Context, accountID, ticket int64, profit float64, riskScore int, at time.Time) error {
	tag, err := l.tx.Exec(ctx,
		`UPDATE trades SET profit = $1, risk_score = $2, updated_at = $3 WHERE account_id = $4 AND ticket = $5`,
		profit, riskScore, at.UTC(), accountID, ticket,
	)
	if err != nil {
		return fmt.Errorf("postgres: 更新持仓失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (l *ledgerTx) InsertRuleSnapshot(ctx context.Context, snap *account.RuleSnapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	r := snap.Rules
	err := l.tx.QueryRow(ctx, `
		INSERT INTO risk_rule_snapshots (
			account_id, daily_loss_limit_pct, max_drawdown_limit_pct, max_daily_trades, max_lot_size,
			news_trading_allowed, preset_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		snap.AccountID, r.DailyLossLimitPct, r.MaxDrawdownLimitPct, r.MaxDailyTrades, r.MaxLotSize,
		r.NewsTradingAllowed, r.PresetName, snap.CreatedAt,
	).Scan(&snap.ID)
	if err != nil {
		return fmt.Errorf("postgres: 写入规则快照失败: %w", err)
	}
	return nil
}

func (l *ledgerTx) InsertAuditLog(ctx context.Context, entry *account.AuditEntry) error {
	return insertAudit(ctx, l.tx, entry)
}

func (l *ledgerTx) SetAccountStatus(ctx context.Context, accountID int64, status string) error {
	tag, err := l.tx.Exec(ctx, `UPDATE broker_accounts SET last_status = $1 WHERE id = $2`, status, accountID)
	if err != nil {
		return fmt.Errorf("postgres: 更新账户状态失败: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (l *ledgerTx) Commit() error {
	if err := l.tx.Commit(l.ctx); err != nil {
		return fmt.Errorf("postgres: 提交事务失败: %w", err)
	}
	return nil
}

func (l *ledgerTx) Rollback() error {
	if err := l.tx.Rollback(context.WithoutCancel(l.ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres: 回滚事务失败: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry *account.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO audit_logs (account_id, action, category, details, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.AccountID, entry.Action, entry.Category, string(entry.Details), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("postgres: 写入审计日志失败: %w", err)
	}
	return nil
}
