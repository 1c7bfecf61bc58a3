package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"risklock/internal/account"
	"risklock/internal/config"
	"risklock/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 封装 SQLite 连接并实现全部持久化接口。
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New 根据配置初始化 SQLite 存储并建表。
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := cfg.Path
	if cfg.InMemory {
		dsn = "file::memory:?cache=shared"
	} else {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", dsn+sep+"_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: 打开数据库失败: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.InMemory || maxOpen <= 0 {
		maxOpen = 1
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if !cfg.InMemory {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("sqlite: 设置 WAL 模式失败: %w", err)
		}
	}
	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite: 设置同步级别失败: %w", err)
	}

	s := &Store{db: conn, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// DB 返回底层 *sql.DB。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS broker_accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			owner_email TEXT NOT NULL DEFAULT '',
			tier TEXT NOT NULL DEFAULT 'free',
			provider TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			email_alerts_enabled INTEGER NOT NULL DEFAULT 1,
			chat_alerts_enabled INTEGER NOT NULL DEFAULT 0,
			chat_target TEXT NOT NULL DEFAULT '',
			last_notification_at TEXT,
			last_status TEXT NOT NULL DEFAULT '',
			daily_loss_limit_pct REAL NOT NULL DEFAULT 5.0,
			max_drawdown_limit_pct REAL NOT NULL DEFAULT 10.0,
			max_daily_trades INTEGER NOT NULL DEFAULT 50,
			max_lot_size REAL NOT NULL DEFAULT 10.0,
			news_trading_allowed INTEGER NOT NULL DEFAULT 1,
			preset_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS risk_rule_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES broker_accounts(id),
			daily_loss_limit_pct REAL NOT NULL,
			max_drawdown_limit_pct REAL NOT NULL,
			max_daily_trades INTEGER NOT NULL,
			max_lot_size REAL NOT NULL,
			news_trading_allowed INTEGER NOT NULL,
			preset_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES broker_accounts(id),
			ticket INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			volume REAL NOT NULL,
			open_price REAL NOT NULL,
			profit REAL NOT NULL,
			open_time TEXT,
			status TEXT NOT NULL,
			session TEXT NOT NULL,
			risk_score INTEGER NOT NULL,
			rule_snapshot_id INTEGER REFERENCES risk_rule_snapshots(id),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(account_id, ticket)
		);`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			category TEXT NOT NULL,
			details TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_account ON audit_logs(account_id);`,
		`CREATE TABLE IF NOT EXISTS monitor_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: 初始化表结构失败: %w", err)
		}
	}
	return nil
}

const accountColumns = `id, name, owner_email, tier, provider, external_id, is_active, email_alerts_enabled,
	chat_alerts_enabled, chat_target, last_notification_at, last_status, daily_loss_limit_pct,
	max_drawdown_limit_pct, max_daily_trades, max_lot_size, news_trading_allowed, preset_name, created_at`

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scannable) (account.Account, error) {
	var (
		acct      account.Account
		tier      string
		notified  sql.NullString
		createdAt string
	)
	err := row.Scan(&acct.ID, &acct.Name, &acct.OwnerEmail, &tier, &acct.Provider, &acct.ExternalID,
		&acct.IsActive, &acct.EmailAlertsEnabled, &acct.ChatAlertsEnabled, &acct.ChatTarget, &notified,
		&acct.LastStatus, &acct.Rules.DailyLossLimitPct, &acct.Rules.MaxDrawdownLimitPct,
		&acct.Rules.MaxDailyTrades, &acct.Rules.MaxLotSize, &acct.Rules.NewsTradingAllowed,
		&acct.Rules.PresetName, &createdAt)
	if err != nil {
		return account.Account{}, err
	}
	acct.Tier = account.Tier(tier)
	if notified.Valid && notified.String != "" {
		if ts, parseErr := time.Parse(time.RFC3339Nano, notified.String); parseErr == nil {
			acct.LastNotificationAt = &ts
		}
	}
	acct.CreatedAt = parseTime(createdAt)
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
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO broker_accounts (name, owner_email, tier, provider, external_id, is_active, email_alerts_enabled,
			chat_alerts_enabled, chat_target, last_status, daily_loss_limit_pct, max_drawdown_limit_pct,
			max_daily_trades, max_lot_size, news_trading_allowed, preset_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		acct.Name, acct.OwnerEmail, string(acct.Tier), acct.Provider, acct.ExternalID, acct.IsActive,
		acct.EmailAlertsEnabled, acct.ChatAlertsEnabled, acct.ChatTarget, acct.LastStatus,
		r.DailyLossLimitPct, r.MaxDrawdownLimitPct, r.MaxDailyTrades, r.MaxLotSize, r.NewsTradingAllowed,
		r.PresetName, formatTime(acct.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: 创建账户失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: 读取账户编号失败: %w", err)
	}
	acct.ID = id
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id int64) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM broker_accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return account.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("sqlite: 查询账户失败: %w", err)
	}
	return acct, nil
}

func (s *Store) ListAccounts(ctx context.Context, activeOnly bool) ([]account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM broker_accounts`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: 查询账户列表失败: %w", err)
	}
	defer rows.Close()

	var out []account.Account
	for rows.Next() {
		acct, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sqlite: 解析账户失败: %w", scanErr)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: 读取账户失败: %w", err)
	}
	return out, nil
}

func (s *Store) SaveRules(ctx context.Context, id int64, rules account.RuleConfig, audit *account.AuditEntry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE broker_accounts SET daily_loss_limit_pct = ?, max_drawdown_limit_pct = ?, max_daily_trades = ?,
			max_lot_size = ?, news_trading_allowed = ?, preset_name = ? WHERE id = ?`,
		rules.DailyLossLimitPct, rules.MaxDrawdownLimitPct, rules.MaxDailyTrades, rules.MaxLotSize,
		rules.NewsTradingAllowed, rules.PresetName, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: 更新规则失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = storage.ErrNotFound
		return err
	}

	if audit != nil {
		if err = insertAudit(ctx, tx, audit); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: 提交事务失败: %w", err)
	}
	return nil
}

func (s *Store) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE broker_accounts SET last_notification_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: 更新通知时间失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) AuditLog(ctx context.Context, accountID int64, limit int) ([]account.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, action, category, details, created_at FROM audit_logs
		 WHERE account_id = ? ORDER BY id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: 查询审计日志失败: %w", err)
	}
	defer rows.Close()

	var out []account.AuditEntry
	for rows.Next() {
		var (
			entry     account.AuditEntry
			details   string
			createdAt string
		)
		if scanErr := rows.Scan(&entry.ID, &entry.AccountID, &entry.Action, &entry.Category, &details, &createdAt); scanErr != nil {
			return nil, fmt.Errorf("sqlite: 解析审计日志失败: %w", scanErr)
		}
		entry.Details = []byte(details)
		entry.CreatedAt = parseTime(createdAt)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: 读取审计日志失败: %w", err)
	}
	return out, nil
}

func (s *Store) TradesByAccount(ctx context.Context, accountID int64) ([]storage.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE account_id = ? ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: 查询持仓失败: %w", err)
	}
	defer rows.Close()

	var out []storage.TradeRecord
	for rows.Next() {
		tr, scanErr := scanTrade(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("sqlite: 解析持仓失败: %w", scanErr)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: 读取持仓失败: %w", err)
	}
	return out, nil
}

func (s *Store) RuleSnapshot(ctx context.Context, id int64) (account.RuleSnapshot, error) {
	var (
		snap      account.RuleSnapshot
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, daily_loss_limit_pct, max_drawdown_limit_pct, max_daily_trades, max_lot_size,
			news_trading_allowed, preset_name, created_at FROM risk_rule_snapshots WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.AccountID, &snap.Rules.DailyLossLimitPct, &snap.Rules.MaxDrawdownLimitPct,
		&snap.Rules.MaxDailyTrades, &snap.Rules.MaxLotSize, &snap.Rules.NewsTradingAllowed,
		&snap.Rules.PresetName, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return account.RuleSnapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return account.RuleSnapshot{}, fmt.Errorf("sqlite: 查询规则快照失败: %w", err)
	}
	snap.CreatedAt = parseTime(createdAt)
	return snap, nil
}

func (s *Store) AppendEvent(ctx context.Context, event storage.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		event.Type, string(event.Payload), formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: 写入事件失败: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]storage.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]storage.Event, 0, limit)
	for rows.Next() {
		var (
			ev      storage.Event
			payload string
			created string
		)
		if scanErr := rows.Scan(&ev.ID, &ev.Type, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("sqlite: 解析事件失败: %w", scanErr)
		}
		ev.Payload = []byte(payload)
		ev.CreatedAt = parseTime(created)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: 读取事件失败: %w", err)
	}
	return events, nil
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("sqlite: 创建目录 %q 失败: %w", path, err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}
