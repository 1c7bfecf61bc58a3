package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"risklock/internal/account"
	"risklock/internal/storage"
)

const tradeColumns = `id, account_id, ticket, symbol, side, volume, open_price, profit, open_time, status,
	session, risk_score, rule_snapshot_id, created_at, updated_at`

func scanTrade(row scannable) (storage.TradeRecord, error) {
	var (
		tr        storage.TradeRecord
		openTime  sql.NullString
		snapshot  sql.NullInt64
		createdAt string
		updatedAt string
	)
	err := row.Scan(&tr.ID, &tr.AccountID, &tr.Ticket, &tr.Symbol, &tr.Side, &tr.Volume, &tr.OpenPrice,
		&tr.Profit, &openTime, &tr.Status, &tr.Session, &tr.RiskScore, &snapshot, &createdAt, &updatedAt)
	if err != nil {
		return storage.TradeRecord{}, err
	}
	if openTime.Valid {
		tr.OpenTime = parseTime(openTime.String)
	}
	if snapshot.Valid {
		id := snapshot.Int64
		tr.RuleSnapshotID = &id
	}
	tr.CreatedAt = parseTime(createdAt)
	tr.UpdatedAt = parseTime(updatedAt)
	return tr, nil
}

// BeginTx 开启对账事务。
func (s *Store) BeginTx(ctx context.Context) (storage.LedgerTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: 开启事务失败: %w", err)
	}
	return &ledgerTx{tx: tx}, nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (l *ledgerTx) TradeByTicket(ctx context.Context, accountID, ticket int64) (storage.TradeRecord, error) {
	row := l.tx.QueryRowContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE account_id = ? AND ticket = ?`, accountID, ticket)
	tr, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.TradeRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.TradeRecord{}, fmt.Errorf("sqlite: 查询持仓失败: %w", err)
	}
	return tr, nil
}

func (l *ledgerTx) InsertTrade(ctx context.Context, trade *storage.TradeRecord) error {
	if trade.Status == "" {
		trade.Status = storage.TradeStatusOpen
	}
	var openTime interface{}
	if !trade.OpenTime.IsZero() {
		openTime = formatTime(trade.OpenTime)
	}
	var snapshot interface{}
	if trade.RuleSnapshotID != nil {
		snapshot = *trade.RuleSnapshotID
	}

	res, err := l.tx.ExecContext(ctx,
		`INSERT INTO trades (account_id, ticket, symbol, side, volume, open_price, profit, open_time, status,
			session, risk_score, rule_snapshot_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.AccountID, trade.Ticket, trade.Symbol, trade.Side, trade.Volume, trade.OpenPrice, trade.Profit,
		openTime, trade.Status, trade.Session, trade.RiskScore, snapshot,
		formatTime(trade.CreatedAt), formatTime(trade.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: ticket %d", storage.ErrDuplicateKey, trade.Ticket)
		}
		return fmt.Errorf("sqlite: 写入持仓失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: 读取持仓编号失败: %w", err)
	}
	trade.ID = id
	return nil
}

func (l *ledgerTx) UpdateTrade(ctx context.Context, accountID, ticket int64, profit float64, riskScore int, at time.Time) error {
	res, err := l.tx.ExecContext(ctx,
		`UPDATE trades SET profit = ?, risk_score = ?, updated_at = ? WHERE account_id = ? AND ticket = ?`,
		profit, riskScore, formatTime(at), accountID, ticket,
	)
	if err != nil {
		return fmt.Errorf("sqlite: 更新持仓失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (l *ledgerTx) InsertRuleSnapshot(ctx context.Context, snap *account.RuleSnapshot) error {
	r := snap.Rules
	res, err := l.tx.ExecContext(ctx,
		`INSERT INTO risk_rule_snapshots (account_id, daily_loss_limit_pct, max_drawdown_limit_pct,
			max_daily_trades, max_lot_size, news_trading_allowed, preset_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.AccountID, r.DailyLossLimitPct, r.MaxDrawdownLimitPct, r.MaxDailyTrades, r.MaxLotSize,
		r.NewsTradingAllowed, r.PresetName, formatTime(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: 写入规则快照失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: 读取快照编号失败: %w", err)
	}
	snap.ID = id
	return nil
}

func (l *ledgerTx) InsertAuditLog(ctx context.Context, entry *account.AuditEntry) error {
	return insertAudit(ctx, l.tx, entry)
}

func (l *ledgerTx) SetAccountStatus(ctx context.Context, accountID int64, status string) error {
	res, err := l.tx.ExecContext(ctx, `UPDATE broker_accounts SET last_status = ? WHERE id = ?`, status, accountID)
	if err != nil {
		return fmt.Errorf("sqlite: 更新账户状态失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (l *ledgerTx) Commit() error {
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: 提交事务失败: %w", err)
	}
	return nil
}

func (l *ledgerTx) Rollback() error {
	if err := l.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("sqlite: 回滚事务失败: %w", err)
	}
	return nil
}

func insertAudit(ctx context.Context, tx *sql.Tx, entry *account.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO audit_logs (account_id, action, category, details, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.AccountID, entry.Action, entry.Category, string(entry.Details), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: 写入审计日志失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: 读取审计编号失败: %w", err)
	}
	entry.ID = id
	return nil
}
