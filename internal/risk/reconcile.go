package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"risklock/internal/account"
	"risklock/internal/broker"
	"risklock/internal/storage"
)

// statusChange 是 status_change 审计的明细。
type statusChange struct {
	From       string   `json:"from"`
	To         Status   `json:"to"`
	Violations []string `json:"violations"`
}

// reconcile 在一个事务内按 ticket 对账持仓，返回写入后的风险评分。
// 规则快照在本轮首次遇到新 ticket 时才创建，且仅在提供了规则时创建。
func (e *Evaluator) reconcile(ctx context.Context, in Input, trades []broker.Trade, maxLot float64, status Status, violations []string, now time.Time) (scores []int, err error) {
	acct := in.Account
	tx, err := e.ledger.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.Warn("回滚对账事务失败", zap.Int64("account_id", acct.ID), zap.Error(rbErr))
		}
	}()

	var snapshotID *int64
	scores = make([]int, len(trades))
	for i, t := range trades {
		_, lookupErr := tx.TradeByTicket(ctx, acct.ID, t.Ticket)
		switch {
		case errors.Is(lookupErr, storage.ErrNotFound):
			if snapshotID == nil && in.Rules != nil {
				snap := account.RuleSnapshot{AccountID: acct.ID, Rules: *in.Rules, CreatedAt: now}
				if err = tx.InsertRuleSnapshot(ctx, &snap); err != nil {
					return nil, fmt.Errorf("risk: 写入规则快照失败: %w", err)
				}
				id := snap.ID
				snapshotID = &id
			}
			rec := storage.TradeRecord{
				AccountID:      acct.ID,
				Ticket:         t.Ticket,
				Symbol:         t.Symbol,
				Side:           string(t.Side),
				Volume:         t.Volume,
				OpenPrice:      t.OpenPrice,
				Profit:         t.Profit,
				OpenTime:       t.OpenTime,
				Status:         storage.TradeStatusOpen,
				Session:        string(t.Session),
				RiskScore:      e.cfg.NewTradeRiskScore,
				RuleSnapshotID: snapshotID,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err = tx.InsertTrade(ctx, &rec); err != nil {
				return nil, fmt.Errorf("risk: 写入持仓 %d 失败: %w", t.Ticket, err)
			}
			scores[i] = rec.RiskScore
		case lookupErr != nil:
			err = fmt.Errorf("risk: 查询持仓 %d 失败: %w", t.Ticket, lookupErr)
			return nil, err
		default:
			score := e.cfg.HealthyRiskScore
			if e.oversized(t.Volume, maxLot) {
				score = e.cfg.OversizedRiskScore
			}
			if err = tx.UpdateTrade(ctx, acct.ID, t.Ticket, t.Profit, score, now); err != nil {
				return nil, fmt.Errorf("risk: 更新持仓 %d 失败: %w", t.Ticket, err)
			}
			scores[i] = score
		}
	}

	if string(status) != acct.LastStatus {
		entry, auditErr := account.NewAuditEntry(acct.ID, account.ActionStatusChange, statusChange{
			From:       acct.LastStatus,
			To:         status,
			Violations: violations,
		}, now)
		if auditErr != nil {
			err = auditErr
			return nil, err
		}
		if err = tx.InsertAuditLog(ctx, &entry); err != nil {
			return nil, fmt.Errorf("risk: 写入状态审计失败: %w", err)
		}
		if err = tx.SetAccountStatus(ctx, acct.ID, string(status)); err != nil {
			return nil, fmt.Errorf("risk: 更新账户状态失败: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return scores, nil
}
