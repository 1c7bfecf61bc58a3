package storage

import (
	"context"
	"fmt"
	"time"

	"risklock/internal/account"
)

// UpdateRules 读取账户、应用更新并仅在确有变化时写入一条 rule_change 审计。
// 返回更新后的账户以及是否发生变化。
func UpdateRules(ctx context.Context, store AccountStore, id int64, update account.RuleUpdate, presets account.PresetBook, at time.Time) (account.Account, bool, error) {
	acct, err := store.GetAccount(ctx, id)
	if err != nil {
		return account.Account{}, false, err
	}

	next := acct.Rules.Apply(update, presets)
	changes := account.Diff(acct.Rules, next)
	if len(changes) == 0 {
		return acct, false, nil
	}

	entry, err := account.NewAuditEntry(id, account.ActionRuleChange, changes, at)
	if err != nil {
		return account.Account{}, false, fmt.Errorf("storage: 序列化规则变更失败: %w", err)
	}
	if err := store.SaveRules(ctx, id, next, &entry); err != nil {
		return account.Account{}, false, err
	}

	acct.Rules = next
	return acct, true, nil
}
